// Package orgs counts export rows per organization id straight from the
// parsed XML.
package orgs

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"fmpxml/internal/fmpxml"
)

// DefaultField is the declared name of the organization id column.
const DefaultField = "Organization ID"

// Count is the number of rows carrying one organization id.
type Count struct {
	ID   string
	Rows int
}

// Report is the outcome of CountRows.
type Report struct {
	Rows    int
	Skipped int // rows without a usable id
	Counts  []Count
}

// Distinct is the number of different organization ids.
func (r Report) Distinct() int { return len(r.Counts) }

// CountRows counts rows per organization id. The id is the first DATA leaf
// of the column declared as field, trimmed; rows where it is missing or empty
// are skipped. Counts are sorted by rows descending, then id ascending.
func CountRows(doc *fmpxml.Document, field string) (Report, error) {
	if field == "" {
		field = DefaultField
	}
	names, err := doc.FieldNames()
	if err != nil {
		return Report{}, err
	}
	col := -1
	for i, n := range names {
		if n == field {
			col = i
			break
		}
	}
	if col < 0 {
		return Report{}, fmt.Errorf("%w: field %q not declared", fmpxml.ErrNoFields, field)
	}

	rows, err := doc.Rows()
	if err != nil {
		return Report{}, err
	}

	rep := Report{Rows: len(rows)}
	counts := map[string]int{}
	for _, row := range rows {
		id, ok := firstLeaf(row, col)
		if !ok {
			rep.Skipped++
			continue
		}
		counts[id]++
	}

	rep.Counts = make([]Count, 0, len(counts))
	for id, n := range counts {
		rep.Counts = append(rep.Counts, Count{ID: id, Rows: n})
	}
	sort.Slice(rep.Counts, func(i, j int) bool {
		a, b := rep.Counts[i], rep.Counts[j]
		if a.Rows != b.Rows {
			return a.Rows > b.Rows
		}
		return a.ID < b.ID
	})
	return rep, nil
}

func firstLeaf(row fmpxml.Row, col int) (string, bool) {
	if col >= len(row.Cols) || len(row.Cols[col].Data) == 0 {
		return "", false
	}
	id := strings.TrimSpace(row.Cols[col].Data[0].Text)
	return id, id != ""
}

// WriteTSV writes the counts with an "organization_id<TAB>rows" header.
func WriteTSV(w io.Writer, rep Report) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{"organization_id", "rows"}); err != nil {
		return err
	}
	for _, c := range rep.Counts {
		if err := cw.Write([]string{c.ID, strconv.Itoa(c.Rows)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Top returns at most n counts from the front of rep.Counts. n <= 0 means all.
func (r Report) Top(n int) []Count {
	if n <= 0 || n >= len(r.Counts) {
		return r.Counts
	}
	return r.Counts[:n]
}
