// Package subset selects the records of a list of organizations from a
// converted document and writes them as TSV.
package subset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"fmpxml/internal/records"
)

// DefaultField holds the organization id in converted collection exports.
const DefaultField = "Organization ID"

var (
	ErrTab         = errors.New("tab character in data")
	ErrKeysDiffer  = errors.New("records do not share one key set")
	ErrBadOrgID    = errors.New("invalid organization id")
	ErrNoItems     = errors.New("document has no items")
	ErrNoTargetOrg = errors.New("no target organizations")
)

// Logger receives data-quality lines. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Options configures Select.
type Options struct {
	// Field names the organization id field. Empty means DefaultField.
	Field string

	// Targets are normalized organization ids to keep.
	Targets []string

	Logger Logger
}

// Stats counts what Select saw.
type Stats struct {
	Items    int
	Selected int
	NullOrg  int
}

// Table is the selected records with their shared, sorted field names.
type Table struct {
	Header  []string
	Records []records.Record
	Stats   Stats
}

// NormalizeOrgID turns "HH123456" into "HH_123456". Ids that already carry
// the underscore, or are shorter than the prefix, are only trimmed.
func NormalizeOrgID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 2 || s[2] == '_' {
		return s
	}
	return s[:2] + "_" + s[2:]
}

// ReadTargets reads one organization id per line. Blank lines and lines
// starting with '#' are skipped. Ids are normalized and deduplicated.
func ReadTargets(r io.Reader) ([]string, error) {
	seen := map[string]bool{}
	var out []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id := NormalizeOrgID(line)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoTargetOrg
	}
	sort.Strings(out)
	return out, nil
}

// Select streams a converted document from r and keeps the records whose
// organization id is one of opts.Targets, stably sorted by that id.
//
// Every item is validated, selected or not: a tab anywhere in a value, a key
// set differing from the first item, or a list or empty organization id stops
// the pass. Null organization ids are counted and logged.
func Select(r io.Reader, opts Options) (Table, error) {
	field := opts.Field
	if field == "" {
		field = DefaultField
	}
	if len(opts.Targets) == 0 {
		return Table{}, ErrNoTargetOrg
	}
	logf := func(string, ...any) {}
	if opts.Logger != nil {
		logf = opts.Logger.Printf
	}

	targets := make(map[string]bool, len(opts.Targets))
	for _, t := range opts.Targets {
		targets[t] = true
	}

	var (
		tbl    Table
		keys   string
		orgIDs []string
	)

	_, err := records.StreamItems(r, func(id string, rec records.Record) error {
		idx := tbl.Stats.Items
		tbl.Stats.Items++

		names := sortedKeys(rec)
		joined := strings.Join(names, "\x00")
		if idx == 0 {
			keys = joined
			tbl.Header = names
		} else if joined != keys {
			return fmt.Errorf("%w: item %q at index %d", ErrKeysDiffer, id, idx)
		}

		for _, name := range names {
			if hasTab(rec[name]) {
				return fmt.Errorf("%w: item %q field %q", ErrTab, id, name)
			}
		}

		org, ok := rec[field]
		switch {
		case !ok:
			return fmt.Errorf("%w: item %q has no %q field", ErrBadOrgID, id, field)
		case org.IsList():
			return fmt.Errorf("%w: item %q: list value %s", ErrBadOrgID, id, org)
		case org.IsNull():
			tbl.Stats.NullOrg++
			logf("no organization id for item %q", id)
			return nil
		}
		s, _ := org.Str()
		if s == "" {
			return fmt.Errorf("%w: item %q: empty value", ErrBadOrgID, id)
		}
		if targets[s] {
			tbl.Records = append(tbl.Records, rec)
			orgIDs = append(orgIDs, s)
		}
		return nil
	})
	if err != nil {
		return Table{}, err
	}
	if tbl.Stats.Items == 0 {
		return Table{}, ErrNoItems
	}
	if tbl.Stats.NullOrg > 0 {
		logf("items without organization id: %d", tbl.Stats.NullOrg)
	}

	sort.Stable(byOrg{recs: tbl.Records, ids: orgIDs})
	tbl.Stats.Selected = len(tbl.Records)
	return tbl, nil
}

type byOrg struct {
	recs []records.Record
	ids  []string
}

func (b byOrg) Len() int           { return len(b.recs) }
func (b byOrg) Less(i, j int) bool { return b.ids[i] < b.ids[j] }
func (b byOrg) Swap(i, j int) {
	b.recs[i], b.recs[j] = b.recs[j], b.recs[i]
	b.ids[i], b.ids[j] = b.ids[j], b.ids[i]
}

// WriteTSV writes t with a header row. Null becomes an empty cell and a list
// is written as its JSON array text.
func WriteTSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(t.Header))
	for i, rec := range t.Records {
		for j, name := range t.Header {
			row[j] = cell(rec[name])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(v records.Value) string {
	if v.IsList() {
		return v.String()
	}
	s, _ := v.Str()
	return s
}

func hasTab(v records.Value) bool {
	if s, ok := v.Str(); ok {
		return strings.ContainsRune(s, '\t')
	}
	for _, e := range v.Entries() {
		if e != nil && strings.ContainsRune(*e, '\t') {
			return true
		}
	}
	return false
}

func sortedKeys(rec records.Record) []string {
	out := make([]string, 0, len(rec))
	for k := range rec {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
