package records

import (
	"fmt"
	"strings"

	"fmpxml/internal/fmpxml"
)

// ColumnCountError reports a row whose column count differs from the
// expected count. It is fatal: the positional field mapping cannot be trusted
// for that row or any after it.
type ColumnCountError struct {
	Row      int
	Expected int
	Actual   int
}

func (e *ColumnCountError) Error() string {
	return fmt.Sprintf("column count mismatch at row %d: expected %d columns, got %d", e.Row, e.Expected, e.Actual)
}

// NormalizeRow decodes one row into a Record.
//
// Columns are zipped with fields by position after checking that the row has
// exactly expected columns and that fields has the same length. Per column:
//   - no DATA leaves: null
//   - one leaf: its trimmed text, or null when the leaf has no text
//   - several leaves: a list of trimmed text or null, in document order
//
// index is the row position used in errors.
func NormalizeRow(index int, row fmpxml.Row, fields []string, expected int) (Record, error) {
	if len(row.Cols) != expected {
		return nil, &ColumnCountError{Row: index, Expected: expected, Actual: len(row.Cols)}
	}
	if len(fields) != expected {
		return nil, &ColumnCountError{Row: index, Expected: len(fields), Actual: len(row.Cols)}
	}

	rec := make(Record, len(fields))
	for i, col := range row.Cols {
		rec[fields[i]] = columnValue(col)
	}
	return rec, nil
}

func columnValue(col fmpxml.Col) Value {
	switch len(col.Data) {
	case 0:
		return Null()
	case 1:
		return Value{str: leafText(col.Data[0])}
	default:
		entries := make([]*string, len(col.Data))
		for i, d := range col.Data {
			entries[i] = leafText(d)
		}
		return Value{list: entries, isList: true}
	}
}

// leafText returns nil when the leaf has no text. Whitespace-only text trims
// to the empty string, which is kept.
func leafText(d fmpxml.Data) *string {
	if d.Text == "" {
		return nil
	}
	s := d.Text
	if HasEdgeSpace(s) {
		s = strings.TrimSpace(s)
	}
	return &s
}

// HasEdgeSpace reports whether s starts or ends with ASCII whitespace, so
// callers can skip strings.TrimSpace on the common already-clean path.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1]) || s[0] >= 0x80 || s[len(s)-1] >= 0x80
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
