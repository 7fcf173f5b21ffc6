package records

import (
	"fmt"
	"sort"
)

// Kind classifies a field across the whole export.
type Kind int

const (
	Scalar Kind = iota
	ListKind
)

func (k Kind) String() string {
	if k == ListKind {
		return "list"
	}
	return "scalar"
}

// SchemaConsistencyError reports a key-count mismatch found while unifying.
// Record is -1 when the classification itself has the wrong number of keys.
type SchemaConsistencyError struct {
	Record   int
	Expected int
	Actual   int
}

func (e *SchemaConsistencyError) Error() string {
	if e.Record < 0 {
		return fmt.Sprintf("schema consistency: classified %d fields, expected %d", e.Actual, e.Expected)
	}
	return fmt.Sprintf("schema consistency: record %d has %d fields, expected %d", e.Record, e.Actual, e.Expected)
}

// Classify scans every record and returns the kind of each field name.
// A field is ListKind when any record holds a non-empty list for it.
func Classify(recs []Record) map[string]Kind {
	kinds := make(map[string]Kind)
	for _, r := range recs {
		for k, v := range r {
			if _, seen := kinds[k]; !seen {
				kinds[k] = Scalar
			}
			if v.isList && len(v.list) > 0 {
				kinds[k] = ListKind
			}
		}
	}
	return kinds
}

// ListFields returns the sorted names of the ListKind fields.
func ListFields(kinds map[string]Kind) []string {
	var out []string
	for k, kind := range kinds {
		if kind == ListKind {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Unify classifies recs and rewrites them in place so every ListKind field
// holds a list, wrapping lone scalars and nulls. Scalar fields are untouched.
//
// The classification and every record must have exactly expected keys.
// Running Unify on its own output changes nothing.
func Unify(recs []Record, expected int) (map[string]Kind, error) {
	kinds := Classify(recs)
	if len(kinds) != expected {
		return nil, &SchemaConsistencyError{Record: -1, Expected: expected, Actual: len(kinds)}
	}

	for i, r := range recs {
		if len(r) != expected {
			return nil, &SchemaConsistencyError{Record: i, Expected: expected, Actual: len(r)}
		}
		for k, v := range r {
			if kinds[k] == ListKind && !v.isList {
				r[k] = v.wrap()
			}
		}
	}
	return kinds, nil
}
