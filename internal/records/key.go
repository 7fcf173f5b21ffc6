package records

import (
	"strings"
)

// ProgressEvery is how often Key reports progress, in records.
const ProgressEvery = 1000

// ProgressFormat is the format Key passes to Reporter.Printf for progress
// markers, so callers can tell them apart from data-quality lines.
const ProgressFormat = "keying: record %d of %d"

// Severity separates data-quality findings from fatal errors. Fatal problems
// are returned as errors; Issues never are.
type Severity string

const SeverityWarning Severity = "warning"

// IssueKind names a data-quality finding.
type IssueKind string

const (
	IssueDuplicateIdentifier IssueKind = "duplicate_identifier"
	IssueMissingIdentifier   IssueKind = "missing_identifier"
)

// Issue is one non-fatal data-quality finding.
type Issue struct {
	Severity   Severity
	Kind       IssueKind
	Record     int    // position of the offending record in the input
	FirstSeen  int    // for duplicates, position of the record that was kept
	Identifier string // trimmed identifier, empty when missing
	Message    string
}

// Stats summarizes a keying pass.
type Stats struct {
	Total             int
	Stored            int
	Duplicates        int
	MissingIdentifier int
}

// Reporter receives progress and data-quality lines.
// *log.Logger satisfies it.
type Reporter interface {
	Printf(format string, args ...any)
}

type nopReporter struct{}

func (nopReporter) Printf(string, ...any) {}

// Keyed is the outcome of Key.
type Keyed struct {
	Items  map[string]Record
	Stats  Stats
	Issues []Issue
}

// Key buckets recs by the trimmed value of idField.
//
// The first record seen for an identifier is kept; later duplicates are
// dropped, counted and reported. Records with a null, missing or empty
// identifier are counted and reported but not stored. Neither case stops the
// pass, so a single run surfaces every problem in the export.
//
// A list-valued identifier is used when it has exactly one non-null entry and
// treated as missing otherwise.
func Key(recs []Record, idField string, rep Reporter) Keyed {
	if rep == nil {
		rep = nopReporter{}
	}

	out := Keyed{Items: make(map[string]Record, len(recs))}
	firstSeen := make(map[string]int, len(recs))

	for i, r := range recs {
		if i%ProgressEvery == 0 {
			rep.Printf(ProgressFormat, i, len(recs))
		}
		out.Stats.Total++

		id, ok := identifier(r[idField])
		if !ok {
			out.Stats.MissingIdentifier++
			iss := Issue{
				Severity: SeverityWarning,
				Kind:     IssueMissingIdentifier,
				Record:   i,
				Message:  "no identifier in field " + quote(idField),
			}
			out.Issues = append(out.Issues, iss)
			rep.Printf("no identifier for record %d (field %q)", i, idField)
			continue
		}

		if first, dup := firstSeen[id]; dup {
			out.Stats.Duplicates++
			iss := Issue{
				Severity:   SeverityWarning,
				Kind:       IssueDuplicateIdentifier,
				Record:     i,
				FirstSeen:  first,
				Identifier: id,
				Message:    "duplicate identifier " + quote(id),
			}
			out.Issues = append(out.Issues, iss)
			rep.Printf("duplicate identifier: %q (record %d, first seen at record %d)", id, i, first)
			continue
		}

		firstSeen[id] = i
		out.Items[id] = r
	}

	out.Stats.Stored = len(out.Items)
	return out
}

func identifier(v Value) (string, bool) {
	var raw *string
	if v.isList {
		for _, e := range v.list {
			if e == nil {
				continue
			}
			if raw != nil {
				return "", false
			}
			raw = e
		}
	} else {
		raw = v.str
	}
	if raw == nil {
		return "", false
	}
	id := *raw
	if HasEdgeSpace(id) {
		id = strings.TrimSpace(id)
	}
	if id == "" {
		return "", false
	}
	return id, true
}

func quote(s string) string { return `"` + s + `"` }
