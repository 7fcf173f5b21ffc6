// Package probe samples a FileMaker XML export and reports what a
// conversion run needs to know up front.
//
// The probe package is responsible for:
//   - Decoding a bounded number of rows with the same normalizer as a run
//   - Classifying every field as scalar or list
//   - Measuring per-field uniqueness to find a usable identifier field
//   - Generating a config.Config that cmd/convert accepts with -config
//
// All inference is best-effort. Structural problems in the sampled rows
// (column count mismatches) are returned as errors because a run over the
// same export would fail on them too.
package probe

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"fmpxml/internal/config"
	"fmpxml/internal/fmpxml"
	"fmpxml/internal/records"
)

// distinctCapPerColumn bounds the memory spent on distinct tracking.
const distinctCapPerColumn = 10000

// DefaultSampleRows is the sample size used when Options.SampleRows is 0.
const DefaultSampleRows = 1000

// Options control sampling and the generated config.
type Options struct {
	// SampleRows is the number of leading rows to decode. Negative means all.
	SampleRows int

	// IDField is preferred as the identifier when the sample shows it is
	// present and unique.
	IDField string

	// Job, SourcePath and OutputPath are copied into the generated config.
	Job        string
	SourcePath string
	OutputPath string

	// Backend selects an optional sink for the generated config:
	// "sqlite", "postgres" or "mssql".
	Backend string
}

// FieldStats describes one declared field over the sample.
type FieldStats struct {
	Name         string
	DeclaredType string
	Kind         records.Kind

	// Values counts rows where the field had a non-null, non-empty value.
	// It is the denominator of the uniqueness ratio.
	Values   int
	Nulls    int
	Distinct int
	Capped   bool

	// MaxEntries is the longest list seen; 0 for scalar fields.
	MaxEntries int
}

// Ratio is Distinct/Values, or 0 when the field had no values.
func (f FieldStats) Ratio() float64 {
	if f.Values == 0 {
		return 0
	}
	return float64(f.Distinct) / float64(f.Values)
}

// Report is the result of Probe.
type Report struct {
	Source      string
	TotalRows   int
	SampledRows int
	Fields      []FieldStats

	// SuggestedID is the identifier field chosen from the sample, or "" when
	// no field is present and unique in every sampled row.
	SuggestedID string
}

// Probe decodes the leading rows of doc and computes per-field statistics.
func Probe(doc *fmpxml.Document, opt Options) (Report, error) {
	fields, err := doc.FieldNames()
	if err != nil {
		return Report{}, err
	}
	rows, err := doc.Rows()
	if err != nil {
		return Report{}, err
	}

	n := opt.SampleRows
	if n == 0 {
		n = DefaultSampleRows
	}
	if n < 0 || n > len(rows) {
		n = len(rows)
	}

	recs := make([]records.Record, 0, n)
	for i, row := range rows[:n] {
		rec, err := records.NormalizeRow(i, row, fields, len(fields))
		if err != nil {
			return Report{}, err
		}
		recs = append(recs, rec)
	}
	kinds, err := records.Unify(recs, len(fields))
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Source:      doc.Describe(),
		TotalRows:   len(rows),
		SampledRows: len(recs),
		Fields:      computeFieldStats(recs, doc.Metadata.Fields, kinds),
	}
	rep.SuggestedID = suggestID(rep, opt.IDField)
	return rep, nil
}

func computeFieldStats(recs []records.Record, decl []fmpxml.Field, kinds map[string]records.Kind) []FieldStats {
	out := make([]FieldStats, len(decl))
	sets := make([]map[string]struct{}, len(decl))
	for i, f := range decl {
		out[i] = FieldStats{Name: f.Name, DeclaredType: f.Type, Kind: kinds[f.Name]}
		sets[i] = make(map[string]struct{})
	}

	for _, r := range recs {
		for i := range out {
			fs := &out[i]
			v := r[fs.Name]
			if v.Len() > fs.MaxEntries {
				fs.MaxEntries = v.Len()
			}

			s, ok := uniqKey(v)
			if !ok {
				fs.Nulls++
				continue
			}
			fs.Values++

			if fs.Capped {
				continue
			}
			sets[i][s] = struct{}{}
			if len(sets[i]) >= distinctCapPerColumn {
				fs.Capped = true
				sets[i] = nil
			}
		}
	}

	for i := range out {
		if out[i].Capped {
			out[i].Distinct = distinctCapPerColumn
			continue
		}
		out[i].Distinct = len(sets[i])
	}
	return out
}

// uniqKey renders v for distinct counting. Null, empty strings and lists
// without a non-empty entry count as missing.
func uniqKey(v records.Value) (string, bool) {
	if s, ok := v.Str(); ok {
		return s, s != ""
	}
	for _, e := range v.Entries() {
		if e != nil && *e != "" {
			return v.String(), true
		}
	}
	return "", false
}

// suggestID picks the identifier field: the hint when it qualifies, else the
// first qualifying field whose name ends in "ID", else the first qualifying
// field. A field qualifies when every sampled row has a distinct value.
func suggestID(rep Report, hint string) string {
	var qualified []string
	for _, f := range rep.Fields {
		if f.Values == rep.SampledRows && f.Distinct == f.Values && !f.Capped && f.Values > 0 {
			qualified = append(qualified, f.Name)
		}
	}
	if len(qualified) == 0 {
		return ""
	}
	for _, name := range qualified {
		if hint != "" && name == hint {
			return name
		}
	}
	for _, name := range qualified {
		if strings.HasSuffix(strings.ToUpper(strings.TrimSpace(name)), "ID") {
			return name
		}
	}
	return qualified[0]
}

// SuggestConfig turns a report into a config for cmd/convert. The sink DSN is
// left as ${SINK_DSN} so secrets stay out of the file.
func SuggestConfig(rep Report, opt Options) config.Config {
	c := config.Config{
		Job:             opt.Job,
		SourcePath:      opt.SourcePath,
		OutputPath:      opt.OutputPath,
		IDField:         rep.SuggestedID,
		ExpectedColumns: len(rep.Fields),
	}
	if c.IDField == "" {
		c.IDField = opt.IDField
	}
	if opt.Backend != "" {
		c.Sink = config.Sink{Kind: opt.Backend, DSN: "${" + config.EnvSinkDSN + "}", Table: defaultTable(opt.Backend)}
	}
	c.ApplyDefaults()
	return c
}

// defaultTable qualifies the items table the way each backend expects.
func defaultTable(backend string) string {
	switch backend {
	case "postgres":
		return "public." + config.DefaultTable
	case "mssql":
		return "dbo." + config.DefaultTable
	default:
		return config.DefaultTable
	}
}

// MarshalConfig renders c as indented JSON with a trailing newline.
func MarshalConfig(c config.Config) ([]byte, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// FormatReport renders rep as a tab-separated text report, most selective
// fields first.
func FormatReport(rep Report) string {
	if rep.SampledRows <= 0 {
		return "uniqueness: no rows sampled"
	}

	fields := append([]FieldStats(nil), rep.Fields...)
	sort.SliceStable(fields, func(i, j int) bool {
		ri, rj := fields[i].Ratio(), fields[j].Ratio()
		if ri == rj {
			return fields[i].Name < fields[j].Name
		}
		return ri > rj
	})

	var b strings.Builder
	fmt.Fprintf(&b, "source: %s\n", rep.Source)
	fmt.Fprintf(&b, "uniqueness report:\tsampled_rows=%d\ttotal_rows=%d\n", rep.SampledRows, rep.TotalRows)
	fmt.Fprintf(&b, "%-24s\t%-6s\t%-7s\t%-7s\t%-6s\tratio\tcapped\n", "field", "kind", "unique", "rows", "nulls")
	for _, f := range fields {
		fmt.Fprintf(&b, "%-24s\t%-6s\t%-7d\t%-7d\t%-6d\t%.1f%%\t%t\n",
			f.Name, f.Kind, f.Distinct, f.Values, f.Nulls, f.Ratio()*100, f.Capped)
	}
	if rep.SuggestedID != "" {
		fmt.Fprintf(&b, "suggested id field: %s\n", rep.SuggestedID)
	} else {
		b.WriteString("suggested id field: none (no field is present and unique in every sampled row)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
