package probe

import (
	"encoding/json"
	"strings"
	"testing"

	"fmpxml/internal/config"
	"fmpxml/internal/fmpxml"
	"fmpxml/internal/records"
)

const export = `<?xml version="1.0" encoding="UTF-8" ?>
<FMPXMLRESULT xmlns="http://www.filemaker.com/fmpxmlresult">
  <PRODUCT NAME="FileMaker" VERSION="19"/>
  <DATABASE NAME="Items.fmp12" RECORDS="4"/>
  <METADATA>
    <FIELD NAME="Organization ID" TYPE="TEXT"/>
    <FIELD NAME="Subjects" TYPE="TEXT"/>
    <FIELD NAME="Record ID" TYPE="NUMBER"/>
    <FIELD NAME="Title" TYPE="TEXT"/>
  </METADATA>
  <RESULTSET FOUND="4">
    <ROW><COL><DATA>HH_1</DATA></COL><COL><DATA>a</DATA><DATA>b</DATA></COL><COL><DATA>1</DATA></COL><COL><DATA>x</DATA></COL></ROW>
    <ROW><COL><DATA>HH_1</DATA></COL><COL><DATA>a</DATA></COL><COL><DATA>2</DATA></COL><COL><DATA>y</DATA></COL></ROW>
    <ROW><COL><DATA>HH_2</DATA></COL><COL></COL><COL><DATA>3</DATA></COL><COL><DATA>z</DATA></COL></ROW>
    <ROW><COL><DATA>HH_3</DATA></COL><COL></COL><COL><DATA>4</DATA></COL><COL><DATA>w</DATA></COL></ROW>
  </RESULTSET>
</FMPXMLRESULT>
`

func parse(t *testing.T, s string) *fmpxml.Document {
	t.Helper()
	doc, err := fmpxml.Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func field(rep Report, name string) FieldStats {
	for _, f := range rep.Fields {
		if f.Name == name {
			return f
		}
	}
	return FieldStats{}
}

// TestProbe_Stats checks kinds, per-field denominators and the suggested id.
func TestProbe_Stats(t *testing.T) {
	t.Parallel()

	rep, err := Probe(parse(t, export), Options{})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.TotalRows != 4 || rep.SampledRows != 4 || len(rep.Fields) != 4 {
		t.Fatalf("report=%+v", rep)
	}

	org := field(rep, "Organization ID")
	if org.Kind != records.Scalar || org.Values != 4 || org.Distinct != 3 {
		t.Fatalf("org stats=%+v", org)
	}
	subj := field(rep, "Subjects")
	if subj.Kind != records.ListKind || subj.Values != 2 || subj.Nulls != 2 || subj.MaxEntries != 2 {
		t.Fatalf("subjects stats=%+v", subj)
	}
	if field(rep, "Record ID").DeclaredType != "NUMBER" {
		t.Fatal("declared type not carried")
	}

	// Record ID and Title are both unique; the name ending in ID wins.
	if rep.SuggestedID != "Record ID" {
		t.Fatalf("suggested=%q", rep.SuggestedID)
	}
	hinted, err := Probe(parse(t, export), Options{IDField: "Title"})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if hinted.SuggestedID != "Title" {
		t.Fatalf("hint ignored: %q", hinted.SuggestedID)
	}
}

// TestProbe_SampleLimit decodes only the leading rows.
func TestProbe_SampleLimit(t *testing.T) {
	t.Parallel()

	rep, err := Probe(parse(t, export), Options{SampleRows: 2})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.SampledRows != 2 || rep.TotalRows != 4 {
		t.Fatalf("sampled=%d total=%d", rep.SampledRows, rep.TotalRows)
	}
	if org := field(rep, "Organization ID"); org.Distinct != 1 {
		t.Fatalf("org distinct=%d, want 1", org.Distinct)
	}
}

// TestProbe_ColumnCountMismatch surfaces the error a run would hit.
func TestProbe_ColumnCountMismatch(t *testing.T) {
	t.Parallel()

	bad := strings.Replace(export, "<COL><DATA>w</DATA></COL>", "", 1)
	if _, err := Probe(parse(t, bad), Options{SampleRows: -1}); err == nil || !strings.Contains(err.Error(), "column count mismatch at row 3") {
		t.Fatalf("expected column count error, got %v", err)
	}
}

// TestSuggestConfig produces a config that validates and round-trips
// through config.Parse.
func TestSuggestConfig(t *testing.T) {
	t.Parallel()

	rep, err := Probe(parse(t, export), Options{})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	opt := Options{Job: "items", SourcePath: "in.xml", OutputPath: "out.json", Backend: "postgres"}
	c := SuggestConfig(rep, opt)

	if c.IDField != "Record ID" || c.ExpectedColumns != 4 || c.Sink.Table != "public.items" || c.Sink.DSN != "${SINK_DSN}" {
		t.Fatalf("config=%+v", c)
	}

	b, err := MarshalConfig(c)
	if err != nil {
		t.Fatalf("MarshalConfig: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatalf("generated config is not JSON: %v", err)
	}
	back, err := config.Parse(b)
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	if back.IDField != c.IDField || back.Sink.Kind != "postgres" {
		t.Fatalf("round trip=%+v", back)
	}
}

func TestFormatReport(t *testing.T) {
	t.Parallel()

	rep, err := Probe(parse(t, export), Options{})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	out := FormatReport(rep)
	for _, want := range []string{"uniqueness report:\tsampled_rows=4\ttotal_rows=4", "suggested id field: Record ID", "Subjects"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if FormatReport(Report{}) != "uniqueness: no rows sampled" {
		t.Fatal("empty report text")
	}
}
