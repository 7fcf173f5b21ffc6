// Command probe samples a FileMaker XML export and bootstraps a config for
// cmd/convert.
//
// It decodes the leading rows with the same normalizer a conversion uses,
// measures per-field uniqueness, picks an identifier field and emits either:
//
//   - Default mode: a JSON config on stdout, ready for convert -config.
//   - Report mode (-report): a uniqueness report on stdout and no JSON.
//
// The generated sink DSN is the literal ${SINK_DSN}; convert expands it from
// the environment, so credentials never land in the file.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"fmpxml/internal/fmpxml"
	"fmpxml/internal/outpath"
	"fmpxml/internal/probe"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the probe and returns an exit code.
//
// Exit codes:
//   - 0: success.
//   - 1: the export could not be read, parsed or sampled.
//   - 2: usage error.
func run(args []string, stdout, stderr io.Writer) int {
	var (
		inPath  string
		sample  int
		idField string
		job     string
		backend string
		report  bool
	)

	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&inPath, "input_path", "", "FileMaker XML export to sample")
	fs.IntVar(&sample, "rows", probe.DefaultSampleRows, "rows to sample (-1 = all)")
	fs.StringVar(&idField, "id-field", "", "preferred identifier field, used when the sample shows it is unique")
	fs.StringVar(&job, "job", "", "job name for the generated config")
	fs.StringVar(&backend, "backend", "", "optional sink for the generated config: sqlite, postgres or mssql")
	fs.BoolVar(&report, "report", false, "print the uniqueness report instead of a config")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inPath == "" && fs.NArg() == 1 {
		inPath = fs.Arg(0)
	}
	if inPath == "" || fs.NArg() > 1 {
		fmt.Fprintln(stderr, "usage: probe [-report] [-rows n] [-backend kind] <export.xml>")
		return 2
	}
	if sample == 0 {
		fmt.Fprintln(stderr, "-rows must be positive or -1")
		return 2
	}
	switch backend = strings.ToLower(strings.TrimSpace(backend)); backend {
	case "", "sqlite", "postgres", "mssql":
	default:
		fmt.Fprintf(stderr, "unsupported -backend %q (want sqlite, postgres or mssql)\n", backend)
		return 2
	}

	doc, err := fmpxml.ParseFile(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "parse: %v\n", err)
		return 1
	}

	opt := probe.Options{
		SampleRows: sample,
		IDField:    idField,
		Job:        job,
		SourcePath: inPath,
		OutputPath: outpath.Derive(inPath, "", ".json"),
		Backend:    backend,
	}
	rep, err := probe.Probe(doc, opt)
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}

	if report {
		fmt.Fprintln(stdout, probe.FormatReport(rep))
		return 0
	}

	if rep.SuggestedID == "" {
		fmt.Fprintln(stderr, "warning: no field is present and unique in every sampled row; set id_field by hand")
	}
	b, err := probe.MarshalConfig(probe.SuggestConfig(rep, opt))
	if err != nil {
		fmt.Fprintf(stderr, "encode config: %v\n", err)
		return 1
	}
	_, _ = stdout.Write(b)
	return 0
}
