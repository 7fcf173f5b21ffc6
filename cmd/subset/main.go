package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"fmpxml/internal/outpath"
	"fmpxml/internal/subset"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, time.Now))
}

// run writes the records of the target organizations in a converted JSON
// document to <dir>/<stem>_subset_<timestamp>.tsv and prints that path.
//
// Exit codes:
//   - 0 on success
//   - 1 on I/O or validation errors (tab in data, differing key sets, bad
//     organization id)
//   - 2 on invalid CLI usage
func run(args []string, stdout, stderr io.Writer, now func() time.Time) int {
	var inPath, orgsPath, field string

	fs := flag.NewFlagSet("subset", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&inPath, "input_path", "", "converted JSON document")
	fs.StringVar(&orgsPath, "orgs", "", "file with one target organization id per line (HH123456 or HH_123456)")
	fs.StringVar(&field, "field", subset.DefaultField, "organization id field")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inPath == "" && fs.NArg() == 1 {
		inPath = fs.Arg(0)
	}
	if inPath == "" || orgsPath == "" || fs.NArg() > 1 {
		fmt.Fprintln(stderr, "usage: subset -orgs <ids.txt> <input.json>")
		return 2
	}

	logger := log.New(stderr, "", log.LstdFlags)

	targets, err := readTargets(orgsPath)
	if err != nil {
		fmt.Fprintf(stderr, "targets: %v\n", err)
		return 1
	}

	in, err := os.Open(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "open %q: %v\n", inPath, err)
		return 1
	}
	defer func() { _ = in.Close() }()

	tbl, err := subset.Select(in, subset.Options{Field: field, Targets: targets, Logger: logger})
	if err != nil {
		fmt.Fprintf(stderr, "subset: %v\n", err)
		return 1
	}
	logger.Printf("items=%d selected=%d null_org=%d targets=%d", tbl.Stats.Items, tbl.Stats.Selected, tbl.Stats.NullOrg, len(targets))

	out := outpath.Timestamped(inPath, "subset", now(), ".tsv")
	if err := outpath.Write(out, func(f *os.File) error { return subset.WriteTSV(f, tbl) }); err != nil {
		fmt.Fprintf(stderr, "write: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, out)
	return 0
}

func readTargets(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return subset.ReadTargets(f)
}
