package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"fmpxml/internal/fmpxml"
	"fmpxml/internal/orgs"
	"fmpxml/internal/outpath"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, time.Now))
}

// run prints the number of rows and distinct organization ids in an XML
// export, then the ids by row count. With -counts the full table is also
// written to <dir>/<stem>_org_counts_<timestamp>.tsv.
//
// Exit codes:
//   - 0 on success
//   - 1 on I/O, malformed XML or an undeclared field
//   - 2 on invalid CLI usage
func run(args []string, stdout, stderr io.Writer, now func() time.Time) int {
	var (
		inPath string
		field  string
		top    int
		counts bool
	)

	fs := flag.NewFlagSet("uniqueorgs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&inPath, "input_path", "", "FileMaker XML export")
	fs.StringVar(&field, "field", orgs.DefaultField, "declared name of the organization id column")
	fs.IntVar(&top, "top", 20, "ids to print, by row count (0 = all)")
	fs.BoolVar(&counts, "counts", false, "also write every id and its row count to a TSV file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inPath == "" && fs.NArg() == 1 {
		inPath = fs.Arg(0)
	}
	if inPath == "" || fs.NArg() > 1 || top < 0 {
		fmt.Fprintln(stderr, "usage: uniqueorgs [-field name] [-top n] [-counts] <input.xml>")
		return 2
	}

	doc, err := fmpxml.ParseFile(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "parse: %v\n", err)
		return 1
	}
	rep, err := orgs.CountRows(doc, field)
	if err != nil {
		fmt.Fprintf(stderr, "count: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "rows: %d\n", rep.Rows)
	fmt.Fprintf(stdout, "rows without organization id: %d\n", rep.Skipped)
	fmt.Fprintf(stdout, "unique organization ids: %d\n", rep.Distinct())
	for _, c := range rep.Top(top) {
		fmt.Fprintf(stdout, "%s\t%d\n", c.ID, c.Rows)
	}

	if counts {
		out := outpath.Timestamped(inPath, "org_counts", now(), ".tsv")
		if err := outpath.Write(out, func(f *os.File) error { return orgs.WriteTSV(f, rep) }); err != nil {
			fmt.Fprintf(stderr, "write: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "counts written to %s\n", out)
	}
	return 0
}
