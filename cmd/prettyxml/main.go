package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"fmpxml/internal/fmpxml"
	"fmpxml/internal/outpath"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run re-indents an XML export into <dir>/<stem>_formatted<ext> and prints
// that path. An existing output file is never replaced.
//
// Exit codes:
//   - 0 on success
//   - 1 on I/O or malformed XML
//   - 2 on invalid CLI usage
func run(args []string, stdout, stderr io.Writer) int {
	var inPath string

	fs := flag.NewFlagSet("prettyxml", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&inPath, "input_path", "", "XML file to format")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inPath == "" && fs.NArg() == 1 {
		inPath = fs.Arg(0)
	}
	if inPath == "" || fs.NArg() > 1 {
		fmt.Fprintln(stderr, "usage: prettyxml <input.xml>")
		return 2
	}

	raw, err := fmpxml.ReadSource(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "read: %v\n", err)
		return 1
	}

	out := outpath.Derive(inPath, "_formatted", "")
	err = outpath.Write(out, func(f *os.File) error {
		bw := bufio.NewWriter(f)
		if err := fmpxml.PrettyPrint(bw, raw); err != nil {
			return err
		}
		return bw.Flush()
	})
	if err != nil {
		fmt.Fprintf(stderr, "format: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, out)
	return 0
}
