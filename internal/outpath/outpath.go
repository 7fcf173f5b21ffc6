// Package outpath derives output file names from an input path and creates
// them without ever replacing an earlier output.
package outpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is filesystem safe: no colons.
const TimestampLayout = "2006-01-02T15-04-05"

// Derive returns <dir>/<stem><suffix><ext> for input. An empty ext keeps the
// input's extension.
//
//	Derive("/data/export.xml", "_formatted", "")  -> /data/export_formatted.xml
//	Derive("/data/export.json", "_subset_2024-03-09T14-05-07", ".tsv")
func Derive(input, suffix, ext string) string {
	dir := filepath.Dir(input)
	base := filepath.Base(input)
	inExt := filepath.Ext(base)
	stem := strings.TrimSuffix(base, inExt)
	if ext == "" {
		ext = inExt
	}
	return filepath.Join(dir, stem+suffix+ext)
}

// Timestamped is Derive with "_<tag>_<timestamp>" as the suffix.
func Timestamped(input, tag string, at time.Time, ext string) string {
	return Derive(input, "_"+tag+"_"+at.Format(TimestampLayout), ext)
}

// Create opens path for writing and fails if it already exists.
func Create(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}

// Write creates path with Create and hands it to fn. The file is removed when
// fn or the final close fails.
func Write(path string, fn func(f *os.File) error) (err error) {
	f, err := Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return fn(f)
}
