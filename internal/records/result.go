package records

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"fmpxml/internal/fmpxml"
)

// DatetimeLayout formats Result.Datetime.
const DatetimeLayout = "2006-01-02 15:04:05.000000"

// Result is the output document. Field order matches the sorted key order of
// the JSON encoding.
type Result struct {
	Count    int               `json:"count"`
	Datetime string            `json:"datetime"`
	Items    map[string]Record `json:"items"`
}

// NewResult wraps keyed items with their count and the run time.
func NewResult(items map[string]Record, at time.Time) Result {
	if items == nil {
		items = map[string]Record{}
	}
	return Result{
		Count:    len(items),
		Datetime: at.Format(DatetimeLayout),
		Items:    items,
	}
}

// Encode writes res as JSON with sorted keys and two-space indentation.
func Encode(w io.Writer, res Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// WriteJSON writes res to path. The document is written to a temporary file
// in the same directory and renamed into place, so a failed write never
// leaves a partial file at path.
func WriteJSON(path string, res Result) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create output: %w", fmpxml.ErrIO, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := Encode(bw, res); err != nil {
		return fmt.Errorf("%w: %w", fmpxml.ErrIO, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: write output: %w", fmpxml.ErrIO, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("%w: chmod output: %w", fmpxml.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close output: %w", fmpxml.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: rename output: %w", fmpxml.ErrIO, err)
	}
	return nil
}

// ReadResult loads a whole document written by WriteJSON.
func ReadResult(r io.Reader) (Result, error) {
	var res Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	if res.Items == nil {
		res.Items = map[string]Record{}
	}
	return res, nil
}
