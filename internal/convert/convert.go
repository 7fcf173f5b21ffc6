// Package convert runs one FileMaker export through the whole pipeline:
// read, parse, extract fields and rows, normalize, unify, key, write, and
// optionally load the keyed items into a database table.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"fmpxml/internal/fmpxml"
	"fmpxml/internal/metrics"
	"fmpxml/internal/records"
	"fmpxml/internal/storage"
)

// ErrSchema reports an export whose declared fields do not match what the
// run was told to expect.
var ErrSchema = errors.New("schema mismatch")

const defaultTable = "items"

// Reporter is the single logging channel of a run.
// *log.Logger satisfies this interface.
type Reporter interface {
	Printf(format string, v ...any)
}

// Options describes one conversion.
type Options struct {
	SourcePath string
	OutputPath string

	// IDField names the field that keys the output items.
	IDField string

	// ExpectedColumns is the column count every row must carry.
	// 0 means the number of declared fields.
	ExpectedColumns int

	// Sink is optional; an empty Kind disables it.
	Sink  storage.Config
	Table string

	// Quiet drops the keying progress markers. Every duplicate and missing
	// identifier is logged regardless.
	Quiet bool
}

// Summary is what a successful run reports back.
type Summary struct {
	RunID       string
	Fields      []string
	ListFields  []string
	Rows        int
	Stats       records.Stats
	Issues      []records.Issue
	Output      string
	RowsWritten int64
	Duration    time.Duration
}

// Converter holds the collaborators of a run. The function fields are seams
// for tests.
type Converter struct {
	Logger Reporter

	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	Now           func() time.Time
	NewRunID      func() string
}

// NewDefaultConverter wires the production collaborators. A nil logger
// writes to the standard logger.
func NewDefaultConverter(logger Reporter) *Converter {
	if logger == nil {
		logger = log.Default()
	}
	return &Converter{
		Logger:        logger,
		NewRepository: storage.New,
		Now:           time.Now,
		NewRunID:      uuid.NewString,
	}
}

// Run converts opts.SourcePath into opts.OutputPath.
//
// Input, structural and output problems stop the run and are returned as
// errors; nothing is written when they occur before the write stage.
// Duplicate and missing identifiers are collected in Summary.Issues and never
// fail the run.
func (c *Converter) Run(ctx context.Context, opts Options) (Summary, error) {
	if strings.TrimSpace(opts.SourcePath) == "" || strings.TrimSpace(opts.OutputPath) == "" {
		return Summary{}, fmt.Errorf("convert: source and output paths are required")
	}
	if strings.TrimSpace(opts.IDField) == "" {
		return Summary{}, fmt.Errorf("convert: id field is required")
	}

	logf := c.logger()
	now := c.now()
	startedAt := now()

	sum := Summary{RunID: c.runID(), Output: opts.OutputPath}
	logf("run=%s source=%s output=%s", sum.RunID, opts.SourcePath, opts.OutputPath)

	var raw []byte
	if err := c.stage("read", func() (err error) {
		raw, err = fmpxml.ReadSource(opts.SourcePath)
		return err
	}); err != nil {
		return sum, err
	}

	var doc *fmpxml.Document
	if err := c.stage("parse", func() (err error) {
		doc, err = fmpxml.Parse(raw)
		return err
	}); err != nil {
		return sum, err
	}
	logf("source: %s", doc.Describe())

	expected := opts.ExpectedColumns
	if err := c.stage("fields", func() (err error) {
		sum.Fields, err = doc.FieldNames()
		if err != nil {
			return err
		}
		if expected == 0 {
			expected = len(sum.Fields)
		}
		if expected != len(sum.Fields) {
			return fmt.Errorf("%w: expected %d columns but the export declares %d fields", ErrSchema, expected, len(sum.Fields))
		}
		return nil
	}); err != nil {
		return sum, err
	}

	var rows []fmpxml.Row
	if err := c.stage("rows", func() (err error) {
		rows, err = doc.Rows()
		return err
	}); err != nil {
		return sum, err
	}
	sum.Rows = len(rows)
	metrics.RecordRecords("parsed", len(rows))
	logf("fields=%d rows=%d", len(sum.Fields), len(rows))

	recs := make([]records.Record, 0, len(rows))
	if err := c.stage("normalize", func() error {
		for i, row := range rows {
			rec, err := records.NormalizeRow(i, row, sum.Fields, expected)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	}); err != nil {
		return sum, err
	}

	if err := c.stage("unify", func() error {
		kinds, err := records.Unify(recs, expected)
		if err != nil {
			return err
		}
		sum.ListFields = records.ListFields(kinds)
		return nil
	}); err != nil {
		return sum, err
	}
	if len(sum.ListFields) > 0 {
		logf("list fields: %s", strings.Join(sum.ListFields, ", "))
	}

	var keyed records.Keyed
	if err := c.stage("key", func() error {
		var rep records.Reporter
		if c.Logger != nil {
			rep = c.Logger
			if opts.Quiet {
				rep = withoutProgress{c.Logger}
			}
		}
		keyed = records.Key(recs, opts.IDField, rep)
		return nil
	}); err != nil {
		return sum, err
	}
	sum.Stats = keyed.Stats
	sum.Issues = keyed.Issues
	metrics.RecordRecords("stored", keyed.Stats.Stored)
	metrics.RecordRecords("duplicate", keyed.Stats.Duplicates)
	metrics.RecordRecords("missing_identifier", keyed.Stats.MissingIdentifier)

	logf("Total records processed: %d", keyed.Stats.Total)
	logf("Valid items: %d", keyed.Stats.Stored)
	logf("Number of duplicates: %d", keyed.Stats.Duplicates)
	if keyed.Stats.MissingIdentifier > 0 {
		logf("Records without identifier: %d", keyed.Stats.MissingIdentifier)
	}

	res := records.NewResult(keyed.Items, startedAt)
	if err := c.stage("write", func() error {
		return records.WriteJSON(opts.OutputPath, res)
	}); err != nil {
		return sum, err
	}

	if opts.Sink.Kind != "" {
		if err := c.stage("sink", func() (err error) {
			sum.RowsWritten, err = c.load(ctx, opts, sum.RunID, keyed.Items, startedAt)
			return err
		}); err != nil {
			return sum, err
		}
		logf("sink=%s table=%s rows=%d", opts.Sink.Kind, tableOrDefault(opts.Table), sum.RowsWritten)
	}

	sum.Duration = now().Sub(startedAt)
	logf("run=%s done items=%d duration=%s", sum.RunID, res.Count, sum.Duration.Truncate(time.Millisecond))
	return sum, nil
}

// load replaces the sink table with the keyed items.
func (c *Converter) load(ctx context.Context, opts Options, runID string, items map[string]records.Record, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows, err := ItemRows(items, runID, at)
	if err != nil {
		return 0, err
	}

	newRepo := c.NewRepository
	if newRepo == nil {
		newRepo = storage.New
	}
	repo, err := newRepo(ctx, opts.Sink)
	if err != nil {
		return 0, err
	}
	defer repo.Close()

	n, err := repo.ReplaceItems(ctx, tableOrDefault(opts.Table), rows)
	if err != nil {
		return n, err
	}
	metrics.RecordRowsWritten(opts.Sink.Kind, n)
	return n, nil
}

// ItemRows flattens keyed items into sink rows ordered by identifier. Every
// row of a run shares runID and at.
func ItemRows(items map[string]records.Record, runID string, at time.Time) ([]storage.ItemRow, error) {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]storage.ItemRow, 0, len(ids))
	for _, id := range ids {
		rec := items[id]
		b, err := rec.Compact()
		if err != nil {
			return nil, fmt.Errorf("sink: encode item %q: %w", id, err)
		}
		out = append(out, storage.ItemRow{
			Identifier: id,
			RowHash:    records.RowHash(rec),
			Record:     string(b),
			RunID:      runID,
			LoadedAt:   at,
		})
	}
	return out, nil
}

// stage runs fn, records its duration and outcome, and logs success. Errors
// are prefixed with the stage name.
func (c *Converter) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	c.logger()("stage=%s ok duration=%s", name, durMS(start))
	return nil
}

func (c *Converter) logger() func(format string, v ...any) {
	if c.Logger == nil {
		return func(string, ...any) {}
	}
	return c.Logger.Printf
}

// withoutProgress forwards everything except keying progress markers.
type withoutProgress struct{ Reporter }

func (w withoutProgress) Printf(format string, v ...any) {
	if format == records.ProgressFormat {
		return
	}
	w.Reporter.Printf(format, v...)
}

func (c *Converter) now() func() time.Time {
	if c.Now == nil {
		return time.Now
	}
	return c.Now
}

func (c *Converter) runID() string {
	if c.NewRunID == nil {
		return uuid.NewString()
	}
	return c.NewRunID()
}

func tableOrDefault(t string) string {
	if t == "" {
		return defaultTable
	}
	return t
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
