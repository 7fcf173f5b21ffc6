package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"fmpxml/internal/config"
	"fmpxml/internal/convert"
	"fmpxml/internal/metrics"
	"fmpxml/internal/metrics/datadog"
	"fmpxml/internal/storage"

	// link every sink backend; the config picks one.
	_ "fmpxml/internal/storage/all"
)

// converter is the part of *convert.Converter this command drives.
type converter interface {
	Run(ctx context.Context, opts convert.Options) (convert.Summary, error)
}

// metricsBackend is a metrics backend this command must close on exit.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b metrics.Backend) { metrics.SetBackend(b) }
	logPrintf         = log.Printf
)

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	Getenv       func(string) string
	NewConverter func(logger convert.Reporter) converter
	InitMetrics  func(ctx context.Context, cfg config.Config) (func(), error)
}

func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
		NewConverter: func(logger convert.Reporter) converter {
			return convert.NewDefaultConverter(logger)
		},
		InitMetrics: initMetrics,
	})
	os.Exit(code)
}

// run converts one export and returns an exit code.
//
// Exit codes:
//   - 0: success (data-quality issues do not change this).
//   - 1: the conversion failed.
//   - 2: usage or configuration error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	if d.NewConverter == nil {
		d.NewConverter = func(logger convert.Reporter) converter { return convert.NewDefaultConverter(logger) }
	}
	if d.InitMetrics == nil {
		d.InitMetrics = initMetrics
	}

	cfg, fl, err := parseFlags(args, d.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(d.Stderr, err.Error())
		}
		return 2
	}

	cfg.ApplyEnv(d.Getenv)
	cfg.ApplyDefaults()

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(d.Stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(d.Stderr, "configuration is invalid")
		return 2
	}
	if fl.validate {
		fmt.Fprintln(d.Stdout, "configuration is valid")
		return 0
	}

	logger := log.New(d.Stderr, "", log.LstdFlags)

	cleanup, err := d.InitMetrics(ctx, cfg)
	if err != nil {
		fmt.Fprintf(d.Stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	opts := convert.Options{
		SourcePath:      cfg.SourcePath,
		OutputPath:      cfg.OutputPath,
		IDField:         cfg.IDField,
		ExpectedColumns: cfg.ExpectedColumns,
		Quiet:           fl.quiet,
	}
	if cfg.Sink.Kind != "" {
		opts.Sink = storage.Config{Kind: cfg.Sink.Kind, DSN: cfg.Sink.DSN}
		opts.Table = cfg.Sink.Table
	}

	sum, err := d.NewConverter(logger).Run(ctx, opts)
	if err != nil {
		fmt.Fprintf(d.Stderr, "run: %v\n", err)
		return 1
	}

	fmt.Fprintf(d.Stdout, "run=%s items=%d total=%d duplicates=%d missing_identifier=%d output=%s\n",
		sum.RunID, sum.Stats.Stored, sum.Stats.Total, sum.Stats.Duplicates, sum.Stats.MissingIdentifier, sum.Output)
	return 0
}

type cliFlags struct {
	validate bool
	quiet    bool
}

// parseFlags resolves flags over the optional config file. Only flags given
// on the command line override file values.
func parseFlags(args []string, stderr io.Writer) (config.Config, cliFlags, error) {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: convert [flags] <source.xml> <output.json>")
		fs.PrintDefaults()
	}

	var (
		cfgPath  string
		c        config.Config
		tags     string
		fl       cliFlags
		flushSec int
	)
	fs.StringVar(&cfgPath, "config", "", "optional JSON config file")
	fs.StringVar(&c.SourcePath, "source_path", "", "FileMaker XML export to convert")
	fs.StringVar(&c.OutputPath, "output_path", "", "JSON file to write")
	fs.StringVar(&c.IDField, "id-field", config.DefaultIDField, "field whose value keys the output items")
	fs.IntVar(&c.ExpectedColumns, "columns", 0, "expected columns per row (0 = number of declared fields)")
	fs.StringVar(&c.Sink.Kind, "sink", "", "optional database sink: sqlite, postgres or mssql")
	fs.StringVar(&c.Sink.DSN, "dsn", "", "sink DSN (${VAR} is expanded; env "+config.EnvSinkDSN+")")
	fs.StringVar(&c.Sink.Table, "table", config.DefaultTable, "sink table, optionally schema-qualified")
	fs.StringVar(&c.Job, "job", config.DefaultJob, "job name used in metric tags")
	fs.StringVar(&c.Metrics.Backend, "metrics-backend", "", "metrics backend: none or datadog (env "+config.EnvMetricsBackend+")")
	fs.StringVar(&tags, "metrics-tags", "", "comma-separated extra metric tags (env "+config.EnvMetricsTags+")")
	fs.IntVar(&flushSec, "metrics-flush", 60, "metrics flush interval in seconds")
	fs.BoolVar(&fl.validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&fl.quiet, "q", false, "omit keying progress markers (duplicates and missing identifiers are still logged)")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, fl, err
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 2:
		if c.SourcePath != "" || c.OutputPath != "" {
			return config.Config{}, fl, fmt.Errorf("usage: give paths either as arguments or as -source_path/-output_path")
		}
		c.SourcePath, c.OutputPath = rest[0], rest[1]
	default:
		return config.Config{}, fl, fmt.Errorf("usage: convert [flags] <source.xml> <output.json> (got %d arguments)", len(rest))
	}
	c.Sink.DSN = os.ExpandEnv(c.Sink.DSN)
	c.Metrics.Tags = datadog.ParseTagsCSV(tags)
	c.Metrics.FlushSeconds = flushSec

	if strings.TrimSpace(cfgPath) == "" {
		return c, fl, nil
	}

	file, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fl, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if len(fs.Args()) == 2 {
		set["source_path"], set["output_path"] = true, true
	}
	overlay(&file, c, set)
	return file, fl, nil
}

// overlay copies the explicitly set flag values of c onto file.
func overlay(file *config.Config, c config.Config, set map[string]bool) {
	if set["source_path"] {
		file.SourcePath = c.SourcePath
	}
	if set["output_path"] {
		file.OutputPath = c.OutputPath
	}
	if set["id-field"] {
		file.IDField = c.IDField
	}
	if set["columns"] {
		file.ExpectedColumns = c.ExpectedColumns
	}
	if set["sink"] {
		file.Sink.Kind = c.Sink.Kind
	}
	if set["dsn"] {
		file.Sink.DSN = c.Sink.DSN
	}
	if set["table"] {
		file.Sink.Table = c.Sink.Table
	}
	if set["job"] {
		file.Job = c.Job
	}
	if set["metrics-backend"] {
		file.Metrics.Backend = c.Metrics.Backend
	}
	if set["metrics-tags"] {
		file.Metrics.Tags = c.Metrics.Tags
	}
	if set["metrics-flush"] {
		file.Metrics.FlushSeconds = c.Metrics.FlushSeconds
	}
}

// initMetrics installs the configured metrics backend. The returned cleanup
// is never nil and closes the backend, flushing what it buffered.
func initMetrics(ctx context.Context, cfg config.Config) (func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Metrics.Backend)) {
	case "", "none", "nop", "noop":
		return func() {}, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       cfg.Metrics.Tags,
			FlushEvery: time.Duration(cfg.Metrics.FlushSeconds) * time.Second,
		})
		if err != nil {
			return func() {}, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q", cfg.Metrics.Backend)
	}
}
