package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"fmpxml/internal/config"
	"fmpxml/internal/convert"
	"fmpxml/internal/metrics"
	"fmpxml/internal/metrics/datadog"
	"fmpxml/internal/records"
)

const sampleExport = `<?xml version="1.0" encoding="UTF-8" ?>
<FMPXMLRESULT xmlns="http://www.filemaker.com/fmpxmlresult">
  <ERRORCODE>0</ERRORCODE>
  <METADATA>
    <FIELD EMPTYOK="YES" MAXREPEAT="1" NAME="Organization ID" TYPE="TEXT"/>
    <FIELD EMPTYOK="YES" MAXREPEAT="1" NAME="Record ID" TYPE="NUMBER"/>
  </METADATA>
  <RESULTSET FOUND="3">
    <ROW MODID="1" RECORDID="1"><COL><DATA>HH_1</DATA></COL><COL><DATA>188135</DATA></COL></ROW>
    <ROW MODID="1" RECORDID="2"><COL><DATA>HH_2</DATA></COL><COL><DATA>188136</DATA></COL></ROW>
    <ROW MODID="1" RECORDID="3"><COL><DATA>HH_3</DATA></COL><COL><DATA>188135</DATA></COL></ROW>
  </RESULTSET>
</FMPXMLRESULT>
`

// fakeConverter records the options it was run with.
type fakeConverter struct {
	mu    sync.Mutex
	calls int
	opts  convert.Options
	err   error
}

func (f *fakeConverter) Run(_ context.Context, opts convert.Options) (convert.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.opts = opts
	if f.err != nil {
		return convert.Summary{}, f.err
	}
	return convert.Summary{RunID: "r1", Output: opts.OutputPath, Stats: records.Stats{Total: 3, Stored: 2, Duplicates: 1}}, nil
}

type fakeMetricsBackend struct {
	closeErr error
	closed   int
}

func (b *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeMetricsBackend) Close() error {
	b.closed++
	return b.closeErr
}

func noEnv(string) string { return "" }

func testDeps(fc *fakeConverter, initErr error, cleanups *int) deps {
	return deps{
		Getenv:       noEnv,
		NewConverter: func(convert.Reporter) converter { return fc },
		InitMetrics: func(context.Context, config.Config) (func(), error) {
			if initErr != nil {
				return func() {}, initErr
			}
			return func() { *cleanups++ }, nil
		},
	}
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		wantInErr string
	}{
		{"no_paths", nil, "source_path: is required"},
		{"one_positional", []string{"in.xml"}, "usage: convert"},
		{"positional_and_flag", []string{"-source_path", "a.xml", "in.xml", "out.json"}, "either as arguments"},
		{"unknown_flag", []string{"-nope"}, "flag provided but not defined"},
		{"bad_sink", []string{"-sink", "oracle", "-dsn", "x", "in.xml", "out.json"}, "sink.kind"},
		{"missing_config_file", []string{"-config", "/nonexistent/run.json"}, "read config:"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fc := &fakeConverter{}
			var cleanups int
			var stdout, stderr bytes.Buffer
			d := testDeps(fc, nil, &cleanups)
			d.Stdout, d.Stderr = &stdout, &stderr

			if code := run(context.Background(), tc.args, d); code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantInErr) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantInErr)
			}
			if fc.calls != 0 || cleanups != 0 || stdout.Len() != 0 {
				t.Fatalf("side effects on usage error: calls=%d cleanups=%d stdout=%q", fc.calls, cleanups, stdout.String())
			}
		})
	}
}

// TestRun_Flow covers metrics init, the converter call and exit codes.
func TestRun_Flow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		initErr      error
		runErr       error
		wantCode     int
		wantStderr   string
		wantCalls    int
		wantCleanups int
	}{
		{"init_metrics_error", errors.New("no api key"), nil, 1, "init metrics: no api key", 0, 0},
		{"converter_error", nil, errors.New("normalize: column count mismatch"), 1, "run: normalize", 1, 1},
		{"success", nil, nil, 0, "", 1, 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fc := &fakeConverter{err: tc.runErr}
			var cleanups int
			var stdout, stderr bytes.Buffer
			d := testDeps(fc, tc.initErr, &cleanups)
			d.Stdout, d.Stderr = &stdout, &stderr

			code := run(context.Background(), []string{"-q", "-columns", "2", "in.xml", "out.json"}, d)
			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderr != "" && !strings.Contains(stderr.String(), tc.wantStderr) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderr)
			}
			if fc.calls != tc.wantCalls || cleanups != tc.wantCleanups {
				t.Fatalf("calls=%d cleanups=%d, want %d/%d", fc.calls, cleanups, tc.wantCalls, tc.wantCleanups)
			}
			if tc.wantCode != 0 {
				return
			}

			want := convert.Options{SourcePath: "in.xml", OutputPath: "out.json", IDField: config.DefaultIDField, ExpectedColumns: 2, Quiet: true}
			if fc.opts != want {
				t.Fatalf("opts=%+v, want %+v", fc.opts, want)
			}
			if got := stdout.String(); got != "run=r1 items=2 total=3 duplicates=1 missing_identifier=0 output=out.json\n" {
				t.Fatalf("stdout=%q", got)
			}
		})
	}
}

// TestRun_ConfigFileWithFlagOverrides resolves flags over the file and the
// file over the environment.
func TestRun_ConfigFileWithFlagOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.json")
	body := `{
  "source_path": "file.xml",
  "output_path": "file.json",
  "id_field": "Accession",
  "sink": {"kind": "sqlite", "table": "archive"}
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fc := &fakeConverter{}
	var cleanups int
	var stdout, stderr bytes.Buffer
	d := testDeps(fc, nil, &cleanups)
	d.Stdout, d.Stderr = &stdout, &stderr
	d.Getenv = func(k string) string {
		if k == config.EnvSinkDSN {
			return "env.db"
		}
		return ""
	}

	code := run(context.Background(), []string{"-config", path, "-output_path", "flag.json"}, d)
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}

	got := fc.opts
	if got.SourcePath != "file.xml" || got.OutputPath != "flag.json" || got.IDField != "Accession" {
		t.Fatalf("paths/id not resolved: %+v", got)
	}
	if got.Sink.Kind != "sqlite" || got.Sink.DSN != "env.db" || got.Table != "archive" {
		t.Fatalf("sink not resolved: %+v / %q", got.Sink, got.Table)
	}
}

// TestRun_DSNFlagExpandsEnv expands ${VAR} in -dsn with and without a
// config file.
func TestRun_DSNFlagExpandsEnv(t *testing.T) {
	t.Setenv("FMPXML_TEST_SINK_PATH", "expanded.db")

	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte(`{"source_path": "file.xml", "output_path": "file.json"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"flags_only", []string{"-sink", "sqlite", "-dsn", "${FMPXML_TEST_SINK_PATH}", "in.xml", "out.json"}},
		{"with_config", []string{"-config", path, "-sink", "sqlite", "-dsn", "${FMPXML_TEST_SINK_PATH}"}},
	}
	for _, tc := range tests {
		fc := &fakeConverter{}
		var cleanups int
		var stdout, stderr bytes.Buffer
		d := testDeps(fc, nil, &cleanups)
		d.Stdout, d.Stderr = &stdout, &stderr

		if code := run(context.Background(), tc.args, d); code != 0 {
			t.Fatalf("%s: exit code=%d; stderr=%q", tc.name, code, stderr.String())
		}
		if fc.opts.Sink.DSN != "expanded.db" {
			t.Fatalf("%s: dsn=%q, want expanded.db", tc.name, fc.opts.Sink.DSN)
		}
	}
}

// TestRun_ValidateOnly never runs the converter.
func TestRun_ValidateOnly(t *testing.T) {
	t.Parallel()

	fc := &fakeConverter{}
	var cleanups int
	var stdout, stderr bytes.Buffer
	d := testDeps(fc, nil, &cleanups)
	d.Stdout, d.Stderr = &stdout, &stderr

	if code := run(context.Background(), []string{"-validate", "in.xml", "out.json"}, d); code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "configuration is valid") || fc.calls != 0 || cleanups != 0 {
		t.Fatalf("stdout=%q calls=%d cleanups=%d", stdout.String(), fc.calls, cleanups)
	}
}

// TestRun_RealConversion wires the real converter end to end.
func TestRun_RealConversion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "export.xml")
	out := filepath.Join(dir, "export.json")
	if err := os.WriteFile(src, []byte(sampleExport), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-metrics-backend", "none", src, out}, deps{
		Stdout: &stdout,
		Stderr: &stderr,
		Getenv: noEnv,
	})
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "items=2 total=3 duplicates=1") {
		t.Fatalf("stdout=%q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "Number of duplicates: 1") {
		t.Fatalf("summary lines missing from log: %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), `duplicate identifier: "188135"`) {
		t.Fatalf("duplicate not named in log: %q", stderr.String())
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	res, err := records.ReadResult(f)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	if org, _ := res.Items["188135"]["Organization ID"].Str(); res.Count != 2 || org != "HH_1" {
		t.Fatalf("count=%d org=%q", res.Count, org)
	}
}

// The initMetrics tests swap package-level seams and do not run in parallel.

func TestInitMetrics_None(t *testing.T) {
	oldSet := setMetricsBackend
	t.Cleanup(func() { setMetricsBackend = oldSet })
	setMetricsBackend = func(metrics.Backend) { t.Fatal("setMetricsBackend must not be called for none") }

	cleanup, err := initMetrics(context.Background(), config.Config{Metrics: config.Metrics{Backend: "none"}})
	if err != nil || cleanup == nil {
		t.Fatalf("cleanupNil=%t err=%v", cleanup == nil, err)
	}
	cleanup()
}

func TestInitMetrics_Datadog(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	t.Cleanup(func() { newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog })

	var gotOpts datadog.Options
	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		return b, nil
	}
	var installed metrics.Backend
	setMetricsBackend = func(mb metrics.Backend) { installed = mb }
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cfg := config.Config{Job: "archive", Metrics: config.Metrics{Backend: "datadog", Tags: []string{"env:test"}, FlushSeconds: 30}}
	cleanup, err := initMetrics(context.Background(), cfg)
	if err != nil {
		t.Fatalf("initMetrics: %v", err)
	}
	if gotOpts.JobName != "archive" || gotOpts.FlushEvery.Seconds() != 30 || len(gotOpts.Tags) != 1 {
		t.Fatalf("options=%+v", gotOpts)
	}
	if installed != b {
		t.Fatal("backend not installed")
	}

	cleanup()
	if b.closed != 1 || !strings.Contains(logged.String(), "metrics: datadog close error: flush failed") {
		t.Fatalf("closed=%d log=%q", b.closed, logged.String())
	}
}

func TestInitMetrics_Unknown(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), config.Config{Metrics: config.Metrics{Backend: "statsd"}})
	if err == nil || cleanup == nil {
		t.Fatalf("cleanupNil=%t err=%v", cleanup == nil, err)
	}
	cleanup()
}

// TestHelperProcess runs main() in a subprocess for exit-code tests.
// Arguments after "--" are the command's arguments.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			os.Args = append([]string{args[0]}, args[i+1:]...)
			break
		}
	}
	main()
	os.Exit(0)
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	cmd := exec.Command(os.Args[0], append([]string{"-test.run=TestHelperProcess", "--"}, args...)...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "METRICS_BACKEND=none")

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &outBuf, &errBuf
	err := cmd.Run()
	if err == nil {
		return outBuf.String(), errBuf.String(), 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return outBuf.String(), errBuf.String(), ee.ExitCode()
	}
	t.Fatalf("unexpected run error: %T: %v", err, err)
	return "", "", 1
}

// TestMain_ExitCodes checks the process exit codes of main.
func TestMain_ExitCodes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "export.xml")
	bad := filepath.Join(dir, "bad.xml")
	if err := os.WriteFile(src, []byte(sampleExport), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(bad, []byte("<FMPXMLRESULT"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, stderr, code := runCmd(t, "only-one.xml"); code != 2 {
		t.Fatalf("usage exit=%d stderr=%q", code, stderr)
	}
	if _, stderr, code := runCmd(t, bad, filepath.Join(dir, "bad.json")); code != 1 || !strings.Contains(stderr, "parse:") {
		t.Fatalf("malformed exit=%d stderr=%q", code, stderr)
	}
	if stdout, stderr, code := runCmd(t, src, filepath.Join(dir, "out.json")); code != 0 || !strings.Contains(stdout, "items=2") {
		t.Fatalf("success exit=%d stdout=%q stderr=%q", code, stdout, stderr)
	}
}
