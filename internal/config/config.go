// Package config holds the settings of a conversion run.
//
// Values are resolved in this order: command-line flags, the optional JSON
// config file, environment variables, then defaults. Validate reports every
// problem at once instead of stopping at the first.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fmpxml/internal/storage"
)

const (
	DefaultJob     = "fmpxml"
	DefaultIDField = "Record ID"
	DefaultTable   = "items"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvMetricsBackend = "METRICS_BACKEND"
	EnvMetricsTags    = "METRICS_TAGS"
	EnvSinkDSN        = "SINK_DSN"
)

// Config is one conversion run.
type Config struct {
	Job        string `json:"job"`
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path"`

	// IDField names the field whose trimmed value keys the output items.
	IDField string `json:"id_field"`

	// ExpectedColumns is the column count every row must have.
	// 0 means the number of declared fields.
	ExpectedColumns int `json:"expected_columns"`

	Sink    Sink    `json:"sink"`
	Metrics Metrics `json:"metrics"`
}

// Sink optionally loads the keyed items into a database table.
type Sink struct {
	Kind  string `json:"kind"` // "" (disabled) | "sqlite" | "postgres" | "mssql"
	DSN   string `json:"dsn"`
	Table string `json:"table"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend      string   `json:"backend"` // "" | "none" | "datadog"
	Tags         []string `json:"tags"`
	FlushSeconds int      `json:"flush_seconds"`
}

// Load decodes a JSON config file. Unknown keys are rejected so typos do not
// silently fall back to defaults. ${VAR} references in the sink DSN are
// expanded from the environment.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes JSON config data.
func Parse(data []byte) (Config, error) {
	var c Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.Sink.DSN = os.ExpandEnv(c.Sink.DSN)
	return c, nil
}

// ApplyEnv fills settings still unset from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = strings.TrimSpace(getenv(EnvMetricsBackend))
	}
	if len(c.Metrics.Tags) == 0 {
		c.Metrics.Tags = splitTags(getenv(EnvMetricsTags))
	}
	if c.Sink.Kind != "" && c.Sink.DSN == "" {
		c.Sink.DSN = strings.TrimSpace(getenv(EnvSinkDSN))
	}
}

// ApplyDefaults fills the remaining unset settings.
func (c *Config) ApplyDefaults() {
	if c.Job == "" {
		c.Job = DefaultJob
	}
	if strings.TrimSpace(c.IDField) == "" {
		c.IDField = DefaultIDField
	}
	if c.Sink.Kind != "" && c.Sink.Table == "" {
		c.Sink.Table = DefaultTable
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "none"
	}
	if c.Metrics.FlushSeconds == 0 {
		c.Metrics.FlushSeconds = 60
	}
}

func splitTags(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses the JSON key names.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var sinkKinds = map[string]bool{"sqlite": true, "postgres": true, "mssql": true}

// Validate checks a fully resolved Config.
func Validate(c Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.SourcePath) == "" {
		add(SeverityError, "source_path", "is required")
	}
	if strings.TrimSpace(c.OutputPath) == "" {
		add(SeverityError, "output_path", "is required")
	} else {
		if c.SourcePath != "" && filepath.Clean(c.SourcePath) == filepath.Clean(c.OutputPath) {
			add(SeverityError, "output_path", "must differ from source_path")
		}
		if !strings.EqualFold(filepath.Ext(c.OutputPath), ".json") {
			add(SeverityWarning, "output_path", "%q does not end in .json", c.OutputPath)
		}
	}
	if strings.TrimSpace(c.IDField) == "" {
		add(SeverityError, "id_field", "must not be blank")
	}
	if c.ExpectedColumns < 0 {
		add(SeverityError, "expected_columns", "must be >= 0, got %d", c.ExpectedColumns)
	}

	switch {
	case c.Sink.Kind == "":
		if c.Sink.DSN != "" {
			add(SeverityWarning, "sink.dsn", "set but sink.kind is empty; no sink will be used")
		}
	case !sinkKinds[c.Sink.Kind]:
		add(SeverityError, "sink.kind", "unsupported %q (want sqlite, postgres or mssql)", c.Sink.Kind)
	default:
		if c.Sink.DSN == "" {
			add(SeverityError, "sink.dsn", "is required when sink.kind=%s (or set %s)", c.Sink.Kind, EnvSinkDSN)
		}
		if err := storage.ValidateTableName(c.Sink.Table); err != nil {
			add(SeverityError, "sink.table", "%v", err)
		}
	}

	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		add(SeverityError, "metrics.backend", "unsupported %q (want none or datadog)", c.Metrics.Backend)
	}
	if c.Metrics.FlushSeconds < 0 {
		add(SeverityError, "metrics.flush_seconds", "must be >= 0, got %d", c.Metrics.FlushSeconds)
	}

	return out
}
