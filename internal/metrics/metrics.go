// Package metrics is the backend-neutral metrics facade used by the
// conversion pipeline. Pipeline code records through the helpers below; a
// concrete backend (see metrics/datadog) is installed once by the command.
//
// With no backend installed every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names understood by backends.
const (
	StepTotal           = "fmpxml_step_total"
	StepDurationSeconds = "fmpxml_step_duration_seconds"
	RecordsTotal        = "fmpxml_records_total"
	RowsWrittenTotal    = "fmpxml_rows_written_total"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

type flusher interface {
	Flush() error
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nop{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush asks the installed backend to submit buffered data, if it buffers.
func Flush() error {
	if f, ok := current().(flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one execution of a pipeline stage and observes its
// duration. status is "ok" when err is nil and "error" otherwise.
func RecordStep(step string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords counts n records of the given kind, for example "parsed",
// "stored", "duplicate" or "missing_identifier".
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordRowsWritten counts rows written to a storage sink.
func RecordRowsWritten(sink string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsWrittenTotal, float64(n), Labels{"sink": sink})
}
