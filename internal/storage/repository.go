// Package storage loads keyed conversion results into a relational table for
// downstream reporting. Backends register themselves by kind from init();
// import internal/storage/all to link every backend.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// ItemColumns are the sink table columns in insert order. identifier is the
// primary key.
var ItemColumns = []string{"identifier", "row_hash", "record", "run_id", "loaded_at"}

// ItemRow is one keyed record as stored in the sink table.
type ItemRow struct {
	Identifier string
	RowHash    string
	Record     string // JSON text of the record object
	RunID      string
	LoadedAt   time.Time
}

// Values returns the row in ItemColumns order.
func (r ItemRow) Values() []any {
	return []any{r.Identifier, r.RowHash, r.Record, r.RunID, r.LoadedAt.UTC()}
}

// Repository is a result sink.
type Repository interface {
	// ReplaceItems rebuilds table from rows in a single transaction: the table
	// is dropped, recreated and filled. It returns the number of rows written.
	// On error the previous table contents are kept.
	ReplaceItems(ctx context.Context, table string, rows []ItemRow) (int64, error)

	// Close releases connections. Call once.
	Close()
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on an empty kind,
// a nil factory or a duplicate registration.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	repo, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Kind, err)
	}
	return repo, nil
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateTableName accepts a plain or schema-qualified identifier. Table
// names are interpolated into DDL, so anything else is rejected.
func ValidateTableName(name string) error {
	if !tableNameRE.MatchString(name) {
		return fmt.Errorf("storage: invalid table name %q (want [schema.]name of letters, digits and underscores)", name)
	}
	return nil
}

// Batches splits rows into chunks whose bound parameter count stays within
// maxParams. Every chunk holds at least one row.
func Batches(rows []ItemRow, maxParams int) [][]ItemRow {
	per := maxParams / len(ItemColumns)
	if per < 1 {
		per = 1
	}
	out := make([][]ItemRow, 0, (len(rows)+per-1)/per)
	for len(rows) > 0 {
		n := min(per, len(rows))
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	return out
}
