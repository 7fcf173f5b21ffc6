package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fmpxml/internal/storage"
)

// maxParams stays under SQLite's default SQLITE_MAX_VARIABLE_NUMBER of 999.
const maxParams = 999

// Repo implements storage.Repository for SQLite.
//
// SQLite has no timestamp type; loaded_at is stored as RFC3339Nano text in
// UTC so it sorts and round-trips as written.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database file named by cfg.DSN and checks it is reachable.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// ReplaceItems implements storage.Repository.
func (r *Repo) ReplaceItems(ctx context.Context, table string, rows []storage.ItemRow) (int64, error) {
	if err := storage.ValidateTableName(table); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlTableIdent(table)); err != nil {
		return 0, fmt.Errorf("sqlite: drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, buildCreateSQL(table)); err != nil {
		return 0, fmt.Errorf("sqlite: create %s: %w", table, err)
	}

	var affected int64
	for _, batch := range storage.Batches(rows, maxParams) {
		q, args := buildInsertSQL(table, batch)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return affected, fmt.Errorf("sqlite: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return affected, nil
}

func buildCreateSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
  "identifier" TEXT NOT NULL PRIMARY KEY,
  "row_hash" TEXT NOT NULL,
  "record" TEXT NOT NULL,
  "run_id" TEXT NOT NULL,
  "loaded_at" TEXT NOT NULL
);`, sqlTableIdent(table))
}

// buildInsertSQL builds one multi-row INSERT with ? placeholders.
func buildInsertSQL(table string, rows []storage.ItemRow) (string, []any) {
	colList := make([]string, 0, len(storage.ItemColumns))
	for _, c := range storage.ItemColumns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(storage.ItemColumns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(storage.ItemColumns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row.Identifier, row.RowHash, row.Record, row.RunID, formatSQLiteTime(row.LoadedAt))
	}
	return b.String(), args
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// sqlTableIdent quotes each part of an optionally schema-qualified name.
func sqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = sqlIdent(parts[i])
	}
	return strings.Join(parts, ".")
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime parses timestamps read back from SQLite. Besides
// RFC3339Nano it accepts the space-separated layouts other SQLite tools
// write; a missing offset means UTC.
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999Z07:00",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05.999999999", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

// ReadItems returns the rows of table ordered by identifier. It is the read
// side of the sink for downstream reporting over a local database file, and
// returns each record as the same JSON text the converter wrote.
func (r *Repo) ReadItems(ctx context.Context, table string) ([]storage.ItemRow, error) {
	if err := storage.ValidateTableName(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT "identifier", "row_hash", "record", "run_id", "loaded_at" FROM %s ORDER BY "identifier"`, sqlTableIdent(table))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.ItemRow
	for rows.Next() {
		var it storage.ItemRow
		var loaded string
		if err := rows.Scan(&it.Identifier, &it.RowHash, &it.Record, &it.RunID, &loaded); err != nil {
			return nil, err
		}
		if it.LoadedAt, err = parseSQLiteTime(loaded); err != nil {
			return nil, fmt.Errorf("sqlite: %s.loaded_at for %q: %w", table, it.Identifier, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
