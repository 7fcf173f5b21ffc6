package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"fmpxml/internal/storage"
)

// SQL Server allows 2100 parameters per request and 1000 rows per VALUES list.
const (
	maxParams = 2000
	maxRows   = 1000
)

// Repo implements storage.Repository for Microsoft SQL Server.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// ReplaceItems implements storage.Repository.
func (r *Repo) ReplaceItems(ctx context.Context, table string, rows []storage.ItemRow) (int64, error) {
	if err := storage.ValidateTableName(table); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, buildDropSQL(table)); err != nil {
		return 0, fmt.Errorf("mssql: drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, buildCreateSQL(table)); err != nil {
		return 0, fmt.Errorf("mssql: create %s: %w", table, err)
	}

	var affected int64
	for _, batch := range storage.Batches(rows, min(maxParams, maxRows*len(storage.ItemColumns))) {
		q, args := buildBulkInsertSQL(table, batch)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return affected, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit: %w", err)
	}
	return affected, nil
}

// buildDropSQL guards the drop with OBJECT_ID so it works before SQL Server
// 2016 added DROP TABLE IF EXISTS.
func buildDropSQL(table string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", table, mssqlTableIdent(table))
}

// buildCreateSQL sizes identifier to fit the 900-byte index key limit.
func buildCreateSQL(table string) string {
	return fmt.Sprintf(
		"CREATE TABLE %s ([identifier] NVARCHAR(450) NOT NULL PRIMARY KEY, [row_hash] CHAR(64) NOT NULL, [record] NVARCHAR(MAX) NOT NULL, [run_id] NVARCHAR(36) NOT NULL, [loaded_at] DATETIMEOFFSET NOT NULL);",
		mssqlTableIdent(table),
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement with @pN
// placeholders for all rows.
func buildBulkInsertSQL(table string, rows []storage.ItemRow) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range storage.ItemColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(storage.ItemColumns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row.Values() {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes schema-qualified names part by part:
//
//	"dbo.items" -> [dbo].[items]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is the part of *sql.DB this package uses.
type dbConn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the part of *sql.Tx this package uses.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sql.Tx)(nil)
)
