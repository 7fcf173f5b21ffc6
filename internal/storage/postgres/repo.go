package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fmpxml/internal/storage"
)

// maxParams stays under the 65535 bind parameters of the Postgres protocol.
const maxParams = 65000

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// ReplaceItems implements storage.Repository. The schema of a qualified
// table name is created when missing.
func (r *Repo) ReplaceItems(ctx context.Context, table string, rows []storage.ItemRow) (int64, error) {
	if err := storage.ValidateTableName(table); err != nil {
		return 0, err
	}

	var affected int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, stmt := range buildRebuildSQL(table) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("postgres: %s: %w", firstWords(stmt), err)
			}
		}
		for _, batch := range storage.Batches(rows, maxParams) {
			q, args := buildInsertSQL(table, batch)
			tag, err := tx.Exec(ctx, q, args...)
			if err != nil {
				return fmt.Errorf("postgres: insert into %s: %w", table, err)
			}
			affected += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// buildRebuildSQL returns the DDL run before inserting, in order.
func buildRebuildSQL(table string) []string {
	var out []string
	if schema, _ := splitQualifiedName(table); schema != "" {
		out = append(out, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema)))
	}
	ident := pgTableIdent(table)
	out = append(out,
		fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, ident),
		fmt.Sprintf(`CREATE TABLE %s ("identifier" TEXT PRIMARY KEY, "row_hash" CHAR(64) NOT NULL, "record" JSONB NOT NULL, "run_id" TEXT NOT NULL, "loaded_at" TIMESTAMPTZ NOT NULL);`, ident),
	)
	return out
}

// buildInsertSQL constructs a single multi-row INSERT with $n placeholders.
func buildInsertSQL(table string, rows []storage.ItemRow) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	for i, c := range storage.ItemColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

func pgTableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgIdent(table)
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

// splitQualifiedName splits "schema.table"; anything else is unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	if len(parts) != 2 {
		return "", name
	}
	return parts[0], parts[1]
}

func firstWords(stmt string) string {
	f := strings.Fields(stmt)
	if len(f) > 2 {
		f = f[:2]
	}
	return strings.ToLower(strings.Join(f, " "))
}
