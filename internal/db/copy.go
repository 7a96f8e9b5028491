// Package db persists correlation runs to Postgres: correlation records are
// streamed with COPY, area summaries are upserted per run.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Table is a possibly schema-qualified table name.
type Table struct {
	Schema string
	Name   string
}

// ResultTable names a table in ResultSchema.
func ResultTable(name string) Table {
	return Table{Schema: ResultSchema, Name: name}
}

// Identifier returns the pgx identifier for t.
func (t Table) Identifier() pgx.Identifier {
	if t.Schema == "" {
		return pgx.Identifier{t.Name}
	}
	return pgx.Identifier{t.Schema, t.Name}
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// CopyRows streams rows into t over the COPY protocol. No rows is a no-op.
func CopyRows(ctx context.Context, pool Pool, t Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := pool.CopyFrom(ctx, t.Identifier(), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", t)
	}
	return n, nil
}
