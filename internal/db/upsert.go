package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a keyed bulk write.
type UpsertConfig struct {
	Table   Table
	Columns []string
	// Keys are the columns of the table's primary key or unique constraint.
	Keys []string
	// Update lists the columns rewritten on conflict; nil means every
	// non-key column.
	Update []string
}

func (c UpsertConfig) updateColumns() []string {
	if c.Update != nil {
		return c.Update
	}
	keys := make(map[string]bool, len(c.Keys))
	for _, k := range c.Keys {
		keys[k] = true
	}
	var cols []string
	for _, col := range c.Columns {
		if !keys[col] {
			cols = append(cols, col)
		}
	}
	return cols
}

// stagingTable is the per-transaction table rows are copied into before the
// merge.
func (c UpsertConfig) stagingTable() Table {
	return Table{Name: "stage_" + c.Table.Name}
}

// Upsert copies rows into a transaction-scoped staging table and merges them
// into the target with INSERT ... ON CONFLICT DO UPDATE, so a rerun of the
// same run ID replaces its rows instead of failing on the primary key.
func Upsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.Errorf("db: upsert %s: no columns", cfg.Table)
	}
	if len(cfg.Keys) == 0 {
		return 0, eris.Errorf("db: upsert %s: no key columns", cfg.Table)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: begin", cfg.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := cfg.stagingTable()
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		stage.Identifier().Sanitize(), cfg.Table.Identifier().Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create staging table", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, stage.Identifier(), cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: copy into staging table", cfg.Table)
	}

	tag, err := tx.Exec(ctx, mergeSQL(cfg, stage))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func mergeSQL(cfg UpsertConfig, stage Table) string {
	cols := columnList(cfg.Columns)
	update := cfg.updateColumns()
	action := "DO NOTHING"
	if len(update) > 0 {
		set := make([]string, len(update))
		for i, col := range update {
			id := pgx.Identifier{col}.Sanitize()
			set[i] = id + " = EXCLUDED." + id
		}
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		cfg.Table.Identifier().Sanitize(), cols, cols,
		stage.Identifier().Sanitize(), columnList(cfg.Keys), action)
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
