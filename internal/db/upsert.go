package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a single-row upsert.
type UpsertConfig struct {
	Table        string   // target table
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// UpsertRow inserts one row, replacing the existing row on conflict. The
// statement is a plain INSERT ... ON CONFLICT (keys) DO UPDATE SET so the
// write is atomic at the store level.
func UpsertRow(ctx context.Context, pool Pool, cfg UpsertConfig, values []any) error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	if len(values) != len(cfg.Columns) {
		return eris.Errorf("db: upsert: %d values for %d columns", len(values), len(cfg.Columns))
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var setClauses []string
	for _, col := range updateCols {
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s",
			pgx.Identifier{col}.Sanitize(), pgx.Identifier{col}.Sanitize()))
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(setClauses, ", "),
	)

	if _, err := pool.Exec(ctx, sql, values...); err != nil {
		return eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	return nil
}

// sanitizeTable handles schema-qualified table names like "retention.risk_scores".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
