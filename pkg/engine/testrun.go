package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/beim/sdm/pkg/plan"
	"github.com/pkg/errors"
)

// TestRun executes a test plan: a sequence of plan signatures walked in
// order, migrating on ascending index steps and rolling back on
// descending ones. The first entry is always a migrate.
func (e *Engine) TestRun(ctx context.Context, located []plan.Located, opts Options) error {
	for idx, tp := range located {
		stepOpts := opts
		stepOpts.Version = tp.Plan.Version
		stepOpts.Name = tp.Plan.Name

		if idx == 0 || tp.Index > located[idx-1].Index {
			if err := e.Migrate(ctx, stepOpts); err != nil {
				return err
			}
			continue
		}
		if err := e.Rollback(ctx, stepOpts); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every table in the target schema. Destructive; only used by
// test runs against disposable environments.
func (e *Engine) Clear(ctx context.Context) error {
	e.logger.Warn("clearing database", "schema", e.env.Schema)
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS=0"); err != nil {
			return errors.Wrap(err, "failed to disable foreign key checks")
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT table_name FROM information_schema.tables WHERE TABLE_SCHEMA = ?",
			e.env.Schema)
		if err != nil {
			return errors.Wrap(err, "failed to list tables")
		}
		var tables []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				_ = rows.Close()
				return errors.Wrap(err, "failed to scan table name")
			}
			tables = append(tables, name)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return errors.Wrap(err, "failed to iterate tables")
		}
		_ = rows.Close()

		for _, name := range tables {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE `%s`", name)); err != nil {
				return errors.Wrapf(err, "failed to drop table %s", name)
			}
		}
		_, err = tx.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS=1")
		return errors.Wrap(err, "failed to re-enable foreign key checks")
	})
	if err != nil {
		return err
	}
	e.logger.Warn("database cleared", "schema", e.env.Schema)
	return nil
}
