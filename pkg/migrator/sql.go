package migrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/beim/sdm/pkg/environ"
	"github.com/pkg/errors"
)

// execSQL runs an inline statement in its own transaction on a fresh
// session.
func (m *Migrator) execSQL(ctx context.Context, sqlText string, env environ.Env) error {
	db, err := m.openDB(env)
	if err != nil {
		return errors.Wrap(err, "failed to open database session")
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	res, err := tx.ExecContext(ctx, sqlText)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, "failed to execute SQL %q", truncateSQL(sqlText))
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit SQL migration")
	}
	if rows, err := res.RowsAffected(); err == nil {
		m.logger.Info("executed SQL", "sql", truncateSQL(sqlText), "rows", rows)
	}
	return nil
}

func (m *Migrator) execSQLFile(ctx context.Context, file string, env environ.Env) error {
	sqlText, err := m.readDataFile(file)
	if err != nil {
		return err
	}
	return m.execSQL(ctx, sqlText, env)
}

// querySQLValue executes a statement and returns the first column of the
// first row, the shape condition checks compare against.
func (m *Migrator) querySQLValue(ctx context.Context, sqlText string, env environ.Env) (int64, error) {
	db, err := m.openDB(env)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open database session")
	}
	defer func() { _ = db.Close() }()

	var value int64
	if err := db.QueryRowContext(ctx, sqlText).Scan(&value); err != nil {
		return 0, errors.Wrapf(err, "failed to evaluate check SQL %q", truncateSQL(sqlText))
	}
	return value, nil
}

func (m *Migrator) readDataFile(file string) (string, error) {
	path := filepath.Join(m.project.DataPath(), file)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read data migration file: %s", path)
	}
	return string(data), nil
}

func truncateSQL(s string) string {
	const maxLen = 200
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
