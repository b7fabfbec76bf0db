package migrator

import (
	"context"

	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/pkg/errors"
)

// checkCondition evaluates a condition check. SQL kinds compare the first
// column of the first row against the expected value; script kinds compare
// the process exit status. An absent expected value means 0.
func (m *Migrator) checkCondition(ctx context.Context, c *plan.ConditionCheck, env environ.Env, checksumMatch *bool) error {
	expected := int64(0)
	if c.Expected != nil {
		expected = *c.Expected
	}

	var (
		actual int64
		err    error
	)
	switch c.Kind {
	case plan.KindSQL:
		actual, err = m.querySQLValue(ctx, c.SQL, env)
	case plan.KindSQLFile:
		var sqlText string
		if sqlText, err = m.readDataFile(c.File); err == nil {
			actual, err = m.querySQLValue(ctx, sqlText, env)
		}
	case plan.KindShell:
		actual, err = asInt64(m.runShell(ctx, c.File, env, &expected, checksumMatch))
	case plan.KindPython:
		actual, err = asInt64(m.runPython(ctx, c.File, env, &expected, checksumMatch))
	case plan.KindTypeScript:
		actual, err = asInt64(m.runTypeScript(ctx, c.File, env, &expected, checksumMatch))
	default:
		return sdmerr.Usagef("invalid condition check kind %q", c.Kind)
	}
	if err != nil {
		return err
	}
	if actual != expected {
		return errors.Errorf("expected %d, got %d", expected, actual)
	}
	return nil
}

func asInt64(status int, err error) (int64, error) {
	return int64(status), err
}
