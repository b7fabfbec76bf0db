package engine

import (
	"context"
	"database/sql"

	"github.com/beim/sdm/pkg/history"
)

// FixMigrate completes a crashed last step: when the newest versioned
// history row is stuck in PROCESSING or ROLLBACKING, the matching plan is
// re-executed forward and the row marked SUCCESSFUL. A clean history is a
// no-op.
func (e *Engine) FixMigrate(ctx context.Context, opts Options) error {
	return e.fix(ctx, opts, true)
}

// FixRollback unwinds a crashed last step: the matching plan is executed
// backward and its history row deleted.
func (e *Engine) FixRollback(ctx context.Context, opts Options) error {
	return e.fix(ctx, opts, false)
}

func (e *Engine) fix(ctx context.Context, opts Options, forward bool) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		hists, err := e.checkedHistories(ctx, tx, true)
		if err != nil {
			return err
		}
		if len(hists) == 0 || hists[len(hists)-1].State == history.StateSUCCESSFUL {
			e.logger.Info("no need to fix migration")
			return nil
		}
		target := e.mpm.PlanByIndex(len(hists) - 1)

		if forward {
			if !opts.Fake {
				if err := e.runner.Forward(ctx, target, e.env); err != nil {
					return err
				}
			}
			return e.dao.UpdateSucc(ctx, tx, target, opts.Operator, opts.Fake)
		}

		if !opts.Fake {
			if err := e.runner.Backward(ctx, target, e.env); err != nil {
				return err
			}
		}
		return e.dao.Delete(ctx, tx, target, opts.Operator, opts.Fake)
	})
}
