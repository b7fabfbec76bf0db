package engine

import (
	"context"
	"database/sql"

	"github.com/beim/sdm/pkg/history"
	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/sdmerr"
)

// Rollback unwinds versioned plans down to (but not including) the target.
// Before each versioned plan is reversed, every repeatable plan depending
// on it with a live history row is reversed first, preserving referential
// coherence.
func (e *Engine) Rollback(ctx context.Context, opts Options) error {
	if err := e.CheckIntegrity(true); err != nil {
		return err
	}
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	target := opts.target()
	if target == nil {
		return sdmerr.Usagef("rollback requires a target version")
	}
	loc, err := e.mpm.MustBySig(*target)
	if err != nil {
		return err
	}

	inverse := e.mpm.RepeatableInverseDeps()

	var toRollback []*plan.Plan
	var dryRunList []*plan.Plan
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		hists, err := e.checkedHistories(ctx, tx, false)
		if err != nil {
			return err
		}
		latestIdx := len(hists) - 1
		if loc.Index > latestIdx {
			return sdmerr.Usagef("target migration plan is not applied yet")
		}
		if loc.Index == latestIdx {
			return nil
		}
		toRollback = e.mpm.BetweenIdx(loc.Index+1, latestIdx)

		// the dry-run listing interleaves each versioned plan with the
		// repeatable plans its rollback would cascade into
		for _, p := range toRollback {
			dryRunList = append(dryRunList, p)
			if _, ok := inverse[p.Sig()]; !ok {
				continue
			}
			hist, err := e.dao.BySig(ctx, tx, p.Sig())
			if err != nil {
				return err
			}
			if hist == nil {
				continue
			}
			for _, sig := range inverse[p.Sig()] {
				rp, err := e.mpm.RepeatableBySig(sig)
				if err != nil {
					return err
				}
				dryRunList = append(dryRunList, rp)
			}
		}

		if len(toRollback) == 0 || opts.DryRun {
			return nil
		}
		return e.dao.UpdateRollback(ctx, tx, toRollback[len(toRollback)-1], opts.Operator, opts.Fake)
	})
	if err != nil {
		return err
	}
	if len(toRollback) == 0 {
		return nil
	}
	if opts.DryRun {
		e.logger.Info("migration plans to rollback:")
		e.printPlanTable(dryRunList, true)
		return nil
	}

	for len(toRollback) > 0 {
		p := toRollback[len(toRollback)-1]

		if err := e.cascadeRollbackRepeatables(ctx, p, inverse, opts); err != nil {
			return err
		}

		if !opts.Fake {
			if err := e.runner.Backward(ctx, p, e.env); err != nil {
				return err
			}
		}

		err = e.withTx(ctx, func(tx *sql.Tx) error {
			if err := e.assertLatestVersioned(ctx, tx, p, history.StateROLLBACKING); err != nil {
				return err
			}
			if err := e.dao.Delete(ctx, tx, p, opts.Operator, opts.Fake); err != nil {
				return err
			}
			toRollback = toRollback[:len(toRollback)-1]
			if len(toRollback) > 0 {
				return e.dao.UpdateRollback(ctx, tx, toRollback[len(toRollback)-1], opts.Operator, opts.Fake)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
