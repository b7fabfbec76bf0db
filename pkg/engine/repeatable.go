package engine

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/beim/sdm/pkg/history"
	"github.com/beim/sdm/pkg/plan"
)

// historyLookup resolves the current history row of a signature, or nil
// when none exists.
type historyLookup func(sig plan.Signature) (*history.Row, error)

// selectRepeatablePlans decides which repeatable plans run against the
// given applied versioned prefix:
//
//  1. A declared dependency outside the applied set skips the plan.
//  2. An ignore_after signature inside the applied set skips the plan.
//  3. A SUCCESSFUL history row with a matching checksum skips the plan,
//     unless the forward change carries a non-deterministic (script)
//     precheck, which must re-evaluate on every migrate.
//
// Selected plans have their checksum-match flag set so scripted checks
// can tell a first run from a re-run after an edit.
func selectRepeatablePlans(repeatable, applied []*plan.Plan, lookup historyLookup, logger *slog.Logger) ([]*plan.Plan, error) {
	appliedMatch := func(sig plan.Signature) bool {
		for _, ap := range applied {
			if ap.Match(sig) {
				return true
			}
		}
		return false
	}

	var toExecute []*plan.Plan
	for _, p := range repeatable {
		if len(p.Dependencies) > 0 && !appliedMatch(p.Dependencies[0]) {
			logger.Warn("repeatable migration skipped: dependency not applied",
				"plan", p.String(), "dependency", p.Dependencies[0].String())
			continue
		}
		if p.IgnoreAfter != nil && appliedMatch(*p.IgnoreAfter) {
			logger.Debug("repeatable migration skipped: ignore_after applied",
				"plan", p.String(), "ignore_after", p.IgnoreAfter.String())
			continue
		}

		sum, err := p.Checksum()
		if err != nil {
			return nil, err
		}
		hist, err := lookup(p.Sig())
		if err != nil {
			return nil, err
		}
		pre := p.Change.Forward.Precheck
		if hist != nil &&
			hist.State == history.StateSUCCESSFUL &&
			hist.Checksum == sum &&
			(pre == nil || pre.Kind.Deterministic()) {
			logger.Debug("repeatable migration skipped: already executed",
				"plan", p.String())
			continue
		}

		p.SetChecksumMatch(hist != nil && hist.Checksum == sum)
		toExecute = append(toExecute, p)
	}
	return toExecute, nil
}

// migrateRepeatable runs the repeatable scheduler after a versioned
// migrate. In fake mode repeatable migrations are neither executed nor
// recorded. In dry-run mode the selection is computed against the
// hypothetical applied prefix up to the target and returned for printing.
func (e *Engine) migrateRepeatable(ctx context.Context, applied []*plan.Plan, opts Options) ([]*plan.Plan, error) {
	if opts.Fake {
		return nil, nil
	}

	lookup := func(sig plan.Signature) (*history.Row, error) {
		return e.dao.BySigDTO(ctx, e.db, sig)
	}

	if opts.DryRun {
		hypothetical := e.mpm.Plans()
		if target := opts.target(); target != nil {
			var err error
			hypothetical, err = e.mpm.Between(0, target)
			if err != nil {
				return nil, err
			}
		}
		return selectRepeatablePlans(e.mpm.RepeatablePlans(), hypothetical, lookup, e.logger)
	}

	toExecute, err := selectRepeatablePlans(e.mpm.RepeatablePlans(), applied, lookup, e.logger)
	if err != nil {
		return nil, err
	}
	if len(toExecute) == 0 {
		e.logger.Debug("no valid repeatable migration to execute")
		return nil, nil
	}

	for _, p := range toExecute {
		err := e.withTx(ctx, func(tx *sql.Tx) error {
			hist, err := e.dao.BySig(ctx, tx, p.Sig())
			if err != nil {
				return err
			}
			if hist == nil {
				return e.dao.AddOne(ctx, tx, p, opts.Operator, opts.Fake)
			}
			// a PROCESSING row left by a crash is simply retried
			return e.dao.UpdateProcessing(ctx, tx, p, opts.Operator, opts.Fake)
		})
		if err != nil {
			return nil, err
		}

		if err := e.runner.Forward(ctx, p, e.env); err != nil {
			return nil, err
		}

		err = e.withTx(ctx, func(tx *sql.Tx) error {
			return e.dao.UpdateSucc(ctx, tx, p, opts.Operator, opts.Fake)
		})
		if err != nil {
			return nil, err
		}
	}
	return toExecute, nil
}

// cascadeRollbackRepeatables reverses every repeatable plan that depends
// on the versioned plan p and has a live history row. Each reversal runs
// in its own pair of transactions, mirroring the versioned step shape.
func (e *Engine) cascadeRollbackRepeatables(ctx context.Context, p *plan.Plan, inverse map[plan.Signature][]plan.Signature, opts Options) error {
	for _, sig := range inverse[p.Sig()] {
		rp, err := e.mpm.RepeatableBySig(sig)
		if err != nil {
			return err
		}

		skipped := false
		err = e.withTx(ctx, func(tx *sql.Tx) error {
			hist, err := e.dao.BySig(ctx, tx, sig)
			if err != nil {
				return err
			}
			if hist == nil {
				e.logger.Debug("migration history not found, skipping rollback",
					"plan", rp.String())
				skipped = true
				return nil
			}
			return e.dao.UpdateRollback(ctx, tx, rp, opts.Operator, opts.Fake)
		})
		if err != nil {
			return err
		}
		if skipped {
			continue
		}

		if !opts.Fake {
			if err := e.runner.Backward(ctx, rp, e.env); err != nil {
				return err
			}
		}

		err = e.withTx(ctx, func(tx *sql.Tx) error {
			return e.dao.Delete(ctx, tx, rp, opts.Operator, opts.Fake)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
