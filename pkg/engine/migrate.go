package engine

import (
	"context"
	"database/sql"

	"github.com/beim/sdm/pkg/history"
	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/sdmerr"
)

// Migrate applies versioned plans up to the target (or the end of the
// chain) and then schedules repeatable plans against the applied prefix.
//
// The versioned loop keeps exactly one PROCESSING row alive: each step
// executes the change outside any history transaction, then in one
// transaction asserts the PROCESSING row still matches, flips it to
// SUCCESSFUL, and inserts the next PROCESSING row.
func (e *Engine) Migrate(ctx context.Context, opts Options) error {
	if err := e.CheckIntegrity(true); err != nil {
		return err
	}
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	if opts.DryRun {
		e.logger.Info("running in dry run mode, no migration will be executed")
	}

	applied, pending, err := e.migrateVersioned(ctx, opts)
	if err != nil {
		return err
	}

	repeatables, err := e.migrateRepeatable(ctx, applied, opts)
	if err != nil {
		return err
	}

	if opts.DryRun {
		e.logger.Info("migration plans to execute:")
		e.printPlanTable(append(pending, repeatables...), false)
	}
	return nil
}

// migrateVersioned runs the versioned state machine. It returns the full
// applied prefix (pre-existing plus newly applied) and the plans that were
// (or in dry-run mode, would be) executed.
func (e *Engine) migrateVersioned(ctx context.Context, opts Options) (applied, pending []*plan.Plan, err error) {
	target := opts.target()

	var newPlans []*plan.Plan
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		hists, err := e.checkedHistories(ctx, tx, false)
		if err != nil {
			return err
		}
		applied = append([]*plan.Plan{}, e.mpm.Plans()[:len(hists)]...)

		if len(hists) == e.mpm.Count() {
			return nil
		}
		next := len(hists)
		newPlans, err = e.mpm.Between(next, target)
		if err != nil {
			return err
		}
		if len(newPlans) > 0 && !opts.DryRun {
			return e.dao.AddOne(ctx, tx, newPlans[0], opts.Operator, opts.Fake)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if opts.DryRun || len(newPlans) == 0 {
		return applied, newPlans, nil
	}

	pending = append(pending, newPlans...)
	for len(newPlans) > 0 {
		p := newPlans[0]
		if !opts.Fake {
			if err := e.runner.Forward(ctx, p, e.env); err != nil {
				return nil, nil, err
			}
		}
		err = e.withTx(ctx, func(tx *sql.Tx) error {
			if err := e.assertLatestVersioned(ctx, tx, p, history.StatePROCESSING); err != nil {
				return err
			}
			if err := e.dao.UpdateSucc(ctx, tx, p, opts.Operator, opts.Fake); err != nil {
				return err
			}
			applied = append(applied, p)
			newPlans = newPlans[1:]
			if len(newPlans) > 0 {
				return e.dao.AddOne(ctx, tx, newPlans[0], opts.Operator, opts.Fake)
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return applied, pending, nil
}

// assertLatestVersioned re-selects the newest versioned history row under
// lock and verifies it records plan p in the given state.
func (e *Engine) assertLatestVersioned(ctx context.Context, tx *sql.Tx, p *plan.Plan, state history.State) error {
	latest, err := e.dao.LatestVersioned(ctx, tx)
	if err != nil {
		return err
	}
	if latest == nil {
		return sdmerr.Integrityf("latest migration history not found")
	}
	sum, err := p.Checksum()
	if err != nil {
		return err
	}
	if !latest.CanMatch(p.Version, p.Name, sum) {
		return sdmerr.Integrityf(
			"unexpected migration history, version=%s, name=%s, checksum=%s",
			latest.Version, latest.Name, latest.Checksum)
	}
	if latest.State != state {
		return sdmerr.Integrityf(
			"unexpected migration history state, version=%s, name=%s, state=%s",
			latest.Version, latest.Name, latest.State)
	}
	return nil
}
