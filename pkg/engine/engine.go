// Package engine orchestrates migrations: it ties the plan manager,
// schema store, history DAO, and migrator together into the migrate /
// rollback / fix / info / check / clean state machines.
//
// Transaction boundaries are chosen so that at most one versioned history
// row is in a non-SUCCESSFUL state at any persisted moment. That row is
// the recovery anchor: after a crash at any point, fix migrate or fix
// rollback completes or unwinds the last step and nothing else needs
// repair.
package engine

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/history"
	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/project"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/beim/sdm/pkg/store"
	"github.com/pkg/errors"
)

type (
	// Runner is the migrator capability the engine drives. It is an
	// interface so tests can substitute a recorder.
	Runner interface {
		Forward(ctx context.Context, p *plan.Plan, env environ.Env) error
		Backward(ctx context.Context, p *plan.Plan, env environ.Env) error
		Applier(ctx context.Context, args []string, cwd string, env environ.Env) error
	}

	// Config assembles an Engine.
	Config struct {
		Project *project.Project
		Manager *plan.Manager
		Store   *store.Store
		DAO     *history.DAO
		DB      *sql.DB
		Runner  Runner
		Env     environ.Env
		Logger  *slog.Logger
	}

	// Engine executes migration commands against one environment.
	Engine struct {
		project *project.Project
		mpm     *plan.Manager
		store   *store.Store
		dao     *history.DAO
		db      *sql.DB
		runner  Runner
		env     environ.Env
		logger  *slog.Logger
	}

	// Options carries the shared migrate/rollback/fix flags.
	Options struct {
		// Version and Name select the target plan; an empty version means
		// "latest" for migrate and is required for rollback.
		Version string
		Name    string

		// Fake records state transitions without executing changes.
		Fake bool

		// DryRun prints what would run and executes nothing.
		DryRun bool

		// Operator is recorded in history log entries.
		Operator string
	}
)

// New creates an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		project: cfg.Project,
		mpm:     cfg.Manager,
		store:   cfg.Store,
		dao:     cfg.DAO,
		db:      cfg.DB,
		runner:  cfg.Runner,
		env:     cfg.Env,
		logger:  logger,
	}
}

// target returns the target signature from the options, or nil when no
// version was given.
func (o Options) target() *plan.Signature {
	if o.Version == "" {
		return nil
	}
	return &plan.Signature{Version: plan.PadVersion(o.Version), Name: o.Name}
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (e *Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}

// reconcilePrefix verifies that the versioned history rows form a prefix
// of the versioned plan list: every row SUCCESSFUL (in fix mode the last
// row may be PROCESSING or ROLLBACKING) and matching its plan on version,
// name, and checksum. Any mismatch means a plan file was edited or a
// previous run crashed, and the user must resolve it via fix or by
// reverting the edit.
func reconcilePrefix(hists []*history.Row, plans []*plan.Plan, fixMode bool) error {
	if len(hists) > len(plans) {
		return sdmerr.Integrityf(
			"unexpected migration history: %d history rows but %d plans",
			len(hists), len(plans))
	}
	for idx, hist := range hists {
		if hist.State != history.StateSUCCESSFUL {
			if fixMode && idx == len(hists)-1 &&
				(hist.State == history.StatePROCESSING || hist.State == history.StateROLLBACKING) {
				continue
			}
			return sdmerr.Integrityf(
				"migration is not successful, version=%s, name=%s, state=%s",
				hist.Version, hist.Name, hist.State)
		}
		p := plans[idx]
		sum, err := p.Checksum()
		if err != nil {
			return err
		}
		if !hist.CanMatch(p.Version, p.Name, sum) {
			return sdmerr.Integrityf(
				"unexpected migration history, version=%s, name=%s, checksum=%s",
				hist.Version, hist.Name, hist.Checksum)
		}
	}
	return nil
}

// checkedHistories loads the versioned history prefix under the given
// transaction and reconciles it against the plan list.
func (e *Engine) checkedHistories(ctx context.Context, tx *sql.Tx, fixMode bool) ([]*history.Row, error) {
	hists, err := e.dao.AllVersioned(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := reconcilePrefix(hists, e.mpm.Plans(), fixMode); err != nil {
		return nil, err
	}
	return hists, nil
}

// Bootstrap ensures the history tables exist in the target database.
func (e *Engine) Bootstrap(ctx context.Context) error {
	return e.dao.EnsureTables(ctx, e.db)
}
