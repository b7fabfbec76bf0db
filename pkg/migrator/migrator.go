// Package migrator applies a single migration plan against an environment:
// schema changes through the external schema applier, data changes through
// a database session or a script subprocess, with optional pre/post
// condition checks around either direction.
//
// The migrator embeds no script runtimes. Python and TypeScript data
// migrations run as interpreter subprocesses under a well-defined
// environment contract (MYSQL_PWD, HOST, PORT, USER, SCHEMA, SDM_DATA_DIR,
// and for condition checks SDM_EXPECTED / SDM_CHECKSUM_MATCH).
package migrator

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/project"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/beim/sdm/pkg/store"

	_ "github.com/go-sql-driver/mysql"
)

// Direction selects which step of a change is applied.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

type (
	// DBFactory opens a database session for an environment.
	DBFactory func(env environ.Env) (*sql.DB, error)

	// Config assembles a Migrator.
	Config struct {
		Project  *project.Project
		Store    *store.Store
		Password string

		// OpenDB overrides the default MySQL session factory. Tests use it
		// to point SQL execution at a mock.
		OpenDB DBFactory

		Logger *slog.Logger
	}

	// Migrator executes migration plan steps.
	Migrator struct {
		project  *project.Project
		store    *store.Store
		password string
		openDB   DBFactory
		logger   *slog.Logger
	}
)

// New creates a Migrator.
func New(cfg Config) *Migrator {
	m := &Migrator{
		project:  cfg.Project,
		store:    cfg.Store,
		password: cfg.Password,
		openDB:   cfg.OpenDB,
		logger:   cfg.Logger,
	}
	if m.openDB == nil {
		m.openDB = func(env environ.Env) (*sql.DB, error) {
			return sql.Open("mysql", env.DSN(m.password))
		}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Forward applies the plan's forward change.
func (m *Migrator) Forward(ctx context.Context, p *plan.Plan, env environ.Env) error {
	m.logger.Info("executing migration", "plan", p.String(), "env", env.Name)
	return m.run(ctx, p, p.Change.Forward, Forward, env)
}

// Backward applies the plan's backward change. Plans without one are a
// logged no-op.
func (m *Migrator) Backward(ctx context.Context, p *plan.Plan, env environ.Env) error {
	if p.Change.Backward == nil {
		m.logger.Info("no backward change", "plan", p.String())
		return nil
	}
	m.logger.Info("rolling back migration", "plan", p.String(), "env", env.Name)
	return m.run(ctx, p, p.Change.Backward, Backward, env)
}

func (m *Migrator) run(ctx context.Context, p *plan.Plan, step *plan.Step, dir Direction, env environ.Env) error {
	if step.Precheck != nil {
		// only forward prechecks see the checksum-match flag; it exists to
		// let repeatable re-runs distinguish first execution from re-runs
		var match *bool
		if dir == Forward {
			match = p.ChecksumMatch()
		}
		if err := m.checkCondition(ctx, step.Precheck, env, match); err != nil {
			return sdmerr.ConditionCheckf("precheck failed for %s: %v", p, err)
		}
	}

	var err error
	switch {
	case p.Type == plan.TypeSchema:
		err = m.applySchema(ctx, step.ID, env, dir == Backward)
	case p.Type == plan.TypeData || p.Type == plan.TypeRepeatable:
		err = m.applyData(ctx, step, env)
	}
	if err != nil {
		return err
	}

	if step.Postcheck != nil {
		if err := m.checkCondition(ctx, step.Postcheck, env, nil); err != nil {
			return sdmerr.ConditionCheckf("postcheck failed for %s: %v", p, err)
		}
	}
	return nil
}

func (m *Migrator) applyData(ctx context.Context, step *plan.Step, env environ.Env) error {
	switch step.Kind {
	case plan.KindSQL:
		return m.execSQL(ctx, step.SQL, env)
	case plan.KindSQLFile:
		return m.execSQLFile(ctx, step.File, env)
	case plan.KindShell:
		_, err := m.runShell(ctx, step.File, env, nil, nil)
		return err
	case plan.KindTypeScript:
		_, err := m.runTypeScript(ctx, step.File, env, nil, nil)
		return err
	case plan.KindPython:
		_, err := m.runPython(ctx, step.File, env, nil, nil)
		return err
	default:
		return sdmerr.Usagef("invalid data change kind %q", step.Kind)
	}
}
