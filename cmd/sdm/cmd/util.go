package cmd

import (
	"database/sql"
	"os"

	"github.com/beim/sdm/pkg/engine"
	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/history"
	"github.com/beim/sdm/pkg/migrator"
	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/project"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/beim/sdm/pkg/store"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	_ "github.com/go-sql-driver/mysql"
)

func requireProject() error {
	if currentProject == nil {
		return sdmerr.Usagef("not an sdm project (no %s found); run init first", "sdm.yaml")
	}
	return nil
}

func mysqlPassword() string {
	return os.Getenv(environ.EnvMySQLPwd)
}

func projectStore() *store.Store {
	return store.New(afero.NewOsFs(), currentProject.StorePath())
}

func loadManager() (*plan.Manager, error) {
	return plan.NewManager(currentProject.PlanPath(), currentProject.DataPath(), plan.SortDependency)
}

func migratorFor(proj *project.Project, st *store.Store) *migrator.Migrator {
	return migrator.New(migrator.Config{
		Project:  proj,
		Store:    st,
		Password: mysqlPassword(),
	})
}

func projectMigrator(st *store.Store) *migrator.Migrator {
	return migratorFor(currentProject, st)
}

// newOfflineEngine assembles an engine for commands that never touch the
// target database: make-*, check, clean, diff, pull. The env is
// resolved opportunistically so applier invocations still get connection
// variables when one of the arguments names an environment.
func newOfflineEngine(envName string) (*engine.Engine, error) {
	if err := requireProject(); err != nil {
		return nil, err
	}
	mpm, err := loadManager()
	if err != nil {
		return nil, err
	}
	st := projectStore()

	var env environ.Env
	if envName != "" {
		resolver, err := environ.Load(currentProject.EnvFilePath())
		if err == nil && resolver.Has(envName) {
			if env, err = resolver.Env(envName); err != nil {
				return nil, err
			}
		}
	}

	return engine.New(engine.Config{
		Project: currentProject,
		Manager: mpm,
		Store:   st,
		Runner:  projectMigrator(st),
		Env:     env,
	}), nil
}

// newEngine assembles a fully connected engine for commands that operate
// on an environment's database. The returned cleanup closes the session.
func newEngine(envName string) (*engine.Engine, func(), error) {
	if err := requireProject(); err != nil {
		return nil, nil, err
	}
	resolver, err := environ.Load(currentProject.EnvFilePath())
	if err != nil {
		return nil, nil, err
	}
	env, err := resolver.Env(envName)
	if err != nil {
		return nil, nil, err
	}
	mpm, err := loadManager()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("mysql", env.DSN(mysqlPassword()))
	if err != nil {
		return nil, nil, err
	}

	st := projectStore()
	eng := engine.New(engine.Config{
		Project: currentProject,
		Manager: mpm,
		Store:   st,
		DAO:     history.NewDAO(currentProject.Config.HistoryTable, currentProject.Config.HistoryLogTable),
		DB:      db,
		Runner:  projectMigrator(st),
		Env:     env,
	})
	return eng, func() { _ = db.Close() }, nil
}

func migrationOptions(cmd *cli.Command) engine.Options {
	return engine.Options{
		Version:  cmd.String("version"),
		Name:     cmd.String("name"),
		Fake:     cmd.Bool("fake"),
		DryRun:   cmd.Bool("dry-run"),
		Operator: cmd.String("operator"),
	}
}

func operatorFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "operator",
		Aliases: []string{"o"},
		Usage:   "operator recorded in history log entries",
	}
}
