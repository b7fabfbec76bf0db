package cmd

import (
	"context"
	"os"

	"github.com/beim/sdm/pkg/engine"
	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/history"
	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/project"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/beim/sdm/pkg/store"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

func mysqlFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Usage: "MySQL host",
			Value: "127.0.0.1",
		},
		&cli.StringFlag{
			Name:    "port",
			Aliases: []string{"P"},
			Usage:   "MySQL port",
			Value:   "3306",
		},
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Usage:   "MySQL user",
			Value:   "root",
		},
	}
}

// initCmd returns the CLI command that scaffolds a new sdm project in the
// current directory: it pulls the live schema through the applier, seeds
// the content-addressed store, and writes the 0000_init migration plan
// together with the project's supporting files.
//
// Example usage:
//
//	sdm init --host 127.0.0.1 -P 3306 -u root -s mydb --author alice
func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize an sdm project",
		Flags: append(mysqlFlags(),
			&cli.StringFlag{
				Name:     "schema",
				Aliases:  []string{"s"},
				Usage:    "database schema to manage",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "author",
				Usage: "author recorded in the initial plan",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pwd, err := os.Getwd()
			if err != nil {
				return err
			}
			proj := project.New(pwd)
			st := store.New(afero.NewOsFs(), proj.StorePath())
			mpm, err := plan.NewManagerFromPlans(nil, plan.SortDependency)
			if err != nil {
				return err
			}

			eng := engine.New(engine.Config{
				Project: proj,
				Manager: mpm,
				Store:   st,
				DAO:     history.NewDAO(proj.Config.HistoryTable, proj.Config.HistoryLogTable),
				Runner:  migratorFor(proj, st),
				Env:     environ.Env{},
			})
			return eng.Init(ctx, engine.InitOptions{
				Host:   cmd.String("host"),
				Port:   cmd.String("port"),
				User:   cmd.String("user"),
				Schema: cmd.String("schema"),
				Author: cmd.String("author"),
			}, mysqlPassword())
		},
	}
}

// addEnv returns the CLI command that registers an additional environment
// with the schema applier.
//
// Example usage:
//
//	sdm add-env staging --host staging.internal -P 3306 -u deploy
func addEnv() *cli.Command {
	return &cli.Command{
		Name:    "add-env",
		Aliases: []string{"e"},
		Usage:   "Add an environment",
		Flags:   mysqlFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireProject(); err != nil {
				return err
			}
			st := projectStore()
			eng := engine.New(engine.Config{
				Project: currentProject,
				Store:   st,
				Runner:  projectMigrator(st),
			})
			if cmd.Args().Len() != 1 {
				return sdmerr.Usagef("add-env requires an environment name")
			}
			return eng.AddEnv(ctx,
				cmd.Args().First(),
				cmd.String("host"),
				cmd.String("port"),
				cmd.String("user"),
			)
		},
	}
}
