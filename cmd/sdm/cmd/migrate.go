package cmd

import (
	"context"

	"github.com/beim/sdm/pkg/engine"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/urfave/cli/v3"
)

func migrateFlags(requireVersion bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "version",
			Aliases:  []string{"v"},
			Usage:    "target integer version",
			Required: requireVersion,
		},
		&cli.StringFlag{
			Name:    "name",
			Aliases: []string{"n"},
			Usage:   "target migration plan name",
		},
		&cli.BoolFlag{
			Name:  "fake",
			Usage: "record state transitions without executing changes",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "print what would run and execute nothing",
		},
		operatorFlag(),
	}
}

// migrate returns the CLI command that applies versioned plans up to the
// target (or the whole chain) and then schedules repeatable plans.
//
// Example usage:
//
//	# Apply everything
//	sdm migrate production
//
//	# Apply up to a specific version, recording who did it
//	sdm migrate production -v 0002 -o alice
//
//	# See what would run
//	sdm migrate production --dry-run
func migrate() *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Migrate schema and data",
		Flags:   migrateFlags(false),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return sdmerr.Usagef("migrate requires an environment name")
			}
			eng, cleanup, err := newEngine(cmd.Args().First())
			if err != nil {
				return err
			}
			defer cleanup()
			return eng.Migrate(ctx, migrationOptions(cmd))
		},
	}
}

// rollback returns the CLI command that unwinds versioned plans down to
// the target version. Repeatable plans depending on an unwound plan are
// reversed first.
//
// Example usage:
//
//	sdm rollback production -v 0001
func rollback() *cli.Command {
	return &cli.Command{
		Name:    "rollback",
		Aliases: []string{"r"},
		Usage:   "Rollback schema and data",
		Flags:   migrateFlags(true),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return sdmerr.Usagef("rollback requires an environment name")
			}
			eng, cleanup, err := newEngine(cmd.Args().First())
			if err != nil {
				return err
			}
			defer cleanup()
			return eng.Rollback(ctx, migrationOptions(cmd))
		},
	}
}

// fix returns the CLI command that recovers from a crashed migration: it
// completes (fix migrate) or unwinds (fix rollback) the single
// non-SUCCESSFUL history row.
//
// Example usage:
//
//	# A data migration failed mid-step; the SQL has been corrected:
//	sdm fix migrate production
//
//	# Mark the stuck step applied without re-executing it:
//	sdm fix migrate production --fake
func fix() *cli.Command {
	return &cli.Command{
		Name:  "fix",
		Usage: "Fix a crashed migration or rollback",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fake",
				Usage: "update history without executing changes",
			},
			operatorFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return sdmerr.Usagef("usage: fix {migrate|rollback} ENVIRONMENT")
			}
			eng, cleanup, err := newEngine(cmd.Args().Get(1))
			if err != nil {
				return err
			}
			defer cleanup()

			opts := engine.Options{
				Fake:     cmd.Bool("fake"),
				Operator: cmd.String("operator"),
			}
			switch cmd.Args().Get(0) {
			case "migrate", "m":
				return eng.FixMigrate(ctx, opts)
			case "rollback", "r":
				return eng.FixRollback(ctx, opts)
			default:
				return sdmerr.Usagef("fix requires a subcommand: migrate or rollback")
			}
		},
	}
}
