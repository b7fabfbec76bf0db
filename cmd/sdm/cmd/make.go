package cmd

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
)

func authorFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "author",
		Usage: "author recorded in the plan",
	}
}

func reportSaved(path string) {
	if path != "" {
		slog.Info("saved migration plan", "path", path)
	}
}

// makeSchema returns the CLI command that snapshots the working schema
// directory into the store and writes a new schema migration plan. When
// the schema is unchanged since the latest schema plan, nothing is
// written.
//
// Example usage:
//
//	# Edit schema/*.sql first, then:
//	sdm make-schema add_orders_table --author alice
func makeSchema() *cli.Command {
	return &cli.Command{
		Name:    "make-schema",
		Aliases: []string{"ms"},
		Usage:   "Generate a schema migration plan from the working schema",
		Flags:   []cli.Flag{authorFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			eng, err := newOfflineEngine("")
			if err != nil {
				return err
			}
			path, err := eng.MakeSchema(cmd.Args().First(), cmd.String("author"))
			if err != nil {
				return err
			}
			reportSaved(path)
			return nil
		},
	}
}

// makeData returns the CLI command that writes a new versioned data
// migration plan with a placeholder payload of the requested kind.
//
// Example usage:
//
//	sdm make-data insert_test_data sql
//	sdm make-data backfill_emails python
func makeData() *cli.Command {
	return &cli.Command{
		Name:    "make-data",
		Aliases: []string{"md"},
		Usage:   "Generate a data migration plan",
		Flags:   []cli.Flag{authorFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			eng, err := newOfflineEngine("")
			if err != nil {
				return err
			}
			path, err := eng.MakeData(cmd.Args().Get(0), cmd.Args().Get(1), cmd.String("author"))
			if err != nil {
				return err
			}
			reportSaved(path)
			return nil
		},
	}
}

// makeRepeatable returns the CLI command that writes a new repeatable
// migration plan. Repeatable plans re-execute on migrate whenever their
// checksum differs from the last applied one.
//
// Example usage:
//
//	sdm make-repeatable seed_data sql
func makeRepeatable() *cli.Command {
	return &cli.Command{
		Name:    "make-repeatable",
		Aliases: []string{"mr"},
		Usage:   "Generate a repeatable migration plan",
		Flags:   []cli.Flag{authorFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			eng, err := newOfflineEngine("")
			if err != nil {
				return err
			}
			path, err := eng.MakeRepeatable(cmd.Args().Get(0), cmd.Args().Get(1), cmd.String("author"))
			if err != nil {
				return err
			}
			reportSaved(path)
			return nil
		},
	}
}
