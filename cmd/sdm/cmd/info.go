package cmd

import (
	"context"
	"os"

	"github.com/beim/sdm/pkg/engine"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/urfave/cli/v3"
)

// info returns the CLI command that prints the migration history of an
// environment, including whether each recorded migration can be rolled
// back.
//
// Example usage:
//
//	sdm info production
func info() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show migration history for an environment",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return sdmerr.Usagef("info requires an environment name")
			}
			eng, cleanup, err := newEngine(cmd.Args().First())
			if err != nil {
				return err
			}
			defer cleanup()

			rows, err := eng.Info(ctx)
			if err != nil {
				return err
			}
			engine.WriteInfoTable(os.Stdout, rows)
			return nil
		},
	}
}
