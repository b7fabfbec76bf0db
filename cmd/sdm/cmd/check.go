package cmd

import (
	"context"
	"log/slog"

	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/urfave/cli/v3"
)

// check returns the CLI command group for consistency checks.
//
// Example usage:
//
//	# Verify every plan, recomputing all SHA-1s
//	sdm check integrity
//
//	# Existence checks only
//	sdm check integrity --fast
func check() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Check migration plan consistency",
		Commands: []*cli.Command{
			{
				Name:  "integrity",
				Usage: "Verify plans against the schema store and data directory",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "fast",
						Usage: "only check blob existence instead of recomputing SHA-1s",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					eng, err := newOfflineEngine("")
					if err != nil {
						return err
					}
					if err := eng.CheckIntegrity(!cmd.Bool("fast")); err != nil {
						return err
					}
					slog.Info("integrity check passed")
					return nil
				},
			},
		},
	}
}

// clean returns the CLI command group for store maintenance.
//
// Example usage:
//
//	# Report unreachable blobs without deleting
//	sdm clean store --dry-run
//
//	# Delete them
//	sdm clean store
func clean() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Clean the schema store",
		Commands: []*cli.Command{
			{
				Name:  "store",
				Usage: "Remove schema store blobs not referenced by any plan",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "report unreachable blobs without deleting them",
					},
					&cli.BoolFlag{
						Name:  "skip-integrity",
						Usage: "skip the integrity check before cleaning",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					eng, err := newOfflineEngine("")
					if err != nil {
						return err
					}
					dryRun := cmd.Bool("dry-run")
					removed, err := eng.CleanStore(dryRun, cmd.Bool("skip-integrity"))
					if err != nil {
						return err
					}
					if dryRun && len(removed) > 0 {
						return sdmerr.Integrityf(
							"found %d unexpected files in schema store", len(removed))
					}
					return nil
				},
			},
		},
	}
}
