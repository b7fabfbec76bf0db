package cmd

import (
	"context"

	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/urfave/cli/v3"
)

// diff returns the CLI command that compares two schema snapshots. Each
// side is HEAD (the working schema directory), a version such as 0002 or
// 0002_add_orders, or an environment name (the live schema pulled through
// the applier). A difference is an error.
//
// Example usage:
//
//	sdm diff HEAD production
//	sdm diff 0001 0002 -v
func diff() *cli.Command {
	return &cli.Command{
		Name:  "diff",
		Usage: "Compare schema between versions, HEAD, or environments",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "show the full unified diff",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return sdmerr.Usagef("diff requires two sides")
			}
			left := cmd.Args().Get(0)
			right := cmd.Args().Get(1)

			// when a side names an environment, resolve it so the applier
			// gets connection variables
			eng, err := newOfflineEngine(firstEnvCandidate(left, right))
			if err != nil {
				return err
			}
			return eng.Diff(ctx, left, right, cmd.Bool("verbose"))
		},
	}
}

// pull returns the CLI command that overwrites the working schema
// directory from a live environment or a stored version snapshot.
//
// Example usage:
//
//	sdm pull production
//	sdm pull 0001
func pull() *cli.Command {
	return &cli.Command{
		Name:  "pull",
		Usage: "Pull schema from an environment or a stored version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			arg := cmd.Args().First()
			if arg == "" {
				return sdmerr.Usagef("pull requires an environment or version")
			}
			eng, err := newOfflineEngine(firstEnvCandidate(arg))
			if err != nil {
				return err
			}
			return eng.Pull(ctx, arg)
		},
	}
}

// firstEnvCandidate returns the first argument that does not look like a
// version or HEAD, i.e. the one that may name an environment.
func firstEnvCandidate(args ...string) string {
	for _, a := range args {
		if a == "HEAD" || a == "" {
			continue
		}
		if a[0] >= '0' && a[0] <= '9' {
			continue
		}
		return a
	}
	return ""
}
