package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/beim/sdm/pkg/project"
	"github.com/urfave/cli/v3"
)

var currentProject *project.Project

// Run creates and executes the sdm CLI application. It handles the global
// --dir flag (the project directory, chdir'd into before anything else),
// project auto-detection based on sdm.yaml presence, and command routing.
//
// Example usage:
//
//	# Run in the current directory (auto-detect project)
//	err := Run(ctx, "v1.0.0", []string{"sdm", "migrate", "production"})
//
//	# Run against a specific project directory
//	err := Run(ctx, "v1.0.0", []string{"sdm", "--dir", "/path/to/project", "info", "production"})
func Run(ctx context.Context, version string, args []string) error {
	app := &cli.Command{
		Name:  "sdm",
		Usage: "A schema and data migration tool for MySQL and MariaDB",
		Description: `sdm manages database evolution through an ordered chain of migration
plans. Schema changes are snapshotted into a content-addressed store and
applied by an external schema applier; data changes run as SQL or as
script subprocesses. Applied state lives in a history table inside the
target database.`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Usage:       "the project directory",
				Value:       ".",
				DefaultText: "Current directory",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := slog.LevelInfo
			if cmd.Bool("debug") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))

			projectDir := cmd.String("dir")
			if err := os.Chdir(projectDir); err != nil {
				return ctx, err
			}

			pwd, err := os.Getwd()
			if err != nil {
				return ctx, err
			}
			if !project.Detected(pwd) {
				return ctx, nil
			}
			currentProject, err = project.Load(pwd)
			return ctx, err
		},
		Commands: []*cli.Command{
			initCmd(),
			addEnv(),
			migrate(),
			rollback(),
			fix(),
			makeSchema(),
			makeData(),
			makeRepeatable(),
			info(),
			diff(),
			pull(),
			check(),
			clean(),
			testCmd(),
		},
	}

	return app.Run(ctx, args)
}
