package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/beim/sdm/pkg/engine"
	"github.com/beim/sdm/pkg/testplan"
	"github.com/urfave/cli/v3"
)

func walkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "walk-len",
			Usage: "walk length for the monkey test",
		},
		&cli.StringFlag{
			Name:  "start",
			Usage: "start migration plan for the monkey test",
		},
		&cli.StringFlag{
			Name:  "important",
			Usage: "comma-separated migration plans favored by the monkey test",
		},
		&cli.StringFlag{
			Name:  "non-important",
			Usage: "comma-separated migration plans avoided by the monkey test",
		},
	}
}

func genOptions(cmd *cli.Command) testplan.GenOptions {
	return testplan.GenOptions{
		WalkLen:      int(cmd.Int("walk-len")),
		Start:        cmd.String("start"),
		Important:    cmd.String("important"),
		NonImportant: cmd.String("non-important"),
	}
}

func newPlanner() (*testplan.Planner, error) {
	if err := requireProject(); err != nil {
		return nil, err
	}
	mpm, err := loadManager()
	if err != nil {
		return nil, err
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return testplan.NewPlanner(mpm, rnd)
}

// testCmd returns the CLI command group that generates and runs test
// migration plans: deterministic walks over the plan graph plus the
// weighted random monkey walk.
//
// Example usage:
//
//	# Generate a monkey walk and save it
//	sdm test gen monkey -o test_plan.json --walk-len 50
//
//	# Run it against a disposable environment, clearing it first
//	sdm test run custom testing -i test_plan.json --clear
func testCmd() *cli.Command {
	return &cli.Command{
		Name:    "test",
		Aliases: []string{"t"},
		Usage:   "Generate and run test migration plans",
		Commands: []*cli.Command{
			testGen(),
			testRun(),
		},
	}
}

func testGen() *cli.Command {
	return &cli.Command{
		Name:  "gen",
		Usage: "Generate a test migration plan",
		Flags: append(walkFlags(),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output file",
				Value:   "test_plan.json",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			planner, err := newPlanner()
			if err != nil {
				return err
			}
			lines, err := planner.Gen(cmd.Args().First(), genOptions(cmd))
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(lines, "", "    ")
			if err != nil {
				return err
			}
			output := cmd.String("output")
			if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
				return err
			}
			slog.Info("test plan saved", "path", output, "steps", len(lines))
			return nil
		},
	}
}

func testRun() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a test migration plan",
		Flags: append(walkFlags(),
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "input file for the custom type",
				Value:   "test_plan.json",
			},
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "drop every table in the target schema before running",
			},
			operatorFlag(),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			planner, err := newPlanner()
			if err != nil {
				return err
			}

			testType := cmd.Args().Get(0)
			var lines []string
			if testType == testplan.TypeCustom {
				data, err := os.ReadFile(cmd.String("input"))
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &lines); err != nil {
					return err
				}
			} else {
				if lines, err = planner.Gen(testType, genOptions(cmd)); err != nil {
					return err
				}
			}
			located, err := planner.ReadPlan(lines)
			if err != nil {
				return err
			}

			eng, cleanup, err := newEngine(cmd.Args().Get(1))
			if err != nil {
				return err
			}
			defer cleanup()

			if cmd.Bool("clear") {
				if err := eng.Clear(ctx); err != nil {
					return err
				}
			}
			return eng.TestRun(ctx, located, engine.Options{
				Operator: cmd.String("operator"),
			})
		},
	}
}
