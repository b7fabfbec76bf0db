package migrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/project"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/pkg/errors"
)

// runScript executes cmd with the subprocess contract environment and
// returns its exit status. A start failure (binary missing, bad path) is
// an error; a non-zero exit is reported through the returned status.
func (m *Migrator) runScript(ctx context.Context, cmd *exec.Cmd, env environ.Env, expected *int64, checksumMatch *bool) (int, error) {
	cmd.Env = env.ProcessEnv(m.password, m.project.DataPath(), environ.ProcessEnvOptions{
		Expected:      expected,
		ChecksumMatch: checksumMatch,
	})
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, errors.Wrapf(err, "failed to run %s", cmd.Path)
}

// runShell runs "sh <file>" from the project directory.
func (m *Migrator) runShell(ctx context.Context, file string, env environ.Env, expected *int64, checksumMatch *bool) (int, error) {
	path := filepath.Join(m.project.DataPath(), file)
	cmd := exec.CommandContext(ctx, m.project.Config.Shell, path)
	cmd.Dir = m.project.Dir

	status, err := m.runScript(ctx, cmd, env, expected, checksumMatch)
	if err != nil {
		return 0, err
	}
	if expected == nil && status != 0 {
		return status, sdmerr.ExternalToolf("shell migration %s exited with status %d", file, status)
	}
	return status, nil
}

// runPython runs the file under the configured Python interpreter from the
// project directory. Dynamic in-process loading is deliberately not
// supported; the interpreter subprocess is the whole contract.
func (m *Migrator) runPython(ctx context.Context, file string, env environ.Env, expected *int64, checksumMatch *bool) (int, error) {
	path := filepath.Join(m.project.DataPath(), file)
	cmd := exec.CommandContext(ctx, m.project.Config.Python, path)
	cmd.Dir = m.project.Dir

	status, err := m.runScript(ctx, cmd, env, expected, checksumMatch)
	if err != nil {
		return 0, err
	}
	if expected == nil && status != 0 {
		return status, sdmerr.ExternalToolf("python migration %s exited with status %d", file, status)
	}
	return status, nil
}

// runTypeScript builds a temporary compile context under the project
// directory (so npm resolves the project's package.json and tsconfig),
// compiles, and runs the result under node.
func (m *Migrator) runTypeScript(ctx context.Context, file string, env environ.Env, expected *int64, checksumMatch *bool) (int, error) {
	tempDir, err := os.MkdirTemp(m.project.Dir, "ts-build-")
	if err != nil {
		return 0, errors.Wrap(err, "failed to create typescript build directory")
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	srcDir := filepath.Join(tempDir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return 0, errors.Wrap(err, "failed to create typescript src directory")
	}

	echo := "false"
	if m.project.Config.AllowEchoSQL {
		echo = "true"
	}
	driver := fmt.Sprintf(project.SampleIndexTS, echo)
	if err := os.WriteFile(filepath.Join(srcDir, "index.ts"), []byte(driver), 0o644); err != nil {
		return 0, errors.Wrap(err, "failed to write typescript driver")
	}

	src := filepath.Join(m.project.DataPath(), file)
	data, err := os.ReadFile(src)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read typescript migration: %s", src)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "migration.ts"), data, 0o644); err != nil {
		return 0, errors.Wrap(err, "failed to stage typescript migration")
	}

	build := exec.CommandContext(ctx, m.project.Config.NPM, "run", "build")
	build.Dir = tempDir
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		return 0, sdmerr.ExternalToolf("typescript build failed for %s: %v", file, err)
	}

	run := exec.CommandContext(ctx, m.project.Config.Node, filepath.Join("src", "index.js"))
	run.Dir = tempDir

	status, err := m.runScript(ctx, run, env, expected, checksumMatch)
	if err != nil {
		return 0, err
	}
	if expected == nil && status != 0 {
		return status, sdmerr.ExternalToolf("typescript migration %s exited with status %d", file, status)
	}
	return status, nil
}
