package migrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/project"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/pkg/errors"
)

// applySchema materializes the manifest's snapshot into a temporary
// schema directory next to the applier's environment file and pushes it.
// Rollbacks always allow unsafe operations (they drop what the forward
// created); forward pushes only when the project opts in.
func (m *Migrator) applySchema(ctx context.Context, manifestID string, env environ.Env, rollback bool) error {
	tempDir, err := os.MkdirTemp("", "sdm-push-")
	if err != nil {
		return errors.Wrap(err, "failed to create schema staging directory")
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	schemaDir := filepath.Join(tempDir, project.SchemaDir)
	if err := os.MkdirAll(schemaDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create schema staging directory")
	}

	envFile, err := os.ReadFile(m.project.EnvFilePath())
	if err != nil {
		return errors.Wrapf(err, "failed to read environment file: %s", m.project.EnvFilePath())
	}
	if err := os.WriteFile(filepath.Join(schemaDir, project.EnvFile), envFile, 0o644); err != nil {
		return errors.Wrap(err, "failed to stage environment file")
	}

	if err := m.store.Materialize(manifestID, schemaDir); err != nil {
		return err
	}

	args := []string{"push", env.Name}
	if m.project.Config.AllowUnsafe || rollback {
		args = append(args, "--allow-unsafe")
	}
	return m.Applier(ctx, args, tempDir, env)
}

// Applier invokes the external schema applier with the given arguments
// from cwd (the project's schema directory when cwd is empty). The applier
// reads the environment INI itself; it only needs MYSQL_PWD and the
// connection variables from us.
func (m *Migrator) Applier(ctx context.Context, args []string, cwd string, env environ.Env) error {
	if cwd == "" {
		cwd = m.project.SchemaPath()
	}
	cmd := exec.CommandContext(ctx, m.project.Config.Applier, args...)
	cmd.Dir = cwd
	cmd.Env = env.ProcessEnv(m.password, m.project.DataPath(), environ.ProcessEnvOptions{})
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return sdmerr.ExternalToolf("%s %v exited with status %d",
				m.project.Config.Applier, args, exitErr.ExitCode())
		}
		return errors.Wrapf(err, "failed to run %s", m.project.Config.Applier)
	}
	return nil
}
