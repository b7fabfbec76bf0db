package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/project"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/pkg/errors"
)

// diffKind classifies a diff/pull argument.
type diffKind int

const (
	diffHead diffKind = iota
	diffVersion
	diffEnvironment
)

// classifyDiffArg resolves a diff argument: the literal HEAD, a version
// (bare digits or "{version}_{name}"), or an environment name.
func classifyDiffArg(arg string) diffKind {
	if arg == "HEAD" {
		return diffHead
	}
	if _, err := strconv.Atoi(arg); err == nil {
		return diffVersion
	}
	split := strings.Split(arg, "_")
	if len(split) > 1 {
		if _, err := strconv.Atoi(split[0]); err == nil {
			return diffVersion
		}
	}
	return diffEnvironment
}

// Diff compares two schema snapshots (HEAD, a version, or a live
// environment) and fails when they differ. Verbose mode shows the
// unified diff instead of just the differing file names.
func (e *Engine) Diff(ctx context.Context, left, right string, verbose bool) error {
	if left == right {
		return nil
	}

	tempDir, err := os.MkdirTemp("", "sdm-diff-")
	if err != nil {
		return errors.Wrap(err, "failed to create diff directory")
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	leftDir := filepath.Join(tempDir, "left")
	rightDir := filepath.Join(tempDir, "right")
	if err := e.dumpSchema(ctx, left, leftDir); err != nil {
		return err
	}
	if err := e.dumpSchema(ctx, right, rightDir); err != nil {
		return err
	}

	args := []string{"--recursive", "--brief", "left", "right"}
	if verbose {
		args = []string{"--color", "-Nr", "-U4", "left", "right"}
	}
	cmd := exec.CommandContext(ctx, "diff", args...)
	cmd.Dir = tempDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return sdmerr.Usagef("difference found between %s and %s", left, right)
		}
		return errors.Wrap(err, "failed to run diff")
	}
	return nil
}

// Pull replaces the working schema directory with another snapshot: for an
// environment the applier pulls the live schema in place; for a version
// the stored snapshot is materialized and files absent from it are
// deleted.
func (e *Engine) Pull(ctx context.Context, envOrVersion string) error {
	switch classifyDiffArg(envOrVersion) {
	case diffEnvironment:
		return e.runner.Applier(ctx, []string{"pull", envOrVersion}, e.project.SchemaPath(), e.env)
	case diffVersion:
		tempDir, err := os.MkdirTemp("", "sdm-pull-")
		if err != nil {
			return errors.Wrap(err, "failed to create pull directory")
		}
		defer func() { _ = os.RemoveAll(tempDir) }()

		if err := e.dumpSchema(ctx, envOrVersion, tempDir); err != nil {
			return err
		}
		pulled, err := sqlFilesUnder(tempDir)
		if err != nil {
			return err
		}
		existing, err := sqlFilesUnder(e.project.SchemaPath())
		if err != nil {
			return err
		}

		for name, path := range pulled {
			dest := filepath.Join(e.project.SchemaPath(), name)
			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", path)
			}
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				return errors.Wrapf(err, "failed to update %s", dest)
			}
			e.logger.Info("updated schema file", "path", dest)
		}
		for name, path := range existing {
			if _, ok := pulled[name]; ok {
				continue
			}
			if err := os.Remove(path); err != nil {
				return errors.Wrapf(err, "failed to delete %s", path)
			}
			e.logger.Info("deleted schema file", "path", path)
		}
		return nil
	default:
		return sdmerr.Usagef("%s is neither an environment nor a version", envOrVersion)
	}
}

// dumpSchema writes the snapshot named by arg into destDir.
func (e *Engine) dumpSchema(ctx context.Context, arg, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", destDir)
	}

	switch classifyDiffArg(arg) {
	case diffHead:
		files, err := sqlFilesUnder(e.project.SchemaPath())
		if err != nil {
			return err
		}
		for name, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", path)
			}
			if err := os.WriteFile(filepath.Join(destDir, name), data, 0o644); err != nil {
				return errors.Wrapf(err, "failed to copy %s", name)
			}
		}
		return nil

	case diffVersion:
		sig, err := plan.ParseSignature(arg)
		if err != nil {
			return err
		}
		loc, err := e.mpm.MustBySig(sig)
		if err != nil {
			return err
		}
		if loc.Plan.Type != plan.TypeSchema {
			return sdmerr.Usagef("not a schema migration plan, version=%s", arg)
		}
		return e.store.Materialize(loc.Plan.Change.Forward.ID, destDir)

	default:
		// live environment: stage the applier's environment file and pull
		envFile, err := os.ReadFile(e.project.EnvFilePath())
		if err != nil {
			return errors.Wrapf(err, "failed to read environment file: %s", e.project.EnvFilePath())
		}
		staged := filepath.Join(destDir, project.EnvFile)
		if err := os.WriteFile(staged, envFile, 0o644); err != nil {
			return errors.Wrap(err, "failed to stage environment file")
		}
		if err := e.runner.Applier(ctx, []string{"pull", arg}, destDir, e.env); err != nil {
			return err
		}
		return os.Remove(staged)
	}
}

func sqlFilesUnder(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files[entry.Name()] = filepath.Join(dir, entry.Name())
	}
	return files, nil
}
