package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/project"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/pkg/errors"
)

// InitOptions carries the parameters of project initialization.
type InitOptions struct {
	Host   string
	Port   string
	User   string
	Schema string
	Author string
}

// Init scaffolds a new project: plan directory, schema directory pulled by
// the applier, schema store fan-out, data directory, the supporting files
// (.gitignore, pre-commit hook, .env, package.json, tsconfig.json,
// sdm.yaml), and the 0000_init plan snapshotting the pulled schema.
func (e *Engine) Init(ctx context.Context, opts InitOptions, password string) error {
	for _, path := range []string{
		e.project.PlanPath(),
		e.project.SchemaPath(),
		e.project.StorePath(),
		e.project.DataPath(),
		filepath.Join(e.project.Dir, project.ConfigFile),
	} {
		if _, err := os.Stat(path); err == nil {
			return sdmerr.Usagef("project already initialized: %s exists", path)
		}
	}

	if err := os.MkdirAll(e.project.PlanPath(), 0o755); err != nil {
		return errors.Wrap(err, "failed to create plan directory")
	}

	env := environ.Env{
		Name: "init", Host: opts.Host, Port: opts.Port,
		User: opts.User, Schema: opts.Schema,
	}
	initArgs := []string{
		"init",
		"--host", opts.Host,
		"--port", opts.Port,
		"--user", opts.User,
		"--schema", opts.Schema,
		"-d", project.SchemaDir,
		"--ignore-table", e.project.Config.HistoryTable,
	}
	if err := e.runner.Applier(ctx, initArgs, e.project.Dir, env); err != nil {
		return err
	}

	if err := e.store.Init(); err != nil {
		return err
	}

	// snapshot the pulled schema into the store and write the initial plan
	contents, err := e.readSchemaFiles()
	if err != nil {
		return err
	}
	indexHash, err := e.store.WriteFiles(contents)
	if err != nil {
		return err
	}
	initPlan := &plan.Plan{
		Version:      plan.Initial.Version,
		Name:         plan.Initial.Name,
		Author:       opts.Author,
		Type:         plan.TypeSchema,
		Change:       plan.Change{Forward: &plan.Step{ID: indexHash}},
		Dependencies: []plan.Signature{},
	}
	if _, err := initPlan.Save(e.project.PlanPath()); err != nil {
		return err
	}

	if err := os.MkdirAll(e.project.DataPath(), 0o755); err != nil {
		return errors.Wrap(err, "failed to create data directory")
	}

	files := map[string]string{
		".gitignore":    project.SampleGitIgnore,
		"pre-commit":    project.SamplePreCommit,
		".env":          fmt.Sprintf(project.SampleDotEnv, password),
		"package.json":  project.SamplePackageJSON,
		"tsconfig.json": project.SampleTSConfigJSON,
	}
	for name, content := range files {
		path := filepath.Join(e.project.Dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return errors.Wrapf(err, "failed to write %s", path)
		}
	}
	e.logger.Info("MYSQL_PWD saved in .env file", "path", filepath.Join(e.project.Dir, ".env"))

	return e.project.SaveConfig()
}

// AddEnv registers a new environment section with the applier, keeping
// the history table out of its scope.
func (e *Engine) AddEnv(ctx context.Context, name, host, port, user string) error {
	env := environ.Env{Name: name, Host: host, Port: port, User: user}
	args := []string{
		"add-environment", name,
		"--host", host,
		"--port", port,
		"--user", user,
		"-d", project.SchemaDir,
		"--ignore-table", e.project.Config.HistoryTable,
	}
	return e.runner.Applier(ctx, args, e.project.Dir, env)
}
