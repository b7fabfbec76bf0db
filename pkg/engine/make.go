package engine

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/beim/sdm/pkg/store"
	"github.com/pkg/errors"
)

// Sample payloads written into freshly generated plans so a new plan file
// is immediately valid and obviously a placeholder.
const (
	sampleDataSQL = "INSERT INTO `testtable` (`id`, `name`) VALUES (1, 'foo.bar');"

	sampleRepeatableSQL = "INSERT INTO `testtable` (`id`, `name`) VALUES (1, 'foo.bar')" +
		" ON DUPLICATE KEY UPDATE `name` = 'foo.bar';"
)

// readSchemaFiles loads every .sql file in the working schema directory.
func (e *Engine) readSchemaFiles() (map[string][]byte, error) {
	entries, err := os.ReadDir(e.project.SchemaPath())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read schema directory: %s", e.project.SchemaPath())
	}
	contents := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		path := filepath.Join(e.project.SchemaPath(), entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read schema file: %s", path)
		}
		contents[entry.Name()] = data
	}
	return contents, nil
}

func bumpVersion(version string) (string, error) {
	n, err := strconv.Atoi(version)
	if err != nil {
		return "", errors.Wrapf(err, "cannot bump version %q", version)
	}
	return plan.PadVersion(strconv.Itoa(n + 1)), nil
}

func (e *Engine) requireInitialized() error {
	if e.mpm.Count() == 0 {
		return sdmerr.Usagef("initial migration plan not found, run init first")
	}
	return nil
}

// MakeSchema snapshots the working schema directory into the store and
// writes a schema plan whose backward points at the previous snapshot.
// When the directory is unchanged since the latest schema plan, nothing is
// written and the returned path is empty.
func (e *Engine) MakeSchema(name, author string) (string, error) {
	if err := e.requireInitialized(); err != nil {
		return "", err
	}
	latest := e.mpm.Latest()
	latestSchema, err := e.mpm.LatestByType(plan.TypeSchema)
	if err != nil {
		return "", err
	}

	contents, err := e.readSchemaFiles()
	if err != nil {
		return "", err
	}
	indexHash, _ := store.BuildManifest(contents)
	prevHash := latestSchema.Change.Forward.ID
	if indexHash == prevHash {
		e.logger.Info("no schema change")
		return "", nil
	}
	if _, err := e.store.WriteFiles(contents); err != nil {
		return "", err
	}

	version, err := bumpVersion(latest.Version)
	if err != nil {
		return "", err
	}
	next := &plan.Plan{
		Version: version,
		Name:    name,
		Author:  author,
		Type:    plan.TypeSchema,
		Change: plan.Change{
			Forward:  &plan.Step{ID: indexHash},
			Backward: &plan.Step{ID: prevHash},
		},
		Dependencies: []plan.Signature{latest.Sig()},
	}
	return next.Save(e.project.PlanPath())
}

// MakeData writes a data plan with a sample payload of the given kind.
func (e *Engine) MakeData(name, kind, author string) (string, error) {
	if err := e.requireInitialized(); err != nil {
		return "", err
	}
	k := plan.DataChangeKind(kind)
	if !k.Valid() {
		return "", sdmerr.Usagef("invalid data change kind %q", kind)
	}
	latest := e.mpm.Latest()
	version, err := bumpVersion(latest.Version)
	if err != nil {
		return "", err
	}
	next := &plan.Plan{
		Version:      version,
		Name:         name,
		Author:       author,
		Type:         plan.TypeData,
		Change:       plan.Change{Forward: sampleStep(k, sampleDataSQL)},
		Dependencies: []plan.Signature{latest.Sig()},
	}
	return next.Save(e.project.PlanPath())
}

// MakeRepeatable writes a repeatable plan with a sample payload.
func (e *Engine) MakeRepeatable(name, kind, author string) (string, error) {
	if err := e.requireInitialized(); err != nil {
		return "", err
	}
	k := plan.DataChangeKind(kind)
	if !k.Valid() {
		return "", sdmerr.Usagef("invalid data change kind %q", kind)
	}
	next := &plan.Plan{
		Version:      plan.RepeatableVersion,
		Name:         name,
		Author:       author,
		Type:         plan.TypeRepeatable,
		Change:       plan.Change{Forward: sampleStep(k, sampleRepeatableSQL)},
		Dependencies: []plan.Signature{},
	}
	return next.Save(e.project.PlanPath())
}

func sampleStep(k plan.DataChangeKind, sampleSQL string) *plan.Step {
	step := &plan.Step{Kind: k}
	switch k {
	case plan.KindSQL:
		step.SQL = sampleSQL
	case plan.KindSQLFile:
		step.File = "your_sql_file.sql"
	case plan.KindPython:
		step.File = "your_python_file.py"
	case plan.KindShell:
		step.File = "your_shell_file.sh"
	case plan.KindTypeScript:
		step.File = "your_typescript_file.ts"
	}
	return step
}
