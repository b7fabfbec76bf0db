// Package project owns the on-disk layout of an sdm project and its
// sdm.yaml configuration file.
//
// A project directory looks like:
//
//	sdm.yaml            tool configuration
//	migration_plan/     one JSON file per migration plan
//	schema/             working copy of the schema, plus the applier's
//	                    .skeema file holding per-environment sections
//	schema_store/       content-addressed snapshots (256-way fan-out)
//	data/               script and SQL payloads for data migrations
package project

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Directory and file names within a project.
const (
	ConfigFile = "sdm.yaml"
	PlanDir    = "migration_plan"
	SchemaDir  = "schema"
	StoreDir   = "schema_store"
	DataDir    = "data"
	EnvFile    = ".skeema"
)

type (
	// Config is the sdm.yaml file. Zero values fall back to defaults on
	// load, so a project file only states what it overrides.
	Config struct {
		// HistoryTable is the migration history table name.
		HistoryTable string `yaml:"history_table,omitempty"`

		// HistoryLogTable is the append-only audit table name.
		HistoryLogTable string `yaml:"history_log_table,omitempty"`

		// Applier is the external schema applier binary.
		Applier string `yaml:"applier,omitempty"`

		// AllowUnsafe passes --allow-unsafe to the applier on forward
		// pushes as well as rollbacks.
		AllowUnsafe bool `yaml:"allow_unsafe,omitempty"`

		// AllowEchoSQL makes script runtimes echo executed statements.
		AllowEchoSQL bool `yaml:"allow_echo_sql,omitempty"`

		// Interpreter and build tool paths for script-driven migrations.
		Python string `yaml:"python,omitempty"`
		Shell  string `yaml:"shell,omitempty"`
		Node   string `yaml:"node,omitempty"`
		NPM    string `yaml:"npm,omitempty"`
	}

	// Project is a located sdm project: a root directory plus its loaded
	// configuration.
	Project struct {
		Dir    string
		Config Config
	}
)

// DefaultConfig returns the configuration used when sdm.yaml is absent or
// partial.
func DefaultConfig() Config {
	return Config{
		HistoryTable:    "_migration_history",
		HistoryLogTable: "_migration_history_log",
		Applier:         "skeema",
		Python:          "python3",
		Shell:           "sh",
		Node:            "node",
		NPM:             "npm",
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.HistoryTable == "" {
		c.HistoryTable = d.HistoryTable
	}
	if c.HistoryLogTable == "" {
		c.HistoryLogTable = d.HistoryLogTable
	}
	if c.Applier == "" {
		c.Applier = d.Applier
	}
	if c.Python == "" {
		c.Python = d.Python
	}
	if c.Shell == "" {
		c.Shell = d.Shell
	}
	if c.Node == "" {
		c.Node = d.Node
	}
	if c.NPM == "" {
		c.NPM = d.NPM
	}
}

// New creates a project over dir with default configuration.
func New(dir string) *Project {
	return &Project{Dir: dir, Config: DefaultConfig()}
}

// Load creates a project over dir, reading sdm.yaml when present.
func Load(dir string) (*Project, error) {
	p := New(dir)
	path := filepath.Join(dir, ConfigFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	cfg.applyDefaults()
	p.Config = cfg
	return p, nil
}

// SaveConfig writes the project's configuration to sdm.yaml.
func (p *Project) SaveConfig() error {
	data, err := yaml.Marshal(p.Config)
	if err != nil {
		return errors.Wrap(err, "failed to serialize configuration")
	}
	path := filepath.Join(p.Dir, ConfigFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// Detected reports whether dir contains an sdm project.
func Detected(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFile))
	return err == nil
}

// PlanPath returns the migration plan directory.
func (p *Project) PlanPath() string { return filepath.Join(p.Dir, PlanDir) }

// SchemaPath returns the working schema directory.
func (p *Project) SchemaPath() string { return filepath.Join(p.Dir, SchemaDir) }

// StorePath returns the schema store root.
func (p *Project) StorePath() string { return filepath.Join(p.Dir, StoreDir) }

// DataPath returns the data migration payload directory.
func (p *Project) DataPath() string { return filepath.Join(p.Dir, DataDir) }

// EnvFilePath returns the applier's environment INI file.
func (p *Project) EnvFilePath() string {
	return filepath.Join(p.SchemaPath(), EnvFile)
}
