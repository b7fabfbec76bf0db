// Package environ resolves per-environment database connection parameters
// from the INI-style environment file shared with the schema applier, and
// builds the process environment handed to script-driven data migrations.
package environ

import (
	"fmt"
	"os"
	"strconv"

	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Names of the environment variables injected into migration subprocesses.
const (
	EnvMySQLPwd      = "MYSQL_PWD"
	EnvHost          = "HOST"
	EnvPort          = "PORT"
	EnvUser          = "USER"
	EnvSchema        = "SCHEMA"
	EnvDataDir       = "SDM_DATA_DIR"
	EnvExpected      = "SDM_EXPECTED"
	EnvChecksumMatch = "SDM_CHECKSUM_MATCH"
)

type (
	// Env holds the connection parameters of a single environment section.
	Env struct {
		Name   string
		Host   string
		Port   string
		User   string
		Schema string
	}

	// Resolver reads environment sections from an INI file. Sections are
	// environment names; keys are host, port, user, and schema.
	Resolver struct {
		file *ini.File
	}
)

// Load parses the environment INI file at path.
func Load(path string) (*Resolver, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load environment file: %s", path)
	}
	return &Resolver{file: f}, nil
}

// Parse reads environment sections from raw INI content. Used by tests and
// by callers that already hold the file in memory.
func Parse(data []byte) (*Resolver, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse environment data")
	}
	return &Resolver{file: f}, nil
}

// Has reports whether an environment section with the given name exists.
func (r *Resolver) Has(name string) bool {
	_, err := r.file.GetSection(name)
	return err == nil
}

// Names returns every environment section name in file order.
func (r *Resolver) Names() []string {
	var names []string
	for _, s := range r.file.Sections() {
		if s.Name() == ini.DefaultSection {
			continue
		}
		names = append(names, s.Name())
	}
	return names
}

// Env returns the connection parameters for the named environment. Unknown
// names are a UsageError.
func (r *Resolver) Env(name string) (Env, error) {
	sec, err := r.file.GetSection(name)
	if err != nil {
		return Env{}, sdmerr.Usagef("environment not found, name=%s", name)
	}
	e := Env{
		Name:   name,
		Host:   sec.Key("host").String(),
		Port:   sec.Key("port").String(),
		User:   sec.Key("user").String(),
		Schema: sec.Key("schema").String(),
	}
	if e.Host == "" {
		e.Host = "127.0.0.1"
	}
	if e.Port == "" {
		e.Port = "3306"
	}
	if e.User == "" {
		e.User = "root"
	}
	return e, nil
}

// DSN builds a go-sql-driver/mysql DSN for the environment. The password
// comes from the caller (MYSQL_PWD); multiStatements is enabled because
// data migrations routinely carry several statements in one payload.
func (e Env) DSN(password string) string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		e.User, password, e.Host, e.Port, e.Schema,
	)
}

// ProcessEnvOptions carries the optional condition-check inputs for script
// subprocesses.
type ProcessEnvOptions struct {
	Expected      *int64
	ChecksumMatch *bool
}

// ProcessEnv builds the environment for a migration subprocess: the parent
// process environment plus the connection parameters and SDM_* contract
// variables.
func (e Env) ProcessEnv(password, dataDir string, opts ProcessEnvOptions) []string {
	env := append(os.Environ(),
		EnvMySQLPwd+"="+password,
		EnvHost+"="+e.Host,
		EnvPort+"="+e.Port,
		EnvUser+"="+e.User,
		EnvSchema+"="+e.Schema,
		EnvDataDir+"="+dataDir,
	)
	if opts.Expected != nil {
		env = append(env, EnvExpected+"="+strconv.FormatInt(*opts.Expected, 10))
	}
	if opts.ChecksumMatch != nil {
		v := "0"
		if *opts.ChecksumMatch {
			v = "1"
		}
		env = append(env, EnvChecksumMatch+"="+v)
	}
	return env
}
