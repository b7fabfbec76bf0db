package environ_test

import (
	"strings"
	"testing"

	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/stretchr/testify/require"
)

const sampleINI = `
[production]
host=db.internal
port=3307
user=deploy
schema=app

[staging]
host=staging.internal
schema=app_staging
`

func TestResolverEnv(t *testing.T) {
	r, err := environ.Parse([]byte(sampleINI))
	require.NoError(t, err)

	env, err := r.Env("production")
	require.NoError(t, err)
	require.Equal(t, "db.internal", env.Host)
	require.Equal(t, "3307", env.Port)
	require.Equal(t, "deploy", env.User)
	require.Equal(t, "app", env.Schema)

	// missing keys fall back to driver defaults
	env, err = r.Env("staging")
	require.NoError(t, err)
	require.Equal(t, "3306", env.Port)
	require.Equal(t, "root", env.User)
}

func TestResolverUnknownEnv(t *testing.T) {
	r, err := environ.Parse([]byte(sampleINI))
	require.NoError(t, err)

	_, err = r.Env("nope")
	require.Error(t, err)
	require.True(t, sdmerr.IsUsage(err))
}

func TestResolverNames(t *testing.T) {
	r, err := environ.Parse([]byte(sampleINI))
	require.NoError(t, err)
	require.Equal(t, []string{"production", "staging"}, r.Names())
	require.True(t, r.Has("production"))
	require.False(t, r.Has("prod"))
}

func TestDSN(t *testing.T) {
	env := environ.Env{Host: "127.0.0.1", Port: "3306", User: "root", Schema: "test"}
	require.Equal(
		t,
		"root:secret@tcp(127.0.0.1:3306)/test?parseTime=true&multiStatements=true",
		env.DSN("secret"),
	)
}

func TestProcessEnv(t *testing.T) {
	env := environ.Env{Host: "h", Port: "3306", User: "u", Schema: "s"}

	got := env.ProcessEnv("pwd", "/tmp/data", environ.ProcessEnvOptions{})
	require.Contains(t, got, "MYSQL_PWD=pwd")
	require.Contains(t, got, "HOST=h")
	require.Contains(t, got, "SDM_DATA_DIR=/tmp/data")
	for _, kv := range got {
		require.False(t, strings.HasPrefix(kv, "SDM_EXPECTED="))
		require.False(t, strings.HasPrefix(kv, "SDM_CHECKSUM_MATCH="))
	}

	expected := int64(3)
	match := true
	got = env.ProcessEnv("pwd", "/tmp/data", environ.ProcessEnvOptions{
		Expected:      &expected,
		ChecksumMatch: &match,
	})
	require.Contains(t, got, "SDM_EXPECTED=3")
	require.Contains(t, got, "SDM_CHECKSUM_MATCH=1")
}
