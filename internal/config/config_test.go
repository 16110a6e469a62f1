package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pylon/internal/perr"
)

const sampleYAML = `
server:
  host: 127.0.0.1
  port: 9000
modules:
  preload: [core_tooling]
  requirements:
    mode: strict
    cache: true
exposure:
  expose: true
  handle:
    enabled: true
    prefixes: ["/forward/"]
`

func TestParse_Sample(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", s.Server.Host)
	assert.Equal(t, 9000, s.Server.Port)
	assert.Equal(t, []string{"core_tooling"}, s.Modules.Preload)
	assert.Equal(t, "strict", s.Modules.Requirements.Mode)
	assert.True(t, s.Modules.Requirements.Cache)
	assert.True(t, s.Exposure.Expose)
	assert.Equal(t, []string{"/forward/"}, s.Exposure.Handle.Prefixes)
}

func TestParse_Defaults(t *testing.T) {
	s, err := Parse([]byte("server:\n  path: /pylon\n"))
	require.NoError(t, err)
	assert.Equal(t, 8080, s.Server.Port)
	assert.Equal(t, "relaxed", s.Modules.Requirements.Mode)
	assert.Equal(t, "steps", s.Modules.Requirements.Activation)
	assert.Equal(t, "folder", s.Modules.Plugins.Provider.Type)
	assert.Equal(t, 3, s.Exposure.MaxMissedPings)
	assert.Equal(t, 15, s.Exposure.PingInterval)
}

func TestParse_EmptyIsConfigurationError(t *testing.T) {
	_, err := Parse([]byte("   \n"))
	require.Error(t, err)
	assert.True(t, perr.IsConfiguration(err))
}

func TestParse_MalformedIsConfigurationError(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	require.Error(t, err)
	assert.True(t, perr.IsConfiguration(err))
}

func TestResolveSeed_Base64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("server:\n  port: 1\n"))
	raw, err := ResolveSeed("base64:" + encoded)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "port: 1")
}

func TestResolveSeed_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte("server: {}\n"), 0o644))
	raw, err := ResolveSeed("file:" + path)
	require.NoError(t, err)
	assert.Equal(t, "server: {}\n", string(raw))
}

func TestResolveSeed_Invalid(t *testing.T) {
	for _, seed := range []string{"", "noscheme", "carrier:pigeon"} {
		_, err := ResolveSeed(seed)
		require.Error(t, err, "seed %q", seed)
		assert.True(t, perr.IsConfiguration(err))
	}
}

func TestEnv_PrefixPrecedence(t *testing.T) {
	t.Setenv("PYLON_SAMPLE_KEY", "pylon")
	t.Setenv("CORE_SAMPLE_KEY", "core")
	assert.Equal(t, "pylon", Env("SAMPLE_KEY"))

	os.Unsetenv("PYLON_SAMPLE_KEY")
	assert.Equal(t, "core", Env("SAMPLE_KEY"))
}

func TestSubstitute_EnvAndSecret(t *testing.T) {
	t.Setenv("PYLON_TEST_DB_HOST", "db.internal")
	data := map[string]interface{}{
		"host":     "{{ env.PYLON_TEST_DB_HOST }}",
		"password": "{{ secret.db_password }}",
		"port":     5432,
	}
	out, err := Substitute(data, map[string]string{"db_password": "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "db.internal", out["host"])
	assert.Equal(t, "hunter2", out["password"])
	assert.Equal(t, 5432, out["port"])
}

func TestSubstitute_MissingSecretFails(t *testing.T) {
	data := map[string]interface{}{"password": "{{ secret.absent }}"}
	_, err := Substitute(data, nil)
	assert.Error(t, err)
}
