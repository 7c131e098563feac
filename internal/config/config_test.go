package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:8428", cfg.Host)
	assert.Equal(t, 30, cfg.TimeoutSeconds)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, "table", cfg.Output.Format)
	assert.Equal(t, "prometheus", cfg.Export.DefaultFormat)
	assert.Equal(t, 1000, cfg.Export.ChunkSize)
	assert.Nil(t, cfg.Auth)
	assert.Nil(t, cfg.Cluster)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: http://vm.internal:8428
timeout: 60
auth:
  username: admin
  password: secret
cluster:
  use_select_endpoint: true
  select_account_id: "42"
export:
  default_format: json
  chunk_size: 500
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://vm.internal:8428", cfg.Host)
	assert.Equal(t, 60, cfg.TimeoutSeconds)
	require.NotNil(t, cfg.Auth)
	assert.Equal(t, "admin", cfg.Auth.Username)
	require.NotNil(t, cfg.Cluster)
	assert.True(t, cfg.Cluster.UseSelectEndpoint)
	assert.Equal(t, "42", cfg.Cluster.SelectAccountID)
	// Unset project ID defaults to the zero tenant.
	assert.Equal(t, "0", cfg.Cluster.SelectProjectID)
	assert.Equal(t, "json", cfg.Export.DefaultFormat)
	assert.Equal(t, 500, cfg.Export.ChunkSize)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: [unbalanced"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: http://from-file:8428\ntimeout: 10\n"), 0o600))

	t.Setenv("VM_HOST", "http://from-env:8428")
	t.Setenv("VM_TIMEOUT", "99")
	t.Setenv("VM_TOKEN", "tok")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:8428", cfg.Host)
	assert.Equal(t, 99, cfg.TimeoutSeconds)
	require.NotNil(t, cfg.Auth)
	assert.Equal(t, "tok", cfg.Auth.Token)
}

func TestEnvInvalidTimeoutIgnored(t *testing.T) {
	t.Setenv("VM_TIMEOUT", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, cfg.TimeoutSeconds)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Host = "http://saved:8428"
	cfg.Auth = &AuthConfig{Token: "tok"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://saved:8428", loaded.Host)
	require.NotNil(t, loaded.Auth)
	assert.Equal(t, "tok", loaded.Auth.Token)
}
