package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, FailOpen, cfg.QueryFailurePolicy)
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, 14*24*time.Hour, cfg.SessionTTL)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "port: \"9090\"\nqueryFailurePolicy: fail_closed\npageSize: 50\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, FailClosed, cfg.QueryFailurePolicy)
	assert.Equal(t, 50, cfg.PageSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9090\"\n"), 0o600))

	t.Setenv("PORT", "7070")
	t.Setenv("SESSION_TTL", "1h")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
}

func TestLoad_UnknownPolicyFallsBackToFailOpen(t *testing.T) {
	t.Setenv("QUERY_FAILURE_POLICY", "explode")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.Equal(t, FailOpen, cfg.QueryFailurePolicy)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n bad"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
