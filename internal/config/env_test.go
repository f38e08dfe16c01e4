package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("VOLUNTEERHUB_API_KEY", "secret")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "3100", env.HTTPPort)
	assert.Equal(t, "local", env.StorageEnv.Type)
	assert.Equal(t, "storage", env.RecordsBackend)
	assert.Equal(t, 5*time.Minute, env.ConditionPollInterval)
	assert.Equal(t, 2*time.Minute, env.ActionTimeout)
	assert.Equal(t, slog.LevelDebug, env.SlogLevel())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VOLUNTEERHUB_API_KEY", "secret")
	t.Setenv("VOLUNTEERHUB_TIMEZONE", "America/New_York")
	t.Setenv("VOLUNTEERHUB_CONDITION_POLL_INTERVAL", "30s")
	t.Setenv("VOLUNTEERHUB_LOG_LEVEL", "warn")

	env, err := LoadEnv()
	require.NoError(t, err)
	loc, err := env.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
	assert.Equal(t, 30*time.Second, env.ConditionPollInterval)
	assert.Equal(t, slog.LevelWarn, env.SlogLevel())
}

func TestLoadEnvRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("VOLUNTEERHUB_API_KEY", "secret")
	t.Setenv("VOLUNTEERHUB_TIMEZONE", "Mars/Olympus")

	_, err := LoadEnv()
	assert.Error(t, err)
}

func TestLoadEnvRequiresAPIKey(t *testing.T) {
	t.Setenv("VOLUNTEERHUB_API_KEY", "")
	require.NoError(t, os.Unsetenv("VOLUNTEERHUB_API_KEY"))

	_, err := LoadEnv()
	assert.Error(t, err)
}
