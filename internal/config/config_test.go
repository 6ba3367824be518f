package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: t.Parallel() is intentionally omitted for the Load tests.
// They share process-global environment variables; t.Setenv in
// TestLoad_EnvOverride would race with any concurrent reader.

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "studysprint-devenv", cfg.Telemetry.ServiceName)
	assert.Equal(t, 2*time.Second, cfg.Bootstrap.Readiness.Interval)
	assert.Equal(t, 30, cfg.Bootstrap.Readiness.MaxAttempts)
	assert.Equal(t, "compose", cfg.Bootstrap.Provisioner.Driver)
	assert.Equal(t, "localhost", cfg.Bootstrap.Postgres.Host)
	assert.Equal(t, "studysprint3", cfg.Bootstrap.Postgres.DB)
	assert.Equal(t, 6379, cfg.Bootstrap.Redis.Port)
	assert.Equal(t, "/api/health", cfg.Bootstrap.Smoke.HealthPath)
	assert.Equal(t, []string{"uploads"}, cfg.Bootstrap.Environment.Dirs)
	assert.Equal(t, "uvicorn", cfg.Bootstrap.Smoke.Command[0])
	assert.Equal(t, "studysprint3_test", cfg.Tests.Database)
	assert.Equal(t, 90, cfg.Tests.FailUnder)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DEVENV_SERVER_PORT", "9090")
	t.Setenv("DEVENV_BOOTSTRAP_POSTGRES_HOST", "my-db")
	t.Setenv("DEVENV_BOOTSTRAP_READINESS_MAX_ATTEMPTS", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "my-db", cfg.Bootstrap.Postgres.Host)
	assert.Equal(t, 5, cfg.Bootstrap.Readiness.MaxAttempts)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devenv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bootstrap:
  provisioner:
    driver: containers
  readiness:
    interval: 500ms
    parallel: true
  migrate:
    driver: sql
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "containers", cfg.Bootstrap.Provisioner.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Bootstrap.Readiness.Interval)
	assert.True(t, cfg.Bootstrap.Readiness.Parallel)
	assert.Equal(t, "sql", cfg.Bootstrap.Migrate.Driver)
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "zero attempts", key: "DEVENV_BOOTSTRAP_READINESS_MAX_ATTEMPTS", val: "0"},
		{name: "unknown provisioner", key: "DEVENV_BOOTSTRAP_PROVISIONER_DRIVER", val: "vagrant"},
		{name: "unknown migrator", key: "DEVENV_BOOTSTRAP_MIGRATE_DRIVER", val: "flyway"},
		{name: "breaker outlasts interval", key: "DEVENV_BOOTSTRAP_READINESS_BREAKER_TIMEOUT", val: "5s"},
		{name: "coverage above 100", key: "DEVENV_TESTS_FAIL_UNDER", val: "101"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvIsolation(t *testing.T) {
	require.Empty(t, os.Getenv("DEVENV_SERVER_PORT"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestLoad_BreakerTimeoutMayEqualInterval(t *testing.T) {
	t.Setenv("DEVENV_BOOTSTRAP_READINESS_INTERVAL", "3s")
	t.Setenv("DEVENV_BOOTSTRAP_READINESS_BREAKER_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, cfg.Bootstrap.Readiness.Interval, cfg.Bootstrap.Readiness.BreakerTimeout)
}
