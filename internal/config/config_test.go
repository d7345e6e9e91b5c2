package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogers-f/estate-workflow/internal/domain"
	"github.com/rogers-f/estate-workflow/internal/workflow"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "estateflow.db", cfg.DBPath)
	assert.Equal(t, ":9800", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, workflow.DefaultIntegrationStartIndex, cfg.Workflow.IntegrationStartIndex)
	assert.Equal(t, DefaultRedisTTL, cfg.Redis.TTL)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, workflow.DefaultTotalSteps, rules.TotalSteps())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
db_path: /var/lib/estateflow/app.db
listen_addr: ":8080"
log_level: debug
rate_limit_per_minute: 30
redis:
  addr: localhost:6379
  db: 2
  ttl: 30s
workflow:
  integration_start_index: 5
  stages:
    - stage_number: 1
      last_step_index: 2
    - stage_number: 2
      last_step_index: 4
    - stage_number: 3
      last_step_index: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/estateflow/app.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30, cfg.RateLimitPerMinute)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, 8, rules.TotalSteps())
	assert.Equal(t, 5, rules.IntegrationStart)
	assert.Equal(t, 3, rules.StepStage(5))
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"db_path": "/tmp/x.db", "listen_addr": ":7000"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, ":7000", cfg.ListenAddr)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ESTATEFLOW_LISTEN_ADDR", ":9999")
	t.Setenv("ESTATEFLOW_REDIS_ADDR", "redis:6379")

	path := writeConfig(t, "config.yaml", "listen_addr: \":8080\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoad_ZeroValuesAreKept(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
redis:
  ttl: 0s
workflow:
  integration_start_index: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Workflow.IntegrationStartIndex)
	assert.Equal(t, time.Duration(0), cfg.Redis.TTL)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, 0, rules.IntegrationStart)
}

func TestLoad_EnvZeroIntegrationStart(t *testing.T) {
	t.Setenv("ESTATEFLOW_WORKFLOW_INTEGRATION_START_INDEX", "0")
	t.Setenv("ESTATEFLOW_REDIS_TTL", "2m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Workflow.IntegrationStartIndex)
	assert.Equal(t, 2*time.Minute, cfg.Redis.TTL)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative rate limit", "rate_limit_per_minute: -1\n"},
		{"bad log level", "log_level: loud\n"},
		{"negative redis ttl", "redis:\n  ttl: -5s\n"},
		{"integration start beyond last step", "workflow:\n  integration_start_index: 40\n"},
		{"overlapping stages", `
workflow:
  stages:
    - stage_number: 1
      last_step_index: 4
    - stage_number: 2
      last_step_index: 3
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			require.Error(t, err)

			var engErr *domain.EngineError
			require.True(t, errors.As(err, &engErr), "want EngineError, got %T", err)
			assert.Equal(t, domain.ErrConfigInvalid.Code, engErr.Code)
		})
	}
}
