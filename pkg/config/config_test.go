package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_JSONWithDefaults(t *testing.T) {
	path := write(t, "config.json", `{
		"app": {"name": "bot", "workspace": "/srv/project"},
		"providers": {"openai": {"api_key": "k", "model": "gpt-4o", "enabled": true}},
		"gateways": {"telegram": {"token": "t", "enabled": true}},
		"execution": {"step_timeout": "45s", "llm_timeout": 30}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bot", cfg.App.Name)
	assert.Equal(t, 45*time.Second, cfg.Execution.StepTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.Execution.LLMTimeout.Std())
	assert.Equal(t, 3, cfg.Execution.MaxStepRetries)
	assert.Equal(t, 3, cfg.Execution.MaxResumeAttempts)
	assert.Equal(t, "STANDARD", cfg.Security.Level)
	assert.Equal(t, filepath.Join("logs", "audit.log"), cfg.Security.AuditLog)
	assert.Equal(t, "agent", cfg.VCS.BranchPrefix)

	name, p := cfg.GetDefaultProvider()
	assert.Equal(t, "openai", name)
	assert.Equal(t, "gpt-4o", p.Model)

	_, ok := cfg.GetTelegramConfig()
	assert.True(t, ok)
	_, ok = cfg.GetGateway("discord")
	assert.False(t, ok)
}

func TestLoad_YAML(t *testing.T) {
	path := write(t, "config.yaml", `
app:
  workspace: ./work
security:
  level: advanced
  deny_patterns:
    - 'curl .*\| *sh'
execution:
  max_step_retries: 5
  step_timeout: 2m
  critical_files: [go.mod]
vcs:
  branch_prefix: bot
  exclude: ["**/*.secret"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "advanced", cfg.Security.Level)
	assert.Equal(t, []string{`curl .*\| *sh`}, cfg.Security.DenyPatterns)
	assert.Equal(t, 5, cfg.Execution.MaxStepRetries)
	assert.Equal(t, 2*time.Minute, cfg.Execution.StepTimeout.Std())
	assert.Equal(t, []string{"go.mod"}, cfg.Execution.CriticalFiles)
	assert.Equal(t, "bot", cfg.VCS.BranchPrefix)
	assert.Equal(t, []string{"**/*.secret"}, cfg.VCS.Exclude)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(write(t, "bad.json", `{"security": {"level": "godmode"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security.level")

	_, err = Load(write(t, "bad.yaml", "execution:\n  step_timeout: soon\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
