package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, `
database:
  driver: sqlite
storage:
  local_path: `+filepath.Join(t.TempDir(), "uploads")+`
`)
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "5001", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 24*time.Hour, cfg.JWT.ExpireTime)
	assert.Equal(t, 0, cfg.Workflow.ApproveThreshold)
	assert.Equal(t, DefaultChangeSummary, cfg.Workflow.ChangeSummary)
	assert.Equal(t, 600, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 10, cfg.Redis.LessonTTLMinutes)
	assert.DirExists(t, cfg.Storage.LocalPath)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := writeConfig(t, `
database:
  driver: sqlite
storage:
  type: minio
workflow:
  approve_threshold: 1
`)
	t.Setenv("APPROVE_THRESHOLD", "2")
	t.Setenv("MASTER_SECRET", "from-env")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workflow.ApproveThreshold)
	assert.Equal(t, "from-env", cfg.Auth.MasterSecret)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Mode: "release"},
			JWT:      JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
			Database: DatabaseConfig{Driver: "postgres"},
		}
	}
	require.NoError(t, valid().Validate())

	c := valid()
	c.JWT.Secret = "short"
	assert.Error(t, c.Validate())

	c = valid()
	c.Server.Mode = "prod"
	assert.Error(t, c.Validate())

	c = valid()
	c.Workflow.ApproveThreshold = -1
	assert.Error(t, c.Validate())

	c = valid()
	c.Database.Driver = "mongodb"
	assert.Error(t, c.Validate())
}
