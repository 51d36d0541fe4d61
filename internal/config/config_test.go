package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	// 测试加载默认值（不提供配置文件）
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "aegis-state.db", cfg.Storage.Path)
	assert.True(t, cfg.Storage.EnableWAL)
	assert.Equal(t, 5*time.Second, cfg.Storage.BusyTimeout)
	assert.False(t, cfg.Registry.LiveCheck.Enabled)
	assert.Equal(t, 5432, cfg.Registry.LiveCheck.Port)
	assert.Equal(t, 30, cfg.Maintenance.RetentionDays)
	assert.False(t, cfg.Collector.Enabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	content := []byte(`
log_level: "debug"
storage:
  path: "test.db"
  busy_timeout: "10s"
registry:
  live_check:
    enabled: true
    host: "db.internal"
    port: 5433
maintenance:
  retention_days: 7
`)
	err := os.WriteFile(configFile, content, 0644)
	assert.NoError(t, err)

	cfg, err := Load(configFile)
	assert.NoError(t, err)

	// 验证覆盖值
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "test.db", cfg.Storage.Path)
	assert.Equal(t, 10*time.Second, cfg.Storage.BusyTimeout)
	assert.True(t, cfg.Registry.LiveCheck.Enabled)
	assert.Equal(t, "db.internal", cfg.Registry.LiveCheck.Host)
	assert.Equal(t, 5433, cfg.Registry.LiveCheck.Port)
	assert.Equal(t, 7, cfg.Maintenance.RetentionDays)

	// 验证未覆盖的字段保持默认值
	assert.Equal(t, "postgres", cfg.Registry.LiveCheck.RootUser)
	assert.Equal(t, "backups", cfg.Maintenance.BackupDir)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AEGIS_LOG_LEVEL", "warn")
	t.Setenv("AEGIS_STORAGE_PATH", "env.db")
	t.Setenv("AEGIS_REGISTRY_LIVE_CHECK_HOST", "env-db.internal")

	cfg, err := Load("")
	assert.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "env.db", cfg.Storage.Path)
	assert.Equal(t, "env-db.internal", cfg.Registry.LiveCheck.Host)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err)

	cfg.Storage.Path = ""
	cfg.Storage.InMemory = false
	assert.Error(t, cfg.Validate())

	cfg.Storage.InMemory = true
	assert.NoError(t, cfg.Validate())

	cfg.Registry.LiveCheck.Enabled = true
	cfg.Registry.LiveCheck.Port = 0
	assert.Error(t, cfg.Validate())
}
