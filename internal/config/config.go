package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/collector"
	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/storage"
	"github.com/spf13/viper"
)

// LiveCheckConfig 描述用于凭据在线验证的外部数据库服务。
type LiveCheckConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Database       string        `mapstructure:"database"`
	RootUser       string        `mapstructure:"root_user"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RegistryConfig struct {
	LiveCheck LiveCheckConfig `mapstructure:"live_check"`
}

type MaintenanceConfig struct {
	BackupDir     string `mapstructure:"backup_dir"`
	ExportDir     string `mapstructure:"export_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type Config struct {
	Storage     storage.Config    `mapstructure:"storage"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Collector   collector.Config  `mapstructure:"collector"`
	LogLevel    string            `mapstructure:"log_level"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// 默认搜索路径
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.aegisstate")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AEGIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper 的 Unmarshal 只反序列化它“知道”的 key（配置文件、Defaults 或显式 Bind）。
	// 只存在于环境变量里的 key 需要先有 SetDefault 才能被覆盖进结构体。
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// 配置文件未找到，使用默认值
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required (or set AEGIS_STORAGE_PATH env var)")
	}
	if c.Registry.LiveCheck.Enabled {
		if c.Registry.LiveCheck.Port <= 0 || c.Registry.LiveCheck.Port > 65535 {
			return fmt.Errorf("registry.live_check.port out of range: %d", c.Registry.LiveCheck.Port)
		}
		if c.Registry.LiveCheck.Host == "" {
			return fmt.Errorf("registry.live_check.host is required when live check enabled")
		}
	}
	if c.Maintenance.RetentionDays < 0 {
		return fmt.Errorf("maintenance.retention_days must be non-negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	// Storage Defaults (存储默认值)
	v.SetDefault("storage.path", "aegis-state.db")
	v.SetDefault("storage.enable_wal", true)
	v.SetDefault("storage.busy_timeout", 5*time.Second)

	// Registry Live-Check Defaults (在线验证默认值)
	v.SetDefault("registry.live_check.enabled", false)
	v.SetDefault("registry.live_check.host", "127.0.0.1")
	v.SetDefault("registry.live_check.port", 5432)
	v.SetDefault("registry.live_check.database", "postgres")
	v.SetDefault("registry.live_check.root_user", "postgres")
	v.SetDefault("registry.live_check.connect_timeout", 5*time.Second)

	// Maintenance Defaults (维护默认值)
	v.SetDefault("maintenance.backup_dir", "backups")
	v.SetDefault("maintenance.export_dir", "exports")
	v.SetDefault("maintenance.retention_days", 30)

	// Collector Defaults (采集默认值)
	v.SetDefault("collector.enabled", false)
}
