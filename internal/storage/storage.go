package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	// SchemaVersion 为当前表结构版本；InitializeSchema 每次刷新。
	SchemaVersion = "1"

	MetaSchemaVersion = "schema_version"
	MetaCreated       = "created"
	MetaLastReset     = "last_reset"
)

// ErrStorageUnavailable 表示存储尚未打开、文件缺失或底层引擎不可用。
// 调用方据此决定是否重新初始化；任何操作都不会让宿主进程退出。
var ErrStorageUnavailable = errors.New("storage unavailable")

type Config struct {
	Path            string           `mapstructure:"path"`
	InMemory        bool             `mapstructure:"in_memory"`
	EnableWAL       bool             `mapstructure:"enable_wal"`
	BusyTimeout     time.Duration    `mapstructure:"busy_timeout"`
	MaxOpenConns    int              `mapstructure:"max_open_conns"`
	MaxIdleConns    int              `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration    `mapstructure:"conn_max_lifetime"`
	Logger          logger.Interface `mapstructure:"-"`
}

type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// Exists 报告存储文件是否已经存在；不存在视作“未初始化”，
// 调用方应先 Open（其中包含 InitializeSchema）。
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn, err := dsnFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{}
	if cfg.Logger != nil {
		gormCfg.Logger = cfg.Logger
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Storage{db: db, sqlDB: sqlDB}

	if cfg.EnableWAL {
		if err := s.db.WithContext(ctx).Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).Exec("PRAGMA foreign_keys=ON;").Error; err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := s.InitializeSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return ErrStorageUnavailable
	}
	return s.sqlDB.PingContext(ctx)
}

// InitializeSchema 幂等地建表建索引并刷新版本行。
// metadata 里的 created 时间戳只在首次初始化时写入，之后的重复调用保留原值。
func (s *Storage) InitializeSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStorageUnavailable
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&ProxyStat{},
		&ErrorStat{},
		&ContainerStat{},
		&LogSummary{},
		&SystemEvent{},
		&ConfigValue{},
		&ConfigDiscrepancy{},
		&Metadata{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := s.SetMetadata(ctx, MetaSchemaVersion, SchemaVersion); err != nil {
		return err
	}

	created := Metadata{MetaKey: MetaCreated, MetaValue: time.Now().UTC().Format(time.RFC3339)}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "meta_key"}},
			DoNothing: true,
		}).
		Create(&created).Error; err != nil {
		return fmt.Errorf("init created metadata: %w", err)
	}

	return nil
}

// CheckIntegrity 运行引擎自检并报告 healthy 与否。
// 检查失败只上报，不做任何自动修复；是否重新初始化由调用方决定。
func (s *Storage) CheckIntegrity(ctx context.Context) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrStorageUnavailable
	}

	var result string
	if err := s.db.WithContext(ctx).Raw("PRAGMA integrity_check;").Scan(&result).Error; err != nil {
		return false, fmt.Errorf("integrity check: %w", err)
	}
	return result == "ok", nil
}

func (s *Storage) Vacuum(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStorageUnavailable
	}
	if err := s.db.WithContext(ctx).Exec("VACUUM;").Error; err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// VacuumInto 把当前库压实后写到 path，作为一致性备份原语。
// 调用方负责在维护窗口内串行执行，避免与写入方争用。
func (s *Storage) VacuumInto(ctx context.Context, path string) error {
	if s == nil || s.db == nil {
		return ErrStorageUnavailable
	}
	if path == "" {
		return errors.New("backup path is required")
	}
	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?;", path).Error; err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}

// RotateIfOversize 对超过 maxBytes 的追加型日志文件做编号轮转：
// path -> path.1 -> path.2 ... 超出 keepCount 的最旧一代被删除。
// 文件不存在或未超限时返回 false 且不报错。
func RotateIfOversize(path string, maxBytes int64, keepCount int) (bool, error) {
	if path == "" {
		return false, errors.New("path is required")
	}
	if keepCount <= 0 {
		keepCount = 1
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	if maxBytes <= 0 || info.Size() <= maxBytes {
		return false, nil
	}

	oldest := fmt.Sprintf("%s.%d", path, keepCount)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("drop oldest generation: %w", err)
	}
	for i := keepCount - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		to := fmt.Sprintf("%s.%d", path, i+1)
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("shift generation %d: %w", i, err)
		}
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return false, fmt.Errorf("rotate %s: %w", path, err)
	}
	return true, nil
}

func (s *Storage) GetMetadata(ctx context.Context, key string) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrStorageUnavailable
	}
	var row Metadata
	err := s.db.WithContext(ctx).Where("meta_key = ?", key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return row.MetaValue, nil
}

func (s *Storage) SetMetadata(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrStorageUnavailable
	}
	row := Metadata{MetaKey: key, MetaValue: value}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "meta_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"meta_value": value}),
		}).
		Create(&row).Error; err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// TruncateOperational 清空所有累积/审计表，保留 metadata。
// 这是 reset 的底层原语；确认流程由上层维护门面负责。
func (s *Storage) TruncateOperational(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStorageUnavailable
	}
	for _, table := range operationalTables {
		if err := s.db.WithContext(ctx).Exec("DELETE FROM " + table + ";").Error; err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

var operationalTables = []string{
	"proxy_stats",
	"error_stats",
	"container_stats",
	"log_summaries",
	"system_events",
	"config_values",
	"config_discrepancies",
}

// OperationalTables 返回可导出/可清空的业务表名（不含 metadata）。
func OperationalTables() []string {
	out := make([]string, len(operationalTables))
	copy(out, operationalTables)
	return out
}

// Counts 返回每张业务表的行数，用于 storage info 概览。
func (s *Storage) Counts(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrStorageUnavailable
	}
	out := make(map[string]int64, len(operationalTables))
	for _, table := range operationalTables {
		var n int64
		if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

func (s *Storage) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func dsnFromConfig(cfg Config) (string, error) {
	timeoutMS := int(cfg.BusyTimeout / time.Millisecond)
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}

	if cfg.InMemory {
		return fmt.Sprintf("file:aegisstate?mode=memory&cache=shared&_busy_timeout=%d", timeoutMS), nil
	}

	if cfg.Path == "" {
		return "", errors.New("sqlite path is required when InMemory=false")
	}

	return fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, timeoutMS), nil
}
