package maintenance

import (
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/storage"
)

const (
	backupPrefix    = "aegis-state-"
	timestampLayout = "20060102-150405"

	// resetArmWindow 为 ArmReset 令牌的有效期；超时后必须重新确认。
	resetArmWindow = 2 * time.Minute
)

// ErrResetNotArmed 表示 ResetAll 在没有有效确认令牌的情况下被调用。
var ErrResetNotArmed = errors.New("reset not armed: call ArmReset first and pass the returned token")

// Facade 汇集备份、导出、保留清理与整库重置。
// 这些操作假定没有并发写入方：调用方负责把维护与正常流量串行化。
type Facade struct {
	store *storage.Storage

	mu      sync.Mutex
	armed   string
	armedAt time.Time
}

func New(store *storage.Storage) (*Facade, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &Facade{store: store}, nil
}

// Backup 把压实后的整库写到 dir 下带时间戳的文件，返回备份路径。
func (f *Facade) Backup(ctx context.Context, dir string) (string, error) {
	if f == nil || f.store == nil {
		return "", storage.ErrStorageUnavailable
	}
	if dir == "" {
		return "", errors.New("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	path := filepath.Join(dir, backupPrefix+time.Now().UTC().Format(timestampLayout)+".db")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("backup target already exists: %s", path)
	}
	if err := f.store.VacuumInto(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}

// ExportTable 把一张业务表导出为 dir 下带时间戳的 CSV 文件，返回文件路径。
// 表名必须在白名单内。
func (f *Facade) ExportTable(ctx context.Context, table, dir string) (string, error) {
	if f == nil || f.store == nil || f.store.DB() == nil {
		return "", storage.ErrStorageUnavailable
	}
	if !exportable(table) {
		return "", fmt.Errorf("table not exportable: %s", table)
	}
	if dir == "" {
		return "", errors.New("export directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	rows, err := f.store.DB().WithContext(ctx).Raw("SELECT * FROM " + table).Rows()
	if err != nil {
		return "", fmt.Errorf("export query %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("export columns %s: %w", table, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.csv", table, time.Now().UTC().Format(timestampLayout)))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}

	values := make([]interface{}, len(columns))
	scanTargets := make([]interface{}, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	record := make([]string, len(columns))

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return "", fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			switch t := v.(type) {
			case nil:
				record[i] = ""
			case []byte:
				record[i] = string(t)
			case time.Time:
				record[i] = t.UTC().Format(time.RFC3339)
			default:
				record[i] = fmt.Sprint(t)
			}
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write record: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate rows: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return path, nil
}

func exportable(table string) bool {
	for _, t := range storage.OperationalTables() {
		if t == table {
			return true
		}
	}
	return table == "metadata"
}

// PruneReport 为一次保留清理删除的行数。
type PruneReport struct {
	ResolvedErrors int64
	Events         int64
	LogSummaries   int64
}

// PruneOlderThan 删除严格早于 days 天前的已处理错误、事件与日志摘要，随后压实。
// 未处理的错误不会被清掉，无论多旧。
func (f *Facade) PruneOlderThan(ctx context.Context, days int) (PruneReport, error) {
	var report PruneReport
	if f == nil || f.store == nil || f.store.DB() == nil {
		return report, storage.ErrStorageUnavailable
	}
	if days <= 0 {
		return report, fmt.Errorf("retention days must be positive, got %d", days)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	db := f.store.DB().WithContext(ctx)

	res := db.Where("resolved = ? AND last_seen < ?", true, cutoff).Delete(&storage.ErrorStat{})
	if res.Error != nil {
		return report, fmt.Errorf("prune resolved errors: %w", res.Error)
	}
	report.ResolvedErrors = res.RowsAffected

	res = db.Where("created_at < ?", cutoff).Delete(&storage.SystemEvent{})
	if res.Error != nil {
		return report, fmt.Errorf("prune events: %w", res.Error)
	}
	report.Events = res.RowsAffected

	res = db.Where("date < ?", cutoff.Format("2006-01-02")).Delete(&storage.LogSummary{})
	if res.Error != nil {
		return report, fmt.Errorf("prune log summaries: %w", res.Error)
	}
	report.LogSummaries = res.RowsAffected

	if err := f.store.Vacuum(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// ArmReset 生成一次性的重置令牌。这是两步确认的第一步：
// 调用方把令牌原样传给 ResetAll 才会真正执行。
func (f *Facade) ArmReset() (string, error) {
	if f == nil {
		return "", errors.New("facade not initialized")
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	token := hex.EncodeToString(buf)

	f.mu.Lock()
	f.armed = token
	f.armedAt = time.Now()
	f.mu.Unlock()
	return token, nil
}

// ResetAll 清空所有累积/审计表，保留 metadata（created 不变），写入 last_reset。
// 必须携带 ArmReset 返回的未过期令牌；令牌单次有效。
func (f *Facade) ResetAll(ctx context.Context, token string) error {
	if f == nil || f.store == nil {
		return storage.ErrStorageUnavailable
	}

	f.mu.Lock()
	valid := token != "" && token == f.armed && time.Since(f.armedAt) <= resetArmWindow
	f.armed = ""
	f.mu.Unlock()
	if !valid {
		return ErrResetNotArmed
	}

	if err := f.store.TruncateOperational(ctx); err != nil {
		return err
	}
	return f.store.SetMetadata(ctx, storage.MetaLastReset, time.Now().UTC().Format(time.RFC3339))
}
