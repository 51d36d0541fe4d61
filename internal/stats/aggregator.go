package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome 为单次代理请求的结果分类。
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

const (
	StatusRunning   = "running"
	StatusStopped   = "stopped"
	StatusRestarted = "restarted"
	StatusCrashed   = "crashed"
)

const dateLayout = "2006-01-02"

// Aggregator 把解析好的运行事件累积进存储。
//
// 每个 Record* 操作都是针对自然键的单条 upsert 语句，依赖存储引擎的
// 文件级锁做跨进程互斥。重复投递同一逻辑事件会重复计数：
// 这里不做 exactly-once 去重，由调用方负责。
type Aggregator struct {
	store *storage.Storage
}

func New(store *storage.Storage) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &Aggregator{store: store}, nil
}

func (a *Aggregator) db(ctx context.Context) (*gorm.DB, error) {
	if a == nil || a.store == nil || a.store.DB() == nil {
		return nil, storage.ErrStorageUnavailable
	}
	return a.store.DB().WithContext(ctx), nil
}

// RecordProxyOutcome 记录一次代理请求结果。
// 运行平均按 (oldAvg*oldTotal + sample) / (oldTotal+1) 以整数截断除法更新；
// SQLite 的 UPDATE 右侧全部取更新前的列值，正好给出这个公式。
// last_status/last_seen 永远被最新样本覆盖：乱序到达也是 last write wins。
func (a *Aggregator) RecordProxyOutcome(ctx context.Context, address string, outcome Outcome, responseTimeMs int64) error {
	db, err := a.db(ctx)
	if err != nil {
		return err
	}
	if address == "" {
		return errors.New("proxy address is required")
	}

	var counterCol string
	switch outcome {
	case OutcomeSuccess:
		counterCol = "success_count"
	case OutcomeFailed:
		counterCol = "failed_count"
	case OutcomeTimeout:
		counterCol = "timeout_count"
	default:
		return fmt.Errorf("unknown proxy outcome: %q", outcome)
	}

	now := time.Now().UTC()
	row := storage.ProxyStat{
		Address:       address,
		TotalRequests: 1,
		AvgResponseMs: responseTimeMs,
		LastStatus:    string(outcome),
		LastSeen:      now,
	}
	switch outcome {
	case OutcomeSuccess:
		row.SuccessCount = 1
	case OutcomeFailed:
		row.FailedCount = 1
	case OutcomeTimeout:
		row.TimeoutCount = 1
	}

	assignments := map[string]interface{}{
		"total_requests":  gorm.Expr("total_requests + 1"),
		counterCol:        gorm.Expr(counterCol + " + 1"),
		"avg_response_ms": gorm.Expr("(avg_response_ms * total_requests + ?) / (total_requests + 1)", responseTimeMs),
		"last_status":     string(outcome),
		"last_seen":       now,
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("record proxy outcome: %w", err)
	}
	return nil
}

// RecordError 等价于 RecordErrorBulk(..., 1)。
func (a *Aggregator) RecordError(ctx context.Context, service, errType, message string) error {
	return a.RecordErrorBulk(ctx, service, errType, message, 1)
}

// RecordErrorBulk 按 (service, type, message) 精确三元组累积错误计数。
// 任何新的出现都会把先前的 resolved 标记清回 false。
func (a *Aggregator) RecordErrorBulk(ctx context.Context, service, errType, message string, count int64) error {
	db, err := a.db(ctx)
	if err != nil {
		return err
	}
	if service == "" || errType == "" {
		return errors.New("service and error type are required")
	}
	if count <= 0 {
		return fmt.Errorf("error count must be positive, got %d", count)
	}

	now := time.Now().UTC()
	row := storage.ErrorStat{
		Service:         service,
		ErrorType:       errType,
		Message:         message,
		OccurrenceCount: count,
		FirstSeen:       now,
		LastSeen:        now,
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "service"}, {Name: "error_type"}, {Name: "message"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"occurrence_count": gorm.Expr("occurrence_count + ?", count),
			"last_seen":        now,
			"resolved":         false,
		}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	return nil
}

// ResolveError 把某个错误三元组标记为已处理；下次出现会自动清除该标记。
func (a *Aggregator) ResolveError(ctx context.Context, service, errType, message string) error {
	db, err := a.db(ctx)
	if err != nil {
		return err
	}
	res := db.Model(&storage.ErrorStat{}).
		Where("service = ? AND error_type = ? AND message = ?", service, errType, message).
		Update("resolved", true)
	if res.Error != nil {
		return fmt.Errorf("resolve error: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("error stat not found: %s/%s", service, errType)
	}
	return nil
}

func (a *Aggregator) RecordContainerStart(ctx context.Context, name string) error {
	return a.recordContainer(ctx, name, "start_count", StatusRunning, 0)
}

func (a *Aggregator) RecordContainerRestart(ctx context.Context, name string) error {
	return a.recordContainer(ctx, name, "restart_count", StatusRestarted, 0)
}

func (a *Aggregator) RecordContainerCrash(ctx context.Context, name string) error {
	return a.recordContainer(ctx, name, "crash_count", StatusCrashed, 0)
}

// RecordContainerStop 递增 stop 计数并把 uptimeSeconds 追加进累计运行时长。
// 这里不校验 stop 是否对应某次 start：增量由调用方负责，属于已知限制。
func (a *Aggregator) RecordContainerStop(ctx context.Context, name string, uptimeSeconds int64) error {
	if uptimeSeconds < 0 {
		return fmt.Errorf("uptime seconds must be non-negative, got %d", uptimeSeconds)
	}
	return a.recordContainer(ctx, name, "stop_count", StatusStopped, uptimeSeconds)
}

func (a *Aggregator) recordContainer(ctx context.Context, name, counterCol, status string, uptimeSeconds int64) error {
	db, err := a.db(ctx)
	if err != nil {
		return err
	}
	if name == "" {
		return errors.New("container name is required")
	}

	now := time.Now().UTC()
	row := storage.ContainerStat{
		ContainerName:      name,
		TotalUptimeSeconds: uptimeSeconds,
		LastStatus:         status,
		LastSeen:           now,
	}
	switch counterCol {
	case "start_count":
		row.StartCount = 1
	case "stop_count":
		row.StopCount = 1
	case "restart_count":
		row.RestartCount = 1
	case "crash_count":
		row.CrashCount = 1
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "container_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			counterCol:             gorm.Expr(counterCol + " + 1"),
			"total_uptime_seconds": gorm.Expr("total_uptime_seconds + ?", uptimeSeconds),
			"last_status":          status,
			"last_seen":            now,
		}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("record container %s: %w", counterCol, err)
	}
	return nil
}

// RecordLogSummary 把一次（可能是部分的）日志统计累加进 (date, service) 行。
// date 必须是 YYYY-MM-DD。
func (a *Aggregator) RecordLogSummary(ctx context.Context, service, date string, total, errs, warns, infos int64) error {
	db, err := a.db(ctx)
	if err != nil {
		return err
	}
	if service == "" {
		return errors.New("service is required")
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", date, err)
	}
	if total < 0 || errs < 0 || warns < 0 || infos < 0 {
		return errors.New("log line counts must be non-negative")
	}

	row := storage.LogSummary{
		Date:         date,
		Service:      service,
		TotalLines:   total,
		ErrorLines:   errs,
		WarningLines: warns,
		InfoLines:    infos,
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "service"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_lines":   gorm.Expr("total_lines + ?", total),
			"error_lines":   gorm.Expr("error_lines + ?", errs),
			"warning_lines": gorm.Expr("warning_lines + ?", warns),
			"info_lines":    gorm.Expr("info_lines + ?", infos),
		}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("record log summary: %w", err)
	}
	return nil
}

// AppendEvent 纯追加一条系统事件，代理主键，不存在键冲突。
func (a *Aggregator) AppendEvent(ctx context.Context, eventType, source, message, data string) error {
	db, err := a.db(ctx)
	if err != nil {
		return err
	}
	if eventType == "" {
		return errors.New("event type is required")
	}
	row := storage.SystemEvent{
		EventType: eventType,
		Source:    source,
		Message:   message,
		Data:      data,
	}
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
