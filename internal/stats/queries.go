package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/storage"
)

const (
	defaultLimit = 200
	maxLimit     = 5000
)

// ServiceErrorSummary 为按服务聚合的错误概览行。
type ServiceErrorSummary struct {
	Service        string
	DistinctErrors int64
	Occurrences    int64
	Unresolved     int64
}

// TopProxies 按累计请求量倒序返回代理统计；limit<=0 使用默认值。
func (a *Aggregator) TopProxies(ctx context.Context, limit int) ([]storage.ProxyStat, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	var out []storage.ProxyStat
	if err := db.Model(&storage.ProxyStat{}).
		Order("total_requests DESC").
		Limit(normalizeLimit(limit)).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query top proxies: %w", err)
	}
	return out, nil
}

// ErrorSummaryByService 按服务聚合错误统计，出现次数多的排前面。
func (a *Aggregator) ErrorSummaryByService(ctx context.Context) ([]ServiceErrorSummary, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	var out []ServiceErrorSummary
	if err := db.Model(&storage.ErrorStat{}).
		Select("service, COUNT(*) AS distinct_errors, SUM(occurrence_count) AS occurrences, SUM(CASE WHEN resolved THEN 0 ELSE 1 END) AS unresolved").
		Group("service").
		Order("occurrences DESC").
		Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("query error summary: %w", err)
	}
	return out, nil
}

// ErrorsForService 返回某服务的全部错误行，出现次数倒序。
func (a *Aggregator) ErrorsForService(ctx context.Context, service string) ([]storage.ErrorStat, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	var out []storage.ErrorStat
	if err := db.Model(&storage.ErrorStat{}).
		Where("service = ?", service).
		Order("occurrence_count DESC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query errors for service: %w", err)
	}
	return out, nil
}

// ContainerStatsAll 返回全部容器累积行，按启动次数倒序。
func (a *Aggregator) ContainerStatsAll(ctx context.Context) ([]storage.ContainerStat, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	var out []storage.ContainerStat
	if err := db.Model(&storage.ContainerStat{}).
		Order("start_count DESC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query container stats: %w", err)
	}
	return out, nil
}

// LogSummaries 返回最近 days 天的日志摘要，日期倒序；service 为空表示全部服务。
func (a *Aggregator) LogSummaries(ctx context.Context, service string, days int) ([]storage.LogSummary, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(dateLayout)

	q := db.Model(&storage.LogSummary{}).Where("date >= ?", cutoff)
	if service != "" {
		q = q.Where("service = ?", service)
	}
	var out []storage.LogSummary
	if err := q.Order("date DESC, service ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query log summaries: %w", err)
	}
	return out, nil
}

// RecentEvents 返回最新的事件，倒序；limit<=0 使用默认值。
func (a *Aggregator) RecentEvents(ctx context.Context, limit int) ([]storage.SystemEvent, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	var out []storage.SystemEvent
	if err := db.Model(&storage.SystemEvent{}).
		Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return out, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}
