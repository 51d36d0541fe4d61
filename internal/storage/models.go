package storage

import "time"

// ProxyStat 为累积型代理统计行：计数器只增不减，仅 last_* 字段反映最近一次采样。
type ProxyStat struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// Address 为代理地址（host:port），自然主键，唯一索引。
	Address string `gorm:"size:255;not null;uniqueIndex"`
	// TotalRequests 为累计请求总数。
	TotalRequests int64 `gorm:"not null"`
	// SuccessCount/FailedCount/TimeoutCount 为按结果分类的累计计数。
	SuccessCount int64 `gorm:"not null"`
	FailedCount  int64 `gorm:"not null"`
	TimeoutCount int64 `gorm:"not null"`
	// AvgResponseMs 为运行平均响应时间（毫秒，整数截断除法）。
	AvgResponseMs int64 `gorm:"not null"`
	// LastStatus 为最近一次采样的结果（success/failed/timeout）；总是被最新样本覆盖。
	LastStatus string `gorm:"size:16"`
	// LastSeen 为最近一次采样时间（UTC）。
	LastSeen time.Time `gorm:"not null"`
	// CreatedAt 为行首次写入时间，默认自动填充。
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// ErrorStat 以 (service, error_type, message) 三元组精确去重的错误累积行。
// 再次出现会递增 occurrence_count 并清除 resolved 标记。
type ErrorStat struct {
	ID uint64 `gorm:"primaryKey"`
	// Service/ErrorType/Message 组成联合唯一键；message 为精确匹配，不做模糊归并。
	Service   string `gorm:"size:128;not null;uniqueIndex:idx_error_stats_key,priority:1"`
	ErrorType string `gorm:"size:64;not null;uniqueIndex:idx_error_stats_key,priority:2"`
	Message   string `gorm:"size:512;not null;uniqueIndex:idx_error_stats_key,priority:3"`
	// OccurrenceCount 为累计出现次数。
	OccurrenceCount int64 `gorm:"not null"`
	// FirstSeen/LastSeen 为首次/最近出现时间（UTC）。
	FirstSeen time.Time `gorm:"not null"`
	LastSeen  time.Time `gorm:"not null"`
	// Resolved 为操作员标记；任何新的出现都会把它清回 false。
	Resolved bool `gorm:"not null;index"`
}

// ContainerStat 为按容器名累积的生命周期计数行。
type ContainerStat struct {
	ID uint64 `gorm:"primaryKey"`
	// ContainerName 为容器名称，自然主键，唯一索引。
	ContainerName string `gorm:"size:255;not null;uniqueIndex"`
	// StartCount/StopCount/RestartCount/CrashCount 为四个相互独立的计数器。
	StartCount   int64 `gorm:"not null"`
	StopCount    int64 `gorm:"not null"`
	RestartCount int64 `gorm:"not null"`
	CrashCount   int64 `gorm:"not null"`
	// TotalUptimeSeconds 为累计运行秒数，仅由 stop 事件按调用方提供的增量追加。
	TotalUptimeSeconds int64 `gorm:"not null"`
	// LastStatus 为最近一次事件后的状态（running/stopped/restarted/crashed）。
	LastStatus string `gorm:"size:16"`
	// LastSeen 为最近一次事件时间（UTC）。
	LastSeen time.Time `gorm:"not null"`
}

// LogSummary 为按 (date, service) 聚合的日志行数摘要；同一天可多次部分提交，计数相加。
type LogSummary struct {
	ID uint64 `gorm:"primaryKey"`
	// Date 为日期字符串（YYYY-MM-DD，UTC），与 Service 组成联合唯一键。
	Date    string `gorm:"size:10;not null;uniqueIndex:idx_log_summaries_key,priority:1"`
	Service string `gorm:"size:128;not null;uniqueIndex:idx_log_summaries_key,priority:2"`
	// TotalLines/ErrorLines/WarningLines/InfoLines 为当日累计行数。
	TotalLines   int64 `gorm:"not null"`
	ErrorLines   int64 `gorm:"not null"`
	WarningLines int64 `gorm:"not null"`
	InfoLines    int64 `gorm:"not null"`
}

// SystemEvent 为仅追加的自由事件行，代理主键，无唯一性约束。
type SystemEvent struct {
	ID uint64 `gorm:"primaryKey"`
	// EventType 为事件类型（例如 container_crash / config_reset）。
	EventType string `gorm:"size:64;not null;index"`
	// Source 为事件来源（容器名、服务名或工具名）。
	Source string `gorm:"size:128;index"`
	// Message 为主要可读内容。
	Message string `gorm:"type:text"`
	// Data 为自由格式附加数据（通常为 JSON 字符串）。
	Data string `gorm:"type:text"`
	// CreatedAt 为事件写入时间，默认自动填充。
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}

// ConfigValue 只保存“最近一次通过校验”的配置值；不保留历史，漂移只进 ConfigDiscrepancy。
type ConfigValue struct {
	ID uint64 `gorm:"primaryKey"`
	// ConfigKey 为配置键名，自然主键，唯一索引。
	ConfigKey string `gorm:"size:128;not null;uniqueIndex"`
	// Value 为已验证的值；默认/占位值永远不会出现在这里。
	Value string `gorm:"type:text;not null"`
	// SourceFile 为该值所在的配置文件路径。
	SourceFile string `gorm:"size:255"`
	// Description 为可选的人类可读说明。
	Description string `gorm:"type:text"`
	// IsSecret 标记该值在批量读取时必须完全掩码。
	IsSecret bool `gorm:"not null"`
	// VerifiedMatch 表示最近一次比对/校验通过。
	VerifiedMatch bool `gorm:"not null"`
	// MismatchCount 为历史不一致次数（只增）。
	MismatchCount int64 `gorm:"not null"`
	// FirstStored/LastVerified/LastMismatch 为时间戳（UTC）；LastMismatch 零值表示从未不一致。
	FirstStored  time.Time `gorm:"not null"`
	LastVerified time.Time `gorm:"not null"`
	LastMismatch time.Time
}

// ConfigDiscrepancy 为漂移审计行：除 resolved 标记外不可变。
type ConfigDiscrepancy struct {
	ID uint64 `gorm:"primaryKey"`
	// ConfigKey 为发生漂移的键名（非唯一，允许同键多条记录）。
	ConfigKey string `gorm:"size:128;not null;index"`
	// ExpectedValue 为登记在案的值，FoundValue 为现场观察到的值。
	ExpectedValue string `gorm:"type:text"`
	FoundValue    string `gorm:"type:text"`
	// SourceFile 为观察来源文件。
	SourceFile string `gorm:"size:255"`
	// Resolved 为操作员处理标记。
	Resolved bool `gorm:"not null;index"`
	// CreatedAt 为记录时间，默认自动填充。
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}

// Metadata 为键值元数据（schema_version、created、last_reset 等）；reset 不清空此表。
type Metadata struct {
	ID uint64 `gorm:"primaryKey"`
	// MetaKey 为元数据键名，唯一索引。
	MetaKey   string `gorm:"size:64;not null;uniqueIndex"`
	MetaValue string `gorm:"type:text"`
}

func (Metadata) TableName() string { return "metadata" }
