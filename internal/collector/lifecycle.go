package collector

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/stats"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"go.uber.org/zap"
)

type ErrorHandler func(err error)

type Config struct {
	// Enabled 控制是否随工具启动生命周期采集。
	Enabled bool `mapstructure:"enabled"`
	// OnError 为异步错误回调（单条事件落库失败、inspect 失败）；默认丢弃。
	OnError ErrorHandler `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}

type eventStreamFunc func(ctx context.Context) (<-chan events.Message, <-chan error, error)
type uptimeFunc func(ctx context.Context, containerID string) (int64, error)

// LifecycleCollector 订阅容器运行时的事件流，把生命周期事件折算成
// 累积计数，并把崩溃/OOM 快照作为低优先级事件追加进事件日志。
// 采集失败只影响后续事件，已写入的计数不受影响。
type LifecycleCollector struct {
	cfg Config

	agg *stats.Aggregator
	log *zap.Logger

	stream eventStreamFunc
	uptime uptimeFunc
}

func NewLifecycleCollector(agg *stats.Aggregator, log *zap.Logger, cfg Config) (*LifecycleCollector, error) {
	if agg == nil {
		return nil, errors.New("aggregator is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LifecycleCollector{
		cfg: cfg.withDefaults(),
		agg: agg,
		log: log,
	}, nil
}

// WithStream 替换事件源（测试注入用）。
func (c *LifecycleCollector) WithStream(fn eventStreamFunc) *LifecycleCollector {
	c.stream = fn
	return c
}

// WithUptime 替换运行时长查询（测试注入用）。
func (c *LifecycleCollector) WithUptime(fn uptimeFunc) *LifecycleCollector {
	c.uptime = fn
	return c
}

// Run 消费事件流直到 ctx 取消或流关闭。流错误返回给调用方，由其决定是否重订阅。
func (c *LifecycleCollector) Run(ctx context.Context) error {
	if c == nil || c.agg == nil {
		return errors.New("lifecycle collector not initialized")
	}

	streamFn := c.stream
	if streamFn == nil {
		streamFn = defaultEventStream
	}
	if c.uptime == nil {
		c.uptime = defaultUptime
	}

	msgs, errs, err := streamFn(ctx)
	if err != nil {
		return err
	}
	c.log.Info("lifecycle collector started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *LifecycleCollector) handle(ctx context.Context, msg events.Message) {
	name := msg.Actor.Attributes["name"]
	if name == "" && len(msg.Actor.ID) >= 12 {
		name = msg.Actor.ID[:12]
	}
	if name == "" {
		return
	}

	var err error
	switch msg.Action {
	case events.ActionStart:
		err = c.agg.RecordContainerStart(ctx, name)
	case events.ActionRestart:
		err = c.agg.RecordContainerRestart(ctx, name)
	case events.ActionOOM:
		err = c.agg.AppendEvent(ctx, "container_oom", name, "container ran out of memory", attributesJSON(msg))
	case events.ActionDie:
		exitCode := msg.Actor.Attributes["exitCode"]
		if exitCode != "" && exitCode != "0" {
			if err = c.agg.RecordContainerCrash(ctx, name); err == nil {
				err = c.agg.AppendEvent(ctx, "container_crash", name,
					"container exited with code "+exitCode, attributesJSON(msg))
			}
		} else {
			uptime := c.safeUptime(ctx, msg.Actor.ID)
			err = c.agg.RecordContainerStop(ctx, name, uptime)
		}
	default:
		return
	}

	if err != nil {
		c.log.Warn("lifecycle event dropped",
			zap.String("container", name),
			zap.String("action", string(msg.Action)),
			zap.Error(err))
		c.cfg.OnError(err)
	}
}

func (c *LifecycleCollector) safeUptime(ctx context.Context, containerID string) int64 {
	if containerID == "" {
		return 0
	}
	uptime, err := c.uptime(ctx, containerID)
	if err != nil {
		c.log.Warn("uptime lookup failed", zap.String("container_id", containerID), zap.Error(err))
		c.cfg.OnError(err)
		return 0
	}
	return uptime
}

func attributesJSON(msg events.Message) string {
	buf, err := json.Marshal(msg.Actor.Attributes)
	if err != nil {
		return ""
	}
	return string(buf)
}

func defaultEventStream(ctx context.Context) (<-chan events.Message, <-chan error, error) {
	cli, err := engineClient()
	if err != nil {
		return nil, nil, err
	}
	msgs, errs := cli.Events(ctx, events.ListOptions{
		Filters: filters.NewArgs(filters.Arg("type", string(events.ContainerEventType))),
	})
	return msgs, errs, nil
}

// defaultUptime 用 inspect 的 StartedAt/FinishedAt 估算本次运行时长（秒）。
func defaultUptime(ctx context.Context, containerID string) (int64, error) {
	cli, err := engineClient()
	if err != nil {
		return 0, err
	}
	info, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0, err
	}
	if info.State == nil {
		return 0, nil
	}
	started, err := time.Parse(time.RFC3339Nano, info.State.StartedAt)
	if err != nil {
		return 0, nil
	}
	finished, err := time.Parse(time.RFC3339Nano, info.State.FinishedAt)
	if err != nil || finished.Before(started) {
		return 0, nil
	}
	return int64(finished.Sub(started).Seconds()), nil
}
