package configreg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrBadCredential 表示在线服务明确拒绝了候选凭据（区别于服务不可达）。
var ErrBadCredential = errors.New("credential rejected by live check")

// LiveChecker 对候选凭据做在线验证。
// 验证必须发生在登记事务之外的独立会话里，并受调用方超时约束。
// 返回 nil 表示凭据有效；ErrBadCredential 表示服务端明确拒绝；
// 其他错误表示服务不可达，调用方应按 unknown 处理。
type LiveChecker interface {
	CheckRoot(ctx context.Context, password string) error
	CheckPair(ctx context.Context, username, password string) error
}

// PgxChecker 用一条全新的 Postgres 会话验证凭据。
// 每次验证独立 sql.Open + Ping + Close，不与登记库共享任何连接。
type PgxChecker struct {
	Host           string
	Port           int
	DBName         string
	RootUser       string
	ConnectTimeout time.Duration
}

func (c PgxChecker) withDefaults() PgxChecker {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 5432
	}
	if c.DBName == "" {
		c.DBName = "postgres"
	}
	if c.RootUser == "" {
		c.RootUser = "postgres"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

func (c PgxChecker) CheckRoot(ctx context.Context, password string) error {
	cc := c.withDefaults()
	return cc.probe(ctx, cc.RootUser, password)
}

func (c PgxChecker) CheckPair(ctx context.Context, username, password string) error {
	cc := c.withDefaults()
	return cc.probe(ctx, username, password)
}

func (c PgxChecker) probe(ctx context.Context, username, password string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?connect_timeout=%d",
		url.QueryEscape(username),
		url.QueryEscape(password),
		c.Host,
		c.Port,
		c.DBName,
		int(c.ConnectTimeout/time.Second)+1,
	)

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		// 认证被拒不是瞬态故障，立即返回。
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrBadCredential)
		}),
	)

	return r.Do(func() error {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open probe session: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			if isAuthError(err) {
				return fmt.Errorf("%w: %v", ErrBadCredential, err)
			}
			return fmt.Errorf("probe ping: %w", err)
		}
		return nil
	})
}

// isAuthError 区分“口令错误”与“服务不可达”。
// 28P01 invalid_password / 28000 invalid_authorization_specification。
func isAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "28P01" || pgErr.Code == "28000"
	}
	return false
}
