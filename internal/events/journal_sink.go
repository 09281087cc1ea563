package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"intraday-trader/internal/model"
)

// execer 是 *pgxpool.Pool 中用到的部分
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPool 创建连接池
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	return pgxpool.NewWithConfig(ctx, cfg)
}

const createClosedTrades = `create table if not exists closed_trades (
	id            text primary key,
	position_id   text not null,
	symbol        text not null,
	direction     text not null,
	entry_price   double precision not null,
	exit_price    double precision not null,
	quantity      bigint not null,
	pnl           double precision not null,
	exit_reason   text not null,
	rationale     text[] not null default '{}',
	opened_at     timestamptz not null,
	closed_at     timestamptz not null
)`

const insertClosedTrade = `insert into closed_trades
	(id, position_id, symbol, direction, entry_price, exit_price, quantity, pnl, exit_reason, rationale, opened_at, closed_at)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	on conflict (id) do nothing`

// JournalSink 把已平仓交易持久化到 Postgres，其他事件忽略
type JournalSink struct {
	db execer
}

func NewJournalSink(db execer) *JournalSink {
	return &JournalSink{db: db}
}

// Migrate 建表，不依赖外部迁移工具
func (s *JournalSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createClosedTrades); err != nil {
		return fmt.Errorf("migrate closed_trades: %w", err)
	}
	return nil
}

func (s *JournalSink) Name() string { return "journal" }

func (s *JournalSink) Publish(ctx context.Context, e model.Event) error {
	if e.Kind != model.EventPositionClosed {
		return nil
	}
	t, ok := e.Payload.(model.ClosedTrade)
	if !ok {
		return fmt.Errorf("journal: unexpected payload %T", e.Payload)
	}
	rationale := t.Rationale
	if rationale == nil {
		rationale = []string{}
	}
	_, err := s.db.Exec(ctx, insertClosedTrade,
		t.ID, t.PositionID, t.Symbol, string(t.Direction),
		t.EntryPrice, t.ExitPrice, t.Quantity, t.PnL,
		string(t.ExitReason), rationale, t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", t.ID, err)
	}
	return nil
}
