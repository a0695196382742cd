package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func New(ctx context.Context, dsn string, maxOpen, maxIdle int) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	r := NewWithDB(db)
	if err := r.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return r, nil
}

// NewWithDB 包装已有连接，不执行迁移
func NewWithDB(db *sql.DB) *Repo {
	return &Repo{db: db, now: time.Now}
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS symbols (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS exchanges (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  maker_fee DOUBLE PRECISION NOT NULL,
  taker_fee DOUBLE PRECISION NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  consecutive_errors INTEGER NOT NULL DEFAULT 0,
  last_successful_fetch TIMESTAMPTZ,
  last_error TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS exchange_symbols (
  exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
  symbol_id BIGINT NOT NULL REFERENCES symbols(id),
  native_symbol TEXT NOT NULL DEFAULT '',
  funding_interval_hours DOUBLE PRECISION,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY(exchange_id, symbol_id)
);

CREATE TABLE IF NOT EXISTS funding_rates (
  id BIGSERIAL PRIMARY KEY,
  exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
  symbol_id BIGINT NOT NULL REFERENCES symbols(id),
  rate DOUBLE PRECISION NOT NULL,
  next_funding_time TIMESTAMPTZ,
  captured_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_funding_rates_pair_ts ON funding_rates(exchange_id, symbol_id, captured_at);

CREATE TABLE IF NOT EXISTS latest_funding_rates (
  exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
  symbol_id BIGINT NOT NULL REFERENCES symbols(id),
  rate DOUBLE PRECISION NOT NULL,
  next_funding_time TIMESTAMPTZ,
  captured_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY(exchange_id, symbol_id)
);

CREATE TABLE IF NOT EXISTS market_data (
  exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
  symbol_id BIGINT NOT NULL REFERENCES symbols(id),
  volume_24h DOUBLE PRECISION,
  open_interest_usd DOUBLE PRECISION,
  best_bid DOUBLE PRECISION,
  best_ask DOUBLE PRECISION,
  spread_bps DOUBLE PRECISION,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY(exchange_id, symbol_id)
);
CREATE INDEX IF NOT EXISTS idx_market_data_updated ON market_data(updated_at);

CREATE TABLE IF NOT EXISTS positions (
  id UUID PRIMARY KEY,
  symbol_id BIGINT NOT NULL REFERENCES symbols(id),
  long_exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
  short_exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
  size_usd NUMERIC(20, 8) NOT NULL,
  entry_long_rate DOUBLE PRECISION NOT NULL,
  entry_short_rate DOUBLE PRECISION NOT NULL,
  entry_divergence DOUBLE PRECISION NOT NULL,
  opened_at TIMESTAMPTZ NOT NULL,
  current_long_rate DOUBLE PRECISION,
  current_short_rate DOUBLE PRECISION,
  current_divergence DOUBLE PRECISION,
  last_checked_at TIMESTAMPTZ,
  status TEXT NOT NULL,
  rebalance_pending BOOLEAN NOT NULL DEFAULT FALSE,
  rebalance_reason TEXT,
  exit_reason TEXT,
  closed_at TIMESTAMPTZ,
  realized_pnl_usd NUMERIC(20, 8),
  cumulative_funding_usd NUMERIC(20, 8) NOT NULL DEFAULT 0,
  funding_payments_count INTEGER NOT NULL DEFAULT 0,
  metadata JSONB NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_legs ON positions(symbol_id, long_exchange_id, short_exchange_id) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS funding_payments (
  id BIGSERIAL PRIMARY KEY,
  position_id UUID NOT NULL REFERENCES positions(id),
  paid_at TIMESTAMPTZ NOT NULL,
  long_leg_payment NUMERIC(20, 8) NOT NULL,
  short_leg_payment NUMERIC(20, 8) NOT NULL,
  net_payment NUMERIC(20, 8) NOT NULL,
  long_rate_at_payment DOUBLE PRECISION,
  short_rate_at_payment DOUBLE PRECISION,
  divergence_at_payment DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_funding_payments_position ON funding_payments(position_id, paid_at);

CREATE TABLE IF NOT EXISTS collection_logs (
  id BIGSERIAL PRIMARY KEY,
  exchange TEXT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL,
  success BOOLEAN NOT NULL,
  rates_fetched INTEGER NOT NULL,
  rates_stored INTEGER NOT NULL,
  market_data_stored INTEGER NOT NULL,
  latency_ms BIGINT NOT NULL,
  error TEXT
);
CREATE INDEX IF NOT EXISTS idx_collection_logs_exchange ON collection_logs(exchange, started_at);
`)
	return err
}

func (r *Repo) InsertCollectionLog(ctx context.Context, rec model.CollectionLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collection_logs(exchange, started_at, finished_at, success, rates_fetched,
			rates_stored, market_data_stored, latency_ms, error)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.Exchange, rec.StartedAt, rec.FinishedAt, rec.Success, rec.RatesFetched,
		rec.RatesStored, rec.MarketDataStored, rec.LatencyMs, nullString(rec.Error))
	return err
}

func (r *Repo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timeOf(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatOf(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Float(v.Float64)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// anyOf 生成 "col = ANY($n)"，pgx 将 []string 编码为 text[]
func anyOf(col string, values []string, not bool, args []interface{}) (string, []interface{}) {
	args = append(args, values)
	if not {
		return fmt.Sprintf("NOT (%s = ANY($%d))", col, len(args)), args
	}
	return fmt.Sprintf("%s = ANY($%d)", col, len(args)), args
}

func joinWhere(conds []string) string {
	return strings.Join(conds, " AND ")
}

var _ port.Store = (*Repo)(nil)
