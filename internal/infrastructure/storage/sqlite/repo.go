package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"

	_ "modernc.org/sqlite"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// 单连接串行化写入，事务之间不会交错
	db.SetMaxOpenConns(1)

	r := &Repo{db: db, now: time.Now}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS symbols (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS exchanges (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  maker_fee REAL NOT NULL,
  taker_fee REAL NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  consecutive_errors INTEGER NOT NULL DEFAULT 0,
  last_successful_fetch INTEGER,
  last_error INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS exchange_symbols (
  exchange_id INTEGER NOT NULL REFERENCES exchanges(id),
  symbol_id INTEGER NOT NULL REFERENCES symbols(id),
  native_symbol TEXT NOT NULL,
  funding_interval_hours REAL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY(exchange_id, symbol_id)
);

CREATE TABLE IF NOT EXISTS funding_rates (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  exchange_id INTEGER NOT NULL REFERENCES exchanges(id),
  symbol_id INTEGER NOT NULL REFERENCES symbols(id),
  rate REAL NOT NULL,
  next_funding_time INTEGER,
  captured_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_funding_rates_pair_ts ON funding_rates(exchange_id, symbol_id, captured_at);

CREATE TABLE IF NOT EXISTS latest_funding_rates (
  exchange_id INTEGER NOT NULL REFERENCES exchanges(id),
  symbol_id INTEGER NOT NULL REFERENCES symbols(id),
  rate REAL NOT NULL,
  next_funding_time INTEGER,
  captured_at INTEGER NOT NULL,
  PRIMARY KEY(exchange_id, symbol_id)
);

CREATE TABLE IF NOT EXISTS market_data (
  exchange_id INTEGER NOT NULL REFERENCES exchanges(id),
  symbol_id INTEGER NOT NULL REFERENCES symbols(id),
  volume_24h REAL,
  open_interest_usd REAL,
  best_bid REAL,
  best_ask REAL,
  spread_bps REAL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY(exchange_id, symbol_id)
);
CREATE INDEX IF NOT EXISTS idx_market_data_updated ON market_data(updated_at);

CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  symbol_id INTEGER NOT NULL REFERENCES symbols(id),
  long_exchange_id INTEGER NOT NULL REFERENCES exchanges(id),
  short_exchange_id INTEGER NOT NULL REFERENCES exchanges(id),
  size_usd TEXT NOT NULL,
  entry_long_rate REAL NOT NULL,
  entry_short_rate REAL NOT NULL,
  entry_divergence REAL NOT NULL,
  opened_at INTEGER NOT NULL,
  current_long_rate REAL,
  current_short_rate REAL,
  current_divergence REAL,
  last_checked_at INTEGER,
  status TEXT NOT NULL,
  rebalance_pending INTEGER NOT NULL DEFAULT 0,
  rebalance_reason TEXT,
  exit_reason TEXT,
  closed_at INTEGER,
  realized_pnl_usd TEXT,
  cumulative_funding_usd TEXT NOT NULL DEFAULT '0',
  funding_payments_count INTEGER NOT NULL DEFAULT 0,
  metadata TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_legs ON positions(symbol_id, long_exchange_id, short_exchange_id, status);

CREATE TABLE IF NOT EXISTS funding_payments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  position_id TEXT NOT NULL REFERENCES positions(id),
  paid_at INTEGER NOT NULL,
  long_leg_payment TEXT NOT NULL,
  short_leg_payment TEXT NOT NULL,
  net_payment TEXT NOT NULL,
  long_rate_at_payment REAL,
  short_rate_at_payment REAL,
  divergence_at_payment REAL
);
CREATE INDEX IF NOT EXISTS idx_funding_payments_position ON funding_payments(position_id, paid_at);

CREATE TABLE IF NOT EXISTS collection_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  exchange TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL,
  success INTEGER NOT NULL,
  rates_fetched INTEGER NOT NULL,
  rates_stored INTEGER NOT NULL,
  market_data_stored INTEGER NOT NULL,
  latency_ms INTEGER NOT NULL,
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
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Exchange, rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(), rec.Success, rec.RatesFetched,
		rec.RatesStored, rec.MarketDataStored, rec.LatencyMs, nullString(rec.Error))
	return err
}

// inTx 在单个事务内执行 fn，fn 返回错误时回滚
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

func msOf(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeOf(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func fromMs(v int64) time.Time { return time.UnixMilli(v).UTC() }

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

// inClause 生成 "col IN (?, ?)" 并追加参数
func inClause(col string, values []string, not bool, args []interface{}) (string, []interface{}) {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		args = append(args, v)
	}
	op := "IN"
	if not {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(marks, ", ")), args
}

var _ port.Store = (*Repo)(nil)
