package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// GetOrCreateSymbol 按名称查找，不存在则创建
func (r *Repo) GetOrCreateSymbol(ctx context.Context, name string) (model.Symbol, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO symbols(name, created_at) VALUES(?, ?) ON CONFLICT(name) DO NOTHING`,
		name, r.now().UnixMilli())
	if err != nil {
		return model.Symbol{}, err
	}
	sym, _, err := r.FindSymbol(ctx, name)
	return sym, err
}

func (r *Repo) FindSymbol(ctx context.Context, name string) (model.Symbol, bool, error) {
	var s model.Symbol
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM symbols WHERE name = ?`, name).Scan(&s.ID, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Symbol{}, false, nil
	}
	return s, err == nil, err
}

func (r *Repo) GetSymbolByID(ctx context.Context, id int64) (model.Symbol, bool, error) {
	var s model.Symbol
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM symbols WHERE id = ?`, id).Scan(&s.ID, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Symbol{}, false, nil
	}
	return s, err == nil, err
}

// UpsertExchange 写入交易所及手续费，不重置健康计数
func (r *Repo) UpsertExchange(ctx context.Context, name string, fees model.FeeStructure, active bool) (model.Exchange, error) {
	now := r.now().UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchanges(name, maker_fee, taker_fee, is_active, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		maker_fee=excluded.maker_fee, taker_fee=excluded.taker_fee,
		is_active=excluded.is_active, updated_at=excluded.updated_at
	`, name, fees.MakerFee, fees.TakerFee, active, now, now)
	if err != nil {
		return model.Exchange{}, err
	}
	ex, _, err := r.FindExchange(ctx, name)
	return ex, err
}

const exchangeColumns = `id, name, maker_fee, taker_fee, is_active, consecutive_errors, last_successful_fetch, last_error`

func scanExchange(row interface{ Scan(...interface{}) error }) (model.Exchange, error) {
	var (
		ex          model.Exchange
		lastOK, bad sql.NullInt64
	)
	if err := row.Scan(&ex.ID, &ex.Name, &ex.MakerFee, &ex.TakerFee, &ex.IsActive, &ex.ConsecutiveErrors, &lastOK, &bad); err != nil {
		return model.Exchange{}, err
	}
	ex.LastSuccessfulFetch = timeOf(lastOK)
	ex.LastError = timeOf(bad)
	return ex, nil
}

func (r *Repo) FindExchange(ctx context.Context, name string) (model.Exchange, bool, error) {
	ex, err := scanExchange(r.db.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exchange{}, false, nil
	}
	return ex, err == nil, err
}

func (r *Repo) GetExchangeByID(ctx context.Context, id int64) (model.Exchange, bool, error) {
	ex, err := scanExchange(r.db.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exchange{}, false, nil
	}
	return ex, err == nil, err
}

func (r *Repo) ListExchanges(ctx context.Context, activeOnly bool) ([]model.Exchange, error) {
	q := `SELECT ` + exchangeColumns + ` FROM exchanges`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	rows, err := r.db.QueryContext(ctx, q+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (r *Repo) RecordFetchSuccess(ctx context.Context, exchangeID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exchanges SET consecutive_errors = 0, last_successful_fetch = ?, updated_at = ? WHERE id = ?
	`, at.UnixMilli(), r.now().UnixMilli(), exchangeID)
	return err
}

func (r *Repo) RecordFetchFailure(ctx context.Context, exchangeID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exchanges SET consecutive_errors = consecutive_errors + 1, last_error = ?, updated_at = ? WHERE id = ?
	`, at.UnixMilli(), r.now().UnixMilli(), exchangeID)
	return err
}

func (r *Repo) UpsertExchangeSymbol(ctx context.Context, exchangeID, symbolID int64, nativeSymbol string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_symbols(exchange_id, symbol_id, native_symbol, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(exchange_id, symbol_id) DO UPDATE SET
		native_symbol=excluded.native_symbol, updated_at=excluded.updated_at
	`, exchangeID, symbolID, nativeSymbol, r.now().UnixMilli())
	return err
}

func (r *Repo) SetFundingInterval(ctx context.Context, exchangeID, symbolID int64, hours float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_symbols(exchange_id, symbol_id, native_symbol, funding_interval_hours, updated_at)
		VALUES(?, ?, '', ?, ?)
		ON CONFLICT(exchange_id, symbol_id) DO UPDATE SET
		funding_interval_hours=excluded.funding_interval_hours, updated_at=excluded.updated_at
	`, exchangeID, symbolID, hours, r.now().UnixMilli())
	return err
}

// InsertFundingRate 追加时间序列并 upsert 最新投影
func (r *Repo) InsertFundingRate(ctx context.Context, snap model.FundingRateSnapshot) error {
	next := msOf(snap.NextFundingTime)
	captured := snap.CapturedAt.UnixMilli()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO funding_rates(exchange_id, symbol_id, rate, next_funding_time, captured_at)
			VALUES(?, ?, ?, ?, ?)
		`, snap.ExchangeID, snap.SymbolID, snap.Rate, next, captured); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO latest_funding_rates(exchange_id, symbol_id, rate, next_funding_time, captured_at)
			VALUES(?, ?, ?, ?, ?)
			ON CONFLICT(exchange_id, symbol_id) DO UPDATE SET
			rate=excluded.rate, next_funding_time=excluded.next_funding_time, captured_at=excluded.captured_at
			WHERE excluded.captured_at >= latest_funding_rates.captured_at
		`, snap.ExchangeID, snap.SymbolID, snap.Rate, next, captured)
		return err
	})
}

func (r *Repo) UpsertMarketData(ctx context.Context, snap model.MarketDataSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO market_data(exchange_id, symbol_id, volume_24h, open_interest_usd, best_bid, best_ask, spread_bps, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange_id, symbol_id) DO UPDATE SET
		volume_24h=excluded.volume_24h, open_interest_usd=excluded.open_interest_usd,
		best_bid=excluded.best_bid, best_ask=excluded.best_ask,
		spread_bps=excluded.spread_bps, updated_at=excluded.updated_at
	`, snap.ExchangeID, snap.SymbolID, nullFloat(snap.Volume24h), nullFloat(snap.OpenInterestUSD),
		nullFloat(snap.BestBid), nullFloat(snap.BestAsk), nullFloat(snap.SpreadBps), snap.UpdatedAt.UnixMilli())
	return err
}

func (r *Repo) DeleteStaleMarketData(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM market_data WHERE updated_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LatestQuotes 活跃交易所的最新费率联合当前行情
func (r *Repo) LatestQuotes(ctx context.Context, q port.QuoteQuery) ([]model.Quote, error) {
	var (
		where = []string{"e.is_active = 1"}
		args  []interface{}
		cond  string
	)
	if len(q.Symbols) > 0 {
		cond, args = inClause("s.name", q.Symbols, false, args)
		where = append(where, cond)
	}
	if len(q.Exchanges) > 0 {
		cond, args = inClause("e.name", q.Exchanges, false, args)
		where = append(where, cond)
	}
	if len(q.ExcludeExchanges) > 0 {
		cond, args = inClause("e.name", q.ExcludeExchanges, true, args)
		where = append(where, cond)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, e.id, e.name, l.rate, l.next_funding_time, l.captured_at,
		       es.funding_interval_hours, m.volume_24h, m.open_interest_usd, m.spread_bps
		FROM latest_funding_rates l
		JOIN symbols s ON s.id = l.symbol_id
		JOIN exchanges e ON e.id = l.exchange_id
		LEFT JOIN exchange_symbols es ON es.exchange_id = l.exchange_id AND es.symbol_id = l.symbol_id
		LEFT JOIN market_data m ON m.exchange_id = l.exchange_id AND m.symbol_id = l.symbol_id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY s.name, e.name
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Quote
	for rows.Next() {
		var (
			qt                      model.Quote
			next                    sql.NullInt64
			captured                int64
			interval, vol, oi, sprd sql.NullFloat64
		)
		if err := rows.Scan(&qt.SymbolID, &qt.Symbol, &qt.ExchangeID, &qt.Exchange, &qt.Rate, &next, &captured,
			&interval, &vol, &oi, &sprd); err != nil {
			return nil, err
		}
		qt.NextFundingTime = timeOf(next)
		qt.CapturedAt = fromMs(captured)
		qt.IntervalHours = floatOf(interval)
		qt.Volume24h = floatOf(vol)
		qt.OpenInterestUSD = floatOf(oi)
		qt.SpreadBps = floatOf(sprd)
		out = append(out, qt)
	}
	return out, rows.Err()
}
