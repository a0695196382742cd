package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

func (r *Repo) GetOrCreateSymbol(ctx context.Context, name string) (model.Symbol, error) {
	var s model.Symbol
	// DO UPDATE 保证冲突时也返回行
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO symbols(name) VALUES($1)
		ON CONFLICT(name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`, name).Scan(&s.ID, &s.Name)
	return s, err
}

func (r *Repo) FindSymbol(ctx context.Context, name string) (model.Symbol, bool, error) {
	var s model.Symbol
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM symbols WHERE name = $1`, name).Scan(&s.ID, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Symbol{}, false, nil
	}
	return s, err == nil, err
}

func (r *Repo) GetSymbolByID(ctx context.Context, id int64) (model.Symbol, bool, error) {
	var s model.Symbol
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM symbols WHERE id = $1`, id).Scan(&s.ID, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Symbol{}, false, nil
	}
	return s, err == nil, err
}

const exchangeColumns = `id, name, maker_fee, taker_fee, is_active, consecutive_errors, last_successful_fetch, last_error`

func scanExchange(row interface{ Scan(...interface{}) error }) (model.Exchange, error) {
	var (
		ex          model.Exchange
		lastOK, bad sql.NullTime
	)
	if err := row.Scan(&ex.ID, &ex.Name, &ex.MakerFee, &ex.TakerFee, &ex.IsActive, &ex.ConsecutiveErrors, &lastOK, &bad); err != nil {
		return model.Exchange{}, err
	}
	ex.LastSuccessfulFetch = timeOf(lastOK)
	ex.LastError = timeOf(bad)
	return ex, nil
}

func (r *Repo) UpsertExchange(ctx context.Context, name string, fees model.FeeStructure, active bool) (model.Exchange, error) {
	return scanExchange(r.db.QueryRowContext(ctx, `
		INSERT INTO exchanges(name, maker_fee, taker_fee, is_active)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(name) DO UPDATE SET
		maker_fee = EXCLUDED.maker_fee, taker_fee = EXCLUDED.taker_fee,
		is_active = EXCLUDED.is_active, updated_at = now()
		RETURNING `+exchangeColumns, name, fees.MakerFee, fees.TakerFee, active))
}

func (r *Repo) FindExchange(ctx context.Context, name string) (model.Exchange, bool, error) {
	ex, err := scanExchange(r.db.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exchange{}, false, nil
	}
	return ex, err == nil, err
}

func (r *Repo) GetExchangeByID(ctx context.Context, id int64) (model.Exchange, bool, error) {
	ex, err := scanExchange(r.db.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exchange{}, false, nil
	}
	return ex, err == nil, err
}

func (r *Repo) ListExchanges(ctx context.Context, activeOnly bool) ([]model.Exchange, error) {
	q := `SELECT ` + exchangeColumns + ` FROM exchanges`
	if activeOnly {
		q += ` WHERE is_active`
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
		UPDATE exchanges SET consecutive_errors = 0, last_successful_fetch = $1, updated_at = now() WHERE id = $2
	`, at, exchangeID)
	return err
}

func (r *Repo) RecordFetchFailure(ctx context.Context, exchangeID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exchanges SET consecutive_errors = consecutive_errors + 1, last_error = $1, updated_at = now() WHERE id = $2
	`, at, exchangeID)
	return err
}

func (r *Repo) UpsertExchangeSymbol(ctx context.Context, exchangeID, symbolID int64, nativeSymbol string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_symbols(exchange_id, symbol_id, native_symbol)
		VALUES($1, $2, $3)
		ON CONFLICT(exchange_id, symbol_id) DO UPDATE SET
		native_symbol = EXCLUDED.native_symbol, updated_at = now()
	`, exchangeID, symbolID, nativeSymbol)
	return err
}

func (r *Repo) SetFundingInterval(ctx context.Context, exchangeID, symbolID int64, hours float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_symbols(exchange_id, symbol_id, funding_interval_hours)
		VALUES($1, $2, $3)
		ON CONFLICT(exchange_id, symbol_id) DO UPDATE SET
		funding_interval_hours = EXCLUDED.funding_interval_hours, updated_at = now()
	`, exchangeID, symbolID, hours)
	return err
}

func (r *Repo) InsertFundingRate(ctx context.Context, snap model.FundingRateSnapshot) error {
	next := nullTime(snap.NextFundingTime)
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO funding_rates(exchange_id, symbol_id, rate, next_funding_time, captured_at)
			VALUES($1, $2, $3, $4, $5)
		`, snap.ExchangeID, snap.SymbolID, snap.Rate, next, snap.CapturedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO latest_funding_rates(exchange_id, symbol_id, rate, next_funding_time, captured_at)
			VALUES($1, $2, $3, $4, $5)
			ON CONFLICT(exchange_id, symbol_id) DO UPDATE SET
			rate = EXCLUDED.rate, next_funding_time = EXCLUDED.next_funding_time, captured_at = EXCLUDED.captured_at
			WHERE EXCLUDED.captured_at >= latest_funding_rates.captured_at
		`, snap.ExchangeID, snap.SymbolID, snap.Rate, next, snap.CapturedAt)
		return err
	})
}

func (r *Repo) UpsertMarketData(ctx context.Context, snap model.MarketDataSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO market_data(exchange_id, symbol_id, volume_24h, open_interest_usd, best_bid, best_ask, spread_bps, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT(exchange_id, symbol_id) DO UPDATE SET
		volume_24h = EXCLUDED.volume_24h, open_interest_usd = EXCLUDED.open_interest_usd,
		best_bid = EXCLUDED.best_bid, best_ask = EXCLUDED.best_ask,
		spread_bps = EXCLUDED.spread_bps, updated_at = EXCLUDED.updated_at
	`, snap.ExchangeID, snap.SymbolID, nullFloat(snap.Volume24h), nullFloat(snap.OpenInterestUSD),
		nullFloat(snap.BestBid), nullFloat(snap.BestAsk), nullFloat(snap.SpreadBps), snap.UpdatedAt)
	return err
}

func (r *Repo) DeleteStaleMarketData(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM market_data WHERE updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) LatestQuotes(ctx context.Context, q port.QuoteQuery) ([]model.Quote, error) {
	var (
		where = []string{"e.is_active"}
		args  []interface{}
		cond  string
	)
	if len(q.Symbols) > 0 {
		cond, args = anyOf("s.name", q.Symbols, false, args)
		where = append(where, cond)
	}
	if len(q.Exchanges) > 0 {
		cond, args = anyOf("e.name", q.Exchanges, false, args)
		where = append(where, cond)
	}
	if len(q.ExcludeExchanges) > 0 {
		cond, args = anyOf("e.name", q.ExcludeExchanges, true, args)
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
		WHERE `+joinWhere(where)+`
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
			next                    sql.NullTime
			interval, vol, oi, sprd sql.NullFloat64
		)
		if err := rows.Scan(&qt.SymbolID, &qt.Symbol, &qt.ExchangeID, &qt.Exchange, &qt.Rate, &next, &qt.CapturedAt,
			&interval, &vol, &oi, &sprd); err != nil {
			return nil, err
		}
		qt.NextFundingTime = timeOf(next)
		qt.CapturedAt = qt.CapturedAt.UTC()
		qt.IntervalHours = floatOf(interval)
		qt.Volume24h = floatOf(vol)
		qt.OpenInterestUSD = floatOf(oi)
		qt.SpreadBps = floatOf(sprd)
		out = append(out, qt)
	}
	return out, rows.Err()
}
