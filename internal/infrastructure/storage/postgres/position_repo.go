package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fundarb/internal/domain/model"

	"github.com/shopspring/decimal"
)

const positionSelect = `
	SELECT p.id::text, p.symbol_id, s.name, p.long_exchange_id, le.name, p.short_exchange_id, se.name,
	       p.size_usd, p.entry_long_rate, p.entry_short_rate, p.entry_divergence, p.opened_at,
	       p.current_long_rate, p.current_short_rate, p.current_divergence, p.last_checked_at,
	       p.status, p.rebalance_pending, p.rebalance_reason, p.exit_reason, p.closed_at,
	       p.realized_pnl_usd, p.cumulative_funding_usd, p.funding_payments_count, p.metadata::text
	FROM positions p
	JOIN symbols s ON s.id = p.symbol_id
	JOIN exchanges le ON le.id = p.long_exchange_id
	JOIN exchanges se ON se.id = p.short_exchange_id`

func scanPosition(row interface{ Scan(...interface{}) error }) (model.Position, error) {
	var (
		p                        model.Position
		curLong, curShort, div   sql.NullFloat64
		checked, closed          sql.NullTime
		status                   string
		rebalanceReason, exitRsn sql.NullString
		realized                 decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.SymbolID, &p.Symbol, &p.LongExchangeID, &p.LongExchange, &p.ShortExchangeID, &p.ShortExchange,
		&p.SizeUSD, &p.EntryLongRate, &p.EntryShortRate, &p.EntryDivergence, &p.OpenedAt,
		&curLong, &curShort, &div, &checked,
		&status, &p.RebalancePending, &rebalanceReason, &exitRsn, &closed,
		&realized, &p.CumulativeFundingUSD, &p.FundingPaymentsCount, &p.Metadata)
	if err != nil {
		return model.Position{}, err
	}
	p.OpenedAt = p.OpenedAt.UTC()
	p.CurrentLongRate = floatOf(curLong)
	p.CurrentShortRate = floatOf(curShort)
	p.CurrentDivergence = floatOf(div)
	p.LastCheckedAt = timeOf(checked)
	p.Status = model.PositionStatus(status)
	p.RebalanceReason = rebalanceReason.String
	p.ExitReason = exitRsn.String
	p.ClosedAt = timeOf(closed)
	if realized.Valid {
		v := realized.Decimal
		p.RealizedPnlUSD = &v
	}
	return p, nil
}

func (r *Repo) queryPositions(ctx context.Context, where string, args ...interface{}) ([]model.Position, error) {
	rows, err := r.db.QueryContext(ctx, positionSelect+` WHERE `+where+` ORDER BY p.opened_at, p.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) CreatePosition(ctx context.Context, p model.Position) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions(
			id, symbol_id, long_exchange_id, short_exchange_id, size_usd,
			entry_long_rate, entry_short_rate, entry_divergence, opened_at, status,
			cumulative_funding_usd, metadata
		) VALUES($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11::numeric, $12::jsonb)
	`, p.ID, p.SymbolID, p.LongExchangeID, p.ShortExchangeID, p.SizeUSD.String(),
		p.EntryLongRate, p.EntryShortRate, p.EntryDivergence, p.OpenedAt, string(p.Status),
		p.CumulativeFundingUSD.String(), p.Metadata)
	return err
}

func (r *Repo) GetPosition(ctx context.Context, id string) (model.Position, bool, error) {
	p, err := scanPosition(r.db.QueryRowContext(ctx, positionSelect+` WHERE p.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Position{}, false, nil
	}
	return p, err == nil, err
}

// UpdatePosition 写回可变字段，资金费累计只由 RecordFundingPayment 修改
func (r *Repo) UpdatePosition(ctx context.Context, p model.Position) error {
	var realized sql.NullString
	if p.RealizedPnlUSD != nil {
		realized = sql.NullString{String: p.RealizedPnlUSD.String(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions SET
			current_long_rate = $1, current_short_rate = $2, current_divergence = $3, last_checked_at = $4,
			status = $5, rebalance_pending = $6, rebalance_reason = $7, exit_reason = $8, closed_at = $9,
			realized_pnl_usd = $10::numeric, metadata = $11::jsonb, updated_at = now()
		WHERE id = $12 AND (status = 'open' OR $5 = 'closed')
	`, nullFloat(p.CurrentLongRate), nullFloat(p.CurrentShortRate), nullFloat(p.CurrentDivergence), nullTime(p.LastCheckedAt),
		string(p.Status), p.RebalancePending, nullString(p.RebalanceReason), nullString(p.ExitReason), nullTime(p.ClosedAt),
		realized, p.Metadata, p.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	return missingOrClosed(ctx, r.db, p.ID)
}

func (r *Repo) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return r.queryPositions(ctx, `p.status = 'open'`)
}

func (r *Repo) ListPendingRebalance(ctx context.Context) ([]model.Position, error) {
	return r.queryPositions(ctx, `p.status = 'open' AND p.rebalance_pending`)
}

func (r *Repo) FindOpenPosition(ctx context.Context, symbolID, longExchangeID, shortExchangeID int64) (model.Position, bool, error) {
	ps, err := r.queryPositions(ctx, `p.status = 'open' AND p.symbol_id = $1 AND p.long_exchange_id = $2 AND p.short_exchange_id = $3`,
		symbolID, longExchangeID, shortExchangeID)
	if err != nil || len(ps) == 0 {
		return model.Position{}, false, err
	}
	return ps[0], true, nil
}

func (r *Repo) CountOpenBySymbol(ctx context.Context, symbolID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE status = 'open' AND symbol_id = $1`, symbolID).Scan(&n)
	return n, err
}

// RecordFundingPayment 累加在数据库侧完成，行锁保证并发结算不丢失
func (r *Repo) RecordFundingPayment(ctx context.Context, pay model.FundingPayment) (model.FundingPayment, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE positions SET
				cumulative_funding_usd = cumulative_funding_usd + $1::numeric,
				funding_payments_count = funding_payments_count + 1,
				updated_at = now()
			WHERE id = $2 AND status = 'open'
		`, pay.NetPayment.String(), pay.PositionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := missingOrClosed(ctx, tx, pay.PositionID); err != nil {
				return err
			}
			return fmt.Errorf("position %s: concurrent update", pay.PositionID)
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO funding_payments(position_id, paid_at, long_leg_payment, short_leg_payment, net_payment,
				long_rate_at_payment, short_rate_at_payment, divergence_at_payment)
			VALUES($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8)
			RETURNING id
		`, pay.PositionID, pay.PaidAt, pay.LongLegPayment.String(), pay.ShortLegPayment.String(), pay.NetPayment.String(),
			nullFloat(pay.LongRateAtPayment), nullFloat(pay.ShortRateAtPayment), nullFloat(pay.DivergenceAtPayment)).
			Scan(&pay.ID)
	})
	if err != nil {
		return model.FundingPayment{}, err
	}
	return pay, nil
}

func (r *Repo) ListFundingPayments(ctx context.Context, positionID string) ([]model.FundingPayment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, position_id::text, paid_at, long_leg_payment, short_leg_payment, net_payment,
		       long_rate_at_payment, short_rate_at_payment, divergence_at_payment
		FROM funding_payments WHERE position_id = $1 ORDER BY paid_at, id
	`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FundingPayment
	for rows.Next() {
		var (
			pay                 model.FundingPayment
			longR, shortR, divR sql.NullFloat64
		)
		if err := rows.Scan(&pay.ID, &pay.PositionID, &pay.PaidAt, &pay.LongLegPayment, &pay.ShortLegPayment, &pay.NetPayment,
			&longR, &shortR, &divR); err != nil {
			return nil, err
		}
		pay.PaidAt = pay.PaidAt.UTC()
		pay.LongRateAtPayment = floatOf(longR)
		pay.ShortRateAtPayment = floatOf(shortR)
		pay.DivergenceAtPayment = floatOf(divR)
		out = append(out, pay)
	}
	return out, rows.Err()
}

func (r *Repo) UpdatePositionMark(ctx context.Context, id string, divergence float64, rates *model.LegRates, at time.Time) error {
	var longR, shortR sql.NullFloat64
	if rates != nil {
		longR = sql.NullFloat64{Float64: rates.Long, Valid: true}
		shortR = sql.NullFloat64{Float64: rates.Short, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions SET
			current_divergence = $1,
			current_long_rate = COALESCE($2, current_long_rate),
			current_short_rate = COALESCE($3, current_short_rate),
			last_checked_at = $4, updated_at = now()
		WHERE id = $5
	`, divergence, longR, shortR, at, id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (r *Repo) SetRebalance(ctx context.Context, id string, pending bool, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions SET rebalance_pending = $1, rebalance_reason = $2, updated_at = now()
		WHERE id = $3 AND status = 'open'
	`, pending, nullString(reason), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	return missingOrClosed(ctx, r.db, id)
}

// ClosePosition 条件更新，重复关闭返回 false
func (r *Repo) ClosePosition(ctx context.Context, id, exitReason string, realizedPnl *decimal.Decimal, at time.Time) (bool, error) {
	var realized sql.NullString
	if realizedPnl != nil {
		realized = sql.NullString{String: realizedPnl.String(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions SET
			status = 'closed', exit_reason = $1, closed_at = $2,
			realized_pnl_usd = COALESCE($3::numeric, cumulative_funding_usd),
			rebalance_pending = FALSE, updated_at = now()
		WHERE id = $4 AND status = 'open'
	`, nullString(exitReason), at, realized, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	err = missingOrClosed(ctx, r.db, id)
	if errors.Is(err, model.ErrPositionClosed) {
		return false, nil
	}
	return false, err
}

func (r *Repo) PortfolioSummary(ctx context.Context) (model.PortfolioSummary, error) {
	var (
		sum               model.PortfolioSummary
		exposure, funding string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_usd), 0)::text, COALESCE(SUM(cumulative_funding_usd), 0)::text,
		       COUNT(*) FILTER (WHERE rebalance_pending)
		FROM positions WHERE status = 'open'
	`).Scan(&sum.TotalPositions, &exposure, &funding, &sum.PositionsPendingRebalance)
	if err != nil {
		return model.PortfolioSummary{}, err
	}
	if sum.TotalExposureUSD, err = decimal.NewFromString(exposure); err != nil {
		return model.PortfolioSummary{}, err
	}
	if sum.TotalCumulativePnlUSD, err = decimal.NewFromString(funding); err != nil {
		return model.PortfolioSummary{}, err
	}
	return sum, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// missingOrClosed 区分不存在与已平仓
func missingOrClosed(ctx context.Context, q queryRower, id string) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM positions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if model.PositionStatus(status) != model.PositionOpen {
		return fmt.Errorf("position %s: %w", id, model.ErrPositionClosed)
	}
	return nil
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	return nil
}
