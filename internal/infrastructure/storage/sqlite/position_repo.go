package sqlite

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
	SELECT p.id, p.symbol_id, s.name, p.long_exchange_id, le.name, p.short_exchange_id, se.name,
	       p.size_usd, p.entry_long_rate, p.entry_short_rate, p.entry_divergence, p.opened_at,
	       p.current_long_rate, p.current_short_rate, p.current_divergence, p.last_checked_at,
	       p.status, p.rebalance_pending, p.rebalance_reason, p.exit_reason, p.closed_at,
	       p.realized_pnl_usd, p.cumulative_funding_usd, p.funding_payments_count, p.metadata
	FROM positions p
	JOIN symbols s ON s.id = p.symbol_id
	JOIN exchanges le ON le.id = p.long_exchange_id
	JOIN exchanges se ON se.id = p.short_exchange_id`

func scanPosition(row interface{ Scan(...interface{}) error }) (model.Position, error) {
	var (
		p                        model.Position
		opened                   int64
		curLong, curShort, div   sql.NullFloat64
		checked, closed          sql.NullInt64
		status                   string
		rebalanceReason, exitRsn sql.NullString
		realized                 decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.SymbolID, &p.Symbol, &p.LongExchangeID, &p.LongExchange, &p.ShortExchangeID, &p.ShortExchange,
		&p.SizeUSD, &p.EntryLongRate, &p.EntryShortRate, &p.EntryDivergence, &opened,
		&curLong, &curShort, &div, &checked,
		&status, &p.RebalancePending, &rebalanceReason, &exitRsn, &closed,
		&realized, &p.CumulativeFundingUSD, &p.FundingPaymentsCount, &p.Metadata)
	if err != nil {
		return model.Position{}, err
	}
	p.OpenedAt = fromMs(opened)
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
	now := r.now().UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions(
			id, symbol_id, long_exchange_id, short_exchange_id, size_usd,
			entry_long_rate, entry_short_rate, entry_divergence, opened_at, status,
			rebalance_pending, cumulative_funding_usd, funding_payments_count, metadata,
			created_at, updated_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?)
	`, p.ID, p.SymbolID, p.LongExchangeID, p.ShortExchangeID, p.SizeUSD.String(),
		p.EntryLongRate, p.EntryShortRate, p.EntryDivergence, p.OpenedAt.UnixMilli(), string(p.Status),
		p.CumulativeFundingUSD.String(), p.Metadata, now, now)
	return err
}

func (r *Repo) GetPosition(ctx context.Context, id string) (model.Position, bool, error) {
	p, err := scanPosition(r.db.QueryRowContext(ctx, positionSelect+` WHERE p.id = ?`, id))
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
			current_long_rate = ?, current_short_rate = ?, current_divergence = ?, last_checked_at = ?,
			status = ?, rebalance_pending = ?, rebalance_reason = ?, exit_reason = ?, closed_at = ?,
			realized_pnl_usd = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND (status = 'open' OR ? = 'closed')
	`, nullFloat(p.CurrentLongRate), nullFloat(p.CurrentShortRate), nullFloat(p.CurrentDivergence), msOf(p.LastCheckedAt),
		string(p.Status), p.RebalancePending, nullString(p.RebalanceReason), nullString(p.ExitReason), msOf(p.ClosedAt),
		realized, p.Metadata, r.now().UnixMilli(), p.ID, string(p.Status))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	return r.missingOrClosed(ctx, p.ID)
}

func (r *Repo) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return r.queryPositions(ctx, `p.status = 'open'`)
}

func (r *Repo) ListPendingRebalance(ctx context.Context) ([]model.Position, error) {
	return r.queryPositions(ctx, `p.status = 'open' AND p.rebalance_pending = 1`)
}

func (r *Repo) FindOpenPosition(ctx context.Context, symbolID, longExchangeID, shortExchangeID int64) (model.Position, bool, error) {
	ps, err := r.queryPositions(ctx, `p.status = 'open' AND p.symbol_id = ? AND p.long_exchange_id = ? AND p.short_exchange_id = ?`,
		symbolID, longExchangeID, shortExchangeID)
	if err != nil || len(ps) == 0 {
		return model.Position{}, false, err
	}
	return ps[0], true, nil
}

func (r *Repo) CountOpenBySymbol(ctx context.Context, symbolID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE status = 'open' AND symbol_id = ?`, symbolID).Scan(&n)
	return n, err
}

// RecordFundingPayment 流水与累计值在同一事务内写入
func (r *Repo) RecordFundingPayment(ctx context.Context, pay model.FundingPayment) (model.FundingPayment, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var (
			status     string
			cumulative decimal.Decimal
		)
		err := tx.QueryRowContext(ctx, `SELECT status, cumulative_funding_usd FROM positions WHERE id = ?`, pay.PositionID).
			Scan(&status, &cumulative)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("position %s: %w", pay.PositionID, model.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if model.PositionStatus(status) != model.PositionOpen {
			return fmt.Errorf("position %s: %w", pay.PositionID, model.ErrPositionClosed)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO funding_payments(position_id, paid_at, long_leg_payment, short_leg_payment, net_payment,
				long_rate_at_payment, short_rate_at_payment, divergence_at_payment)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, pay.PositionID, pay.PaidAt.UnixMilli(), pay.LongLegPayment.String(), pay.ShortLegPayment.String(), pay.NetPayment.String(),
			nullFloat(pay.LongRateAtPayment), nullFloat(pay.ShortRateAtPayment), nullFloat(pay.DivergenceAtPayment))
		if err != nil {
			return err
		}
		if pay.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE positions SET cumulative_funding_usd = ?, funding_payments_count = funding_payments_count + 1, updated_at = ?
			WHERE id = ?
		`, cumulative.Add(pay.NetPayment).String(), r.now().UnixMilli(), pay.PositionID)
		return err
	})
	if err != nil {
		return model.FundingPayment{}, err
	}
	return pay, nil
}

func (r *Repo) ListFundingPayments(ctx context.Context, positionID string) ([]model.FundingPayment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, position_id, paid_at, long_leg_payment, short_leg_payment, net_payment,
		       long_rate_at_payment, short_rate_at_payment, divergence_at_payment
		FROM funding_payments WHERE position_id = ? ORDER BY paid_at, id
	`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FundingPayment
	for rows.Next() {
		var (
			pay                 model.FundingPayment
			paid                int64
			longR, shortR, divR sql.NullFloat64
		)
		if err := rows.Scan(&pay.ID, &pay.PositionID, &paid, &pay.LongLegPayment, &pay.ShortLegPayment, &pay.NetPayment,
			&longR, &shortR, &divR); err != nil {
			return nil, err
		}
		pay.PaidAt = fromMs(paid)
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
			current_divergence = ?,
			current_long_rate = COALESCE(?, current_long_rate),
			current_short_rate = COALESCE(?, current_short_rate),
			last_checked_at = ?, updated_at = ?
		WHERE id = ?
	`, divergence, longR, shortR, at.UnixMilli(), r.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

// SetRebalance 只作用于 open 持仓
func (r *Repo) SetRebalance(ctx context.Context, id string, pending bool, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions SET rebalance_pending = ?, rebalance_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'open'
	`, pending, nullString(reason), r.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	return r.missingOrClosed(ctx, id)
}

// ClosePosition 仅当状态为 open 时关闭，返回是否发生了状态迁移
func (r *Repo) ClosePosition(ctx context.Context, id, exitReason string, realizedPnl *decimal.Decimal, at time.Time) (bool, error) {
	var realized sql.NullString
	if realizedPnl != nil {
		realized = sql.NullString{String: realizedPnl.String(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions SET
			status = 'closed', exit_reason = ?, closed_at = ?,
			realized_pnl_usd = COALESCE(?, cumulative_funding_usd),
			rebalance_pending = 0, updated_at = ?
		WHERE id = ? AND status = 'open'
	`, nullString(exitReason), at.UnixMilli(), realized, r.now().UnixMilli(), id)
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
	err = r.missingOrClosed(ctx, id)
	if errors.Is(err, model.ErrPositionClosed) {
		return false, nil
	}
	return false, err
}

func (r *Repo) PortfolioSummary(ctx context.Context) (model.PortfolioSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT size_usd, cumulative_funding_usd, rebalance_pending FROM positions WHERE status = 'open'
	`)
	if err != nil {
		return model.PortfolioSummary{}, err
	}
	defer rows.Close()

	sum := model.PortfolioSummary{TotalExposureUSD: decimal.Zero, TotalCumulativePnlUSD: decimal.Zero}
	for rows.Next() {
		var (
			size, funding decimal.Decimal
			pending       bool
		)
		if err := rows.Scan(&size, &funding, &pending); err != nil {
			return model.PortfolioSummary{}, err
		}
		sum.TotalPositions++
		sum.TotalExposureUSD = sum.TotalExposureUSD.Add(size)
		sum.TotalCumulativePnlUSD = sum.TotalCumulativePnlUSD.Add(funding)
		if pending {
			sum.PositionsPendingRebalance++
		}
	}
	return sum, rows.Err()
}

// missingOrClosed 区分不存在与已平仓
func (r *Repo) missingOrClosed(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM positions WHERE id = ?`, id).Scan(&status)
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
