package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PositionService 持仓管理器：持仓状态机与资金费流水。
// 不持有任何内存状态，所有读写直达存储。
type PositionService struct {
	repo     port.PositionRepository
	registry *Registry
	limits   domainsvc.RiskLimits
	now      func() time.Time
}

// NewPositionService 创建持仓管理器
func NewPositionService(repo port.PositionRepository, registry *Registry, limits domainsvc.RiskLimits) *PositionService {
	return &PositionService{
		repo:     repo,
		registry: registry,
		limits:   limits,
		now:      time.Now,
	}
}

// Create 开仓，返回持仓 ID
func (s *PositionService) Create(ctx context.Context, req model.NewPosition) (string, error) {
	if err := validateNewPosition(req); err != nil {
		return "", err
	}

	longID, err := s.exchangeID(ctx, req.LongExchange)
	if err != nil {
		return "", err
	}
	shortID, err := s.exchangeID(ctx, req.ShortExchange)
	if err != nil {
		return "", err
	}
	sym, err := s.registry.ResolveSymbol(ctx, req.Symbol)
	if err != nil {
		return "", err
	}

	if _, exists, err := s.repo.FindOpenPosition(ctx, sym.ID, longID, shortID); err != nil {
		return "", err
	} else if exists {
		return "", fmt.Errorf("%w: %s long %s short %s", model.ErrDuplicatePosition, sym.Name, req.LongExchange, req.ShortExchange)
	}
	if err := s.checkRisk(ctx, sym, req.SizeUSD); err != nil {
		return "", err
	}

	openedAt := req.OpenedAt
	if openedAt.IsZero() {
		openedAt = s.now()
	}
	pos := model.Position{
		ID:                   uuid.NewString(),
		SymbolID:             sym.ID,
		Symbol:               sym.Name,
		LongExchangeID:       longID,
		LongExchange:         NormalizeExchange(req.LongExchange),
		ShortExchangeID:      shortID,
		ShortExchange:        NormalizeExchange(req.ShortExchange),
		SizeUSD:              req.SizeUSD,
		EntryLongRate:        req.EntryLongRate,
		EntryShortRate:       req.EntryShortRate,
		EntryDivergence:      domainsvc.Divergence(req.EntryLongRate, req.EntryShortRate),
		OpenedAt:             openedAt.UTC(),
		Status:               model.PositionOpen,
		CumulativeFundingUSD: decimal.Zero,
		Metadata:             req.Metadata,
	}
	if err := s.repo.CreatePosition(ctx, pos); err != nil {
		return "", fmt.Errorf("create position: %w", err)
	}

	PositionsOpenedTotal.Inc()
	log.Info().
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("long", pos.LongExchange).
		Str("short", pos.ShortExchange).
		Str("size_usd", pos.SizeUSD.String()).
		Float64("divergence", pos.EntryDivergence).
		Msg("position opened")
	return pos.ID, nil
}

// Get 按 ID 读取持仓
func (s *PositionService) Get(ctx context.Context, id string) (model.Position, bool, error) {
	return s.repo.GetPosition(ctx, id)
}

// GetOpenPositions 所有 open 持仓
func (s *PositionService) GetOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.repo.ListOpenPositions(ctx)
}

// FindOpenPosition 查找同一腿组合的 open 持仓；名称未知时视为不存在
func (s *PositionService) FindOpenPosition(ctx context.Context, symbol, longExchange, shortExchange string) (model.Position, bool, error) {
	sym, ok, err := s.registry.LookupSymbol(ctx, symbol)
	if err != nil || !ok {
		return model.Position{}, false, err
	}
	longID, ok, err := s.registry.LookupExchangeID(ctx, longExchange)
	if err != nil || !ok {
		return model.Position{}, false, err
	}
	shortID, ok, err := s.registry.LookupExchangeID(ctx, shortExchange)
	if err != nil || !ok {
		return model.Position{}, false, err
	}
	return s.repo.FindOpenPosition(ctx, sym.ID, longID, shortID)
}

// Update 整行写回可变字段，调用方负责 读-改-写 的串行化。
// closed 是终态：不能改回 open，退出字段保持首次关闭时的值；
// open -> closed 走 Close，保证 closed_at 与 rebalance 标记一致。
func (s *PositionService) Update(ctx context.Context, p model.Position) error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty position id", model.ErrValidation)
	}
	if p.Status != model.PositionOpen && p.Status != model.PositionClosed {
		return fmt.Errorf("%w: status %q", model.ErrValidation, p.Status)
	}
	if err := p.Metadata.Validate(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrValidation, err)
	}

	cur, ok, err := s.repo.GetPosition(ctx, p.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("position %s: %w", p.ID, model.ErrNotFound)
	}

	if !cur.IsOpen() {
		if p.Status != model.PositionClosed {
			return fmt.Errorf("reopen position %s: %w", p.ID, model.ErrPositionClosed)
		}
		p.ExitReason, p.ClosedAt, p.RealizedPnlUSD = cur.ExitReason, cur.ClosedAt, cur.RealizedPnlUSD
		p.RebalancePending, p.RebalanceReason = false, ""
		return s.repo.UpdatePosition(ctx, p)
	}

	if p.Status == model.PositionOpen {
		p.ExitReason, p.ClosedAt, p.RealizedPnlUSD = "", nil, nil
		return s.repo.UpdatePosition(ctx, p)
	}

	exitReason, realized := p.ExitReason, p.RealizedPnlUSD
	p.Status, p.ExitReason, p.ClosedAt, p.RealizedPnlUSD = model.PositionOpen, "", nil, nil
	if err := s.repo.UpdatePosition(ctx, p); err != nil {
		return err
	}
	_, err = s.Close(ctx, p.ID, exitReason, realized)
	return err
}

// RecordFundingPayment 记录一次资金费结算：netPayment = short - long，
// 流水与累计值在同一事务内写入。
func (s *PositionService) RecordFundingPayment(ctx context.Context, positionID string, longLegPayment, shortLegPayment decimal.Decimal,
	paidAt time.Time, rates *model.LegRates, divergence *float64) (model.FundingPayment, error) {
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	pay := model.FundingPayment{
		PositionID:          positionID,
		PaidAt:              paidAt.UTC(),
		LongLegPayment:      longLegPayment,
		ShortLegPayment:     shortLegPayment,
		NetPayment:          shortLegPayment.Sub(longLegPayment),
		DivergenceAtPayment: divergence,
	}
	if rates != nil {
		pay.LongRateAtPayment = model.Float(rates.Long)
		pay.ShortRateAtPayment = model.Float(rates.Short)
		if divergence == nil {
			pay.DivergenceAtPayment = model.Float(domainsvc.Divergence(rates.Long, rates.Short))
		}
	}

	saved, err := s.repo.RecordFundingPayment(ctx, pay)
	if err != nil {
		return model.FundingPayment{}, fmt.Errorf("record funding payment %s: %w", positionID, err)
	}

	FundingPaymentsTotal.Inc()
	log.Info().
		Str("position_id", positionID).
		Str("net", saved.NetPayment.String()).
		Time("paid_at", saved.PaidAt).
		Msg("funding payment recorded")
	return saved, nil
}

// ListFundingPayments 持仓的资金费流水（按时间）
func (s *PositionService) ListFundingPayments(ctx context.Context, positionID string) ([]model.FundingPayment, error) {
	return s.repo.ListFundingPayments(ctx, positionID)
}

// UpdatePositionState 刷新持仓标记价差，不影响资金费累计
func (s *PositionService) UpdatePositionState(ctx context.Context, positionID string, currentDivergence float64, rates *model.LegRates) error {
	return s.repo.UpdatePositionMark(ctx, positionID, currentDivergence, rates, s.now().UTC())
}

// FlagForRebalance 标记再平衡；重复标记只覆盖原因
func (s *PositionService) FlagForRebalance(ctx context.Context, positionID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: empty rebalance reason", model.ErrValidation)
	}
	if err := s.repo.SetRebalance(ctx, positionID, true, reason); err != nil {
		return err
	}
	RebalanceFlagsTotal.WithLabelValues(reason).Inc()
	log.Info().Str("position_id", positionID).Str("reason", reason).Msg("position flagged for rebalance")
	return nil
}

// GetPendingRebalancePositions 等待再平衡的 open 持仓
func (s *PositionService) GetPendingRebalancePositions(ctx context.Context) ([]model.Position, error) {
	return s.repo.ListPendingRebalance(ctx)
}

// Close 平仓。已平仓时为幂等空操作；realizedPnl 为 nil 时取累计资金费。
func (s *PositionService) Close(ctx context.Context, positionID, exitReason string, realizedPnl *decimal.Decimal) (model.Position, error) {
	closed, err := s.repo.ClosePosition(ctx, positionID, exitReason, realizedPnl, s.now().UTC())
	if err != nil {
		return model.Position{}, fmt.Errorf("close position %s: %w", positionID, err)
	}

	pos, ok, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return model.Position{}, err
	}
	if !ok {
		return model.Position{}, fmt.Errorf("position %s: %w", positionID, model.ErrNotFound)
	}

	if !closed {
		log.Info().Str("position_id", positionID).Str("exit_reason", exitReason).Msg("position already closed, ignoring close")
		return pos, nil
	}

	PositionsClosedTotal.Inc()
	ev := log.Info().Str("position_id", positionID).Str("exit_reason", exitReason)
	if pos.RealizedPnlUSD != nil {
		ev = ev.Str("realized_pnl", pos.RealizedPnlUSD.String())
	}
	ev.Msg("position closed")
	return pos, nil
}

// GetPortfolioSummary open 持仓汇总
func (s *PositionService) GetPortfolioSummary(ctx context.Context) (model.PortfolioSummary, error) {
	return s.repo.PortfolioSummary(ctx)
}

func (s *PositionService) exchangeID(ctx context.Context, name string) (int64, error) {
	id, ok, err := s.registry.LookupExchangeID(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %w %q", model.ErrValidation, model.ErrUnknownExchange, name)
	}
	return id, nil
}

func (s *PositionService) checkRisk(ctx context.Context, sym model.Symbol, size decimal.Decimal) error {
	if !s.limits.Enabled() {
		return nil
	}
	summary, err := s.repo.PortfolioSummary(ctx)
	if err != nil {
		return err
	}
	count, err := s.repo.CountOpenBySymbol(ctx, sym.ID)
	if err != nil {
		return err
	}
	return s.limits.CheckOpen(sym.Name, size, domainsvc.Exposure{
		TotalPositions:   summary.TotalPositions,
		SymbolPositions:  count,
		TotalExposureUSD: summary.TotalExposureUSD,
	})
}

func validateNewPosition(req model.NewPosition) error {
	var errs []error
	if NormalizeSymbol(req.Symbol) == "" {
		errs = append(errs, errors.New("symbol is required"))
	}
	long, short := NormalizeExchange(req.LongExchange), NormalizeExchange(req.ShortExchange)
	if long == "" || short == "" {
		errs = append(errs, errors.New("both exchanges are required"))
	} else if long == short {
		errs = append(errs, errors.New("long and short exchange must differ"))
	}
	if !req.SizeUSD.IsPositive() {
		errs = append(errs, errors.New("size_usd must be positive"))
	}
	if err := req.Metadata.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrValidation, errors.Join(errs...))
	}
	return nil
}
