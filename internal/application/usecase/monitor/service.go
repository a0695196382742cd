package monitor

import (
	"context"
	"fmt"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	dsvc "fundarb/internal/domain/service"

	"github.com/rs/zerolog/log"
)

// PositionManager 监控所需的持仓操作
type PositionManager interface {
	GetOpenPositions(ctx context.Context) ([]model.Position, error)
	UpdatePositionState(ctx context.Context, positionID string, currentDivergence float64, rates *model.LegRates) error
	FlagForRebalance(ctx context.Context, positionID, reason string) error
}

type ServiceDeps struct {
	Positions     PositionManager
	Quotes        port.SnapshotRepository
	Policy        dsvc.RebalancePolicy
	Interval      time.Duration
	PrintEveryMin int
	Sink          port.LiveSink // 可为 nil
	Color         bool
}

// TickResult 一次监控的统计
type TickResult struct {
	Checked int
	Skipped int // 缺少某一腿报价
	Flagged int
}

// Service 周期性刷新 open 持仓的标记价差并按策略标记再平衡
type Service struct {
	deps ServiceDeps
	st   *State
	view *Formatter
}

func NewService(deps ServiceDeps) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Minute
	}
	return &Service{
		deps: deps,
		st:   NewState(),
		view: NewFormatter(deps.Color),
	}
}

// Tick 对所有 open 持仓执行一次标记
func (s *Service) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	positions, err := s.deps.Positions.GetOpenPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("list open positions: %w", err)
	}

	open := make(map[string]bool, len(positions))
	for _, p := range positions {
		open[p.ID] = true
		mark, err := s.markOne(ctx, p)
		if err != nil {
			log.Warn().Err(err).Str("position_id", p.ID).Msg("mark position failed")
			continue
		}
		s.st.Apply(mark)
		if !mark.HasQuote {
			res.Skipped++
			continue
		}
		res.Checked++
		if mark.Flagged && !p.RebalancePending {
			res.Flagged++
		}
	}
	s.st.Retain(open)
	return res, nil
}

func (s *Service) markOne(ctx context.Context, p model.Position) (Mark, error) {
	mark := Mark{
		PositionID:      p.ID,
		Symbol:          p.Symbol,
		LongExchange:    p.LongExchange,
		ShortExchange:   p.ShortExchange,
		EntryDivergence: p.EntryDivergence,
		Flagged:         p.RebalancePending,
		Reason:          p.RebalanceReason,
	}

	quotes, err := s.deps.Quotes.LatestQuotes(ctx, port.QuoteQuery{
		Symbols:   []string{p.Symbol},
		Exchanges: []string{p.LongExchange, p.ShortExchange},
	})
	if err != nil {
		return mark, err
	}
	long, okLong := findQuote(quotes, p.LongExchange)
	short, okShort := findQuote(quotes, p.ShortExchange)
	if !okLong || !okShort {
		log.Debug().Str("position_id", p.ID).Str("symbol", p.Symbol).Msg("missing leg quote, skip mark")
		return mark, nil
	}

	rates := &model.LegRates{Long: long.Rate, Short: short.Rate}
	mark.HasQuote = true
	mark.Divergence = dsvc.Divergence(long.Rate, short.Rate)
	if err := s.deps.Positions.UpdatePositionState(ctx, p.ID, mark.Divergence, rates); err != nil {
		return mark, err
	}

	if p.RebalancePending {
		return mark, nil
	}
	if reason, flag := s.deps.Policy.Evaluate(p.EntryDivergence, mark.Divergence); flag {
		if err := s.deps.Positions.FlagForRebalance(ctx, p.ID, reason); err != nil {
			return mark, err
		}
		mark.Flagged = true
		mark.Reason = reason
	}
	return mark, nil
}

// Run 阻塞运行直到 ctx 结束
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	var snapC <-chan time.Time
	if s.deps.PrintEveryMin > 0 {
		snapTicker := time.NewTicker(time.Duration(s.deps.PrintEveryMin) * time.Minute)
		defer snapTicker.Stop()
		snapC = snapTicker.C
	}

	s.tickAndRender(ctx)
	for {
		select {
		case <-ctx.Done():
			if s.deps.Sink != nil {
				_ = s.deps.Sink.NewLine()
			}
			return nil

		case now := <-snapC:
			if s.deps.Sink != nil {
				_ = s.deps.Sink.WriteSnapshot(now, s.view.Render(s.st.Snapshot(), RenderSnapshot))
			}

		case <-ticker.C:
			s.tickAndRender(ctx)
		}
	}
}

func (s *Service) tickAndRender(ctx context.Context) {
	res, err := s.Tick(ctx)
	if err != nil {
		log.Error().Err(err).Msg("position monitor tick failed")
		return
	}
	if res.Flagged > 0 {
		log.Info().Int("checked", res.Checked).Int("flagged", res.Flagged).Msg("positions flagged for rebalance")
	}
	if s.deps.Sink != nil {
		_ = s.deps.Sink.WriteLive(s.view.Render(s.st.Snapshot(), RenderLive))
	}
}

func findQuote(quotes []model.Quote, exchange string) (model.Quote, bool) {
	for _, q := range quotes {
		if q.Exchange == exchange {
			return q, true
		}
	}
	return model.Quote{}, false
}
