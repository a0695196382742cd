package service

import (
	"context"
	"errors"
	"time"

	"fundarb/internal/domain/model"

	"github.com/rs/zerolog/log"
)

// FundingRateSyncer 按固定间隔调用 CollectAll
type FundingRateSyncer struct {
	collector         *Collector
	interval          time.Duration
	includeMarketData bool
	onSummary         func(model.CollectionSummary)
}

// NewFundingRateSyncer 创建资金费率同步器
func NewFundingRateSyncer(collector *Collector, interval time.Duration, includeMarketData bool) *FundingRateSyncer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &FundingRateSyncer{
		collector:         collector,
		interval:          interval,
		includeMarketData: includeMarketData,
	}
}

// OnSummary 每轮结束后的回调
func (s *FundingRateSyncer) OnSummary(fn func(model.CollectionSummary)) {
	s.onSummary = fn
}

// Run 阻塞运行直到 ctx 结束，启动时立即同步一次
func (s *FundingRateSyncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.syncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *FundingRateSyncer) syncOnce(ctx context.Context) {
	summary, err := s.collector.CollectAll(ctx, s.includeMarketData)
	if err != nil {
		if errors.Is(err, model.ErrCollectionInProgress) || errors.Is(err, model.ErrLockHeld) {
			log.Info().Err(err).Msg("collection skipped")
			return
		}
		log.Error().Err(err).Msg("collection run failed")
		return
	}
	if s.onSummary != nil {
		s.onSummary(summary)
	}
}
