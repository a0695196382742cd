package port

import (
	"context"
	"time"
)

// MarketStats 单个标的行情指标；nil 表示交易所未提供
type MarketStats struct {
	Volume24h       *float64
	OpenInterestUSD *float64
	BestBid         *float64
	BestAsk         *float64
}

// ExchangeAdapter 交易所适配器能力接口，一个交易所一个实现。
// 标的统一为基础资产名（BTC），原生格式由 DexSymbolFormat 给出。
type ExchangeAdapter interface {
	Name() string
	FetchFundingRates(ctx context.Context) (map[string]float64, error)
	// FetchWithMetrics 拉取资金费率并返回耗时（毫秒）
	FetchWithMetrics(ctx context.Context) (map[string]float64, int64, error)
	FetchMarketData(ctx context.Context) (map[string]MarketStats, error)
	// FetchSymbolIntervals 资金费周期（小时）
	FetchSymbolIntervals(ctx context.Context) (map[string]float64, error)
	DexSymbolFormat(symbol string) string
	Close() error
}

// FundingScheduleProvider 可选能力：最近一次拉取时看到的下次结算时间
type FundingScheduleProvider interface {
	NextFundingTimes() map[string]time.Time
}
