package port

import (
	"context"
	"time"

	"fundarb/internal/domain/model"

	"github.com/shopspring/decimal"
)

// SymbolRepository 标的表（只增不改）
type SymbolRepository interface {
	// GetOrCreateSymbol 按名称查找，不存在则创建
	GetOrCreateSymbol(ctx context.Context, name string) (model.Symbol, error)
	FindSymbol(ctx context.Context, name string) (model.Symbol, bool, error)
	GetSymbolByID(ctx context.Context, id int64) (model.Symbol, bool, error)
}

// ExchangeRepository 交易所表（启动时写入，采集后更新健康状态）
type ExchangeRepository interface {
	UpsertExchange(ctx context.Context, name string, fees model.FeeStructure, active bool) (model.Exchange, error)
	FindExchange(ctx context.Context, name string) (model.Exchange, bool, error)
	GetExchangeByID(ctx context.Context, id int64) (model.Exchange, bool, error)
	ListExchanges(ctx context.Context, activeOnly bool) ([]model.Exchange, error)
	RecordFetchSuccess(ctx context.Context, exchangeID int64, at time.Time) error
	RecordFetchFailure(ctx context.Context, exchangeID int64, at time.Time) error
}

// QuoteQuery 最新报价查询的预过滤条件
type QuoteQuery struct {
	Symbols          []string // 空表示全部
	Exchanges        []string // 两腿均须在其中；空表示全部
	ExcludeExchanges []string
}

// SnapshotRepository 资金费率时间序列、最新投影与行情快照
type SnapshotRepository interface {
	UpsertExchangeSymbol(ctx context.Context, exchangeID, symbolID int64, nativeSymbol string) error
	SetFundingInterval(ctx context.Context, exchangeID, symbolID int64, hours float64) error
	// InsertFundingRate 追加时间序列并 upsert 最新投影（同一事务）
	InsertFundingRate(ctx context.Context, snap model.FundingRateSnapshot) error
	UpsertMarketData(ctx context.Context, snap model.MarketDataSnapshot) error
	DeleteStaleMarketData(ctx context.Context, before time.Time) (int64, error)
	// LatestQuotes 活跃交易所的最新费率联合当前行情，按 symbol、exchange 排序
	LatestQuotes(ctx context.Context, q QuoteQuery) ([]model.Quote, error)
}

// PositionRepository 持仓与资金费流水
type PositionRepository interface {
	CreatePosition(ctx context.Context, p model.Position) error
	GetPosition(ctx context.Context, id string) (model.Position, bool, error)
	UpdatePosition(ctx context.Context, p model.Position) error
	ListOpenPositions(ctx context.Context) ([]model.Position, error)
	ListPendingRebalance(ctx context.Context) ([]model.Position, error)
	FindOpenPosition(ctx context.Context, symbolID, longExchangeID, shortExchangeID int64) (model.Position, bool, error)
	CountOpenBySymbol(ctx context.Context, symbolID int64) (int, error)
	// RecordFundingPayment 追加流水并累加持仓计数（单事务），返回写入的流水
	RecordFundingPayment(ctx context.Context, pay model.FundingPayment) (model.FundingPayment, error)
	ListFundingPayments(ctx context.Context, positionID string) ([]model.FundingPayment, error)
	UpdatePositionMark(ctx context.Context, id string, divergence float64, rates *model.LegRates, at time.Time) error
	SetRebalance(ctx context.Context, id string, pending bool, reason string) error
	// ClosePosition 仅当状态为 open 时关闭；realizedPnl 为 nil 时取累计资金费
	ClosePosition(ctx context.Context, id, exitReason string, realizedPnl *decimal.Decimal, at time.Time) (bool, error)
	PortfolioSummary(ctx context.Context) (model.PortfolioSummary, error)
}

// CollectionLogSink 采集日志输出
type CollectionLogSink interface {
	InsertCollectionLog(ctx context.Context, rec model.CollectionLog) error
}

// Store 关系型存储（sqlite / postgres）
type Store interface {
	SymbolRepository
	ExchangeRepository
	SnapshotRepository
	PositionRepository
	CollectionLogSink
	Close() error
}
