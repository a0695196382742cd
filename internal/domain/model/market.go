package model

import "time"

// DefaultFundingIntervalHours 未知时的默认资金费周期
const DefaultFundingIntervalHours = 8.0

// Symbol 交易标的（基础资产，如 BTC）
type Symbol struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Exchange 交易所（含手续费与健康状态）
type Exchange struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	MakerFee            float64    `json:"maker_fee"`
	TakerFee            float64    `json:"taker_fee"`
	IsActive            bool       `json:"is_active"`
	ConsecutiveErrors   int        `json:"consecutive_errors"`
	LastSuccessfulFetch *time.Time `json:"last_successful_fetch,omitempty"`
	LastError           *time.Time `json:"last_error,omitempty"`
}

// FundingRateSnapshot 资金费率快照（追加写入时间序列，同时 upsert 最新投影）
type FundingRateSnapshot struct {
	ExchangeID      int64      `json:"exchange_id"`
	SymbolID        int64      `json:"symbol_id"`
	Rate            float64    `json:"rate"`
	NextFundingTime *time.Time `json:"next_funding_time,omitempty"`
	CapturedAt      time.Time  `json:"captured_at"`
}

// MarketDataSnapshot 行情深度快照，每个 (exchange, symbol) 一行
type MarketDataSnapshot struct {
	ExchangeID      int64     `json:"exchange_id"`
	SymbolID        int64     `json:"symbol_id"`
	Volume24h       *float64  `json:"volume_24h,omitempty"`
	OpenInterestUSD *float64  `json:"open_interest_usd,omitempty"`
	BestBid         *float64  `json:"best_bid,omitempty"`
	BestAsk         *float64  `json:"best_ask,omitempty"`
	SpreadBps       *float64  `json:"spread_bps,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Quote 最新资金费率与当前行情的联合视图，供机会扫描使用。
// 行情字段为 nil 表示未知（过期或从未采集），不是零。
type Quote struct {
	SymbolID        int64      `json:"symbol_id"`
	Symbol          string     `json:"symbol"`
	ExchangeID      int64      `json:"exchange_id"`
	Exchange        string     `json:"exchange"`
	Rate            float64    `json:"rate"`
	NextFundingTime *time.Time `json:"next_funding_time,omitempty"`
	CapturedAt      time.Time  `json:"captured_at"`
	IntervalHours   *float64   `json:"funding_interval_hours,omitempty"`
	Volume24h       *float64   `json:"volume_24h,omitempty"`
	OpenInterestUSD *float64   `json:"open_interest_usd,omitempty"`
	SpreadBps       *float64   `json:"spread_bps,omitempty"`
}

// FundingInterval 返回资金费周期，未知时为默认 8h
func (q Quote) FundingInterval() float64 {
	if q.IntervalHours == nil || *q.IntervalHours <= 0 {
		return DefaultFundingIntervalHours
	}
	return *q.IntervalHours
}

// Float 返回 f 的指针，便于构造可选字段
func Float(f float64) *float64 { return &f }
