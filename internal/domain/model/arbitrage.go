package model

import "time"

// ========== Fee Models ==========

// FeeStructure 交易所手续费结构（比例，0.0002 = 2bps）
type FeeStructure struct {
	MakerFee float64 `json:"maker_fee" toml:"maker"`
	TakerFee float64 `json:"taker_fee" toml:"taker"`
}

// Fee 按挂单/吃单取费率
func (f FeeStructure) Fee(useMaker bool) float64 {
	if useMaker {
		return f.MakerFee
	}
	return f.TakerFee
}

// TradingCosts 一个资金费率价差的往返成本与收益
type TradingCosts struct {
	EntryFee               float64 `json:"entry_fee"`
	ExitFee                float64 `json:"exit_fee"`
	TotalFee               float64 `json:"total_fee"`
	TotalFeeBps            float64 `json:"total_fee_bps"`
	FundingProfitPerPeriod float64 `json:"funding_profit_per_period"`
	NetRatePerPeriod       float64 `json:"net_rate_per_period"`
	FundingIntervalHours   float64 `json:"funding_interval_hours"`
	AnnualizedAPY          float64 `json:"annualized_apy"` // 百分比
	IsProfitable           bool    `json:"is_profitable"`
}

// ========== Opportunity Models ==========

// OIImbalance 两腿持仓量失衡分类
type OIImbalance string

const (
	OIBalanced   OIImbalance = "balanced"
	OILongHeavy  OIImbalance = "long_heavy"
	OIShortHeavy OIImbalance = "short_heavy"
)

// Valid 是否为已知分类
func (c OIImbalance) Valid() bool {
	switch c {
	case OIBalanced, OILongHeavy, OIShortHeavy:
		return true
	}
	return false
}

// VolumeMetrics 24h 成交量（USD），nil 表示未知
type VolumeMetrics struct {
	Long  *float64 `json:"long,omitempty"`
	Short *float64 `json:"short,omitempty"`
	Min   *float64 `json:"min,omitempty"`
}

// OpenInterestMetrics 持仓量（USD）
type OpenInterestMetrics struct {
	Long      *float64    `json:"long,omitempty"`
	Short     *float64    `json:"short,omitempty"`
	Min       *float64    `json:"min,omitempty"`
	Max       *float64    `json:"max,omitempty"`
	Ratio     *float64    `json:"ratio,omitempty"` // long / short
	Imbalance OIImbalance `json:"imbalance,omitempty"`
}

// SpreadMetrics 盘口价差（bps）
type SpreadMetrics struct {
	LongBps  *float64 `json:"long_bps,omitempty"`
	ShortBps *float64 `json:"short_bps,omitempty"`
	AvgBps   *float64 `json:"avg_bps,omitempty"`
}

// ArbitrageOpportunity 资金费率套利机会（计算结果，不持久化）
type ArbitrageOpportunity struct {
	Symbol             string              `json:"symbol"`
	LongExchange       string              `json:"long_exchange"`  // 做多腿：支付 long rate
	ShortExchange      string              `json:"short_exchange"` // 做空腿：收取 short rate
	LongRate           float64             `json:"long_rate"`
	ShortRate          float64             `json:"short_rate"`
	Divergence         float64             `json:"divergence"` // short - long
	EstimatedFees      float64             `json:"estimated_fees"`
	NetProfitPerPeriod float64             `json:"net_profit_per_period"`
	AnnualizedAPY      float64             `json:"annualized_apy"`
	Costs              TradingCosts        `json:"costs"`
	Volume             VolumeMetrics       `json:"volume"`
	OpenInterest       OpenInterestMetrics `json:"open_interest"`
	Spread             SpreadMetrics       `json:"spread"`
	DiscoveredAt       time.Time           `json:"discovered_at"`
}

// IsProfitable 扣费后每期净收益为正
func (o ArbitrageOpportunity) IsProfitable() bool {
	return o.NetProfitPerPeriod > 0
}
