package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus 持仓状态
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position 两腿资金费率套利持仓
type Position struct {
	ID                   string           `json:"id"`
	SymbolID             int64            `json:"symbol_id"`
	Symbol               string           `json:"symbol"`
	LongExchangeID       int64            `json:"long_exchange_id"`
	LongExchange         string           `json:"long_exchange"`
	ShortExchangeID      int64            `json:"short_exchange_id"`
	ShortExchange        string           `json:"short_exchange"`
	SizeUSD              decimal.Decimal  `json:"size_usd"`
	EntryLongRate        float64          `json:"entry_long_rate"`
	EntryShortRate       float64          `json:"entry_short_rate"`
	EntryDivergence      float64          `json:"entry_divergence"`
	OpenedAt             time.Time        `json:"opened_at"`
	CurrentLongRate      *float64         `json:"current_long_rate,omitempty"`
	CurrentShortRate     *float64         `json:"current_short_rate,omitempty"`
	CurrentDivergence    *float64         `json:"current_divergence,omitempty"`
	LastCheckedAt        *time.Time       `json:"last_checked_at,omitempty"`
	Status               PositionStatus   `json:"status"`
	RebalancePending     bool             `json:"rebalance_pending"`
	RebalanceReason      string           `json:"rebalance_reason,omitempty"`
	ExitReason           string           `json:"exit_reason,omitempty"`
	ClosedAt             *time.Time       `json:"closed_at,omitempty"`
	RealizedPnlUSD       *decimal.Decimal `json:"realized_pnl_usd,omitempty"`
	CumulativeFundingUSD decimal.Decimal  `json:"cumulative_funding_usd"`
	FundingPaymentsCount int              `json:"funding_payments_count"`
	Metadata             Metadata         `json:"metadata,omitempty"`
}

// IsOpen 是否仍为 open 状态
func (p Position) IsOpen() bool { return p.Status == PositionOpen }

// NewPosition 开仓请求（由机会或操作员构造）
type NewPosition struct {
	Symbol         string
	LongExchange   string
	ShortExchange  string
	SizeUSD        decimal.Decimal
	EntryLongRate  float64
	EntryShortRate float64
	OpenedAt       time.Time // 零值表示当前时间
	Metadata       Metadata
}

// PositionFromOpportunity 以机会为模板构造开仓请求
func PositionFromOpportunity(opp ArbitrageOpportunity, sizeUSD decimal.Decimal) NewPosition {
	return NewPosition{
		Symbol:         opp.Symbol,
		LongExchange:   opp.LongExchange,
		ShortExchange:  opp.ShortExchange,
		SizeUSD:        sizeUSD,
		EntryLongRate:  opp.LongRate,
		EntryShortRate: opp.ShortRate,
		Metadata: Metadata{
			"entry_apy":            Number(opp.AnnualizedAPY),
			"entry_net_per_period": Number(opp.NetProfitPerPeriod),
			"estimated_fees":       Number(opp.EstimatedFees),
		},
	}
}

// LegRates 两腿当前资金费率
type LegRates struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
}

// FundingPayment 资金费结算流水（只追加）
type FundingPayment struct {
	ID                  int64           `json:"id"`
	PositionID          string          `json:"position_id"`
	PaidAt              time.Time       `json:"paid_at"`
	LongLegPayment      decimal.Decimal `json:"long_leg_payment"`
	ShortLegPayment     decimal.Decimal `json:"short_leg_payment"`
	NetPayment          decimal.Decimal `json:"net_payment"` // short - long
	LongRateAtPayment   *float64        `json:"long_rate_at_payment,omitempty"`
	ShortRateAtPayment  *float64        `json:"short_rate_at_payment,omitempty"`
	DivergenceAtPayment *float64        `json:"divergence_at_payment,omitempty"`
}

// PortfolioSummary open 持仓汇总
type PortfolioSummary struct {
	TotalPositions            int             `json:"total_positions"`
	TotalExposureUSD          decimal.Decimal `json:"total_exposure_usd"`
	TotalCumulativePnlUSD     decimal.Decimal `json:"total_cumulative_pnl_usd"`
	PositionsPendingRebalance int             `json:"positions_pending_rebalance"`
}
