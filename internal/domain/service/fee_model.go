package service

import (
	"math"
	"strings"

	"fundarb/internal/domain/model"
)

const (
	hoursPerYear = 8760.0
	// 低于该量级的净收益视为 0，避免浮点误差把持平判定为盈利
	rateEpsilon = 1e-12
)

// DefaultFeeStructure 未知交易所使用的保守手续费
var DefaultFeeStructure = model.FeeStructure{MakerFee: 0.0005, TakerFee: 0.0007}

// FeeModelConfig 手续费模型配置
type FeeModelConfig struct {
	Fees                 map[string]model.FeeStructure // 交易所名（小写） -> 费率
	Fallback             *model.FeeStructure           // nil 使用 DefaultFeeStructure
	DefaultIntervalHours float64                       // 0 使用 8h
}

// FeeModel 手续费模型与成本计算器，构造后只读
type FeeModel struct {
	fees                 map[string]model.FeeStructure
	fallback             model.FeeStructure
	defaultIntervalHours float64
}

// NewFeeModel 创建手续费模型（复制费率表）
func NewFeeModel(cfg FeeModelConfig) *FeeModel {
	fees := make(map[string]model.FeeStructure, len(cfg.Fees))
	for name, fs := range cfg.Fees {
		fees[normalizeExchange(name)] = fs
	}
	fallback := DefaultFeeStructure
	if cfg.Fallback != nil {
		fallback = *cfg.Fallback
	}
	interval := cfg.DefaultIntervalHours
	if interval <= 0 {
		interval = model.DefaultFundingIntervalHours
	}
	return &FeeModel{fees: fees, fallback: fallback, defaultIntervalHours: interval}
}

// FeeStructureFor 获取交易所费率，未知时返回保守默认值
func (m *FeeModel) FeeStructureFor(exchange string) model.FeeStructure {
	if fs, ok := m.fees[normalizeExchange(exchange)]; ok {
		return fs
	}
	return m.fallback
}

// Known 是否有该交易所的明确费率
func (m *FeeModel) Known(exchange string) bool {
	_, ok := m.fees[normalizeExchange(exchange)]
	return ok
}

// DefaultIntervalHours 默认资金费周期
func (m *FeeModel) DefaultIntervalHours() float64 { return m.defaultIntervalHours }

// CostOf 使用默认资金费周期计算往返成本
func (m *FeeModel) CostOf(longExchange, shortExchange string, longRate, shortRate float64, useMaker bool) model.TradingCosts {
	return m.CostOfInterval(longExchange, shortExchange, longRate, shortRate, useMaker, 0)
}

// CostOfInterval 计算往返成本；intervalHours <= 0 时使用默认周期
func (m *FeeModel) CostOfInterval(longExchange, shortExchange string, longRate, shortRate float64, useMaker bool, intervalHours float64) model.TradingCosts {
	if intervalHours <= 0 {
		intervalHours = m.defaultIntervalHours
	}
	feeLong := m.FeeStructureFor(longExchange).Fee(useMaker)
	feeShort := m.FeeStructureFor(shortExchange).Fee(useMaker)

	entry := feeLong + feeShort
	exit := feeLong + feeShort
	total := entry + exit

	profit := Divergence(longRate, shortRate)
	net := profit - total
	if math.Abs(net) < rateEpsilon {
		net = 0
	}

	return model.TradingCosts{
		EntryFee:               entry,
		ExitFee:                exit,
		TotalFee:               total,
		TotalFeeBps:            total * 10000,
		FundingProfitPerPeriod: profit,
		NetRatePerPeriod:       net,
		FundingIntervalHours:   intervalHours,
		AnnualizedAPY:          AnnualizedAPY(net, intervalHours),
		IsProfitable:           net > 0,
	}
}

// Divergence 资金费率价差：收取空头腿，支付多头腿
func Divergence(longRate, shortRate float64) float64 {
	return shortRate - longRate
}

// PaymentsPerYear 每年资金费结算次数
func PaymentsPerYear(intervalHours float64) float64 {
	if intervalHours <= 0 {
		intervalHours = model.DefaultFundingIntervalHours
	}
	return hoursPerYear / intervalHours
}

// AnnualizedAPY 每期净收益年化（百分比）
func AnnualizedAPY(netRatePerPeriod, intervalHours float64) float64 {
	return netRatePerPeriod * PaymentsPerYear(intervalHours) * 100
}

func normalizeExchange(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
