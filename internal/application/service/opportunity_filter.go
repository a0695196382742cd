package service

import (
	"fmt"

	"fundarb/internal/domain/model"
)

// 排序字段
const (
	SortNetProfit    = "net_profit_percent"
	SortAPY          = "annualized_apy"
	SortDivergence   = "divergence"
	SortVolume       = "volume_24h"
	SortOpenInterest = "open_interest"
	SortOIRatio      = "oi_ratio"
	SortSpread       = "spread_bps"
)

const (
	DefaultOpportunityLimit = 20
	MaxOpportunityLimit     = 100
)

var sortFields = map[string]bool{
	SortNetProfit:    true,
	SortAPY:          true,
	SortDivergence:   true,
	SortVolume:       true,
	SortOpenInterest: true,
	SortOIRatio:      true,
	SortSpread:       true,
}

// OpportunityFilter 机会扫描过滤条件。
// 行情类条件（成交量/持仓量/价差）遇到未知值时不拒绝。
type OpportunityFilter struct {
	Symbols            []string
	RequiredExchange   string   // 其中一腿必须是该交易所
	IncludeExchanges   []string // 至少一腿在其中
	ExcludeExchanges   []string // 两腿都不在其中
	WhitelistExchanges []string // 两腿都在其中

	MinDivergence    float64
	MinProfitPercent float64 // 每期净收益下限（比例）

	MinVolume24h    *float64 // 较小腿的 24h 成交量
	MaxVolume24h    *float64
	MinOpenInterest *float64 // 较小腿的持仓量
	MaxOpenInterest *float64
	MinOIRatio      *float64
	MaxOIRatio      *float64
	OIImbalance     model.OIImbalance
	MaxSpreadBps    *float64 // 两腿平均盘口价差

	UseTaker      bool    // 默认按 maker 计费
	IntervalHours float64 // >0 时覆盖资金费周期

	SortBy    string // 默认 net_profit_percent
	Ascending bool   // 默认降序
	Limit     int    // 0 使用默认值，上限 100
}

// Validate 校验过滤条件
func (f OpportunityFilter) Validate() error {
	if f.Limit < 0 || f.Limit > MaxOpportunityLimit {
		return fmt.Errorf("%w: limit %d out of range 1-%d", model.ErrInvalidFilter, f.Limit, MaxOpportunityLimit)
	}
	if f.SortBy != "" && !sortFields[f.SortBy] {
		return fmt.Errorf("%w: unknown sort field %q", model.ErrInvalidFilter, f.SortBy)
	}
	if f.OIImbalance != "" && !f.OIImbalance.Valid() {
		return fmt.Errorf("%w: unknown oi imbalance %q", model.ErrInvalidFilter, f.OIImbalance)
	}
	if f.IntervalHours < 0 {
		return fmt.Errorf("%w: negative funding interval", model.ErrInvalidFilter)
	}
	bounds := []struct {
		name     string
		min, max *float64
	}{
		{"volume_24h", f.MinVolume24h, f.MaxVolume24h},
		{"open_interest", f.MinOpenInterest, f.MaxOpenInterest},
		{"oi_ratio", f.MinOIRatio, f.MaxOIRatio},
		{"spread_bps", nil, f.MaxSpreadBps},
	}
	for _, b := range bounds {
		if (b.min != nil && *b.min < 0) || (b.max != nil && *b.max < 0) {
			return fmt.Errorf("%w: negative %s bound", model.ErrInvalidFilter, b.name)
		}
		if b.min != nil && b.max != nil && *b.min > *b.max {
			return fmt.Errorf("%w: %s min %.6g > max %.6g", model.ErrInvalidFilter, b.name, *b.min, *b.max)
		}
	}
	return nil
}

func (f OpportunityFilter) limit(def int) int {
	if f.Limit > 0 {
		return f.Limit
	}
	if def > 0 && def <= MaxOpportunityLimit {
		return def
	}
	return DefaultOpportunityLimit
}

func (f OpportunityFilter) sortField() string {
	if f.SortBy == "" {
		return SortNetProfit
	}
	return f.SortBy
}

func nameSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = NormalizeExchange(n); n != "" {
			set[n] = true
		}
	}
	return set
}

// normalizeNames 规范化名称列表，丢弃空串；空列表保持 nil 表示不过滤
func normalizeNames(names []string, norm func(string) string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = norm(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
