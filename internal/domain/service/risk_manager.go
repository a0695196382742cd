package service

import (
	"fmt"

	"fundarb/internal/domain/model"

	"github.com/shopspring/decimal"
)

// RiskLimits 开仓风控限制，零值表示不限制
type RiskLimits struct {
	MaxPositionSizeUSD    decimal.Decimal // 单个持仓最大名义值
	MaxTotalExposureUSD   decimal.Decimal // open 持仓总敞口上限
	MaxPositionsPerSymbol int             // 单个标的最多 open 持仓数
	MaxTotalPositions     int             // 最多 open 持仓数
}

// Exposure 当前 open 持仓敞口（来自持久化存储）
type Exposure struct {
	TotalPositions   int
	SymbolPositions  int
	TotalExposureUSD decimal.Decimal
}

// Enabled 是否配置了任一限制
func (l RiskLimits) Enabled() bool {
	return l.MaxPositionSizeUSD.IsPositive() || l.MaxTotalExposureUSD.IsPositive() ||
		l.MaxPositionsPerSymbol > 0 || l.MaxTotalPositions > 0
}

// CheckOpen 检查是否可以开仓
func (l RiskLimits) CheckOpen(symbol string, size decimal.Decimal, current Exposure) error {
	if l.MaxPositionSizeUSD.IsPositive() && size.GreaterThan(l.MaxPositionSizeUSD) {
		return fmt.Errorf("%w: position size %s USD exceeds limit %s USD",
			model.ErrRiskLimit, size.StringFixed(2), l.MaxPositionSizeUSD.StringFixed(2))
	}
	if l.MaxPositionsPerSymbol > 0 && current.SymbolPositions >= l.MaxPositionsPerSymbol {
		return fmt.Errorf("%w: symbol %s already has %d positions (max %d)",
			model.ErrRiskLimit, symbol, current.SymbolPositions, l.MaxPositionsPerSymbol)
	}
	if l.MaxTotalPositions > 0 && current.TotalPositions >= l.MaxTotalPositions {
		return fmt.Errorf("%w: total positions %d reached max %d",
			model.ErrRiskLimit, current.TotalPositions, l.MaxTotalPositions)
	}
	if l.MaxTotalExposureUSD.IsPositive() {
		next := current.TotalExposureUSD.Add(size)
		if next.GreaterThan(l.MaxTotalExposureUSD) {
			return fmt.Errorf("%w: new exposure %s USD exceeds limit %s USD",
				model.ErrRiskLimit, next.StringFixed(2), l.MaxTotalExposureUSD.StringFixed(2))
		}
	}
	return nil
}
