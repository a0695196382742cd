package exchange

import (
	"strings"
)

// SymbolConverter 原生合约名与基础资产互转
type SymbolConverter interface {
	// Symbol2Coin BTCUSDT -> BTC，不属于该计价资产时返回 ""
	Symbol2Coin(symbol string) string
	// Coin2Symbol BTC -> BTCUSDT
	Coin2Symbol(coin string) string
	SymbolSuffix() string
}

// CommonSymbolConverter 后缀拼接式合约名（Binance、Bybit 线性合约）
type CommonSymbolConverter struct {
	suffix string
}

func NewCommonSymbolConverter(suffix string) *CommonSymbolConverter {
	return &CommonSymbolConverter{suffix: strings.ToUpper(strings.TrimSpace(suffix))}
}

func (c *CommonSymbolConverter) SymbolSuffix() string {
	return c.suffix
}

func (c *CommonSymbolConverter) Symbol2Coin(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" || !strings.HasSuffix(sym, c.suffix) {
		return ""
	}
	return strings.TrimSuffix(sym, c.suffix)
}

func (c *CommonSymbolConverter) Coin2Symbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return ""
	}
	if strings.HasSuffix(coin, c.suffix) {
		return coin
	}
	return coin + c.suffix
}

// SymbolFilter 标的白名单，空表示全部
type SymbolFilter map[string]struct{}

func NewSymbolFilter(symbols []string) SymbolFilter {
	f := SymbolFilter{}
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			f[s] = struct{}{}
		}
	}
	return f
}

func (f SymbolFilter) Allows(coin string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[coin]
	return ok
}
