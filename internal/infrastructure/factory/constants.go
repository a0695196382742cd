package factory

// 内置交易所名称
const (
	ExchangeBinance = "binance"
	ExchangeBybit   = "bybit"
)
