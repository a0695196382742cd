package binance

import (
	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/factory"
)

func init() {
	factory.RegisterAdapter(factory.ExchangeBinance, func(cfg config.Exchange, symbols []string) (port.ExchangeAdapter, error) {
		return New(Config{
			BaseURL:    cfg.RestURL,
			QuoteAsset: cfg.QuoteAsset,
			RPS:        cfg.RPS,
			Burst:      cfg.Burst,
			Symbols:    symbols,
		}), nil
	})
}
