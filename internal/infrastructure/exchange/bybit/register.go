package bybit

import (
	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/factory"
)

func init() {
	factory.RegisterAdapter(factory.ExchangeBybit, func(cfg config.Exchange, symbols []string) (port.ExchangeAdapter, error) {
		return New(Config{
			BaseURL:    cfg.RestURL,
			WsURL:      cfg.WsURL,
			QuoteAsset: cfg.QuoteAsset,
			RPS:        cfg.RPS,
			Burst:      cfg.Burst,
			Symbols:    symbols,
			Stream:     cfg.Stream,
		}), nil
	})
}
