package factory

import (
	"fmt"
	"sort"
	"sync"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/config"

	"github.com/rs/zerolog/log"
)

// AdapterFactory 按交易所配置创建适配器；symbols 为空表示全部标的
type AdapterFactory func(cfg config.Exchange, symbols []string) (port.ExchangeAdapter, error)

var (
	mu       sync.RWMutex
	adapters = make(map[string]AdapterFactory)
)

// RegisterAdapter 由各交易所包的 init() 调用
func RegisterAdapter(exchangeName string, factory AdapterFactory) {
	if factory == nil {
		log.Warn().Str("exchange", exchangeName).Msg("invalid adapter factory")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := adapters[exchangeName]; exists {
		log.Warn().Str("exchange", exchangeName).Msg("adapter factory already registered, overwriting")
	}
	adapters[exchangeName] = factory
}

// GetAdapter 获取已注册的适配器工厂
func GetAdapter(exchangeName string) (AdapterFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := adapters[exchangeName]
	return f, ok
}

// Registered 已注册的交易所名，按名称排序
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildAdapters 为全部启用的交易所创建适配器；启用但未注册的交易所视为配置错误
func BuildAdapters(cfg *config.Config) ([]port.ExchangeAdapter, error) {
	var out []port.ExchangeAdapter
	for _, name := range cfg.EnabledExchanges() {
		f, ok := GetAdapter(name)
		if !ok {
			closeAll(out)
			return nil, fmt.Errorf("exchange %s enabled but no adapter registered", name)
		}
		a, err := f(cfg.Exchanges[name], cfg.Symbols.List)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("%s adapter init failed: %w", name, err)
		}
		out = append(out, a)
		log.Info().Str("exchange", name).Msg("exchange adapter ready")
	}
	return out, nil
}

func closeAll(as []port.ExchangeAdapter) {
	for _, a := range as {
		_ = a.Close()
	}
}
