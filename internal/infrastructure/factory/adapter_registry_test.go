package factory

import (
	"context"
	"errors"
	"testing"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name    string
	symbols []string
	closed  bool
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) FetchFundingRates(context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (s *stubAdapter) FetchWithMetrics(context.Context) (map[string]float64, int64, error) {
	return map[string]float64{}, 0, nil
}

func (s *stubAdapter) FetchMarketData(context.Context) (map[string]port.MarketStats, error) {
	return nil, nil
}

func (s *stubAdapter) FetchSymbolIntervals(context.Context) (map[string]float64, error) {
	return nil, nil
}

func (s *stubAdapter) DexSymbolFormat(symbol string) string { return symbol }

func (s *stubAdapter) Close() error {
	s.closed = true
	return nil
}

func testConfig(exchanges map[string]config.Exchange) *config.Config {
	cfg := config.Defaults()
	cfg.Exchanges = exchanges
	cfg.Symbols.List = []string{"BTC"}
	return &cfg
}

func TestBuildAdapters(t *testing.T) {
	var built *stubAdapter
	RegisterAdapter("stub-ok", func(_ config.Exchange, symbols []string) (port.ExchangeAdapter, error) {
		built = &stubAdapter{name: "stub-ok", symbols: symbols}
		return built, nil
	})

	out, err := BuildAdapters(testConfig(map[string]config.Exchange{
		"stub-ok":  {Enabled: true},
		"disabled": {Enabled: false},
	}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "stub-ok", out[0].Name())
	assert.Equal(t, []string{"BTC"}, built.symbols)
	assert.Contains(t, Registered(), "stub-ok")
}

func TestBuildAdaptersUnregistered(t *testing.T) {
	_, err := BuildAdapters(testConfig(map[string]config.Exchange{"nowhere": {Enabled: true}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter registered")
}

func TestBuildAdaptersClosesOnFailure(t *testing.T) {
	first := &stubAdapter{name: "a-first"}
	RegisterAdapter("a-first", func(config.Exchange, []string) (port.ExchangeAdapter, error) {
		return first, nil
	})
	RegisterAdapter("b-broken", func(config.Exchange, []string) (port.ExchangeAdapter, error) {
		return nil, errors.New("boom")
	})

	_, err := BuildAdapters(testConfig(map[string]config.Exchange{
		"a-first":  {Enabled: true},
		"b-broken": {Enabled: true},
	}))
	require.Error(t, err)
	assert.True(t, first.closed)
}
