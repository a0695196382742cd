package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name      string
	rates     map[string]float64
	err       error
	panicOn   bool
	block     bool // 忽略 ctx，直到测试结束
	rateDelay time.Duration
	sideDelay time.Duration // 周期与行情接口的耗时
	intervals map[string]float64
	stats     map[string]port.MarketStats
	statsErr  error
	calls     atomic.Int32
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) FetchFundingRates(ctx context.Context) (map[string]float64, error) {
	a.calls.Add(1)
	if a.panicOn {
		panic("boom")
	}
	if a.block {
		time.Sleep(time.Second)
	}
	time.Sleep(a.rateDelay)
	return a.rates, a.err
}

func (a *fakeAdapter) FetchWithMetrics(ctx context.Context) (map[string]float64, int64, error) {
	rates, err := a.FetchFundingRates(ctx)
	return rates, 12, err
}

func (a *fakeAdapter) FetchMarketData(ctx context.Context) (map[string]port.MarketStats, error) {
	time.Sleep(a.sideDelay)
	return a.stats, a.statsErr
}

func (a *fakeAdapter) FetchSymbolIntervals(ctx context.Context) (map[string]float64, error) {
	time.Sleep(a.sideDelay)
	return a.intervals, nil
}

func (a *fakeAdapter) DexSymbolFormat(symbol string) string { return symbol + "USDT" }

func (a *fakeAdapter) Close() error { return nil }

type denyLocker struct{}

func (denyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, model.ErrLockHeld
}

func newTestCollector(store *storage.InMemoryStore, cfg CollectorConfig, adapters ...port.ExchangeAdapter) *Collector {
	c := NewCollector(CollectorDeps{
		Adapters:  adapters,
		Registry:  NewRegistry(store, store, nil),
		Exchanges: store,
		Snapshots: store,
		Logs:      store,
	}, cfg)
	c.now = fixedNow
	return c
}

func TestCollectAllIsolatesAdapterFailure(t *testing.T) {
	store := newStoreWithExchanges(t, "alpha", "beta", "gamma")
	alpha := &fakeAdapter{name: "alpha", rates: map[string]float64{"BTC": 0.0001, "ETH": 0.0002}}
	beta := &fakeAdapter{name: "beta", err: errors.New("502 bad gateway")}
	gamma := &fakeAdapter{name: "gamma", rates: map[string]float64{"BTC": 0.0004}}
	c := newTestCollector(store, CollectorConfig{}, alpha, beta, gamma)

	summary, err := c.CollectAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalAdapters)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.TotalRatesStored)

	names := []string{summary.Results[0].Exchange, summary.Results[1].Exchange, summary.Results[2].Exchange}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)

	res, ok := summary.Result("beta")
	require.True(t, ok)
	assert.False(t, res.Success)
	assert.Equal(t, "502 bad gateway", res.Error)

	quotes, err := store.LatestQuotes(context.Background(), port.QuoteQuery{})
	require.NoError(t, err)
	assert.Len(t, quotes, 3)

	ctx := context.Background()
	b, _, _ := store.FindExchange(ctx, "beta")
	assert.Equal(t, 1, b.ConsecutiveErrors)
	require.NotNil(t, b.LastError)
	a, _, _ := store.FindExchange(ctx, "alpha")
	assert.Zero(t, a.ConsecutiveErrors)
	require.NotNil(t, a.LastSuccessfulFetch)

	logs := store.CollectionLogs()
	assert.Len(t, logs, 3)
}

func TestCollectAllRecoversPanicAndTimeout(t *testing.T) {
	store := newStoreWithExchanges(t, "ok", "panicky", "slow")
	c := newTestCollector(store, CollectorConfig{AdapterTimeout: 50 * time.Millisecond},
		&fakeAdapter{name: "ok", rates: map[string]float64{"BTC": 0.0001}},
		&fakeAdapter{name: "panicky", panicOn: true},
		&fakeAdapter{name: "slow", block: true, rates: map[string]float64{"BTC": 0.0003}},
	)

	start := time.Now()
	summary, err := c.CollectAll(context.Background(), false)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "slow adapter must not hold the run")

	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 2, summary.Failed)
	p, _ := summary.Result("panicky")
	assert.Contains(t, p.Error, "panic")
	s, _ := summary.Result("slow")
	assert.Equal(t, "timeout after 50ms", s.Error)
}

func TestCollectAllUnregisteredExchange(t *testing.T) {
	store := newStoreWithExchanges(t)
	c := newTestCollector(store, CollectorConfig{}, &fakeAdapter{name: "Mystery", rates: map[string]float64{"BTC": 0.1}})

	summary, err := c.CollectAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	res, _ := summary.Result("mystery")
	assert.Contains(t, res.Error, "not registered")
}

func TestCollectAllStoresIntervalsAndMarketData(t *testing.T) {
	store := newStoreWithExchanges(t, "alpha", "beta")
	alpha := &fakeAdapter{
		name:      "alpha",
		rates:     map[string]float64{"btc": 0.0001},
		intervals: map[string]float64{"BTC": 4, "XRP": 8},
		stats: map[string]port.MarketStats{
			"BTC": {Volume24h: model.Float(2e6), BestBid: model.Float(99.99), BestAsk: model.Float(100.01)},
			"XRP": {Volume24h: model.Float(1)},
		},
	}
	beta := &fakeAdapter{
		name:     "beta",
		rates:    map[string]float64{"BTC": 0.0002},
		statsErr: errors.New("market data down"),
	}
	c := newTestCollector(store, CollectorConfig{}, alpha, beta)

	summary, err := c.CollectAll(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Successful, "market data failure is not fatal")

	a, _ := summary.Result("alpha")
	assert.Equal(t, 1, a.IntervalsStored, "unknown symbols are not created by interval lookups")
	assert.Equal(t, 1, a.MarketDataStored)

	quotes, err := store.LatestQuotes(context.Background(), port.QuoteQuery{Exchanges: []string{"alpha"}})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	q := quotes[0]
	assert.Equal(t, "BTC", q.Symbol)
	assert.Equal(t, 4.0, q.FundingInterval())
	require.NotNil(t, q.SpreadBps)
	assert.InDelta(t, 2.0, *q.SpreadBps, 1e-6)

	_, ok, _ := store.FindSymbol(context.Background(), "XRP")
	assert.False(t, ok)
}

func TestCollectAllGivesEachFetchItsOwnTimeout(t *testing.T) {
	store := newStoreWithExchanges(t, "alpha")
	alpha := &fakeAdapter{
		name:      "alpha",
		rates:     map[string]float64{"BTC": 0.0001},
		intervals: map[string]float64{"BTC": 4},
		stats:     map[string]port.MarketStats{"BTC": {Volume24h: model.Float(2e6)}},
		rateDelay: 150 * time.Millisecond,
		sideDelay: 120 * time.Millisecond,
	}
	c := newTestCollector(store, CollectorConfig{AdapterTimeout: 200 * time.Millisecond}, alpha)

	summary, err := c.CollectAll(context.Background(), true)
	require.NoError(t, err)
	a, ok := summary.Result("alpha")
	require.True(t, ok)
	assert.True(t, a.Success, a.Error)
	assert.Equal(t, 1, a.RatesStored)
	assert.Equal(t, 1, a.IntervalsStored, "slow rate fetch must not eat the interval budget")
	assert.Equal(t, 1, a.MarketDataStored, "slow rate fetch must not eat the market data budget")
}

func TestCollectAllPurgesStaleMarketData(t *testing.T) {
	store := newStoreWithExchanges(t, "alpha")
	exID, symID := seedRate(t, store, "alpha", "ETH", 0.0001)
	require.NoError(t, store.UpsertMarketData(context.Background(), model.MarketDataSnapshot{
		ExchangeID: exID, SymbolID: symID, Volume24h: model.Float(1), UpdatedAt: testNow.Add(-2 * time.Hour),
	}))

	c := newTestCollector(store, CollectorConfig{MarketDataMaxAge: time.Hour},
		&fakeAdapter{name: "alpha", rates: map[string]float64{"BTC": 0.0001}})
	_, err := c.CollectAll(context.Background(), true)
	require.NoError(t, err)

	quotes, _ := store.LatestQuotes(context.Background(), port.QuoteQuery{Symbols: []string{"ETH"}})
	require.Len(t, quotes, 1)
	assert.Nil(t, quotes[0].Volume24h)
}

func TestCollectAllGuards(t *testing.T) {
	store := newStoreWithExchanges(t, "alpha")

	_, err := newTestCollector(store, CollectorConfig{}).CollectAll(context.Background(), false)
	assert.ErrorIs(t, err, model.ErrNoAdapters)

	c := newTestCollector(store, CollectorConfig{}, &fakeAdapter{name: "alpha"})
	c.running.Lock()
	_, err = c.CollectAll(context.Background(), false)
	assert.ErrorIs(t, err, model.ErrCollectionInProgress)
	c.running.Unlock()

	c.deps.Locker = denyLocker{}
	_, err = c.CollectAll(context.Background(), false)
	assert.ErrorIs(t, err, model.ErrLockHeld)
}

func TestCollectAllRecordsEmptyRunAsSuccess(t *testing.T) {
	store := newStoreWithExchanges(t, "alpha")
	c := newTestCollector(store, CollectorConfig{}, &fakeAdapter{name: "alpha", rates: map[string]float64{}})
	summary, err := c.CollectAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, []string{"alpha"}, c.Adapters())
}

func TestFundingRateSyncerRunsUntilCancelled(t *testing.T) {
	store := newStoreWithExchanges(t, "alpha")
	adapter := &fakeAdapter{name: "alpha", rates: map[string]float64{"BTC": 0.0001}}
	syncer := NewFundingRateSyncer(newTestCollector(store, CollectorConfig{}, adapter), 10*time.Millisecond, false)

	var runs atomic.Int32
	syncer.OnSummary(func(s model.CollectionSummary) { runs.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	require.NoError(t, syncer.Run(ctx))
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}
