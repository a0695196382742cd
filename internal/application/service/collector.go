package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAdapterTimeout = 30 * time.Second
	defaultMaxConcurrent  = 8
	collectLockKey        = "collect"
)

// CollectorConfig 采集配置
type CollectorConfig struct {
	AdapterTimeout   time.Duration // 每次适配器调用（费率、周期、行情）各自的超时
	MaxConcurrent    int
	MarketDataMaxAge time.Duration // 超过该时长的行情快照被清理，0 不清理
	LockTTL          time.Duration // 跨进程锁 TTL，仅在配置 RunLocker 时使用
}

// CollectorDeps 采集器依赖，Mirror 与 Locker 可选
type CollectorDeps struct {
	Adapters  []port.ExchangeAdapter
	Registry  *Registry
	Exchanges port.ExchangeRepository
	Snapshots port.SnapshotRepository
	Logs      port.CollectionLogSink
	Mirror    port.LatestRateMirror
	Locker    port.RunLocker
}

// Collector 并发运行所有适配器，逐个隔离失败，持久化快照并输出汇总
type Collector struct {
	deps     CollectorDeps
	cfg      CollectorConfig
	running  sync.Mutex
	mappings sync.Map // "exchangeID:symbolID" -> struct{}
	now      func() time.Time
}

// NewCollector 创建采集器
func NewCollector(deps CollectorDeps, cfg CollectorConfig) *Collector {
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = defaultAdapterTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * cfg.AdapterTimeout
	}
	return &Collector{deps: deps, cfg: cfg, now: time.Now}
}

// Adapters 已注册的适配器名
func (c *Collector) Adapters() []string {
	names := make([]string, 0, len(c.deps.Adapters))
	for _, a := range c.deps.Adapters {
		names = append(names, NormalizeExchange(a.Name()))
	}
	sort.Strings(names)
	return names
}

// CollectAll 运行一次全量采集。单个适配器失败不会中断本轮，只计入汇总。
func (c *Collector) CollectAll(ctx context.Context, includeMarketData bool) (model.CollectionSummary, error) {
	if len(c.deps.Adapters) == 0 {
		return model.CollectionSummary{}, model.ErrNoAdapters
	}
	if !c.running.TryLock() {
		return model.CollectionSummary{}, model.ErrCollectionInProgress
	}
	defer c.running.Unlock()

	if c.deps.Locker != nil {
		release, err := c.deps.Locker.Acquire(ctx, collectLockKey, c.cfg.LockTTL)
		if err != nil {
			return model.CollectionSummary{}, fmt.Errorf("acquire collection lock: %w", err)
		}
		defer release()
	}

	started := c.now()
	results := make([]model.AdapterResult, len(c.deps.Adapters))

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrent)
	for i, adapter := range c.deps.Adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			results[i] = c.collectOne(ctx, adapter, includeMarketData)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Exchange < results[j].Exchange })

	summary := model.CollectionSummary{
		TotalAdapters: len(results),
		Results:       results,
		StartedAt:     started.UTC(),
	}
	for _, r := range results {
		if r.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
		summary.TotalRatesStored += r.RatesStored
	}

	if includeMarketData && c.cfg.MarketDataMaxAge > 0 {
		c.purgeStaleMarketData(ctx)
	}

	elapsed := c.now().Sub(started)
	summary.DurationMs = elapsed.Milliseconds()
	CollectionDurationSeconds.Observe(elapsed.Seconds())

	log.Info().
		Int("adapters", summary.TotalAdapters).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("rates_stored", summary.TotalRatesStored).
		Int64("duration_ms", summary.DurationMs).
		Msg("collection run finished")
	return summary, nil
}

func (c *Collector) collectOne(ctx context.Context, adapter port.ExchangeAdapter, includeMarketData bool) (res model.AdapterResult) {
	name := NormalizeExchange(adapter.Name())
	res.Exchange = name
	started := c.now()
	var exchangeID int64

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("adapter panic: %v", r)
		}
		c.finish(ctx, exchangeID, started, &res)
	}()

	id, ok, err := c.deps.Registry.LookupExchangeID(ctx, name)
	if err != nil {
		res.Error = fmt.Sprintf("lookup exchange: %v", err)
		return res
	}
	if !ok {
		res.Error = fmt.Sprintf("exchange %q is not registered", name)
		return res
	}
	exchangeID = id

	type fetched struct {
		rates     map[string]float64
		latencyMs int64
	}
	out, err := fetchWithBudget(ctx, c.cfg.AdapterTimeout, func(ctx context.Context) (fetched, error) {
		rates, latency, err := adapter.FetchWithMetrics(ctx)
		return fetched{rates: rates, latencyMs: latency}, err
	})
	res.LatencyMs = out.latencyMs
	if err != nil {
		res.Error = describeFetchError(err, c.cfg.AdapterTimeout)
		return res
	}
	res.RatesFetched = len(out.rates)
	AdapterLatencySeconds.WithLabelValues(name).Observe(float64(out.latencyMs) / 1000)

	var next map[string]time.Time
	if p, ok := adapter.(port.FundingScheduleProvider); ok {
		next = p.NextFundingTimes()
	}
	res.RatesStored = c.storeRates(ctx, adapter, name, exchangeID, out.rates, next)
	res.IntervalsStored = c.storeIntervals(ctx, adapter, name, exchangeID)
	if includeMarketData {
		res.MarketDataStored = c.storeMarketData(ctx, adapter, name, exchangeID)
	}

	if res.RatesFetched > 0 && res.RatesStored == 0 {
		res.Error = "no funding rates could be stored"
		return res
	}
	res.Success = true
	return res
}

// finish 更新交易所健康状态并写出采集日志
func (c *Collector) finish(ctx context.Context, exchangeID int64, started time.Time, res *model.AdapterResult) {
	finished := c.now()
	result := "success"
	if !res.Success {
		result = "failure"
	}
	AdapterRunsTotal.WithLabelValues(res.Exchange, result).Inc()
	RatesStoredTotal.WithLabelValues(res.Exchange).Add(float64(res.RatesStored))

	if exchangeID != 0 {
		var err error
		if res.Success {
			err = c.deps.Exchanges.RecordFetchSuccess(ctx, exchangeID, finished.UTC())
		} else {
			err = c.deps.Exchanges.RecordFetchFailure(ctx, exchangeID, finished.UTC())
		}
		if err != nil {
			log.Warn().Err(err).Str("exchange", res.Exchange).Msg("update exchange health failed")
		}
	}

	rec := model.CollectionLog{
		Exchange:         res.Exchange,
		StartedAt:        started.UTC(),
		FinishedAt:       finished.UTC(),
		Success:          res.Success,
		RatesFetched:     res.RatesFetched,
		RatesStored:      res.RatesStored,
		MarketDataStored: res.MarketDataStored,
		LatencyMs:        res.LatencyMs,
		Error:            res.Error,
	}
	if c.deps.Logs != nil {
		if err := c.deps.Logs.InsertCollectionLog(ctx, rec); err != nil {
			log.Warn().Err(err).Str("exchange", res.Exchange).Msg("write collection log failed")
		}
	}

	ev := log.Info()
	if !res.Success {
		ev = log.Warn().Str("error", res.Error)
	}
	ev.Str("exchange", res.Exchange).
		Int("rates_fetched", res.RatesFetched).
		Int("rates_stored", res.RatesStored).
		Int("market_data_stored", res.MarketDataStored).
		Int64("latency_ms", res.LatencyMs).
		Dur("elapsed", finished.Sub(started)).
		Msg("adapter collection finished")
}

func (c *Collector) storeRates(ctx context.Context, adapter port.ExchangeAdapter, exchange string, exchangeID int64, rates map[string]float64, next map[string]time.Time) int {
	captured := c.now().UTC()
	stored := 0
	for _, symbol := range sortedKeys(rates) {
		sym, err := c.deps.Registry.ResolveSymbol(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("exchange", exchange).Str("symbol", symbol).Msg("resolve symbol failed")
			continue
		}
		if err := c.ensureMapping(ctx, adapter, exchangeID, sym); err != nil {
			log.Warn().Err(err).Str("exchange", exchange).Str("symbol", sym.Name).Msg("store symbol mapping failed")
			continue
		}

		snap := model.FundingRateSnapshot{
			ExchangeID: exchangeID,
			SymbolID:   sym.ID,
			Rate:       rates[symbol],
			CapturedAt: captured,
		}
		if t, ok := next[symbol]; ok && !t.IsZero() {
			nt := t.UTC()
			snap.NextFundingTime = &nt
		}
		if err := c.deps.Snapshots.InsertFundingRate(ctx, snap); err != nil {
			log.Warn().Err(err).Str("exchange", exchange).Str("symbol", sym.Name).Msg("store funding rate failed")
			continue
		}
		stored++

		if c.deps.Mirror != nil {
			if err := c.deps.Mirror.MirrorFundingRate(ctx, exchange, sym.Name, snap.Rate, captured); err != nil {
				log.Debug().Err(err).Str("exchange", exchange).Str("symbol", sym.Name).Msg("mirror funding rate failed")
			}
		}
	}
	return stored
}

func (c *Collector) ensureMapping(ctx context.Context, adapter port.ExchangeAdapter, exchangeID int64, sym model.Symbol) error {
	key := strconv.FormatInt(exchangeID, 10) + ":" + strconv.FormatInt(sym.ID, 10)
	if _, ok := c.mappings.Load(key); ok {
		return nil
	}
	if err := c.deps.Snapshots.UpsertExchangeSymbol(ctx, exchangeID, sym.ID, adapter.DexSymbolFormat(sym.Name)); err != nil {
		return err
	}
	c.mappings.Store(key, struct{}{})
	return nil
}

// storeIntervals 资金费周期，失败不影响本轮
func (c *Collector) storeIntervals(ctx context.Context, adapter port.ExchangeAdapter, exchange string, exchangeID int64) int {
	intervals, err := fetchWithBudget(ctx, c.cfg.AdapterTimeout, adapter.FetchSymbolIntervals)
	if err != nil {
		log.Warn().Err(err).Str("exchange", exchange).Msg("fetch funding intervals failed, using default")
		return 0
	}
	stored := 0
	for _, symbol := range sortedKeys(intervals) {
		hours := intervals[symbol]
		if hours <= 0 {
			continue
		}
		sym, ok, err := c.deps.Registry.LookupSymbol(ctx, symbol)
		if err != nil || !ok {
			continue
		}
		if err := c.deps.Snapshots.SetFundingInterval(ctx, exchangeID, sym.ID, hours); err != nil {
			log.Warn().Err(err).Str("exchange", exchange).Str("symbol", sym.Name).Msg("store funding interval failed")
			continue
		}
		stored++
	}
	return stored
}

// storeMarketData 行情快照，失败只记录日志
func (c *Collector) storeMarketData(ctx context.Context, adapter port.ExchangeAdapter, exchange string, exchangeID int64) int {
	stats, err := fetchWithBudget(ctx, c.cfg.AdapterTimeout, adapter.FetchMarketData)
	if err != nil {
		log.Warn().Err(err).Str("exchange", exchange).Msg("fetch market data failed")
		return 0
	}
	updated := c.now().UTC()
	stored := 0
	for _, symbol := range sortedKeys(stats) {
		sym, ok, err := c.deps.Registry.LookupSymbol(ctx, symbol)
		if err != nil || !ok {
			continue
		}
		st := stats[symbol]
		snap := model.MarketDataSnapshot{
			ExchangeID:      exchangeID,
			SymbolID:        sym.ID,
			Volume24h:       st.Volume24h,
			OpenInterestUSD: st.OpenInterestUSD,
			BestBid:         st.BestBid,
			BestAsk:         st.BestAsk,
			UpdatedAt:       updated,
		}
		if st.BestBid != nil && st.BestAsk != nil {
			if bps, ok := domainsvc.SpreadBps(*st.BestBid, *st.BestAsk); ok {
				snap.SpreadBps = model.Float(bps)
			}
		}
		if err := c.deps.Snapshots.UpsertMarketData(ctx, snap); err != nil {
			log.Warn().Err(err).Str("exchange", exchange).Str("symbol", sym.Name).Msg("store market data failed")
			continue
		}
		stored++

		if c.deps.Mirror != nil {
			if err := c.deps.Mirror.MirrorMarketData(ctx, exchange, sym.Name, snap); err != nil {
				log.Debug().Err(err).Str("exchange", exchange).Str("symbol", sym.Name).Msg("mirror market data failed")
			}
		}
	}
	return stored
}

func (c *Collector) purgeStaleMarketData(ctx context.Context) {
	before := c.now().Add(-c.cfg.MarketDataMaxAge).UTC()
	n, err := c.deps.Snapshots.DeleteStaleMarketData(ctx, before)
	if err != nil {
		log.Warn().Err(err).Msg("purge stale market data failed")
		return
	}
	if n > 0 {
		log.Info().Int64("rows", n).Time("before", before).Msg("stale market data purged")
	}
}

// fetchWithBudget 为一次适配器调用单独计时，互不占用对方的超时
func fetchWithBudget[T any](ctx context.Context, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	fctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return withTimeout(fctx, fn)
}

// withTimeout 在 ctx 结束时立即返回，不等待不响应 ctx 的适配器
func withTimeout[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- result{zero, fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func describeFetchError(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	return err.Error()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
