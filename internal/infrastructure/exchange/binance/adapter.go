package binance

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/exchange"

	"github.com/rs/zerolog/log"
)

const (
	Name = "binance"

	// 交易所未限定标的时不逐个查询持仓量
	maxOpenInterestLookups = 50
)

// Config Binance USDⓈ-M 适配器配置
type Config struct {
	BaseURL    string
	QuoteAsset string
	RPS        float64
	Burst      int
	Symbols    []string // 为空表示全部
	HTTPClient *http.Client
}

// Adapter Binance USDⓈ-M 永续资金费率与行情
type Adapter struct {
	rest   *exchange.RESTClient
	conv   *exchange.CommonSymbolConverter
	filter exchange.SymbolFilter

	mu    sync.RWMutex
	next  map[string]time.Time
	marks map[string]float64
}

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://fapi.binance.com"
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Adapter{
		rest: exchange.NewRESTClient(exchange.RESTConfig{
			Name:       Name,
			BaseURL:    cfg.BaseURL,
			RPS:        cfg.RPS,
			Burst:      cfg.Burst,
			HTTPClient: cfg.HTTPClient,
		}),
		conv:   exchange.NewCommonSymbolConverter(cfg.QuoteAsset),
		filter: exchange.NewSymbolFilter(cfg.Symbols),
		next:   map[string]time.Time{},
		marks:  map[string]float64{},
	}
}

func (a *Adapter) Name() string { return Name }

type premiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

type ticker24h struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

type fundingInfo struct {
	Symbol               string `json:"symbol"`
	FundingIntervalHours int    `json:"fundingIntervalHours"`
}

type openInterest struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
}

// coin 原生合约名转基础资产，不在计价资产或白名单内时返回 ""
func (a *Adapter) coin(symbol string) string {
	c := a.conv.Symbol2Coin(symbol)
	if c == "" || !a.filter.Allows(c) {
		return ""
	}
	return c
}

func (a *Adapter) FetchFundingRates(ctx context.Context) (map[string]float64, error) {
	var items []premiumIndex
	if err := a.rest.GetJSON(ctx, "/fapi/v1/premiumIndex", nil, &items); err != nil {
		return nil, err
	}

	rates := make(map[string]float64, len(items))
	next := make(map[string]time.Time, len(items))
	marks := make(map[string]float64, len(items))
	for _, it := range items {
		c := a.coin(it.Symbol)
		if c == "" {
			continue
		}
		rate, ok := exchange.ParseFloat(it.LastFundingRate)
		if !ok {
			log.Debug().Str("exchange", Name).Str("symbol", it.Symbol).Msg("skip unparsable funding rate")
			continue
		}
		rates[c] = rate
		if it.NextFundingTime > 0 {
			next[c] = time.UnixMilli(it.NextFundingTime).UTC()
		}
		if px, ok := exchange.ParseFloat(it.MarkPrice); ok {
			marks[c] = px
		}
	}

	a.mu.Lock()
	a.next, a.marks = next, marks
	a.mu.Unlock()
	return rates, nil
}

func (a *Adapter) FetchWithMetrics(ctx context.Context) (map[string]float64, int64, error) {
	start := time.Now()
	rates, err := a.FetchFundingRates(ctx)
	return rates, time.Since(start).Milliseconds(), err
}

func (a *Adapter) FetchMarketData(ctx context.Context) (map[string]port.MarketStats, error) {
	var tickers []ticker24h
	if err := a.rest.GetJSON(ctx, "/fapi/v1/ticker/24hr", nil, &tickers); err != nil {
		return nil, err
	}
	var books []bookTicker
	if err := a.rest.GetJSON(ctx, "/fapi/v1/ticker/bookTicker", nil, &books); err != nil {
		return nil, err
	}

	out := make(map[string]port.MarketStats, len(tickers))
	for _, t := range tickers {
		if c := a.coin(t.Symbol); c != "" {
			out[c] = port.MarketStats{Volume24h: exchange.ParseOptional(t.QuoteVolume)}
		}
	}
	for _, b := range books {
		c := a.coin(b.Symbol)
		if c == "" {
			continue
		}
		st := out[c]
		st.BestBid = exchange.ParseOptional(b.BidPrice)
		st.BestAsk = exchange.ParseOptional(b.AskPrice)
		out[c] = st
	}

	if len(a.filter) > 0 && len(a.filter) <= maxOpenInterestLookups {
		a.fillOpenInterest(ctx, out)
	}
	return out, nil
}

// fillOpenInterest 逐个查询持仓量（张）并按标记价格折算 USD，失败的标的保持未知
func (a *Adapter) fillOpenInterest(ctx context.Context, out map[string]port.MarketStats) {
	a.mu.RLock()
	marks := make(map[string]float64, len(a.marks))
	for k, v := range a.marks {
		marks[k] = v
	}
	a.mu.RUnlock()

	for c, st := range out {
		mark, ok := marks[c]
		if !ok {
			continue
		}
		var oi openInterest
		err := a.rest.GetJSON(ctx, "/fapi/v1/openInterest", url.Values{"symbol": {a.conv.Coin2Symbol(c)}}, &oi)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug().Err(err).Str("exchange", Name).Str("symbol", c).Msg("open interest lookup failed")
			continue
		}
		if qty := exchange.ParseOptional(oi.OpenInterest); qty != nil {
			usd := *qty * mark
			st.OpenInterestUSD = &usd
			out[c] = st
		}
	}
}

// FetchSymbolIntervals 只返回交易所显式给出周期的标的，其余使用默认 8h
func (a *Adapter) FetchSymbolIntervals(ctx context.Context) (map[string]float64, error) {
	var infos []fundingInfo
	if err := a.rest.GetJSON(ctx, "/fapi/v1/fundingInfo", nil, &infos); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(infos))
	for _, fi := range infos {
		if c := a.coin(fi.Symbol); c != "" && fi.FundingIntervalHours > 0 {
			out[c] = float64(fi.FundingIntervalHours)
		}
	}
	return out, nil
}

func (a *Adapter) DexSymbolFormat(symbol string) string {
	return a.conv.Coin2Symbol(symbol)
}

// NextFundingTimes 最近一次拉取看到的下次结算时间
func (a *Adapter) NextFundingTimes() map[string]time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]time.Time, len(a.next))
	for k, v := range a.next {
		out[k] = v
	}
	return out
}

func (a *Adapter) Close() error {
	a.rest.Close()
	return nil
}

var (
	_ port.ExchangeAdapter         = (*Adapter)(nil)
	_ port.FundingScheduleProvider = (*Adapter)(nil)
)
