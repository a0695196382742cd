package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/exchange"

	"github.com/rs/zerolog/log"
)

const (
	Name = "bybit"

	// 流数据超过该时长视为过期，回退到 REST
	streamMaxAge = 30 * time.Second
)

// Config Bybit 线性合约适配器配置
type Config struct {
	BaseURL    string
	WsURL      string
	QuoteAsset string
	RPS        float64
	Burst      int
	Symbols    []string
	Stream     bool // 需要 Symbols 非空
	HTTPClient *http.Client
}

// Adapter Bybit v5 线性永续资金费率与行情
type Adapter struct {
	rest   *exchange.RESTClient
	conv   *exchange.CommonSymbolConverter
	filter exchange.SymbolFilter
	stream *Stream
	cancel context.CancelFunc

	mu   sync.RWMutex
	next map[string]time.Time
}

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bybit.com"
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	a := &Adapter{
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
		cancel: func() {},
	}

	if cfg.Stream {
		if cfg.WsURL == "" || len(a.filter) == 0 {
			log.Warn().Str("exchange", Name).Msg("ticker stream needs ws_url and symbols list, disabled")
		} else {
			ctx, cancel := context.WithCancel(context.Background())
			a.stream = NewStream(cfg.WsURL, a.conv, cfg.Symbols)
			a.cancel = cancel
			go a.stream.Run(ctx)
		}
	}
	return a
}

func (a *Adapter) Name() string { return Name }

type envelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

type tickerItem struct {
	Symbol            string `json:"symbol"`
	FundingRate       string `json:"fundingRate"`
	NextFundingTime   string `json:"nextFundingTime"`
	Turnover24h       string `json:"turnover24h"`
	OpenInterestValue string `json:"openInterestValue"`
	Bid1Price         string `json:"bid1Price"`
	Ask1Price         string `json:"ask1Price"`
}

type tickersResp struct {
	envelope
	Result struct {
		Category string       `json:"category"`
		List     []tickerItem `json:"list"`
	} `json:"result"`
}

type instrumentItem struct {
	Symbol          string `json:"symbol"`
	Status          string `json:"status"`
	FundingInterval int    `json:"fundingInterval"` // 分钟
}

type instrumentsResp struct {
	envelope
	Result struct {
		List           []instrumentItem `json:"list"`
		NextPageCursor string           `json:"nextPageCursor"`
	} `json:"result"`
}

func (e envelope) err() error {
	if e.RetCode != 0 {
		return fmt.Errorf("bybit api error: %d %s", e.RetCode, e.RetMsg)
	}
	return nil
}

func (a *Adapter) coin(symbol string) string {
	c := a.conv.Symbol2Coin(symbol)
	if c == "" || !a.filter.Allows(c) {
		return ""
	}
	return c
}

func (a *Adapter) tickers(ctx context.Context) ([]tickerItem, error) {
	var resp tickersResp
	if err := a.rest.GetJSON(ctx, "/v5/market/tickers", url.Values{"category": {"linear"}}, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	return resp.Result.List, nil
}

func (a *Adapter) FetchFundingRates(ctx context.Context) (map[string]float64, error) {
	items, err := a.tickers(ctx)
	if err != nil {
		return nil, err
	}
	rates := make(map[string]float64, len(items))
	next := make(map[string]time.Time, len(items))
	for _, it := range items {
		c := a.coin(it.Symbol)
		if c == "" {
			continue
		}
		rate, ok := exchange.ParseFloat(it.FundingRate)
		if !ok {
			continue
		}
		rates[c] = rate
		if ts, ok := exchange.ParseMillis(it.NextFundingTime); ok {
			next[c] = ts
		}
	}

	a.mu.Lock()
	a.next = next
	a.mu.Unlock()
	return rates, nil
}

func (a *Adapter) FetchWithMetrics(ctx context.Context) (map[string]float64, int64, error) {
	start := time.Now()
	rates, err := a.FetchFundingRates(ctx)
	return rates, time.Since(start).Milliseconds(), err
}

// FetchMarketData REST 行情，新鲜的流数据优先
func (a *Adapter) FetchMarketData(ctx context.Context) (map[string]port.MarketStats, error) {
	items, err := a.tickers(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]port.MarketStats, len(items))
	for _, it := range items {
		c := a.coin(it.Symbol)
		if c == "" {
			continue
		}
		out[c] = port.MarketStats{
			Volume24h:       exchange.ParseOptional(it.Turnover24h),
			OpenInterestUSD: exchange.ParseOptional(it.OpenInterestValue),
			BestBid:         exchange.ParseOptional(it.Bid1Price),
			BestAsk:         exchange.ParseOptional(it.Ask1Price),
		}
	}
	if a.stream != nil {
		a.stream.Overlay(out, time.Now().Add(-streamMaxAge))
	}
	return out, nil
}

// FetchSymbolIntervals 分页读取合约信息，fundingInterval 为分钟
func (a *Adapter) FetchSymbolIntervals(ctx context.Context) (map[string]float64, error) {
	out := map[string]float64{}
	cursor := ""
	for page := 0; page < 20; page++ {
		params := url.Values{"category": {"linear"}, "limit": {"1000"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp instrumentsResp
		if err := a.rest.GetJSON(ctx, "/v5/market/instruments-info", params, &resp); err != nil {
			return nil, err
		}
		if err := resp.err(); err != nil {
			return nil, err
		}
		for _, it := range resp.Result.List {
			if c := a.coin(it.Symbol); c != "" && it.FundingInterval > 0 {
				out[c] = float64(it.FundingInterval) / 60
			}
		}
		cursor = resp.Result.NextPageCursor
		if cursor == "" {
			break
		}
	}
	return out, nil
}

func (a *Adapter) DexSymbolFormat(symbol string) string {
	return a.conv.Coin2Symbol(symbol)
}

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
	a.cancel()
	a.rest.Close()
	return nil
}

var (
	_ port.ExchangeAdapter         = (*Adapter)(nil)
	_ port.FundingScheduleProvider = (*Adapter)(nil)
)
