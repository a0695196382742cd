package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, oiCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/premiumIndex", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","markPrice":"60000","lastFundingRate":"0.00010000","nextFundingTime":1748764800000},
			{"symbol":"ETHUSDT","markPrice":"3000","lastFundingRate":"-0.00005","nextFundingTime":1748764800000},
			{"symbol":"BTCUSDC","markPrice":"60000","lastFundingRate":"0.0002","nextFundingTime":0},
			{"symbol":"SOLUSDT","markPrice":"150","lastFundingRate":"","nextFundingTime":0}
		]`))
	})
	mux.HandleFunc("/fapi/v1/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","quoteVolume":"1500000000"},{"symbol":"ETHUSDT","quoteVolume":"0"}]`))
	})
	mux.HandleFunc("/fapi/v1/ticker/bookTicker", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","bidPrice":"59999.9","askPrice":"60000.1"}]`))
	})
	mux.HandleFunc("/fapi/v1/fundingInfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"ETHUSDT","fundingIntervalHours":4},{"symbol":"XRPUSDC","fundingIntervalHours":1}]`))
	})
	mux.HandleFunc("/fapi/v1/openInterest", func(w http.ResponseWriter, r *http.Request) {
		oiCalls.Add(1)
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","openInterest":"100"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFundingRates(t *testing.T) {
	var oi atomic.Int32
	a := New(Config{BaseURL: newTestServer(t, &oi).URL})

	rates, latency, err := a.FetchWithMetrics(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, int64(0))
	assert.Equal(t, map[string]float64{"BTC": 0.0001, "ETH": -0.00005}, rates)

	next := a.NextFundingTimes()
	assert.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), next["BTC"])
	assert.Equal(t, "BTCUSDT", a.DexSymbolFormat("btc"))
}

func TestFetchMarketDataWithOpenInterest(t *testing.T) {
	var oi atomic.Int32
	a := New(Config{BaseURL: newTestServer(t, &oi).URL, Symbols: []string{"BTC", "ETH"}})

	_, err := a.FetchFundingRates(context.Background())
	require.NoError(t, err)

	stats, err := a.FetchMarketData(context.Background())
	require.NoError(t, err)

	btc := stats["BTC"]
	require.NotNil(t, btc.Volume24h)
	assert.Equal(t, 1.5e9, *btc.Volume24h)
	require.NotNil(t, btc.BestBid)
	assert.Equal(t, 59999.9, *btc.BestBid)
	require.NotNil(t, btc.OpenInterestUSD)
	assert.Equal(t, 6e6, *btc.OpenInterestUSD)

	eth := stats["ETH"]
	assert.Nil(t, eth.Volume24h)
	assert.Nil(t, eth.OpenInterestUSD)
	assert.Equal(t, int32(2), oi.Load())
}

func TestFetchMarketDataSkipsOpenInterestWithoutFilter(t *testing.T) {
	var oi atomic.Int32
	a := New(Config{BaseURL: newTestServer(t, &oi).URL})

	_, err := a.FetchMarketData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), oi.Load())
}

func TestFetchSymbolIntervals(t *testing.T) {
	var oi atomic.Int32
	a := New(Config{BaseURL: newTestServer(t, &oi).URL})

	intervals, err := a.FetchSymbolIntervals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ETH": 4}, intervals)
}

func TestFetchFundingRatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).FetchFundingRates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
