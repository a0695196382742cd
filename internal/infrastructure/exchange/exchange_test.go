package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolConverter(t *testing.T) {
	c := NewCommonSymbolConverter("usdt")
	assert.Equal(t, "BTC", c.Symbol2Coin("btcusdt"))
	assert.Equal(t, "", c.Symbol2Coin("BTCUSDC"))
	assert.Equal(t, "1000PEPE", c.Symbol2Coin("1000PEPEUSDT"))
	assert.Equal(t, "ETHUSDT", c.Coin2Symbol("eth"))
	assert.Equal(t, "ETHUSDT", c.Coin2Symbol("ETHUSDT"))
}

func TestSymbolFilter(t *testing.T) {
	assert.True(t, NewSymbolFilter(nil).Allows("ANY"))
	f := NewSymbolFilter([]string{" btc ", "ETH"})
	assert.True(t, f.Allows("BTC"))
	assert.False(t, f.Allows("SOL"))
}

func TestParseHelpers(t *testing.T) {
	v, ok := ParseFloat(" 0.0001 ")
	require.True(t, ok)
	assert.Equal(t, 0.0001, v)

	_, ok = ParseFloat("")
	assert.False(t, ok)
	assert.Nil(t, ParseOptional("0"))
	assert.Nil(t, ParseOptional("abc"))
	require.NotNil(t, ParseOptional("12.5"))

	ts, ok := ParseMillis("1748764800000")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), ts)
}

func TestBackoff(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 3 * time.Second}
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestRESTClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "linear", r.URL.Query().Get("category"))
			_, _ = w.Write([]byte(`{"value":"42"}`))
		default:
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("nope"))
		}
	}))
	defer srv.Close()

	c := NewRESTClient(RESTConfig{Name: "test", BaseURL: srv.URL + "/", RPS: 100, Burst: 2})
	defer c.Close()

	var out struct {
		Value string `json:"value"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/ok", url.Values{"category": {"linear"}}, &out))
	assert.Equal(t, "42", out.Value)

	err := c.GetJSON(context.Background(), "/missing", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test api error: 418")
}
