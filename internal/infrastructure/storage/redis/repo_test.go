package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"fundarb/internal/domain/model"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsKeys(t *testing.T) {
	r := New(nil, "", 0, "", "")
	assert.Equal(t, "fundarb:latest:rates", r.keyRates)
	assert.Equal(t, "fundarb:collections", r.logStream)
	assert.Equal(t, "fundarb:collections:pub", r.logChan)
	assert.Equal(t, "binance:BTC", field("binance", "BTC"))
}

func TestLatestMarketOmitsUnknown(t *testing.T) {
	b, err := json.Marshal(LatestMarket{Exchange: "bybit", Symbol: "ETH", Volume24h: model.Float(5), Ts: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"exchange":"bybit","symbol":"ETH","volume_24h":5,"ts_ms":1}`, string(b))
}

// 需要真实 redis：FUNDARB_TEST_REDIS_ADDR=127.0.0.1:6379
func newLiveRepo(t *testing.T) *Repo {
	t.Helper()
	addr := os.Getenv("FUNDARB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FUNDARB_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	prefix := "fundarb-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		_ = rdb.Close()
	})
	return New(rdb, prefix, time.Minute, "", "")
}

func TestMirrorAndReadBack(t *testing.T) {
	r := newLiveRepo(t)
	ctx := context.Background()
	at := time.UnixMilli(1748764800000)

	require.NoError(t, r.MirrorFundingRate(ctx, "binance", "BTC", 0.0001, at))
	require.NoError(t, r.MirrorFundingRate(ctx, "binance", "BTC", 0.0002, at))

	rates, err := r.LatestRates(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, 0.0002, rates[0].Rate)
	assert.Equal(t, at.UnixMilli(), rates[0].Ts)
}

func TestAcquireExcludesSecondOwner(t *testing.T) {
	r := newLiveRepo(t)
	ctx := context.Background()

	release, err := r.Acquire(ctx, "collect", time.Minute)
	require.NoError(t, err)

	_, err = r.Acquire(ctx, "collect", time.Minute)
	assert.ErrorIs(t, err, model.ErrLockHeld)

	release()
	release2, err := r.Acquire(ctx, "collect", time.Minute)
	require.NoError(t, err)
	release2()
}

func TestInsertCollectionLogAppendsStream(t *testing.T) {
	r := newLiveRepo(t)
	ctx := context.Background()

	require.NoError(t, r.InsertCollectionLog(ctx, model.CollectionLog{Exchange: "bybit", Success: true, LatencyMs: 12}))
	n, err := r.rdb.XLen(ctx, r.logStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
