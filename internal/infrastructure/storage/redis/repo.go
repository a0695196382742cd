package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript 仅当 token 匹配时删除锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Repo 最新费率镜像、采集日志流与跨进程锁
type Repo struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration
	keyRates  string // prefix + ":latest:rates"
	keyMarket string // prefix + ":latest:market"
	logStream string
	logChan   string
}

// LatestRate 镜像到 redis hash 的费率
type LatestRate struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Rate     float64 `json:"rate"`
	Ts       int64   `json:"ts_ms"`
}

// LatestMarket 镜像到 redis hash 的行情
type LatestMarket struct {
	Exchange        string   `json:"exchange"`
	Symbol          string   `json:"symbol"`
	Volume24h       *float64 `json:"volume_24h,omitempty"`
	OpenInterestUSD *float64 `json:"open_interest_usd,omitempty"`
	SpreadBps       *float64 `json:"spread_bps,omitempty"`
	Ts              int64    `json:"ts_ms"`
}

func New(rdb redis.UniversalClient, prefix string, ttl time.Duration, logStream, logChan string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "fundarb"
	}
	if strings.TrimSpace(logStream) == "" {
		logStream = prefix + ":collections"
	}
	if strings.TrimSpace(logChan) == "" {
		logChan = prefix + ":collections:pub"
	}
	return &Repo{
		rdb:       rdb,
		prefix:    prefix,
		ttl:       ttl,
		keyRates:  prefix + ":latest:rates",
		keyMarket: prefix + ":latest:market",
		logStream: logStream,
		logChan:   logChan,
	}
}

func field(exchange, symbol string) string {
	return fmt.Sprintf("%s:%s", exchange, symbol)
}

func (r *Repo) hset(ctx context.Context, key, f string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, key, f, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) MirrorFundingRate(ctx context.Context, exchange, symbol string, rate float64, at time.Time) error {
	return r.hset(ctx, r.keyRates, field(exchange, symbol), LatestRate{
		Exchange: exchange,
		Symbol:   symbol,
		Rate:     rate,
		Ts:       at.UnixMilli(),
	})
}

func (r *Repo) MirrorMarketData(ctx context.Context, exchange, symbol string, snap model.MarketDataSnapshot) error {
	return r.hset(ctx, r.keyMarket, field(exchange, symbol), LatestMarket{
		Exchange:        exchange,
		Symbol:          symbol,
		Volume24h:       snap.Volume24h,
		OpenInterestUSD: snap.OpenInterestUSD,
		SpreadBps:       snap.SpreadBps,
		Ts:              snap.UpdatedAt.UnixMilli(),
	})
}

// LatestRates 读取镜像中的全部最新费率
func (r *Repo) LatestRates(ctx context.Context) ([]LatestRate, error) {
	m, err := r.rdb.HGetAll(ctx, r.keyRates).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LatestRate, 0, len(m))
	for _, v := range m {
		var lr LatestRate
		if err := json.Unmarshal([]byte(v), &lr); err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, nil
}

// InsertCollectionLog 写入 stream 并发布到频道
func (r *Repo) InsertCollectionLog(ctx context.Context, rec model.CollectionLog) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.logStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"exchange":   rec.Exchange,
			"success":    rec.Success,
			"latency_ms": rec.LatencyMs,
			"payload":    string(b),
		},
	}).Result()
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.logChan, string(b)).Err()
}

// Acquire 以 SET NX PX 获取锁，release 校验 token 后删除
func (r *Repo) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lockKey := r.prefix + ":lock:" + key
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", lockKey, model.ErrLockHeld)
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, r.rdb, []string{lockKey}, token).Err()
	}, nil
}

func (r *Repo) Close() error { return r.rdb.Close() }

var (
	_ port.LatestRateMirror  = (*Repo)(nil)
	_ port.CollectionLogSink = (*Repo)(nil)
	_ port.RunLocker         = (*Repo)(nil)
)
