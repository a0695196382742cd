package port

import (
	"context"
	"time"

	"fundarb/internal/domain/model"
)

// IDCache 名称 <-> id 读穿缓存，随时可由存储重建
type IDCache interface {
	GetID(key string) (int64, bool)
	SetID(key string, id int64)
	GetName(key string) (string, bool)
	SetName(key string, name string)
}

// LatestRateMirror 最新资金费率/行情的外部镜像（如 redis），写入失败不影响采集
type LatestRateMirror interface {
	MirrorFundingRate(ctx context.Context, exchange, symbol string, rate float64, at time.Time) error
	MirrorMarketData(ctx context.Context, exchange, symbol string, snap model.MarketDataSnapshot) error
}

// RunLocker 跨进程采集互斥
type RunLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
