package composite

import (
	"context"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// LogSink 采集日志扇出到多个 sink，返回第一个错误
type LogSink struct {
	sinks []port.CollectionLogSink
}

func NewLogSink(sinks ...port.CollectionLogSink) *LogSink {
	out := make([]port.CollectionLogSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &LogSink{sinks: out}
}

func (c *LogSink) InsertCollectionLog(ctx context.Context, rec model.CollectionLog) error {
	var firstErr error
	for _, s := range c.sinks {
		if err := s.InsertCollectionLog(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len 有效 sink 数
func (c *LogSink) Len() int { return len(c.sinks) }

// Mirror 最新费率扇出到多个镜像
type Mirror struct {
	mirrors []port.LatestRateMirror
}

func NewMirror(mirrors ...port.LatestRateMirror) *Mirror {
	out := make([]port.LatestRateMirror, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			out = append(out, m)
		}
	}
	return &Mirror{mirrors: out}
}

func (c *Mirror) MirrorFundingRate(ctx context.Context, exchange, symbol string, rate float64, at time.Time) error {
	var firstErr error
	for _, m := range c.mirrors {
		if err := m.MirrorFundingRate(ctx, exchange, symbol, rate, at); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Mirror) MirrorMarketData(ctx context.Context, exchange, symbol string, snap model.MarketDataSnapshot) error {
	var firstErr error
	for _, m := range c.mirrors {
		if err := m.MirrorMarketData(ctx, exchange, symbol, snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Mirror) Len() int { return len(c.mirrors) }

var (
	_ port.CollectionLogSink = (*LogSink)(nil)
	_ port.LatestRateMirror  = (*Mirror)(nil)
)
