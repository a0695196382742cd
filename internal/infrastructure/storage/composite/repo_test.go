package composite

import (
	"context"
	"errors"
	"testing"
	"time"

	"fundarb/internal/domain/model"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	err  error
	recs []model.CollectionLog
}

func (s *recordingSink) InsertCollectionLog(_ context.Context, rec model.CollectionLog) error {
	s.recs = append(s.recs, rec)
	return s.err
}

type recordingMirror struct {
	err   error
	rates int
}

func (m *recordingMirror) MirrorFundingRate(context.Context, string, string, float64, time.Time) error {
	m.rates++
	return m.err
}

func (m *recordingMirror) MirrorMarketData(context.Context, string, string, model.MarketDataSnapshot) error {
	return m.err
}

func TestLogSinkFansOutAndKeepsFirstError(t *testing.T) {
	first := errors.New("first")
	a := &recordingSink{err: first}
	b := &recordingSink{err: errors.New("second")}
	c := &recordingSink{}

	sink := NewLogSink(a, nil, b, c)
	assert.Equal(t, 3, sink.Len())

	err := sink.InsertCollectionLog(context.Background(), model.CollectionLog{Exchange: "binance"})
	assert.ErrorIs(t, err, first)
	for _, s := range []*recordingSink{a, b, c} {
		assert.Len(t, s.recs, 1)
	}
}

func TestMirrorFansOut(t *testing.T) {
	a, b := &recordingMirror{}, &recordingMirror{}
	m := NewMirror(nil, a, b)
	assert.Equal(t, 2, m.Len())

	assert.NoError(t, m.MirrorFundingRate(context.Background(), "bybit", "BTC", 0.0001, time.Now()))
	assert.Equal(t, 1, a.rates)
	assert.Equal(t, 1, b.rates)
}
