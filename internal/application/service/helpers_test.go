package service

import (
	"context"
	"testing"
	"time"

	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"
	"fundarb/internal/infrastructure/storage"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// zeroFees 给定交易所均为 0 手续费
func zeroFees(exchanges ...string) *domainsvc.FeeModel {
	fees := make(map[string]model.FeeStructure, len(exchanges))
	for _, ex := range exchanges {
		fees[ex] = model.FeeStructure{}
	}
	return domainsvc.NewFeeModel(domainsvc.FeeModelConfig{Fees: fees})
}

func quote(symbol, exchange string, rate float64) model.Quote {
	return model.Quote{Symbol: symbol, Exchange: exchange, Rate: rate, CapturedAt: testNow}
}

func newStoreWithExchanges(t *testing.T, exchanges ...string) *storage.InMemoryStore {
	t.Helper()
	store := storage.NewInMemoryStore()
	for _, ex := range exchanges {
		_, err := store.UpsertExchange(context.Background(), ex, model.FeeStructure{}, true)
		require.NoError(t, err)
	}
	return store
}

// seedRate 写入一条最新资金费率
func seedRate(t *testing.T, store *storage.InMemoryStore, exchange, symbol string, rate float64) (exchangeID, symbolID int64) {
	t.Helper()
	ctx := context.Background()
	ex, ok, err := store.FindExchange(ctx, exchange)
	require.NoError(t, err)
	require.True(t, ok, "exchange %s not seeded", exchange)
	sym, err := store.GetOrCreateSymbol(ctx, symbol)
	require.NoError(t, err)
	require.NoError(t, store.InsertFundingRate(ctx, model.FundingRateSnapshot{
		ExchangeID: ex.ID, SymbolID: sym.ID, Rate: rate, CapturedAt: testNow,
	}))
	return ex.ID, sym.ID
}
