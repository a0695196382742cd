package service

import (
	"context"
	"testing"

	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFinder(fees *domainsvc.FeeModel) *OpportunityFinder {
	f := NewOpportunityFinder(nil, fees, domainsvc.DefaultOIThresholds(), 0)
	f.now = fixedNow
	return f
}

func TestScoreSkipsSymbolsWithSingleQuote(t *testing.T) {
	f := newTestFinder(zeroFees("a", "b"))
	opps := f.Score([]model.Quote{
		quote("BTC", "a", -0.0002),
		quote("ETH", "a", 0.0001),
		quote("ETH", "b", 0.0005),
	}, OpportunityFilter{})

	require.Len(t, opps, 1)
	assert.Equal(t, "ETH", opps[0].Symbol)
}

func TestScoreEvaluatesBothDirections(t *testing.T) {
	f := newTestFinder(zeroFees("a", "b"))
	opps := f.Score([]model.Quote{
		quote("BTC", "b", 0.0006),
		quote("BTC", "a", -0.0002),
	}, OpportunityFilter{})

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, "a", opp.LongExchange)
	assert.Equal(t, "b", opp.ShortExchange)
	assert.InDelta(t, 0.0008, opp.Divergence, 1e-15)
	assert.InDelta(t, 0.0008, opp.NetProfitPerPeriod, 1e-15)
	assert.InDelta(t, 87.6, opp.AnnualizedAPY, 1e-9)
	assert.Equal(t, testNow, opp.DiscoveredAt)
	assert.True(t, opp.IsProfitable())
}

func TestScoreInvariants(t *testing.T) {
	fees := domainsvc.NewFeeModel(domainsvc.FeeModelConfig{Fees: map[string]model.FeeStructure{
		"a": {MakerFee: 0.0001, TakerFee: 0.0003},
		"b": {MakerFee: 0.0002, TakerFee: 0.0005},
		"c": {MakerFee: 0, TakerFee: 0.0002},
	}})
	f := newTestFinder(fees)
	quotes := []model.Quote{
		quote("BTC", "a", -0.0010), quote("BTC", "b", 0.0004), quote("BTC", "c", 0.0021), quote("BTC", "d", 0.0002),
		quote("ETH", "a", 0.0030), quote("ETH", "b", -0.0004), quote("ETH", "c", 0.0001),
		quote("SOL", "a", 0.0001), quote("SOL", "b", 0.00011),
	}
	filters := []OpportunityFilter{
		{},
		{MinDivergence: 0.002},
		{MinProfitPercent: 0.001},
		{MinDivergence: 0.001, MinProfitPercent: 0.0005, UseTaker: true},
	}
	for _, filter := range filters {
		opps := f.Score(quotes, filter)
		require.NotEmpty(t, opps, "filter %+v", filter)
		for _, o := range opps {
			assert.Equal(t, o.ShortRate-o.LongRate, o.Divergence)
			assert.GreaterOrEqual(t, o.Divergence, filter.MinDivergence)
			assert.GreaterOrEqual(t, o.NetProfitPerPeriod, filter.MinProfitPercent)
			assert.Greater(t, o.NetProfitPerPeriod, 0.0)
			assert.InDelta(t, o.NetProfitPerPeriod*1095*100, o.AnnualizedAPY, 1e-9)
		}
	}
}

func TestScoreBreakEvenIsNotProfitable(t *testing.T) {
	fees := domainsvc.NewFeeModel(domainsvc.FeeModelConfig{Fees: map[string]model.FeeStructure{
		"l": {MakerFee: 0.0002}, "s": {MakerFee: 0.0002},
	}})
	f := newTestFinder(fees)
	opps := f.Score([]model.Quote{quote("BTC", "l", -0.0002), quote("BTC", "s", 0.0006)}, OpportunityFilter{})
	assert.Empty(t, opps)
}

func TestScoreExchangeFilters(t *testing.T) {
	f := newTestFinder(zeroFees("a", "b", "c"))
	quotes := []model.Quote{quote("BTC", "a", 0.0001), quote("BTC", "b", 0.0003), quote("BTC", "c", 0.0006)}

	cases := []struct {
		name   string
		filter OpportunityFilter
		want   []string
	}{
		{"none", OpportunityFilter{}, []string{"a/c", "b/c", "a/b"}},
		{"required", OpportunityFilter{RequiredExchange: "C"}, []string{"a/c", "b/c"}},
		{"include", OpportunityFilter{IncludeExchanges: []string{"a"}}, []string{"a/c", "a/b"}},
		{"exclude", OpportunityFilter{ExcludeExchanges: []string{"a"}}, []string{"b/c"}},
		{"whitelist", OpportunityFilter{WhitelistExchanges: []string{"a", "b"}}, []string{"a/b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for _, o := range f.Score(quotes, tc.filter) {
				got = append(got, o.LongExchange+"/"+o.ShortExchange)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestScoreMarketDataFilters(t *testing.T) {
	f := newTestFinder(zeroFees("a", "b", "c"))
	withMD := func(q model.Quote, vol, oi, spread *float64) model.Quote {
		q.Volume24h, q.OpenInterestUSD, q.SpreadBps = vol, oi, spread
		return q
	}
	quotes := []model.Quote{
		withMD(quote("BTC", "a", 0.0001), model.Float(5e6), model.Float(3e6), model.Float(1)),
		withMD(quote("BTC", "b", 0.0004), model.Float(1e6), model.Float(1e6), model.Float(3)),
		quote("BTC", "c", 0.0009), // 行情未知
	}

	opps := f.Score(quotes, OpportunityFilter{MinVolume24h: model.Float(2e6)})
	for _, o := range opps {
		assert.NotEqual(t, "a/b", o.LongExchange+"/"+o.ShortExchange, "smaller leg volume is below the bound")
	}
	assert.Len(t, opps, 2, "pairs with unknown volume pass")

	opps = f.Score(quotes, OpportunityFilter{OIImbalance: model.OILongHeavy, MaxSpreadBps: model.Float(5)})
	require.Len(t, opps, 3)
	for _, o := range opps {
		if o.LongExchange == "a" && o.ShortExchange == "b" {
			assert.Equal(t, model.OILongHeavy, o.OpenInterest.Imbalance)
			assert.InDelta(t, 3.0, *o.OpenInterest.Ratio, 1e-12)
			assert.InDelta(t, 2.0, *o.Spread.AvgBps, 1e-12)
		}
	}

	opps = f.Score(quotes, OpportunityFilter{MaxOIRatio: model.Float(1.0)})
	assert.Len(t, opps, 2)
}

func TestScoreSortingPutsUnknownLast(t *testing.T) {
	f := newTestFinder(zeroFees("a", "b", "c"))
	qa := quote("BTC", "a", 0.0001)
	qa.Volume24h = model.Float(100)
	qb := quote("BTC", "b", 0.0004)
	qb.Volume24h = model.Float(300)
	qc := quote("BTC", "c", 0.0009)

	for _, asc := range []bool{false, true} {
		opps := f.Score([]model.Quote{qa, qb, qc}, OpportunityFilter{SortBy: SortVolume, Ascending: asc})
		require.Len(t, opps, 3)
		require.NotNil(t, opps[0].Volume.Min)
		assert.Nil(t, opps[1].Volume.Min)
		assert.Nil(t, opps[2].Volume.Min)
		// 缺失值之间保持输入顺序
		assert.Equal(t, "a", opps[1].LongExchange)
		assert.Equal(t, "b", opps[2].LongExchange)
	}

	opps := f.Score([]model.Quote{qa, qb, qc}, OpportunityFilter{})
	require.Len(t, opps, 3)
	assert.Equal(t, "a/c", opps[0].LongExchange+"/"+opps[0].ShortExchange)
	assert.GreaterOrEqual(t, opps[0].NetProfitPerPeriod, opps[1].NetProfitPerPeriod)
	assert.GreaterOrEqual(t, opps[1].NetProfitPerPeriod, opps[2].NetProfitPerPeriod)
}

func TestScoreUsesSharedFundingInterval(t *testing.T) {
	f := newTestFinder(zeroFees("a", "b", "c"))
	qa := quote("BTC", "a", 0.0001)
	qa.IntervalHours = model.Float(1)
	qb := quote("BTC", "b", 0.0002)
	qb.IntervalHours = model.Float(1)
	qc := quote("BTC", "c", 0.0003)
	qc.IntervalHours = model.Float(4)

	opps := f.Score([]model.Quote{qa, qb, qc}, OpportunityFilter{SortBy: SortDivergence, Ascending: true})
	require.Len(t, opps, 3)

	byPair := map[string]model.ArbitrageOpportunity{}
	for _, o := range opps {
		byPair[o.LongExchange+"/"+o.ShortExchange] = o
	}
	assert.Equal(t, 1.0, byPair["a/b"].Costs.FundingIntervalHours)
	assert.InDelta(t, 0.0001*8760*100, byPair["a/b"].AnnualizedAPY, 1e-9)
	assert.Equal(t, 8.0, byPair["a/c"].Costs.FundingIntervalHours, "mismatched intervals fall back to default")

	opps = f.Score([]model.Quote{qa, qb}, OpportunityFilter{IntervalHours: 4})
	require.Len(t, opps, 1)
	assert.Equal(t, 4.0, opps[0].Costs.FundingIntervalHours)
}

func TestScoreLimit(t *testing.T) {
	f := newTestFinder(zeroFees())
	var quotes []model.Quote
	for i, ex := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		quotes = append(quotes, quote("BTC", ex, float64(i)*0.0001))
	}
	assert.Len(t, f.Score(quotes, OpportunityFilter{}), 0, "fallback fees make small spreads unprofitable")

	f = newTestFinder(zeroFees("a", "b", "c", "d", "e", "f", "g", "h"))
	assert.Len(t, f.Score(quotes, OpportunityFilter{}), DefaultOpportunityLimit)
	assert.Len(t, f.Score(quotes, OpportunityFilter{Limit: 5}), 5)
}

func TestFindOpportunitiesValidatesFilter(t *testing.T) {
	f := NewOpportunityFinder(newStoreWithExchanges(t), zeroFees(), domainsvc.DefaultOIThresholds(), 0)
	ctx := context.Background()

	for _, filter := range []OpportunityFilter{
		{Limit: 101},
		{Limit: -1},
		{SortBy: "price"},
		{OIImbalance: "sideways"},
		{MinVolume24h: model.Float(10), MaxVolume24h: model.Float(1)},
	} {
		_, err := f.FindOpportunities(ctx, filter)
		assert.ErrorIs(t, err, model.ErrInvalidFilter, "filter %+v", filter)
	}
}

func TestFindOpportunitiesFromStore(t *testing.T) {
	store := newStoreWithExchanges(t, "binance", "bybit", "okx")
	seedRate(t, store, "binance", "BTC", -0.0002)
	seedRate(t, store, "bybit", "BTC", 0.0006)
	seedRate(t, store, "okx", "BTC", 0.0001)
	seedRate(t, store, "binance", "ETH", 0.0001)

	f := NewOpportunityFinder(store, zeroFees("binance", "bybit", "okx"), domainsvc.DefaultOIThresholds(), 10)
	ctx := context.Background()

	opps, err := f.FindOpportunities(ctx, OpportunityFilter{})
	require.NoError(t, err)
	require.Len(t, opps, 3)
	assert.Equal(t, "binance", opps[0].LongExchange)
	assert.Equal(t, "bybit", opps[0].ShortExchange)

	best, ok, err := f.FindBest(ctx, OpportunityFilter{ExcludeExchanges: []string{"bybit"}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "okx", best.ShortExchange)

	_, ok, err = f.FindBest(ctx, OpportunityFilter{Symbols: []string{"ETH"}})
	require.NoError(t, err)
	assert.False(t, ok)

	opps, err = f.FindForSymbol(ctx, "btc", OpportunityFilter{WhitelistExchanges: []string{"okx", "bybit"}})
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "okx", opps[0].LongExchange)

	// 过滤条件下推到存储前先规范化大小写
	opps, err = f.FindOpportunities(ctx, OpportunityFilter{Symbols: []string{"btc"}, WhitelistExchanges: []string{"Binance", "Bybit"}})
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "binance", opps[0].LongExchange)
	assert.Equal(t, "bybit", opps[0].ShortExchange)

	opps, err = f.FindOpportunities(ctx, OpportunityFilter{Symbols: []string{" Btc "}, ExcludeExchanges: []string{"OKX"}})
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "BTC", opps[0].Symbol)
}
