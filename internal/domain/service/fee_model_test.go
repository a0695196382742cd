package service

import (
	"testing"

	"fundarb/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFeeModel() *FeeModel {
	return NewFeeModel(FeeModelConfig{
		Fees: map[string]model.FeeStructure{
			"Lexchange": {MakerFee: 0.0002, TakerFee: 0.0005},
			"sexchange": {MakerFee: 0.0002, TakerFee: 0.0005},
			"zerofee-a": {},
			"zerofee-b": {},
		},
	})
}

func TestCostOf_BreakEvenIsNotProfitable(t *testing.T) {
	m := testFeeModel()

	costs := m.CostOf("lexchange", "sexchange", -0.0002, 0.0006, true)

	assert.InDelta(t, 0.0008, costs.TotalFee, 1e-15)
	assert.InDelta(t, 0.0008, costs.FundingProfitPerPeriod, 1e-15)
	assert.Equal(t, 0.0, costs.NetRatePerPeriod)
	assert.False(t, costs.IsProfitable)
	assert.Equal(t, 0.0, costs.AnnualizedAPY)
}

func TestCostOf_ZeroFeeExchange(t *testing.T) {
	m := testFeeModel()

	costs := m.CostOf("zerofee-a", "zerofee-b", -0.0002, 0.0006, true)

	assert.InDelta(t, 0.0008, costs.NetRatePerPeriod, 1e-15)
	assert.InDelta(t, 87.6, costs.AnnualizedAPY, 1e-9)
	assert.True(t, costs.IsProfitable)
	assert.Equal(t, 8.0, costs.FundingIntervalHours)
}

func TestCostOf_IsPure(t *testing.T) {
	m := testFeeModel()

	first := m.CostOf("lexchange", "unknown", 0.0001, 0.0009, false)
	second := m.CostOf("lexchange", "unknown", 0.0001, 0.0009, false)

	assert.Equal(t, first, second)
}

func TestCostOf_TakerAndFallback(t *testing.T) {
	m := testFeeModel()

	costs := m.CostOf("lexchange", "nobody", 0, 0.01, false)

	wantTotal := 2 * (0.0005 + DefaultFeeStructure.TakerFee)
	assert.InDelta(t, wantTotal, costs.TotalFee, 1e-15)
	assert.InDelta(t, wantTotal*10000, costs.TotalFeeBps, 1e-9)
	assert.InDelta(t, costs.EntryFee, costs.ExitFee, 1e-18)
	assert.InDelta(t, 0.01-wantTotal, costs.NetRatePerPeriod, 1e-15)
}

func TestCostOfInterval_HourlyFunding(t *testing.T) {
	m := testFeeModel()

	costs := m.CostOfInterval("zerofee-a", "zerofee-b", 0, 0.0001, true, 1)

	assert.Equal(t, 1.0, costs.FundingIntervalHours)
	assert.InDelta(t, 0.0001*8760*100, costs.AnnualizedAPY, 1e-9)
}

func TestFeeStructureFor(t *testing.T) {
	fallback := model.FeeStructure{MakerFee: 0.001, TakerFee: 0.002}
	m := NewFeeModel(FeeModelConfig{
		Fees:     map[string]model.FeeStructure{"Binance": {MakerFee: 0.0002, TakerFee: 0.0004}},
		Fallback: &fallback,
	})

	require.True(t, m.Known(" binance "))
	assert.Equal(t, 0.0002, m.FeeStructureFor("BINANCE").MakerFee)
	assert.Equal(t, fallback, m.FeeStructureFor("unknown"))
	assert.False(t, m.Known("unknown"))
	assert.Equal(t, 8.0, m.DefaultIntervalHours())
}

func TestAnnualizedAPY(t *testing.T) {
	assert.InDelta(t, 1095.0, PaymentsPerYear(8), 1e-12)
	assert.InDelta(t, 2190.0, PaymentsPerYear(4), 1e-12)
	assert.InDelta(t, 1095.0, PaymentsPerYear(0), 1e-12)
	assert.InDelta(t, 0.001*1095*100, AnnualizedAPY(0.001, 8), 1e-9)
}
