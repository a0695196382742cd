package service

import (
	"testing"

	"fundarb/internal/domain/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOIThresholds_Classify(t *testing.T) {
	th := DefaultOIThresholds()

	tests := []struct {
		ratio float64
		want  model.OIImbalance
	}{
		{1.5, model.OILongHeavy},
		{1.2, model.OIBalanced},
		{1.0, model.OIBalanced},
		{0.8, model.OIBalanced},
		{0.5, model.OIShortHeavy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Classify(tt.ratio), "ratio %v", tt.ratio)
	}
}

func TestOpenInterestMetrics(t *testing.T) {
	m := OpenInterestMetrics(model.Float(300), model.Float(100), DefaultOIThresholds())
	require.NotNil(t, m.Ratio)
	assert.Equal(t, 3.0, *m.Ratio)
	assert.Equal(t, 100.0, *m.Min)
	assert.Equal(t, 300.0, *m.Max)
	assert.Equal(t, model.OILongHeavy, m.Imbalance)

	unknown := OpenInterestMetrics(nil, model.Float(100), DefaultOIThresholds())
	assert.Nil(t, unknown.Min)
	assert.Nil(t, unknown.Ratio)
	assert.Equal(t, model.OIImbalance(""), unknown.Imbalance)
}

func TestSpreadBps(t *testing.T) {
	bps, ok := SpreadBps(99.5, 100.5)
	require.True(t, ok)
	assert.InDelta(t, 100.0, bps, 1e-9)

	_, ok = SpreadBps(0, 100)
	assert.False(t, ok)
	_, ok = SpreadBps(101, 100)
	assert.False(t, ok)
}

func TestSpreadMetrics_AverageNeedsBothLegs(t *testing.T) {
	assert.Nil(t, SpreadMetrics(model.Float(2), nil).AvgBps)
	assert.Equal(t, 3.0, *SpreadMetrics(model.Float(2), model.Float(4)).AvgBps)
	assert.Equal(t, 5.0, *VolumeMetrics(model.Float(5), model.Float(9)).Min)
}

func TestRebalancePolicy_Evaluate(t *testing.T) {
	p := RebalancePolicy{MinDivergenceRatio: 0.5}

	reason, flag := p.Evaluate(0.001, -0.0001)
	assert.True(t, flag)
	assert.Equal(t, ReasonDivergenceFlipped, reason)

	reason, flag = p.Evaluate(0.001, 0.0004)
	assert.True(t, flag)
	assert.Equal(t, ReasonDivergenceDecayed, reason)

	_, flag = p.Evaluate(0.001, 0.0008)
	assert.False(t, flag)

	_, flag = RebalancePolicy{}.Evaluate(0.001, 0.0001)
	assert.False(t, flag)

	// 负价差入场按绝对值比较
	reason, flag = p.Evaluate(-0.001, -0.0004)
	assert.True(t, flag)
	assert.Equal(t, ReasonDivergenceDecayed, reason)

	_, flag = p.Evaluate(-0.001, -0.0008)
	assert.False(t, flag)

	reason, flag = p.Evaluate(-0.001, 0.0002)
	assert.True(t, flag)
	assert.Equal(t, ReasonDivergenceFlipped, reason)
}

func TestRiskLimits_CheckOpen(t *testing.T) {
	limits := RiskLimits{
		MaxPositionSizeUSD:    decimal.NewFromInt(10000),
		MaxTotalExposureUSD:   decimal.NewFromInt(25000),
		MaxPositionsPerSymbol: 2,
	}

	assert.NoError(t, limits.CheckOpen("BTC", decimal.NewFromInt(5000), Exposure{}))
	assert.ErrorIs(t, limits.CheckOpen("BTC", decimal.NewFromInt(20000), Exposure{}), model.ErrRiskLimit)
	assert.ErrorIs(t, limits.CheckOpen("BTC", decimal.NewFromInt(100), Exposure{SymbolPositions: 2}), model.ErrRiskLimit)
	assert.ErrorIs(t, limits.CheckOpen("ETH", decimal.NewFromInt(6000),
		Exposure{TotalPositions: 3, TotalExposureUSD: decimal.NewFromInt(20000)}), model.ErrRiskLimit)
	assert.NoError(t, RiskLimits{}.CheckOpen("ETH", decimal.NewFromInt(1e9), Exposure{TotalPositions: 100}))
}
