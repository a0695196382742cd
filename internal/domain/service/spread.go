package service

import "fundarb/internal/domain/model"

// 持仓量失衡默认阈值（long OI / short OI）
const (
	DefaultLongHeavyRatio  = 1.2
	DefaultShortHeavyRatio = 0.8
)

// OIThresholds 持仓量失衡分类阈值
type OIThresholds struct {
	LongHeavy  float64 // ratio > LongHeavy 为 long_heavy
	ShortHeavy float64 // ratio < ShortHeavy 为 short_heavy
}

// DefaultOIThresholds 默认阈值
func DefaultOIThresholds() OIThresholds {
	return OIThresholds{LongHeavy: DefaultLongHeavyRatio, ShortHeavy: DefaultShortHeavyRatio}
}

// Classify 按比值分类
func (t OIThresholds) Classify(ratio float64) model.OIImbalance {
	if ratio > t.LongHeavy {
		return model.OILongHeavy
	}
	if ratio < t.ShortHeavy {
		return model.OIShortHeavy
	}
	return model.OIBalanced
}

// SpreadBps 盘口买卖价差（相对中间价，bps）；报价无效时 ok=false
func SpreadBps(bid, ask float64) (float64, bool) {
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0, false
	}
	mid := (bid + ask) / 2
	return (ask - bid) / mid * 10000, true
}

// OpenInterestMetrics 由两腿持仓量构造指标，任一腿未知时 min/max/ratio 为 nil
func OpenInterestMetrics(long, short *float64, t OIThresholds) model.OpenInterestMetrics {
	m := model.OpenInterestMetrics{Long: long, Short: short}
	if long == nil || short == nil {
		return m
	}
	lo, hi := *long, *short
	if lo > hi {
		lo, hi = hi, lo
	}
	m.Min = model.Float(lo)
	m.Max = model.Float(hi)
	if *short > 0 {
		ratio := *long / *short
		m.Ratio = model.Float(ratio)
		m.Imbalance = t.Classify(ratio)
	}
	return m
}

// VolumeMetrics 两腿 24h 成交量
func VolumeMetrics(long, short *float64) model.VolumeMetrics {
	m := model.VolumeMetrics{Long: long, Short: short}
	if long != nil && short != nil {
		m.Min = model.Float(min(*long, *short))
	}
	return m
}

// SpreadMetrics 两腿盘口价差，平均值要求两腿均已知
func SpreadMetrics(long, short *float64) model.SpreadMetrics {
	m := model.SpreadMetrics{LongBps: long, ShortBps: short}
	if long != nil && short != nil {
		m.AvgBps = model.Float((*long + *short) / 2)
	}
	return m
}
