package service

import "math"

const (
	ReasonDivergenceFlipped = "divergence_flipped"
	ReasonDivergenceDecayed = "divergence_decayed"
)

// RebalancePolicy 价差收敛或反转时触发再平衡标记
type RebalancePolicy struct {
	// 同号且 |当前价差| 低于 |入场价差| × MinDivergenceRatio 时标记，0 关闭
	MinDivergenceRatio float64
}

// Evaluate 返回是否需要标记及原因
func (p RebalancePolicy) Evaluate(entryDivergence, currentDivergence float64) (string, bool) {
	if (entryDivergence > 0 && currentDivergence <= 0) || (entryDivergence < 0 && currentDivergence >= 0) {
		return ReasonDivergenceFlipped, true
	}
	if p.MinDivergenceRatio > 0 && entryDivergence != 0 &&
		math.Abs(currentDivergence) < math.Abs(entryDivergence)*p.MinDivergenceRatio {
		return ReasonDivergenceDecayed, true
	}
	return "", false
}
