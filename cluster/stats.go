package cluster

import "math"

// Welford tracks running mean and variance of a similarity stream using
// Welford's single-pass algorithm. It avoids the catastrophic cancellation
// that accumulating sum(x²) - sum(x)²/n suffers from, so the statistic stays
// stable across unbounded cluster growth.
type Welford struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Observe folds one similarity observation into the running statistic.
func (w *Welford) Observe(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (x - w.Mean)
	// Floating error can nudge M2 below zero at the margins.
	if w.M2 < 0 {
		w.M2 = 0
	}
}

// Variance returns the population variance (M2/Count).
// Count >= 1 for any cluster, so the population convention avoids a zero
// divisor without special-casing.
func (w *Welford) Variance() float64 {
	if w.Count == 0 {
		return 0
	}
	return w.M2 / float64(w.Count)
}

// StdDev returns the population standard deviation.
func (w *Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}
