package dedupgo

import "github.com/hupe1980/dedupgo/cluster"

// acceptanceThreshold returns the cosine-similarity threshold an item must
// meet to join the given cluster.
//
// In static mode this is the configured global threshold. In adaptive mode it
// is mean - k*stddev of the cluster's observed centroid similarities, clamped
// to [threshold_floor, similarity_threshold]: a brand-new singleton cluster
// (mean 1.0, stddev 0) starts at the global threshold, and as the cluster's
// internal spread grows the threshold relaxes monotonically down to the
// floor. The clamp at the global threshold keeps adaptivity from ever
// demanding more than the operator's configured ceiling.
func acceptanceThreshold(cfg Config, c cluster.Cluster) float64 {
	if !cfg.AdaptiveThreshold {
		return cfg.SimilarityThreshold
	}

	thr := c.SimilarityMean - cfg.AdaptiveK*c.StdDev()
	if thr < cfg.ThresholdFloor {
		thr = cfg.ThresholdFloor
	}
	if thr > cfg.SimilarityThreshold {
		thr = cfg.SimilarityThreshold
	}
	return thr
}
