// Package cluster provides the durable cluster registry and the online
// similarity statistics each cluster carries.
//
// A cluster groups items that describe the same underlying event. Every
// cluster is anchored by its founding item (the centroid); the similarity
// statistics summarize the cosine similarities observed between the centroid
// and every item ever assigned, including the founding item itself.
package cluster

import "time"

// Cluster is one durable registry record.
//
// SimilarityMean and SimilarityM2 are the Welford-form running statistics of
// centroid similarity. MemberCount is always >= 1 and SimilarityM2 >= 0.
type Cluster struct {
	ID             string    `json:"cluster_id"`
	RunDateCreated string    `json:"run_date_created"` // YYYY-MM-DD
	CentroidItemID string    `json:"centroid_item_id"`
	MemberCount    int       `json:"member_count"`
	SimilarityMean float64   `json:"similarity_mean"`
	SimilarityM2   float64   `json:"similarity_m2"`
	CreatedAt      time.Time `json:"created_at"`
	LastAssignedAt time.Time `json:"last_assigned_at"`
}

// New creates a singleton cluster founded by the given item.
//
// The founding item's self-similarity is defined as 1.0, so the statistics
// start at mean=1.0, m2=0.0 with a member count of one.
func New(id, centroidItemID string, runDate, now time.Time) Cluster {
	return Cluster{
		ID:             id,
		RunDateCreated: runDate.UTC().Format("2006-01-02"),
		CentroidItemID: centroidItemID,
		MemberCount:    1,
		SimilarityMean: 1.0,
		SimilarityM2:   0.0,
		CreatedAt:      now.UTC(),
		LastAssignedAt: now.UTC(),
	}
}

// Observe folds one new member's centroid similarity into the cluster's
// running statistics and bumps the member count.
func (c *Cluster) Observe(similarity float64, now time.Time) {
	w := Welford{Count: int64(c.MemberCount), Mean: c.SimilarityMean, M2: c.SimilarityM2}
	w.Observe(similarity)
	c.MemberCount = int(w.Count)
	c.SimilarityMean = w.Mean
	c.SimilarityM2 = w.M2
	c.LastAssignedAt = now.UTC()
}

// Variance returns the population variance of the centroid similarities.
func (c *Cluster) Variance() float64 {
	w := Welford{Count: int64(c.MemberCount), Mean: c.SimilarityMean, M2: c.SimilarityM2}
	return w.Variance()
}

// StdDev returns the population standard deviation of the centroid similarities.
func (c *Cluster) StdDev() float64 {
	w := Welford{Count: int64(c.MemberCount), Mean: c.SimilarityMean, M2: c.SimilarityM2}
	return w.StdDev()
}
