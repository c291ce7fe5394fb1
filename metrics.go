package dedupgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines the interface for collecting engine metrics.
// Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// RecordItemProcessed is called once per item examined during a run.
	RecordItemProcessed()

	// RecordAssignment is called when an item joins an existing cluster.
	RecordAssignment(similarity float64)

	// RecordClusterCreated is called when an item founds a new cluster.
	RecordClusterCreated()

	// RecordEmbeddingFailure is called when embedding an item fails.
	RecordEmbeddingFailure()

	// RecordSearchDuration records the latency of one neighbor search.
	RecordSearchDuration(duration time.Duration)

	// RecordCommitDuration records the latency of one durable commit.
	RecordCommitDuration(duration time.Duration)

	// RecordCommitFailure is called when a commit fails and is discarded.
	RecordCommitFailure()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is disabled.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordItemProcessed() {}

func (NoopMetricsCollector) RecordAssignment(similarity float64) {}

func (NoopMetricsCollector) RecordClusterCreated() {}

func (NoopMetricsCollector) RecordEmbeddingFailure() {}

func (NoopMetricsCollector) RecordSearchDuration(d time.Duration) {}

func (NoopMetricsCollector) RecordCommitDuration(d time.Duration) {}

func (NoopMetricsCollector) RecordCommitFailure() {}

// BasicMetricsCollector is a simple atomic-counter implementation of
// MetricsCollector, suitable for tests and for polling via Snapshot.
type BasicMetricsCollector struct {
	itemsProcessed    atomic.Int64
	assignments       atomic.Int64
	clustersCreated   atomic.Int64
	embeddingFailures atomic.Int64
	commitFailures    atomic.Int64
	searchNanos       atomic.Int64
	searchCount       atomic.Int64
	commitNanos       atomic.Int64
	commitCount       atomic.Int64
}

// NewBasicMetricsCollector creates a new basic metrics collector.
func NewBasicMetricsCollector() *BasicMetricsCollector {
	return &BasicMetricsCollector{}
}

func (c *BasicMetricsCollector) RecordItemProcessed() { c.itemsProcessed.Add(1) }

func (c *BasicMetricsCollector) RecordAssignment(similarity float64) { c.assignments.Add(1) }

func (c *BasicMetricsCollector) RecordClusterCreated() { c.clustersCreated.Add(1) }

func (c *BasicMetricsCollector) RecordEmbeddingFailure() { c.embeddingFailures.Add(1) }

func (c *BasicMetricsCollector) RecordSearchDuration(d time.Duration) {
	c.searchNanos.Add(int64(d))
	c.searchCount.Add(1)
}

func (c *BasicMetricsCollector) RecordCommitDuration(d time.Duration) {
	c.commitNanos.Add(int64(d))
	c.commitCount.Add(1)
}

func (c *BasicMetricsCollector) RecordCommitFailure() { c.commitFailures.Add(1) }

// MetricsSnapshot is a point-in-time view of the collected counters.
type MetricsSnapshot struct {
	ItemsProcessed    int64
	Assignments       int64
	ClustersCreated   int64
	EmbeddingFailures int64
	CommitFailures    int64
	AvgSearchDuration time.Duration
	AvgCommitDuration time.Duration
}

// Snapshot returns the current counter values.
func (c *BasicMetricsCollector) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		ItemsProcessed:    c.itemsProcessed.Load(),
		Assignments:       c.assignments.Load(),
		ClustersCreated:   c.clustersCreated.Load(),
		EmbeddingFailures: c.embeddingFailures.Load(),
		CommitFailures:    c.commitFailures.Load(),
	}
	if n := c.searchCount.Load(); n > 0 {
		s.AvgSearchDuration = time.Duration(c.searchNanos.Load() / n)
	}
	if n := c.commitCount.Load(); n > 0 {
		s.AvgCommitDuration = time.Duration(c.commitNanos.Load() / n)
	}
	return s
}
