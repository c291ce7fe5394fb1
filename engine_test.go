package dedupgo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dedupgo/embedding"
	"github.com/hupe1980/dedupgo/internal/fs"
)

// mapEmbedder returns fixed vectors keyed by text and fails for unknown texts.
func mapEmbedder(dim int, vectors map[string][]float32) embedding.Embedder {
	return embedding.Func{
		Dim: dim,
		Fn: func(_ context.Context, text string) ([]float32, error) {
			v, ok := vectors[text]
			if !ok {
				return nil, fmt.Errorf("no vector for %q", text)
			}
			return v, nil
		},
	}
}

// Unit vectors with cos(a, b) = 0.97 and cos(a, c) = 0.80, so with a 0.94
// threshold b joins a's cluster and c founds its own.
var testVectors = map[string][]float32{
	"a": {1, 0},
	"b": {0.97, 0.24310491},
	"c": {0.8, 0.6},
}

func testEngineConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0.94
	cfg.EmbeddingDimension = 2
	cfg.StateDirectory = filepath.Join(t.TempDir(), "state")
	cfg.EmbedConcurrency = 2
	return cfg
}

func openTestEngine(t *testing.T, cfg Config, vectors map[string][]float32, optFns ...func(o *Options)) *Engine {
	t.Helper()
	e, err := Open(cfg, mapEmbedder(cfg.EmbeddingDimension, vectors), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpenValidation(t *testing.T) {
	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := testEngineConfig(t)
		cfg.MaxNeighbors = 0
		_, err := Open(cfg, mapEmbedder(2, testVectors))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("NilEmbedder", func(t *testing.T) {
		_, err := Open(testEngineConfig(t), nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("EmbedderDimensionMismatch", func(t *testing.T) {
		cfg := testEngineConfig(t)
		_, err := Open(cfg, mapEmbedder(3, testVectors))
		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 2, dm.Expected)
		assert.Equal(t, 3, dm.Actual)
	})

	t.Run("SecondOpenIsLocked", func(t *testing.T) {
		cfg := testEngineConfig(t)
		openTestEngine(t, cfg, testVectors)

		_, err := Open(cfg, mapEmbedder(2, testVectors))
		assert.ErrorIs(t, err, ErrLocked)
	})

	t.Run("LockReleasedOnClose", func(t *testing.T) {
		cfg := testEngineConfig(t)
		e, err := Open(cfg, mapEmbedder(2, testVectors))
		require.NoError(t, err)
		require.NoError(t, e.Close())

		e2, err := Open(cfg, mapEmbedder(2, testVectors))
		require.NoError(t, err)
		assert.NoError(t, e2.Close())
	})
}

func TestProcessBatchColdStart(t *testing.T) {
	e := openTestEngine(t, testEngineConfig(t), testVectors)

	report, err := e.ProcessBatch(context.Background(), []Item{{ID: "item-a", Text: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Assigned)

	view, ok := e.LookupItem("item-a")
	require.True(t, ok)
	assert.Equal(t, "item-a", view.Cluster.CentroidItemID)
	assert.Equal(t, 1, view.Cluster.MemberCount)
	assert.Equal(t, 1.0, view.Cluster.SimilarityMean)
	assert.Equal(t, 0.0, view.Cluster.SimilarityM2)

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Equal(t, 1, stats.Clusters)
	assert.Equal(t, 1, stats.Items)
}

func TestProcessBatchClustering(t *testing.T) {
	metrics := NewBasicMetricsCollector()
	e := openTestEngine(t, testEngineConfig(t), testVectors, WithMetricsCollector(metrics))

	report, err := e.ProcessBatch(context.Background(), []Item{
		{ID: "item-a", Text: "a"},
		{ID: "item-b", Text: "b"},
		{ID: "item-c", Text: "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Assigned)
	assert.Equal(t, 0, report.Failed)

	viewA, ok := e.LookupItem("item-a")
	require.True(t, ok)
	viewB, ok := e.LookupItem("item-b")
	require.True(t, ok)
	viewC, ok := e.LookupItem("item-c")
	require.True(t, ok)

	assert.Equal(t, viewA.ClusterID, viewB.ClusterID)
	assert.NotEqual(t, viewA.ClusterID, viewC.ClusterID)

	// The founding item stays the centroid; statistics fold in the new
	// member's centroid similarity.
	ab := viewB.Cluster
	assert.Equal(t, "item-a", ab.CentroidItemID)
	assert.Equal(t, 2, ab.MemberCount)
	assert.InDelta(t, 0.985, ab.SimilarityMean, 1e-3)

	solo := viewC.Cluster
	assert.Equal(t, "item-c", solo.CentroidItemID)
	assert.Equal(t, 1, solo.MemberCount)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(3), snap.ItemsProcessed)
	assert.Equal(t, int64(1), snap.Assignments)
	assert.Equal(t, int64(2), snap.ClustersCreated)
}

func TestProcessBatchIdempotent(t *testing.T) {
	e := openTestEngine(t, testEngineConfig(t), testVectors)
	batch := []Item{
		{ID: "item-a", Text: "a"},
		{ID: "item-b", Text: "b"},
		{ID: "item-c", Text: "c"},
	}

	_, err := e.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	genAfterFirst := e.Stats().Generation
	clustersAfterFirst := e.Clusters()

	report, err := e.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 0, report.Assigned)
	assert.Equal(t, 0, report.Created)

	// A re-run commits nothing: same generation, byte-identical state.
	assert.Equal(t, genAfterFirst, e.Stats().Generation)
	assert.Equal(t, clustersAfterFirst, e.Clusters())
}

func TestProcessBatchDuplicateIDsInBatch(t *testing.T) {
	e := openTestEngine(t, testEngineConfig(t), testVectors)

	report, err := e.ProcessBatch(context.Background(), []Item{
		{ID: "item-a", Text: "a"},
		{ID: "item-a", Text: "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Skipped)

	view, ok := e.LookupItem("item-a")
	require.True(t, ok)
	assert.Equal(t, 1, view.Cluster.MemberCount)
}

func TestProcessBatchRestart(t *testing.T) {
	cfg := testEngineConfig(t)
	vectors := map[string][]float32{
		"a": {1, 0},
		"b": {0.97, 0.24310491},
		"d": {0.96, 0.28},
	}

	e1, err := Open(cfg, mapEmbedder(2, vectors))
	require.NoError(t, err)
	_, err = e1.ProcessBatch(context.Background(), []Item{
		{ID: "item-a", Text: "a"},
		{ID: "item-b", Text: "b"},
	})
	require.NoError(t, err)
	viewA, _ := e1.LookupItem("item-a")
	require.NoError(t, e1.Close())

	e2, err := Open(cfg, mapEmbedder(2, vectors))
	require.NoError(t, err)
	defer e2.Close()

	// Prior assignments survive the restart.
	view, ok := e2.LookupItem("item-b")
	require.True(t, ok)
	assert.Equal(t, viewA.ClusterID, view.ClusterID)
	assert.Equal(t, 2, e2.Stats().Items)

	// New near-duplicates keep joining the restored cluster, and the
	// statistics keep tracking similarity to the original centroid.
	report, err := e2.ProcessBatch(context.Background(), []Item{{ID: "item-d", Text: "d"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Assigned)

	viewD, ok := e2.LookupItem("item-d")
	require.True(t, ok)
	assert.Equal(t, viewA.ClusterID, viewD.ClusterID)
	assert.Equal(t, "item-a", viewD.Cluster.CentroidItemID)
	assert.Equal(t, 3, viewD.Cluster.MemberCount)
	assert.InDelta(t, (1.0+0.97+0.96)/3, viewD.Cluster.SimilarityMean, 1e-3)
}

func TestProcessBatchEmbeddingFailure(t *testing.T) {
	cfg := testEngineConfig(t)
	vectors := map[string][]float32{"a": {1, 0}}

	e := openTestEngine(t, cfg, vectors)

	report, err := e.ProcessBatch(context.Background(), []Item{
		{ID: "item-a", Text: "a"},
		{ID: "item-x", Text: "unknown"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "item-x", report.Failures[0].ItemID)
	assert.ErrorIs(t, report.Failures[0].Err, ErrEmbedding)

	// The failed item stays unassigned; no placeholder vector is indexed.
	_, ok := e.LookupItem("item-x")
	assert.False(t, ok)
	assert.Equal(t, 1, e.Stats().Items)
}

func TestProcessBatchFailedItemRetries(t *testing.T) {
	cfg := testEngineConfig(t)

	flaky := map[string][]float32{"a": {1, 0}}
	e := openTestEngine(t, cfg, flaky)

	_, err := e.ProcessBatch(context.Background(), []Item{{ID: "item-b", Text: "b"}})
	require.NoError(t, err)
	_, ok := e.LookupItem("item-b")
	require.False(t, ok)

	// Once the embedder recovers, the same item assigns normally.
	flaky["b"] = []float32{0, 1}
	report, err := e.ProcessBatch(context.Background(), []Item{{ID: "item-b", Text: "b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	_, ok = e.LookupItem("item-b")
	assert.True(t, ok)
}

func TestProcessBatchEquidistantTieBreak(t *testing.T) {
	// item-m sits exactly between the two cluster founders, so both
	// clusters are accepted with the identical similarity. The decision
	// must fall to the smallest cluster ID, no matter which cluster was
	// founded first or where its entry sits in the neighbor list.
	vectors := map[string][]float32{
		"p": {1, 0},
		"q": {0, 1},
		"m": {1, 1},
	}

	founders := map[string][]Item{
		"PFoundedFirst": {{ID: "item-p", Text: "p"}, {ID: "item-q", Text: "q"}},
		"QFoundedFirst": {{ID: "item-q", Text: "q"}, {ID: "item-p", Text: "p"}},
	}

	for name, batch := range founders {
		t.Run(name, func(t *testing.T) {
			cfg := testEngineConfig(t)
			cfg.SimilarityThreshold = 0.5
			e := openTestEngine(t, cfg, vectors)

			report, err := e.ProcessBatch(context.Background(), batch)
			require.NoError(t, err)
			require.Equal(t, 2, report.Created)

			report, err = e.ProcessBatch(context.Background(), []Item{{ID: "item-m", Text: "m"}})
			require.NoError(t, err)
			require.Equal(t, 1, report.Assigned)

			viewP, ok := e.LookupItem("item-p")
			require.True(t, ok)
			viewQ, ok := e.LookupItem("item-q")
			require.True(t, ok)
			want := viewP.ClusterID
			if viewQ.ClusterID < want {
				want = viewQ.ClusterID
			}

			viewM, ok := e.LookupItem("item-m")
			require.True(t, ok)
			assert.Equal(t, want, viewM.ClusterID)
		})
	}
}

func TestProcessBatchZeroVector(t *testing.T) {
	vectors := map[string][]float32{
		"a":    {1, 0},
		"zero": {0, 0},
		"c":    {0.8, 0.6},
	}
	e := openTestEngine(t, testEngineConfig(t), vectors)

	// The zero vector fails like a bad embedding: per-item, without
	// aborting the run or touching the index.
	report, err := e.ProcessBatch(context.Background(), []Item{
		{ID: "item-a", Text: "a"},
		{ID: "item-zero", Text: "zero"},
		{ID: "item-c", Text: "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "item-zero", report.Failures[0].ItemID)
	assert.ErrorIs(t, report.Failures[0].Err, ErrEmbedding)

	_, ok := e.LookupItem("item-zero")
	assert.False(t, ok)
	assert.Equal(t, 2, e.Stats().Items)
}

func TestProcessBatchPersistenceFailure(t *testing.T) {
	cfg := testEngineConfig(t)
	faulty := fs.NewFaultyFS(nil)

	e := openTestEngine(t, cfg, testVectors, WithFileSystem(faulty))

	_, err := e.ProcessBatch(context.Background(), []Item{{ID: "item-a", Text: "a"}})
	require.NoError(t, err)

	faulty.AddRule("registry-000002", fs.Fault{FailOnWrite: true})
	report, err := e.ProcessBatch(context.Background(), []Item{{ID: "item-c", Text: "c"}})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, report.Failed)

	// The failed mutation left no trace in memory or on disk.
	_, ok := e.LookupItem("item-c")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), e.Stats().Generation)
	assert.Equal(t, 1, e.Stats().Clusters)

	// After the fault clears the same item commits cleanly.
	faulty.ClearRules()
	report, err = e.ProcessBatch(context.Background(), []Item{{ID: "item-c", Text: "c"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, uint64(2), e.Stats().Generation)
}

func TestProcessBatchCancellation(t *testing.T) {
	e := openTestEngine(t, testEngineConfig(t), testVectors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ProcessBatch(ctx, []Item{{ID: "item-a", Text: "a"}})
	assert.ErrorIs(t, err, context.Canceled)

	// Nothing was committed under the cancelled context.
	assert.Equal(t, uint64(0), e.Stats().Generation)
}

func TestClustersReportingFilter(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.MinClusterSize = 2
	e := openTestEngine(t, cfg, testVectors)

	_, err := e.ProcessBatch(context.Background(), []Item{
		{ID: "item-a", Text: "a"},
		{ID: "item-b", Text: "b"},
		{ID: "item-c", Text: "c"},
	})
	require.NoError(t, err)

	// Only the two-member cluster passes the filter; the singleton stays
	// fully functional for lookups and future assignments.
	clusters := e.Clusters()
	require.Len(t, clusters, 1)
	assert.Equal(t, 2, clusters[0].MemberCount)

	_, ok := e.LookupItem("item-c")
	assert.True(t, ok)
}

func TestOpenCorruptState(t *testing.T) {
	cfg := testEngineConfig(t)

	e, err := Open(cfg, mapEmbedder(2, testVectors))
	require.NoError(t, err)
	_, err = e.ProcessBatch(context.Background(), []Item{{ID: "item-a", Text: "a"}})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	path := filepath.Join(cfg.StateDirectory, "registry-000001.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(cfg, mapEmbedder(2, testVectors))
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestOpenDimensionChangeRejected(t *testing.T) {
	cfg := testEngineConfig(t)

	e, err := Open(cfg, mapEmbedder(2, testVectors))
	require.NoError(t, err)
	_, err = e.ProcessBatch(context.Background(), []Item{{ID: "item-a", Text: "a"}})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// Reopening the same state directory with a different dimension must
	// fail loudly instead of silently rebuilding.
	cfg.EmbeddingDimension = 3
	_, err = Open(cfg, mapEmbedder(3, map[string][]float32{"a": {1, 0, 0}}))
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}
