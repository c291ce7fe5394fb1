package dedupgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/dedupgo/cluster"
	"github.com/hupe1980/dedupgo/codec"
	"github.com/hupe1980/dedupgo/distance"
	"github.com/hupe1980/dedupgo/embedding"
	"github.com/hupe1980/dedupgo/persistence"
	"github.com/hupe1980/dedupgo/vindex"
	"github.com/hupe1980/dedupgo/vindex/flat"
)

// Item is one ingested text item awaiting an assignment decision.
type Item struct {
	ID   string
	Text string
}

// ItemError pairs a failed item with its cause.
type ItemError struct {
	ItemID string
	Err    error
}

// RunReport summarizes one ingestion run. Every item ends up in exactly one
// of the four outcome counters.
type RunReport struct {
	Processed int // items examined
	Skipped   int // already assigned by a previous run
	Assigned  int // joined an existing cluster
	Created   int // founded a new cluster
	Failed    int // left unassigned for retry
	Failures  []ItemError
}

// ItemView is the reporting view of one assigned item.
type ItemView struct {
	ItemID    string
	ClusterID string
	Cluster   cluster.Cluster
}

// EngineStats is a point-in-time summary of the engine state.
type EngineStats struct {
	Generation uint64
	Clusters   int
	Items      int
	Dimension  int
}

// Engine is the incremental semantic deduplication engine.
//
// It decides, one item at a time, whether the item joins an existing semantic
// cluster or founds a new one, and makes every decision durable before
// applying it in memory. An Engine holds the state directory's exclusive run
// lock from Open until Close.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	opts   Options
	embed  embedding.Embedder
	index  vindex.Index
	reg    *cluster.Registry
	pm     *persistence.Manager
	lim    *rate.Limiter
	closed bool
}

// Open validates the configuration, locks the state directory, and restores
// any persisted state.
//
// Open fails with ErrLocked when another run holds the directory, with
// ErrIndexCorrupt when persisted state fails an integrity check, and with
// ErrDimensionMismatch when the embedder's dimensionality disagrees with the
// configured one.
func Open(cfg Config, embedder embedding.Embedder, optFns ...func(o *Options)) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder must not be nil", ErrInvalidConfig)
	}
	if d := embedder.Dimension(); d != cfg.EmbeddingDimension {
		return nil, &ErrDimensionMismatch{Expected: cfg.EmbeddingDimension, Actual: d}
	}

	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetricsCollector{}
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Index == nil {
		idx, err := flat.New(func(o *flat.Options) {
			o.Dimension = cfg.EmbeddingDimension
		})
		if err != nil {
			return nil, translateError(err)
		}
		opts.Index = idx
	}
	if d := opts.Index.Dimension(); d != cfg.EmbeddingDimension {
		return nil, &ErrDimensionMismatch{Expected: cfg.EmbeddingDimension, Actual: d}
	}

	pm, err := persistence.Open(cfg.StateDirectory, func(o *persistence.Options) {
		o.FS = opts.FS
		o.Codec = opts.Codec
	})
	if err != nil {
		return nil, translateError(err)
	}

	e := &Engine{
		cfg:   cfg,
		opts:  opts,
		embed: embedder,
		index: opts.Index,
		reg:   cluster.NewRegistry(),
		pm:    pm,
	}
	if cfg.EmbedRateLimit > 0 {
		e.lim = rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), cfg.EmbedConcurrency)
	}

	loaded, err := pm.Load(
		func(r io.Reader) error { return e.reg.DecodeFrom(r, opts.Codec) },
		e.index.DecodeFrom,
	)
	if err != nil {
		_ = pm.Close()
		err = translateError(err)
		opts.Logger.LogLoad(context.Background(), 0, 0, 0, err)
		return nil, err
	}
	if loaded && e.index.Len() != e.reg.Assignments() {
		_ = pm.Close()
		err = fmt.Errorf("%w: index holds %d entries but registry has %d assignments",
			ErrIndexCorrupt, e.index.Len(), e.reg.Assignments())
		opts.Logger.LogLoad(context.Background(), pm.Generation(), e.reg.Len(), e.index.Len(), err)
		return nil, err
	}

	opts.Logger.LogLoad(context.Background(), pm.Generation(), e.reg.Len(), e.index.Len(), nil)
	return e, nil
}

// ProcessBatch runs one ingestion pass over the given items.
//
// Already-assigned items are skipped without touching their cluster, so
// re-running the same batch is idempotent. Embedding runs in parallel;
// assignment is strictly sequential so that each decision sees all previous
// ones. Per-item embedding failures are collected in the report; a
// persistence failure or context cancellation aborts the run, keeping every
// already-committed assignment.
func (e *Engine) ProcessBatch(ctx context.Context, items []Item) (*RunReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, persistence.ErrClosed
	}

	report := &RunReport{}

	pending := make([]Item, 0, len(items))
	for _, it := range items {
		report.Processed++
		e.opts.Metrics.RecordItemProcessed()
		if _, ok := e.reg.Assignment(it.ID); ok {
			report.Skipped++
			continue
		}
		pending = append(pending, it)
	}
	if len(pending) == 0 {
		e.opts.Logger.LogRun(ctx, report)
		return report, nil
	}

	texts := make([]string, len(pending))
	for i, it := range pending {
		texts[i] = it.Text
	}
	vectors, embedErrs, err := embedding.EmbedAll(ctx, e.embed, texts, func(o *embedding.BatchOptions) {
		o.Concurrency = e.cfg.EmbedConcurrency
		o.Timeout = time.Duration(e.cfg.EmbedTimeout)
		o.Limiter = e.lim
	})
	if err != nil {
		return report, err
	}

	runDate := e.opts.Clock().UTC()

	for i, it := range pending {
		if err := ctx.Err(); err != nil {
			// Committed assignments stay; the rest retries next run.
			return report, err
		}

		if embedErrs[i] != nil {
			failed := translateError(fmt.Errorf("item %q: %w", it.ID, embedErrs[i]))
			report.Failed++
			report.Failures = append(report.Failures, ItemError{ItemID: it.ID, Err: failed})
			e.opts.Metrics.RecordEmbeddingFailure()
			e.opts.Logger.LogEmbedFailure(ctx, it.ID, embedErrs[i])
			continue
		}

		// Duplicate IDs within one batch: the first occurrence wins.
		if _, ok := e.reg.Assignment(it.ID); ok {
			report.Skipped++
			continue
		}

		created, err := e.assign(ctx, it.ID, vectors[i], runDate)
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, ItemError{ItemID: it.ID, Err: err})
			// Embedding-shaped failures (e.g. a zero vector) stay per-item;
			// anything else aborts the run.
			if errors.Is(err, ErrEmbedding) {
				e.opts.Metrics.RecordEmbeddingFailure()
				e.opts.Logger.LogEmbedFailure(ctx, it.ID, err)
				continue
			}
			return report, err
		}
		if created {
			report.Created++
		} else {
			report.Assigned++
		}
	}

	e.opts.Logger.LogRun(ctx, report)
	return report, nil
}

// assign decides the item's cluster and commits the decision durably before
// applying it in memory. Returns true when a new cluster was founded.
func (e *Engine) assign(ctx context.Context, itemID string, vec []float32, runDate time.Time) (bool, error) {
	searchStart := time.Now()
	neighbors, err := e.index.Nearest(vec, e.cfg.MaxNeighbors)
	e.opts.Metrics.RecordSearchDuration(time.Since(searchStart))
	if err != nil {
		return false, translateError(err)
	}

	now := e.opts.Clock()

	// Neighbors arrive ordered by descending similarity with a total-order
	// tie-break, so the first hit per cluster is that cluster's best
	// candidate. Among accepted clusters the winner is the one with the
	// highest similarity, ties resolved by smallest cluster ID.
	var best cluster.Cluster
	var bestSim float32
	var found bool
	seen := make(map[string]struct{}, len(neighbors))
	for _, n := range neighbors {
		if _, ok := seen[n.ClusterID]; ok {
			continue
		}
		seen[n.ClusterID] = struct{}{}

		c, ok := e.reg.Get(n.ClusterID)
		if !ok {
			return false, fmt.Errorf("%w: index entry %q references unknown cluster %q",
				ErrIndexCorrupt, n.ItemID, n.ClusterID)
		}
		if float64(n.Similarity) < acceptanceThreshold(e.cfg, c) {
			continue
		}
		if !found || n.Similarity > bestSim || (n.Similarity == bestSim && c.ID < best.ID) {
			best, bestSim, found = c, n.Similarity, true
		}
	}

	if !found {
		c := cluster.New(cluster.MintID(runDate), itemID, runDate, now)
		entry := vindex.Entry{ItemID: itemID, ClusterID: c.ID, Vector: vec}
		if err := e.commit(ctx, c, itemID, entry); err != nil {
			return false, err
		}
		e.opts.Metrics.RecordClusterCreated()
		e.opts.Logger.LogNewCluster(ctx, itemID, c.ID)
		return true, nil
	}

	// The statistics track similarity to the cluster's centroid, which is
	// not necessarily the matched neighbor.
	centroidSim, err := e.centroidSimilarity(best, vec)
	if err != nil {
		return false, err
	}
	best.Observe(centroidSim, now)

	entry := vindex.Entry{ItemID: itemID, ClusterID: best.ID, Vector: vec}
	if err := e.commit(ctx, best, itemID, entry); err != nil {
		return false, err
	}
	e.opts.Metrics.RecordAssignment(centroidSim)
	e.opts.Logger.LogAssign(ctx, itemID, best.ID, centroidSim)
	return false, nil
}

// centroidSimilarity computes the cosine similarity between the item's
// vector and the cluster's founding (centroid) vector.
func (e *Engine) centroidSimilarity(c cluster.Cluster, vec []float32) (float64, error) {
	cv, ok := e.index.VectorByItem(c.CentroidItemID)
	if !ok {
		return 0, fmt.Errorf("%w: cluster %q centroid item %q missing from index",
			ErrIndexCorrupt, c.ID, c.CentroidItemID)
	}
	sim, err := distance.CosineSimilarity(vec, cv)
	if err != nil {
		return 0, translateError(err)
	}
	return float64(sim), nil
}

// commit makes the staged mutation durable, then applies it in memory.
//
// The staged cluster record and index entry are serialized into the next
// snapshot generation without touching live state; only after the snapshot is
// durable does the in-memory registry and index change. A failed commit
// therefore needs no rollback — the mutation simply never happened.
func (e *Engine) commit(ctx context.Context, c cluster.Cluster, itemID string, entry vindex.Entry) error {
	commitStart := time.Now()
	err := e.pm.Commit(
		func(w io.Writer) error { return e.reg.EncodeTo(w, e.opts.Codec, &c, itemID) },
		func(w io.Writer) error { return e.index.EncodeTo(w, entry) },
	)
	e.opts.Metrics.RecordCommitDuration(time.Since(commitStart))
	if err != nil {
		e.opts.Metrics.RecordCommitFailure()
		e.opts.Logger.LogCommitFailure(ctx, itemID, err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := e.reg.Apply(c, itemID); err != nil {
		return fmt.Errorf("%w: applying committed state: %w", ErrIndexCorrupt, err)
	}
	if err := e.index.Insert(entry); err != nil {
		return fmt.Errorf("%w: applying committed state: %w", ErrIndexCorrupt, err)
	}
	return nil
}

// LookupItem returns the assignment of one item, if any.
func (e *Engine) LookupItem(itemID string) (ItemView, bool) {
	clusterID, ok := e.reg.Assignment(itemID)
	if !ok {
		return ItemView{}, false
	}
	c, ok := e.reg.Get(clusterID)
	if !ok {
		return ItemView{}, false
	}
	return ItemView{ItemID: itemID, ClusterID: clusterID, Cluster: c}, true
}

// LookupCluster returns one cluster record by ID.
func (e *Engine) LookupCluster(clusterID string) (cluster.Cluster, bool) {
	return e.reg.Get(clusterID)
}

// Clusters returns all clusters passing the configured min_cluster_size
// reporting filter, sorted by ID.
func (e *Engine) Clusters() []cluster.Cluster {
	return e.reg.Clusters(e.cfg.MinClusterSize)
}

// Stats returns a point-in-time summary of the engine state.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Generation: e.pm.Generation(),
		Clusters:   e.reg.Len(),
		Items:      e.index.Len(),
		Dimension:  e.index.Dimension(),
	}
}

// Close releases the run lock. The engine must not be used afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.pm.Close()
}
