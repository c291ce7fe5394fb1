// Package flat provides an exact brute-force implementation of the
// nearest-neighbor index. It is the right backend for corpora up to the low
// hundreds of thousands of items; larger corpora can swap in a graph-based
// backend behind the same interface.
package flat

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/dedupgo/distance"
	"github.com/hupe1980/dedupgo/vindex"
)

// Compile-time check that Flat satisfies the index contract.
var _ vindex.Index = (*Flat)(nil)

// Options contains configuration options for the flat index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	// It must be > 0 and is enforced for all inserts and queries.
	Dimension int
}

// indexState holds the immutable state of the index for lock-free reads.
type indexState struct {
	entries []vindex.Entry
	byItem  map[string]int // item ID -> position in entries
}

// Flat is an exact nearest-neighbor index over cosine similarity.
// It uses a copy-on-write pattern for lock-free concurrent reads; vectors are
// L2-normalized on insert so cosine similarity reduces to a dot product.
type Flat struct {
	state   atomic.Value // holds *indexState
	writeMu sync.Mutex   // serializes writes only
	opts    Options
}

// New creates a new flat index with a fixed dimension.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension <= 0 {
		return nil, &vindex.ErrDimensionMismatch{Expected: 1, Actual: opts.Dimension}
	}

	f := &Flat{opts: opts}
	f.state.Store(&indexState{
		entries: make([]vindex.Entry, 0),
		byItem:  make(map[string]int),
	})
	return f, nil
}

func (f *Flat) getState() *indexState {
	return f.state.Load().(*indexState)
}

func (f *Flat) cloneState(st *indexState) *indexState {
	entries := make([]vindex.Entry, len(st.entries), len(st.entries)+1)
	copy(entries, st.entries)
	byItem := make(map[string]int, len(st.byItem)+1)
	for id, pos := range st.byItem {
		byItem[id] = pos
	}
	return &indexState{entries: entries, byItem: byItem}
}

// Dimension returns the fixed vector dimensionality.
func (f *Flat) Dimension() int { return f.opts.Dimension }

// Len returns the number of entries.
func (f *Flat) Len() int { return len(f.getState().entries) }

// Insert adds one entry to the index.
func (f *Flat) Insert(e vindex.Entry) error {
	norm, err := f.normalize(e.Vector)
	if err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	oldState := f.getState()
	if _, ok := oldState.byItem[e.ItemID]; ok {
		return &vindex.ErrDuplicateItem{ItemID: e.ItemID}
	}

	newState := f.cloneState(oldState)
	newState.byItem[e.ItemID] = len(newState.entries)
	newState.entries = append(newState.entries, vindex.Entry{
		ItemID:    e.ItemID,
		ClusterID: e.ClusterID,
		Vector:    norm,
	})

	f.state.Store(newState)
	return nil
}

// Nearest performs an exact top-k scan ordered by descending cosine
// similarity. Ties are broken by ascending item ID so the ordering is a
// total order, independent of insertion order.
func (f *Flat) Nearest(q []float32, k int) ([]vindex.Neighbor, error) {
	if k <= 0 {
		return nil, vindex.ErrInvalidK
	}

	norm, err := f.normalize(q)
	if err != nil {
		return nil, err
	}

	st := f.getState()
	if len(st.entries) == 0 {
		return nil, nil
	}

	candidates := make([]vindex.Neighbor, 0, len(st.entries))
	for _, e := range st.entries {
		candidates = append(candidates, vindex.Neighbor{
			ItemID:     e.ItemID,
			ClusterID:  e.ClusterID,
			Similarity: distance.Dot(norm, e.Vector),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].ItemID < candidates[j].ItemID
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k:k], nil
}

// VectorByItem returns the stored normalized vector for an item.
// The returned slice aliases internal memory; callers must treat it as
// read-only.
func (f *Flat) VectorByItem(itemID string) ([]float32, bool) {
	st := f.getState()
	pos, ok := st.byItem[itemID]
	if !ok {
		return nil, false
	}
	return st.entries[pos].Vector, true
}

func (f *Flat) normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, vindex.ErrEmptyVector
	}
	if len(v) != f.opts.Dimension {
		return nil, &vindex.ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: len(v)}
	}
	norm, ok := distance.NormalizeL2Copy(v)
	if !ok {
		return nil, vindex.ErrZeroVector
	}
	return norm, nil
}
