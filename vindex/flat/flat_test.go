package flat

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dedupgo/vindex"
)

func newTestIndex(t *testing.T, dim int) *Flat {
	t.Helper()
	f, err := New(func(o *Options) { o.Dimension = dim })
	require.NoError(t, err)
	return f
}

func TestNew(t *testing.T) {
	t.Run("RequiresDimension", func(t *testing.T) {
		_, err := New()
		var dm *vindex.ErrDimensionMismatch
		assert.ErrorAs(t, err, &dm)
	})

	t.Run("Empty", func(t *testing.T) {
		f := newTestIndex(t, 3)
		assert.Equal(t, 0, f.Len())
		assert.Equal(t, 3, f.Dimension())
	})
}

func TestInsert(t *testing.T) {
	t.Run("NormalizesOnInsert", func(t *testing.T) {
		f := newTestIndex(t, 2)
		require.NoError(t, f.Insert(vindex.Entry{ItemID: "i1", ClusterID: "c1", Vector: []float32{3, 4}}))

		vec, ok := f.VectorByItem("i1")
		require.True(t, ok)
		assert.InDelta(t, 0.6, vec[0], 1e-6)
		assert.InDelta(t, 0.8, vec[1], 1e-6)
	})

	t.Run("DuplicateItemRejected", func(t *testing.T) {
		f := newTestIndex(t, 2)
		require.NoError(t, f.Insert(vindex.Entry{ItemID: "i1", ClusterID: "c1", Vector: []float32{1, 0}}))

		err := f.Insert(vindex.Entry{ItemID: "i1", ClusterID: "c2", Vector: []float32{0, 1}})
		var dup *vindex.ErrDuplicateItem
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "i1", dup.ItemID)
		assert.Equal(t, 1, f.Len())
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		f := newTestIndex(t, 2)
		err := f.Insert(vindex.Entry{ItemID: "i1", Vector: []float32{1, 2, 3}})
		var dm *vindex.ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 2, dm.Expected)
		assert.Equal(t, 3, dm.Actual)
	})

	t.Run("ZeroVectorRejected", func(t *testing.T) {
		f := newTestIndex(t, 2)
		err := f.Insert(vindex.Entry{ItemID: "i1", Vector: []float32{0, 0}})
		assert.ErrorIs(t, err, vindex.ErrZeroVector)
	})

	t.Run("EmptyVectorRejected", func(t *testing.T) {
		f := newTestIndex(t, 2)
		err := f.Insert(vindex.Entry{ItemID: "i1"})
		assert.ErrorIs(t, err, vindex.ErrEmptyVector)
	})
}

func TestNearest(t *testing.T) {
	t.Run("OrderedBySimilarity", func(t *testing.T) {
		f := newTestIndex(t, 2)
		require.NoError(t, f.Insert(vindex.Entry{ItemID: "east", ClusterID: "c1", Vector: []float32{1, 0}}))
		require.NoError(t, f.Insert(vindex.Entry{ItemID: "north", ClusterID: "c2", Vector: []float32{0, 1}}))
		require.NoError(t, f.Insert(vindex.Entry{ItemID: "northeast", ClusterID: "c3", Vector: []float32{1, 1}}))

		got, err := f.Nearest([]float32{1, 0.1}, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "east", got[0].ItemID)
		assert.Equal(t, "northeast", got[1].ItemID)
		assert.Equal(t, "north", got[2].ItemID)
		assert.True(t, got[0].Similarity >= got[1].Similarity)
		assert.True(t, got[1].Similarity >= got[2].Similarity)
	})

	t.Run("KLargerThanIndex", func(t *testing.T) {
		f := newTestIndex(t, 2)
		require.NoError(t, f.Insert(vindex.Entry{ItemID: "i1", ClusterID: "c1", Vector: []float32{1, 0}}))

		got, err := f.Nearest([]float32{1, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("EmptyIndex", func(t *testing.T) {
		f := newTestIndex(t, 2)
		got, err := f.Nearest([]float32{1, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("InvalidK", func(t *testing.T) {
		f := newTestIndex(t, 2)
		_, err := f.Nearest([]float32{1, 0}, 0)
		assert.ErrorIs(t, err, vindex.ErrInvalidK)
	})

	t.Run("TiesBrokenByItemID", func(t *testing.T) {
		// Identical vectors yield identical similarities; the ordering must
		// still be a total order, independent of insertion order.
		ids := []string{"i-a", "i-b", "i-c", "i-d", "i-e"}

		rng := rand.New(rand.NewSource(7))
		for trial := 0; trial < 5; trial++ {
			f := newTestIndex(t, 2)
			shuffled := append([]string(nil), ids...)
			rng.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			for _, id := range shuffled {
				require.NoError(t, f.Insert(vindex.Entry{ItemID: id, ClusterID: "c-" + id, Vector: []float32{1, 1}}))
			}

			got, err := f.Nearest([]float32{1, 1}, len(ids))
			require.NoError(t, err)
			require.Len(t, got, len(ids))
			for i, id := range ids {
				assert.Equal(t, id, got[i].ItemID)
			}
		}
	})

	t.Run("QueryDoesNotMutateInput", func(t *testing.T) {
		f := newTestIndex(t, 2)
		require.NoError(t, f.Insert(vindex.Entry{ItemID: "i1", ClusterID: "c1", Vector: []float32{1, 0}}))

		q := []float32{3, 4}
		_, err := f.Nearest(q, 1)
		require.NoError(t, err)
		assert.Equal(t, []float32{3, 4}, q)
	})
}
