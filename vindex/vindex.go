// Package vindex provides interfaces and types for the nearest-neighbor
// index over assigned items.
//
// The index is an append-only structure: one entry per assigned item,
// inserted exactly once, never removed or mutated. Concrete backends live in
// subpackages; the engine makes no assumption about exact-vs-approximate
// recall beyond "returns the same top-k, deterministically, for the same
// inputs".
package vindex

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyVector is returned when an empty vector is inserted or queried.
	ErrEmptyVector = errors.New("vector must not be empty")

	// ErrZeroVector is returned when a vector cannot be L2-normalized.
	ErrZeroVector = errors.New("vector has zero norm")
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrDuplicateItem is returned when an item ID is inserted twice.
type ErrDuplicateItem struct {
	ItemID string
}

func (e *ErrDuplicateItem) Error() string {
	return fmt.Sprintf("item %q already in index", e.ItemID)
}

// Entry is the unit stored in the index: one assigned item.
type Entry struct {
	ItemID    string
	ClusterID string
	Vector    []float32
}

// Neighbor is one nearest-neighbor query result.
type Neighbor struct {
	ItemID     string
	ClusterID  string
	Similarity float32 // cosine similarity to the query
}

// Index is the nearest-neighbor contract over assigned items.
type Index interface {
	// Insert adds one entry. Inserts are incremental: no rebuild, no
	// re-scan of prior entries.
	Insert(e Entry) error

	// Nearest returns up to k entries ordered by descending cosine
	// similarity to q. Each call is independent; ties are broken by item ID
	// so results are deterministic for the same inputs.
	Nearest(q []float32, k int) ([]Neighbor, error)

	// VectorByItem returns the stored (normalized) vector for an item.
	VectorByItem(itemID string) ([]float32, bool)

	// Len returns the number of entries.
	Len() int

	// Dimension returns the fixed vector dimensionality.
	Dimension() int

	// EncodeTo writes the index content plus any staged entries that are
	// not yet inserted. Staging lets callers persist a mutation before
	// applying it in memory.
	EncodeTo(w io.Writer, staged ...Entry) error

	// DecodeFrom replaces the index content from a serialized form.
	DecodeFrom(r io.Reader) error
}
