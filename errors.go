package dedupgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/dedupgo/embedding"
	"github.com/hupe1980/dedupgo/persistence"
	"github.com/hupe1980/dedupgo/vindex"
)

var (
	// ErrIndexCorrupt is returned when persisted state fails an integrity
	// check at startup. The run must abort: silently starting from empty
	// state would lose the dedup history.
	ErrIndexCorrupt = errors.New("index state corrupt")

	// ErrLocked is returned when another run holds the state directory.
	ErrLocked = errors.New("state directory locked by another run")

	// ErrEmbedding is returned when the embedder call failed or returned a
	// wrong-dimension vector. The affected item is left unassigned and is
	// retried on the next run.
	ErrEmbedding = errors.New("embedding failed")

	// ErrPersistence is returned when a commit could not be made durable.
	// The in-flight mutation is discarded entirely, never partially applied.
	ErrPersistence = errors.New("persistence failed")

	// ErrInvalidConfig is returned for configuration values out of range.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrDimensionMismatch indicates a vector dimensionality mismatch.
// This is fatal: it signals a configuration change (e.g. an embedding model
// swap) that requires an explicit migration, not a silent fallback.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, persistence.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrIndexCorrupt, err)
	}
	if errors.Is(err, persistence.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}
	if errors.Is(err, embedding.ErrFailed) {
		return fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	// A degenerate all-zero embedding cannot be normalized or compared; it
	// counts as a failed embedding, never as engine or index state damage.
	if errors.Is(err, vindex.ErrZeroVector) {
		return fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	var dm *vindex.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}
