// Package embedding defines the boundary to the external embedding model.
//
// The model is a black box: a pure, possibly-failing function from text to a
// fixed-dimension vector. Anything from a local ONNX runtime to a hosted API
// can sit behind the Embedder interface.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrFailed wraps any embedder call failure, including wrong-dimension
// results. A failed item is left unassigned for retry on the next run; a
// zero or garbage vector is never substituted.
var ErrFailed = errors.New("embedding failed")

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed returns a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int
}

// Func adapts a plain function into an Embedder with a fixed dimension.
type Func struct {
	Dim int
	Fn  func(ctx context.Context, text string) ([]float32, error)
}

// Embed calls the wrapped function.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.Fn(ctx, text)
}

// Dimension returns the declared output dimensionality.
func (f Func) Dimension() int { return f.Dim }

// embedChecked calls the embedder and validates the result shape.
func embedChecked(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailed, err)
	}
	if len(vec) != e.Dimension() {
		return nil, fmt.Errorf("%w: model returned %d dimensions, want %d", ErrFailed, len(vec), e.Dimension())
	}
	return vec, nil
}
