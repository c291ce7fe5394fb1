package embedding

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BatchOptions controls the parallel embedding phase.
type BatchOptions struct {
	// Concurrency bounds the number of in-flight embedder calls.
	Concurrency int

	// Timeout applies per embedder call. Zero disables the timeout.
	Timeout time.Duration

	// Limiter rate-limits embedder calls (useful for hosted model APIs).
	// Nil disables rate limiting.
	Limiter *rate.Limiter
}

// DefaultBatchOptions are the defaults for EmbedAll.
var DefaultBatchOptions = BatchOptions{
	Concurrency: 4,
}

// EmbedAll embeds all texts with bounded concurrency.
//
// Items are independent until assignment, so this read-only phase may run in
// parallel. Per-item failures are reported positionally in the returned error
// slice and do not abort the batch; the only batch-level error is context
// cancellation. vectors[i] is nil exactly when errs[i] is non-nil.
func EmbedAll(ctx context.Context, e Embedder, texts []string, optFns ...func(o *BatchOptions)) ([][]float32, []error, error) {
	opts := DefaultBatchOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	vectors := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			// The embedder may ignore ctx entirely, so cancellation is
			// checked here rather than delegated to the call.
			if err := gctx.Err(); err != nil {
				return err
			}
			if opts.Limiter != nil {
				if err := opts.Limiter.Wait(gctx); err != nil {
					return err
				}
			}

			callCtx := gctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, opts.Timeout)
				defer cancel()
			}

			vec, err := embedChecked(callCtx, e, text)
			if err != nil {
				// Batch-level cancellation aborts the run; everything
				// else stays a per-item failure.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				errs[i] = err
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vectors, errs, nil
}
