package dedupgo

import (
	"time"

	"github.com/hupe1980/dedupgo/codec"
	"github.com/hupe1980/dedupgo/internal/fs"
	"github.com/hupe1980/dedupgo/vindex"
)

// Options contains the runtime dependencies of the engine that are not part
// of the operator-facing Config.
type Options struct {
	// Logger for structured log output. Defaults to a noop logger.
	Logger *Logger

	// Metrics collects runtime counters. Defaults to a noop collector.
	Metrics MetricsCollector

	// Codec serializes the registry and manifest. Defaults to codec.Default.
	Codec codec.Codec

	// FS is the file system used for persistence. Defaults to the local
	// file system; tests inject a fault-injecting one.
	FS fs.FileSystem

	// Index overrides the nearest-neighbor backend. Defaults to the exact
	// flat index; its dimension must match the configured one.
	Index vindex.Index

	// Clock supplies the current time. Defaults to time.Now.
	Clock func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger *Logger) func(o *Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(metrics MetricsCollector) func(o *Options) {
	return func(o *Options) {
		o.Metrics = metrics
	}
}

// WithCodec sets the serialization codec.
func WithCodec(c codec.Codec) func(o *Options) {
	return func(o *Options) {
		o.Codec = c
	}
}

// WithFileSystem sets the file system implementation.
func WithFileSystem(fsys fs.FileSystem) func(o *Options) {
	return func(o *Options) {
		o.FS = fsys
	}
}

// WithIndex sets the nearest-neighbor index backend.
func WithIndex(idx vindex.Index) func(o *Options) {
	return func(o *Options) {
		o.Index = idx
	}
}

// WithClock sets the time source. Tests use this to pin run dates.
func WithClock(clock func() time.Time) func(o *Options) {
	return func(o *Options) {
		o.Clock = clock
	}
}
