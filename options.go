package rowgo

import (
	"log/slog"

	"github.com/hupe1980/rowgo/blobstore"
	"github.com/hupe1980/rowgo/codec"
	"github.com/hupe1980/rowgo/resource"
	"github.com/hupe1980/rowgo/wal"
)

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	walPath          string
	walOptions       []func(*wal.Options)
	snapshotPath     string
	autoCheckpoint   bool
	defaultDegree    int
	resources        *resource.Config
	archiveStore     blobstore.BlobStore
}

// Option configures Open behavior.
//
// Options primarily exist to avoid exploding the API surface
// (e.g. codec-specific constructor variants).
type Option func(*options)

// WithCodec configures the codec used for snapshot manifests.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithWAL configures Write-Ahead Logging for durability. Every mutation is
// appended to the log before the call returns; on restart the log is
// replayed on top of the latest snapshot (or an empty table).
//
// WAL is immutable after database creation - it cannot be enabled/disabled
// at runtime.
//
// Example:
//
//	db, _ := rowgo.Open(ctx, "employees", schema,
//	    rowgo.WithWAL("./wal", func(o *wal.Options) {
//	        o.DurabilityMode = wal.DurabilityGroupCommit
//	        o.GroupCommitInterval = 10 * time.Millisecond
//	    }),
//	)
func WithWAL(path string, optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walPath = path
		o.walOptions = optFns
	}
}

// WithSnapshotPath configures the file SaveSnapshot writes to and Open
// recovers from. Combine with WithWAL for full durability: the snapshot
// records the WAL position it covers, and recovery replays only later
// entries.
func WithSnapshotPath(path string) Option {
	return func(o *options) {
		o.snapshotPath = path
	}
}

// WithAutoCheckpoint truncates the WAL after every successful snapshot, so
// the log only carries entries the snapshot does not cover. Without it the
// log grows until Checkpoint is called explicitly.
func WithAutoCheckpoint() Option {
	return func(o *options) {
		o.autoCheckpoint = true
	}
}

// WithDefaultDegree sets the B-Tree minimum degree used for indexes whose
// spec does not set one. Zero keeps the package default.
func WithDefaultDegree(degree int) Option {
	return func(o *options) {
		o.defaultDegree = degree
	}
}

// WithResources bounds background work (compaction, index rebuilds) and
// snapshot IO throughput.
func WithResources(cfg resource.Config) Option {
	return func(o *options) {
		o.resources = &cfg
	}
}

// WithArchiveStore configures a blob store for snapshot archival. When set,
// ArchiveSnapshot uploads the current snapshot file and repoints the store's
// CURRENT marker at it.
func WithArchiveStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.archiveStore = store
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &rowgo.BasicMetricsCollector{}
//	db, _ := rowgo.Open(ctx, "employees", schema, rowgo.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, Avg latency: %dns\n", stats.InsertCount, stats.InsertAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := rowgo.NewJSONLogger(slog.LevelInfo)
//	db, _ := rowgo.Open(ctx, "employees", schema, rowgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            nil,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
