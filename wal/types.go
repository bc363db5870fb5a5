package wal

import (
	"time"

	"github.com/hupe1980/rowgo/table"
)

// DurabilityMode defines the fsync behavior for WAL writes.
type DurabilityMode int

const (
	// DurabilityAsync performs no fsync. Fastest writes, data loss possible
	// on crash. Use when an external mechanism provides durability.
	DurabilityAsync DurabilityMode = iota

	// DurabilityGroupCommit batches fsync at regular intervals, amortizing
	// its cost across operations. Recommended for most workloads.
	DurabilityGroupCommit

	// DurabilitySync fsyncs after every operation. Slowest, strongest.
	DurabilitySync
)

// OperationType represents the type of operation in the WAL.
type OperationType uint8

const (
	// OpInsert records a row insert: the identifier and the new tuple.
	OpInsert OperationType = iota
	// OpUpdate records a row update: the identifier, the old tuple and the
	// new tuple. Both are logged so replay can maintain indexes either way.
	OpUpdate
	// OpDelete records a row delete: the identifier and the removed tuple.
	OpDelete
	// OpCheckpoint marks a snapshot boundary. The log is normally truncated
	// at checkpoint time, so replay rarely sees one; when it does, entries
	// before the marker are covered by the snapshot and must be skipped.
	OpCheckpoint
)

// Entry is a single WAL record.
type Entry struct {
	SeqNum uint64
	Type   OperationType
	RowID  table.RowID

	// Values is the tuple the operation applies: new values for an insert,
	// removed values for a delete.
	Values []table.Value

	// OldValues is the pre-update tuple, set for OpUpdate only.
	OldValues []table.Value
}

// Options contains configuration for the WAL.
type Options struct {
	// Path is the directory where the WAL file is stored.
	Path string

	// Compress enables zstd stream compression.
	Compress bool

	// CompressionLevel sets the zstd level; zero selects the library
	// default.
	CompressionLevel int

	// DurabilityMode selects the fsync policy.
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the fsync cadence for DurabilityGroupCommit.
	GroupCommitInterval time.Duration
}

// DefaultOptions are the options applied before user functions run.
var DefaultOptions = Options{
	Path:                "./wal",
	DurabilityMode:      DurabilityGroupCommit,
	GroupCommitInterval: 10 * time.Millisecond,
}
