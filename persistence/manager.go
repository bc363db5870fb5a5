package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/rowgo/codec"
	"github.com/hupe1980/rowgo/engine"
	"github.com/hupe1980/rowgo/table"
	"github.com/hupe1980/rowgo/wal"
)

var (
	// ErrManagerClosed is returned when operations are attempted on a closed manager.
	ErrManagerClosed = errors.New("persistence manager is closed")

	// ErrNoWAL is returned when WAL operations are attempted without WAL configured.
	ErrNoWAL = errors.New("WAL not configured")

	// ErrNoSnapshotPath is returned when snapshot operations require a path but none is set.
	ErrNoSnapshotPath = errors.New("snapshot path not configured")
)

// ManagerOptions configures the persistence manager.
type ManagerOptions struct {
	// SnapshotPath is the path for the snapshot file (optional).
	SnapshotPath string

	// WALPath is the directory for WAL files (optional, enables WAL if set).
	WALPath string

	// WALOptions are additional options for WAL configuration.
	WALOptions []func(*wal.Options)

	// Codec serializes the snapshot manifest.
	Codec codec.Codec

	// AutoCheckpoint truncates the WAL after every successful snapshot.
	AutoCheckpoint bool

	// WrapWriter, if set, wraps the snapshot file writer. Used to apply IO
	// throttling to snapshot saves.
	WrapWriter func(ctx context.Context, w io.Writer) io.Writer
}

// Manager coordinates snapshots and the WAL so that the pair always
// describes a consistent database state: a snapshot records the WAL
// sequence number it covers, and recovery replays only entries after it.
//
// The Manager is safe for concurrent use.
type Manager struct {
	snapshotPath   string
	wal            *wal.WAL
	codec          codec.Codec
	autoCheckpoint bool
	wrapWriter     func(ctx context.Context, w io.Writer) io.Writer

	mu     sync.RWMutex
	closed bool
}

// NewManager creates a persistence manager. If WALPath is set a WAL is
// opened (replaying nothing; see Replay).
func NewManager(opts ManagerOptions) (*Manager, error) {
	pm := &Manager{
		snapshotPath:   opts.SnapshotPath,
		codec:          opts.Codec,
		autoCheckpoint: opts.AutoCheckpoint,
		wrapWriter:     opts.WrapWriter,
	}
	if pm.codec == nil {
		pm.codec = codec.Default
	}

	if opts.SnapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.SnapshotPath), 0o755); err != nil {
			return nil, fmt.Errorf("persistence: create snapshot directory: %w", err)
		}
	}

	if opts.WALPath != "" {
		walOptFns := append([]func(*wal.Options){
			func(o *wal.Options) {
				o.Path = opts.WALPath
			},
		}, opts.WALOptions...)

		w, err := wal.New(walOptFns...)
		if err != nil {
			return nil, fmt.Errorf("persistence: create WAL: %w", err)
		}
		pm.wal = w
	}
	return pm, nil
}

// WAL returns the underlying WAL instance, or nil if WAL is not configured.
func (pm *Manager) WAL() *wal.WAL {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.wal
}

// SnapshotPath returns the configured snapshot path.
func (pm *Manager) SnapshotPath() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.snapshotPath
}

// Codec returns the configured codec.
func (pm *Manager) Codec() codec.Codec {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.codec
}

// Snapshot writes the table and its indexes atomically to the snapshot
// path, then checkpoints the WAL if auto-checkpoint is enabled. The caller
// must quiesce writes for the duration.
func (pm *Manager) Snapshot(ctx context.Context, tbl *table.Table, mgr *engine.Manager) error {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return ErrManagerClosed
	}
	snapshotPath := pm.snapshotPath
	w := pm.wal
	c := pm.codec
	autoCheckpoint := pm.autoCheckpoint
	wrap := pm.wrapWriter
	pm.mu.RUnlock()

	if snapshotPath == "" {
		return ErrNoSnapshotPath
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var walSeq uint64
	if w != nil {
		walSeq = w.SeqNum()
	}

	if err := SaveToFile(snapshotPath, func(out io.Writer) error {
		if wrap != nil {
			out = wrap(ctx, out)
		}
		return WriteSnapshot(ctx, out, c, tbl, mgr, walSeq)
	}); err != nil {
		return fmt.Errorf("persistence: snapshot failed: %w", err)
	}

	if w != nil && autoCheckpoint {
		if err := w.Checkpoint(); err != nil {
			return fmt.Errorf("persistence: WAL checkpoint failed: %w", err)
		}
	}
	return nil
}

// Replay invokes fn for every WAL entry with a sequence number greater
// than afterSeq. Pass the manifest's WALSeqNum to skip entries the
// snapshot already covers.
func (pm *Manager) Replay(afterSeq uint64, fn func(e wal.Entry) error) error {
	pm.mu.RLock()
	w := pm.wal
	closed := pm.closed
	pm.mu.RUnlock()

	if closed {
		return ErrManagerClosed
	}
	if w == nil {
		return ErrNoWAL
	}
	return wal.Replay(w.FilePath(), func(e wal.Entry) error {
		if e.SeqNum <= afterSeq {
			return nil
		}
		return fn(e)
	})
}

// Checkpoint truncates the WAL. Call after saving a snapshot when
// auto-checkpoint is disabled.
func (pm *Manager) Checkpoint() error {
	pm.mu.RLock()
	w := pm.wal
	closed := pm.closed
	pm.mu.RUnlock()

	if closed {
		return ErrManagerClosed
	}
	if w == nil {
		return ErrNoWAL
	}
	return w.Checkpoint()
}

// Close shuts down the manager and its WAL. Safe to call twice.
func (pm *Manager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return nil
	}
	pm.closed = true

	if pm.wal != nil {
		return pm.wal.Close()
	}
	return nil
}
