// Package rowgo provides an embedded relational row store with B-Tree
// secondary indexes for Go.
//
// Rowgo keeps a heap table of typed row tuples and maintains B+Tree indexes
// over one or more columns, with production-ready features including:
//
//   - Single-column and composite indexes with prefix matching
//   - Unique constraints with all-or-nothing write rollback
//   - Partial indexes restricted by a row predicate
//   - Cost-free planning: equality and range predicates routed to the best index
//   - Write-Ahead Logging (WAL) with group commit for durability
//   - Atomic snapshots with CRC-protected sections and mmap loading
//   - Snapshot archival to local disk, S3, or MinIO blob stores
//   - Background compaction with bounded worker and IO budgets
//
// # Quick Start
//
// Open a database, index it, and query:
//
//	ctx := context.Background()
//	schema := table.MustSchema(
//	    table.Column{Name: "email", Type: table.TypeString},
//	    table.Column{Name: "department", Type: table.TypeString},
//	    table.Column{Name: "salary", Type: table.TypeInt},
//	)
//	db, err := rowgo.Open(ctx, "employees", schema,
//	    rowgo.WithWAL("./wal"),
//	    rowgo.WithSnapshotPath("./data/employees.rgs"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	_, err = db.CreateIndex(ctx, rowgo.IndexSpec{
//	    Name:    "by_email",
//	    Columns: []string{"email"},
//	    Unique:  true,
//	})
//
//	id, err := db.Insert(ctx, []table.Value{
//	    table.String("ada@example.com"),
//	    table.String("eng"),
//	    table.Int(120000),
//	})
//
//	rows, err := db.Query().
//	    Eq("department", table.String("eng")).
//	    Between("salary", table.Int(100000), table.Int(150000)).
//	    All(ctx)
//
// # Durability
//
// With WAL enabled every mutation is logged before it is acknowledged, and
// Open replays the log on restart. SaveSnapshot writes the table and all
// non-partial indexes to the snapshot path atomically; the snapshot records
// the WAL position it covers, so recovery loads the snapshot and replays
// only later entries. Partial indexes carry a Go predicate that cannot be
// serialized; recreate them after Open.
package rowgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/rowgo/blobstore"
	"github.com/hupe1980/rowgo/engine"
	"github.com/hupe1980/rowgo/executor"
	"github.com/hupe1980/rowgo/persistence"
	"github.com/hupe1980/rowgo/resource"
	"github.com/hupe1980/rowgo/table"
	"github.com/hupe1980/rowgo/wal"
)

// IndexSpec describes an index to create. See engine.IndexSpec for field
// documentation.
type IndexSpec = engine.IndexSpec

// DB is an embedded row store with secondary indexes, write-ahead logging
// and snapshot persistence. It is safe for concurrent use.
type DB struct {
	mu      sync.Mutex // serializes writers so WAL order matches apply order
	tbl     *table.Table
	indexes *engine.Manager
	exec    *executor.Executor
	pm      *persistence.Manager
	rc      *resource.Controller
	archive blobstore.BlobStore
	metrics MetricsCollector
	logger  *Logger
	degree  int
	closed  bool
}

// Open creates or recovers a database.
//
// If a snapshot exists at the configured snapshot path, the table, schema
// and indexes are loaded from it and schema may be nil; otherwise schema is
// required and a fresh table is created. With WAL enabled, entries newer
// than the snapshot are then replayed.
func Open(ctx context.Context, name string, schema *table.Schema, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)

	var rc *resource.Controller
	if o.resources != nil {
		rc = resource.NewController(*o.resources)
	}

	var pm *persistence.Manager
	if o.walPath != "" || o.snapshotPath != "" {
		mo := persistence.ManagerOptions{
			SnapshotPath:   o.snapshotPath,
			WALPath:        o.walPath,
			WALOptions:     o.walOptions,
			Codec:          o.codec,
			AutoCheckpoint: o.autoCheckpoint,
		}
		if rc != nil {
			mo.WrapWriter = func(ctx context.Context, w io.Writer) io.Writer {
				return resource.NewRateLimitedWriter(ctx, w, rc)
			}
		}
		var err error
		pm, err = persistence.NewManager(mo)
		if err != nil {
			return nil, err
		}
	}

	tbl, mgr, afterSeq, err := recoverState(ctx, name, schema, o)
	if err != nil {
		if pm != nil {
			_ = pm.Close()
		}
		return nil, err
	}

	if pm != nil && pm.WAL() != nil {
		replayed := 0
		err := pm.Replay(afterSeq, func(e wal.Entry) error {
			if err := applyLogged(tbl, mgr, e); err != nil {
				return err
			}
			replayed++
			return nil
		})
		o.logger.LogRecovery(ctx, replayed, err)
		if err != nil {
			_ = pm.Close()
			return nil, fmt.Errorf("rowgo: WAL replay: %w", err)
		}
	}

	db := &DB{
		tbl:     tbl,
		indexes: mgr,
		exec:    executor.New(mgr, o.logger.Logger),
		pm:      pm,
		rc:      rc,
		archive: o.archiveStore,
		metrics: o.metricsCollector,
		logger:  o.logger,
		degree:  o.defaultDegree,
	}
	return db, nil
}

// recoverState loads the snapshot if one exists, or builds a fresh table.
// It returns the WAL sequence number the state already covers.
func recoverState(ctx context.Context, name string, schema *table.Schema, o options) (*table.Table, *engine.Manager, uint64, error) {
	if o.snapshotPath != "" {
		if _, err := os.Stat(o.snapshotPath); err == nil {
			tbl, mgr, manifest, err := persistence.ReadSnapshotFile(ctx, o.snapshotPath, o.logger.Logger)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("rowgo: load snapshot: %w", err)
			}
			return tbl, mgr, manifest.WALSeqNum, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, 0, fmt.Errorf("rowgo: stat snapshot: %w", err)
		}
	}

	if schema == nil {
		return nil, nil, 0, ErrMissingSchema
	}
	tbl := table.New(name, schema)
	mgr := engine.NewManager(tbl, o.logger.Logger)
	return tbl, mgr, 0, nil
}

// applyLogged replays one WAL entry onto the table and its indexes.
func applyLogged(tbl *table.Table, mgr *engine.Manager, e wal.Entry) error {
	switch e.Type {
	case wal.OpInsert:
		if err := tbl.InsertAt(e.RowID, e.Values); err != nil {
			return err
		}
		return mgr.OnRowInserted(e.RowID, e.Values)
	case wal.OpUpdate:
		if _, err := tbl.Update(e.RowID, e.Values); err != nil {
			return err
		}
		return mgr.OnRowUpdated(e.RowID, e.OldValues, e.Values)
	case wal.OpDelete:
		if _, err := tbl.Delete(e.RowID); err != nil {
			return err
		}
		return mgr.OnRowDeleted(e.RowID, e.Values)
	case wal.OpCheckpoint:
		return nil
	default:
		return fmt.Errorf("unknown WAL operation type %d", e.Type)
	}
}

// Table returns the underlying row store for direct scans.
func (db *DB) Table() *table.Table { return db.tbl }

// Len returns the number of live rows.
func (db *DB) Len() int { return db.tbl.Len() }

// Insert validates values against the schema, appends the row, updates every
// index and logs the mutation. On any failure the row is rolled back
// everywhere and the error is returned.
func (db *DB) Insert(ctx context.Context, values []table.Value) (table.RowID, error) {
	start := time.Now()
	id, err := db.insert(ctx, values)
	db.metrics.RecordInsert(time.Since(start), err)
	db.logger.LogInsert(ctx, uint64(id), err)
	return id, err
}

func (db *DB) insert(_ context.Context, values []table.Value) (table.RowID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return 0, ErrClosed
	}

	id, err := db.tbl.Insert(values)
	if err != nil {
		return 0, translateError(err)
	}
	if err := db.indexes.OnRowInserted(id, values); err != nil {
		_, _ = db.tbl.Delete(id)
		return 0, translateError(err)
	}
	if w := db.walHandle(); w != nil {
		if _, err := w.LogInsert(id, values); err != nil {
			_ = db.indexes.OnRowDeleted(id, values)
			_, _ = db.tbl.Delete(id)
			return 0, fmt.Errorf("rowgo: log insert: %w", err)
		}
	}
	return id, nil
}

// Get returns the row with the given id, or ErrNotFound.
func (db *DB) Get(id table.RowID) (table.Row, error) {
	row, err := db.tbl.Get(id)
	return row, translateError(err)
}

// Update replaces the row's values in place, keeping its RowID, and moves
// its keys in every affected index. On failure the old values are restored.
func (db *DB) Update(ctx context.Context, id table.RowID, values []table.Value) error {
	start := time.Now()
	err := db.update(ctx, id, values)
	db.metrics.RecordUpdate(time.Since(start), err)
	db.logger.LogUpdate(ctx, uint64(id), err)
	return err
}

func (db *DB) update(_ context.Context, id table.RowID, values []table.Value) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	old, err := db.tbl.Update(id, values)
	if err != nil {
		return translateError(err)
	}
	if err := db.indexes.OnRowUpdated(id, old.Values, values); err != nil {
		_, _ = db.tbl.Update(id, old.Values)
		return translateError(err)
	}
	if w := db.walHandle(); w != nil {
		if _, err := w.LogUpdate(id, old.Values, values); err != nil {
			_ = db.indexes.OnRowUpdated(id, values, old.Values)
			_, _ = db.tbl.Update(id, old.Values)
			return fmt.Errorf("rowgo: log update: %w", err)
		}
	}
	return nil
}

// Delete removes the row and its keys from every index.
func (db *DB) Delete(ctx context.Context, id table.RowID) error {
	start := time.Now()
	err := db.delete(ctx, id)
	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDelete(ctx, uint64(id), err)
	return err
}

func (db *DB) delete(_ context.Context, id table.RowID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	old, err := db.tbl.Delete(id)
	if err != nil {
		return translateError(err)
	}
	if err := db.indexes.OnRowDeleted(id, old.Values); err != nil {
		_ = db.tbl.InsertAt(id, old.Values)
		return translateError(err)
	}
	if w := db.walHandle(); w != nil {
		if _, err := w.LogDelete(id, old.Values); err != nil {
			_ = db.indexes.OnRowInserted(id, old.Values)
			_ = db.tbl.InsertAt(id, old.Values)
			return fmt.Errorf("rowgo: log delete: %w", err)
		}
	}
	return nil
}

// CreateIndex builds an index over the named columns, bulk-loading all
// existing rows. A unique index is rejected if existing rows already contain
// duplicates.
func (db *DB) CreateIndex(ctx context.Context, spec IndexSpec) (*engine.Handle, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if spec.Degree == 0 {
		spec.Degree = db.degree
	}
	h, err := db.indexes.CreateIndex(ctx, spec)
	return h, translateError(err)
}

// DropIndex removes the named index.
func (db *DB) DropIndex(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	return translateError(db.indexes.DropIndex(name))
}

// Index returns the named index handle.
func (db *DB) Index(name string) (*engine.Handle, error) {
	h, err := db.indexes.Index(name)
	return h, translateError(err)
}

// RebuildIndexes discards and rebuilds every index from the table, in a
// background worker slot when resource limits are configured.
func (db *DB) RebuildIndexes(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if db.rc != nil {
		return db.rc.RunBackground(ctx, db.indexes.RebuildAll)
	}
	return db.indexes.RebuildAll(ctx)
}

// CheckConsistency verifies that every index entry points at a live row
// carrying the matching key.
func (db *DB) CheckConsistency(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	return db.indexes.CheckConsistency(ctx)
}

// Compact releases storage held by deleted rows and returns the number of
// slots reclaimed. Runs in a background worker slot when resource limits are
// configured.
func (db *DB) Compact(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return 0, ErrClosed
	}

	var reclaimed int
	run := func(ctx context.Context) error {
		var err error
		reclaimed, err = db.tbl.Compact(ctx)
		return err
	}
	if db.rc != nil {
		if err := db.rc.RunBackground(ctx, run); err != nil {
			return 0, err
		}
		return reclaimed, nil
	}
	if err := run(ctx); err != nil {
		return 0, err
	}
	return reclaimed, nil
}

// SaveSnapshot writes the table and all non-partial indexes atomically to
// the configured snapshot path. Writes are quiesced for the duration. With
// auto-checkpoint enabled the WAL is truncated afterwards.
func (db *DB) SaveSnapshot(ctx context.Context) error {
	start := time.Now()
	err := db.saveSnapshot(ctx)
	db.metrics.RecordSnapshot(time.Since(start), err)
	db.logger.LogSnapshot(ctx, db.snapshotPath(), err)
	return err
}

func (db *DB) saveSnapshot(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if db.pm == nil || db.pm.SnapshotPath() == "" {
		return ErrNoSnapshot
	}
	return db.pm.Snapshot(ctx, db.tbl, db.indexes)
}

// Checkpoint truncates the WAL. Call after SaveSnapshot when auto-checkpoint
// is disabled.
func (db *DB) Checkpoint() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if db.pm == nil {
		return persistence.ErrNoWAL
	}
	return db.pm.Checkpoint()
}

// ArchiveSnapshot uploads the current snapshot file to the configured blob
// store under a timestamped name and repoints the store's CURRENT marker at
// it. Returns the archive name used.
func (db *DB) ArchiveSnapshot(ctx context.Context) (string, error) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return "", ErrClosed
	}
	archive := db.archive
	path := db.snapshotPath()
	db.mu.Unlock()

	if archive == nil {
		return "", errors.New("rowgo: no archive store configured")
	}
	if path == "" {
		return "", ErrNoSnapshot
	}

	name := fmt.Sprintf("snapshot-%d.rgs", time.Now().UnixNano())
	if err := blobstore.Archive(ctx, archive, path, name); err != nil {
		return "", fmt.Errorf("rowgo: archive snapshot: %w", err)
	}
	return name, nil
}

// Close shuts down the database, flushing and closing the WAL. Safe to call
// twice. In-memory state stays readable until the process exits, but all
// mutating operations return ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	if db.pm != nil {
		return db.pm.Close()
	}
	return nil
}

func (db *DB) walHandle() *wal.WAL {
	if db.pm == nil {
		return nil
	}
	return db.pm.WAL()
}

func (db *DB) snapshotPath() string {
	if db.pm == nil {
		return ""
	}
	return db.pm.SnapshotPath()
}
