package table

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ErrNotFound is returned when a row identifier does not reference a live row.
//
// This is a table-layer sentinel used internally; the rowgo package may
// translate it into its public error contract.
var ErrNotFound = errors.New("row not found")

// RowID is the stable identifier of a row within a Table.
//
// A RowID is immutable once assigned and unique among live rows. After a
// delete the identifier is parked until Compact confirms no index still
// references it, then becomes eligible for reuse.
type RowID uint64

// Row is a materialized tuple together with its identifier.
type Row struct {
	ID     RowID
	Values []Value
}

// Clone returns a deep copy of the row's value slice (Values of type BYTES
// still share payload bytes, which are treated as immutable).
func (r Row) Clone() Row {
	return Row{ID: r.ID, Values: append([]Value(nil), r.Values...)}
}

// Table is an in-memory row store with stable identifiers.
//
// All methods are safe for concurrent use. The table knows nothing about
// indexes; the engine package is responsible for keeping secondary
// structures consistent with mutations.
type Table struct {
	mu     sync.RWMutex
	name   string
	schema *Schema

	rows map[RowID][]Value
	live *roaring64.Bitmap

	nextID      uint64
	freeIDs     []RowID
	pendingFree []RowID
}

// New creates an empty table with the given schema.
func New(name string, schema *Schema) *Table {
	return &Table{
		name:   name,
		schema: schema,
		rows:   make(map[RowID][]Value),
		live:   roaring64.New(),
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Schema returns the table schema.
func (t *Table) Schema() *Schema { return t.schema }

// Len returns the number of live rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.live.GetCardinality())
}

// Insert validates and stores a new tuple, returning its fresh identifier.
// It never blocks on index state; index maintenance is the caller's concern.
func (t *Table) Insert(values []Value) (RowID, error) {
	if err := t.schema.Validate(values); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.allocateLocked()
	t.rows[id] = append([]Value(nil), values...)
	t.live.Add(uint64(id))
	return id, nil
}

// InsertAt stores a tuple under a caller-provided identifier. It is used by
// WAL replay and snapshot load, where identifiers must be preserved.
func (t *Table) InsertAt(id RowID, values []Value) error {
	if err := t.schema.Validate(values); err != nil {
		return fmt.Errorf("insert into %s: %w", t.name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live.Contains(uint64(id)) {
		return fmt.Errorf("insert into %s: row %d already exists", t.name, id)
	}
	t.rows[id] = append([]Value(nil), values...)
	t.live.Add(uint64(id))
	t.unparkLocked(id)
	if uint64(id) >= t.nextID {
		t.nextID = uint64(id) + 1
	}
	return nil
}

// unparkLocked drops id from the reuse lists. Reviving an identifier that an
// earlier Delete parked must also withdraw it from reuse, or Compact would
// eventually let the allocator hand out a live row's ID.
func (t *Table) unparkLocked(id RowID) {
	for i, p := range t.pendingFree {
		if p == id {
			t.pendingFree = append(t.pendingFree[:i], t.pendingFree[i+1:]...)
			return
		}
	}
	for i, f := range t.freeIDs {
		if f == id {
			t.freeIDs = append(t.freeIDs[:i], t.freeIDs[i+1:]...)
			return
		}
	}
}

// Get returns the row for id, or ErrNotFound.
func (t *Table) Get(id RowID) (Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	values, ok := t.rows[id]
	if !ok {
		return Row{}, fmt.Errorf("%s row %d: %w", t.name, id, ErrNotFound)
	}
	return Row{ID: id, Values: append([]Value(nil), values...)}, nil
}

// Update replaces the tuple stored under id and returns the previous row so
// the caller can compute stale index keys.
func (t *Table) Update(id RowID, values []Value) (Row, error) {
	if err := t.schema.Validate(values); err != nil {
		return Row{}, fmt.Errorf("update %s: %w", t.name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.rows[id]
	if !ok {
		return Row{}, fmt.Errorf("%s row %d: %w", t.name, id, ErrNotFound)
	}
	t.rows[id] = append([]Value(nil), values...)
	return Row{ID: id, Values: old}, nil
}

// Delete removes the row and returns the removed tuple. The identifier is
// parked on the pending-free list; it becomes reusable only after Compact.
func (t *Table) Delete(id RowID) (Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	values, ok := t.rows[id]
	if !ok {
		return Row{}, fmt.Errorf("%s row %d: %w", t.name, id, ErrNotFound)
	}
	delete(t.rows, id)
	t.live.Remove(uint64(id))
	t.pendingFree = append(t.pendingFree, id)
	return Row{ID: id, Values: values}, nil
}

// Scan yields all live rows in storage order (ascending identifier).
//
// The sequence is restartable: each call returns an independent iteration.
// Rows are copied out under short read-lock sections, so a scan never blocks
// writers for its full duration and may be abandoned at any point.
func (t *Table) Scan(ctx context.Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		t.mu.RLock()
		ids := t.live.ToArray()
		t.mu.RUnlock()

		for _, raw := range ids {
			if err := ctx.Err(); err != nil {
				yield(Row{}, err)
				return
			}
			row, err := t.Get(RowID(raw))
			if err != nil {
				// Deleted since the ID snapshot was taken; skip.
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Compact moves pending-free identifiers to the free list, making them
// eligible for reuse. Callers must ensure all index references to the
// deleted rows are gone; the engine guarantees this by removing index
// entries synchronously with Delete.
//
// Returns the number of identifiers reclaimed.
func (t *Table) Compact(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.pendingFree)
	t.freeIDs = append(t.freeIDs, t.pendingFree...)
	t.pendingFree = t.pendingFree[:0]
	return n, nil
}

// PendingFree returns the number of identifiers awaiting compaction.
func (t *Table) PendingFree() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pendingFree)
}

// NextID returns the next identifier the monotonic allocator would hand out.
// Exposed for snapshot persistence.
func (t *Table) NextID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextID
}

// RestoreNextID raises the allocator counter to n. Snapshot load uses it so
// numbering never restarts below a value already handed out, even when the
// highest rows were deleted before the snapshot was taken. Lower values are
// ignored.
func (t *Table) RestoreNextID(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > t.nextID {
		t.nextID = n
	}
}

// allocateLocked hands out a fresh identifier, preferring reclaimed ones.
// The counter starts at zero for a new table and is restored to
// max-existing+1 on load.
func (t *Table) allocateLocked() RowID {
	if n := len(t.freeIDs); n > 0 {
		id := t.freeIDs[n-1]
		t.freeIDs = t.freeIDs[:n-1]
		return id
	}
	id := RowID(t.nextID)
	t.nextID++
	return id
}
