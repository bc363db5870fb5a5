package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rowgo/btree"
	"github.com/hupe1980/rowgo/table"
)

// ErrIndexNotFound is returned when an index name is not registered.
var ErrIndexNotFound = errors.New("index not found")

// Manager keeps a table's secondary indexes consistent with its mutations.
//
// The registry lock guards the index list only; each tree carries its own
// lock. Indexes are always visited in creation order, which doubles as the
// global lock ordering for multi-index mutations.
type Manager struct {
	mu      sync.RWMutex
	tbl     *table.Table
	logger  *slog.Logger
	indexes []*Handle
	byName  map[string]*Handle
}

// NewManager creates a manager for tbl. A nil logger disables logging.
func NewManager(tbl *table.Table, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		tbl:    tbl,
		logger: logger,
		byName: make(map[string]*Handle),
	}
}

// Table returns the managed table.
func (m *Manager) Table() *table.Table { return m.tbl }

// CreateIndex builds a new index over the table's existing rows and
// registers it. The build is a bulk load: rows are sorted by key once and
// the tree is assembled bottom-up, rather than one insert per row.
//
// A unique violation in existing data aborts creation; nothing is
// registered.
func (m *Manager) CreateIndex(ctx context.Context, spec IndexSpec) (*Handle, error) {
	ordinals, types, err := resolveSpec(m.tbl.Schema(), spec)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.byName[spec.Name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("index %q already exists", spec.Name)
	}
	m.mu.Unlock()

	tree, err := btree.New(btree.Options{
		Degree:  spec.Degree,
		Unique:  spec.Unique,
		Columns: types,
	})
	if err != nil {
		return nil, err
	}

	h := &Handle{
		name:     spec.Name,
		columns:  append([]string(nil), spec.Columns...),
		ordinals: ordinals,
		unique:   spec.Unique,
		partial:  spec.Where != nil,
		where:    spec.Where,
		tree:     tree,
	}

	if err := m.load(ctx, h); err != nil {
		return nil, fmt.Errorf("build index %q: %w", spec.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[spec.Name]; exists {
		return nil, fmt.Errorf("index %q already exists", spec.Name)
	}
	m.indexes = append(m.indexes, h)
	m.byName[spec.Name] = h

	m.logger.Info("index created",
		"index", spec.Name,
		"columns", spec.Columns,
		"unique", spec.Unique,
		"partial", h.partial,
		"keys", tree.KeyCount(),
	)
	return h, nil
}

// load bulk-loads the table's current rows into h's tree.
func (m *Manager) load(ctx context.Context, h *Handle) error {
	var pairs []btree.Pair
	for row, err := range m.tbl.Scan(ctx) {
		if err != nil {
			return err
		}
		if !h.covers(row.Values) {
			continue
		}
		pairs = append(pairs, btree.Pair{Key: h.KeyFor(row.Values), RowID: row.ID})
	}
	return h.tree.BulkLoad(pairs)
}

// RestoreIndex registers an index whose tree is read from r instead of being
// rebuilt from the table. Snapshot loading uses this to skip the bulk load.
func (m *Manager) RestoreIndex(spec IndexSpec, r io.Reader) (*Handle, error) {
	ordinals, types, err := resolveSpec(m.tbl.Schema(), spec)
	if err != nil {
		return nil, err
	}

	tree, err := btree.New(btree.Options{
		Degree:  spec.Degree,
		Unique:  spec.Unique,
		Columns: types,
	})
	if err != nil {
		return nil, err
	}
	if err := tree.Load(r); err != nil {
		return nil, fmt.Errorf("restore index %q: %w", spec.Name, err)
	}

	h := &Handle{
		name:     spec.Name,
		columns:  append([]string(nil), spec.Columns...),
		ordinals: ordinals,
		unique:   spec.Unique,
		partial:  spec.Where != nil,
		where:    spec.Where,
		tree:     tree,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[spec.Name]; exists {
		return nil, fmt.Errorf("index %q already exists", spec.Name)
	}
	m.indexes = append(m.indexes, h)
	m.byName[spec.Name] = h

	m.logger.Info("index restored", "index", spec.Name, "keys", tree.KeyCount())
	return h, nil
}

// DropIndex removes the index from the registry.
func (m *Manager) DropIndex(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrIndexNotFound)
	}
	delete(m.byName, name)
	for i, other := range m.indexes {
		if other == h {
			m.indexes = append(m.indexes[:i], m.indexes[i+1:]...)
			break
		}
	}
	m.logger.Info("index dropped", "index", name)
	return nil
}

// Index returns the handle registered under name.
func (m *Manager) Index(name string) (*Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrIndexNotFound)
	}
	return h, nil
}

// Indexes returns the registered handles in creation order.
func (m *Manager) Indexes() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Handle(nil), m.indexes...)
}

// RebuildIndex reconstructs one index from the table's current rows.
func (m *Manager) RebuildIndex(ctx context.Context, name string) error {
	h, err := m.Index(name)
	if err != nil {
		return err
	}
	if err := m.load(ctx, h); err != nil {
		return fmt.Errorf("rebuild index %q: %w", name, err)
	}
	m.logger.Info("index rebuilt", "index", name, "keys", h.tree.KeyCount())
	return nil
}

// RebuildAll reconstructs every index in parallel.
func (m *Manager) RebuildAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, h := range m.Indexes() {
		g.Go(func() error {
			return m.RebuildIndex(ctx, h.name)
		})
	}
	return g.Wait()
}

// OnRowInserted propagates a fresh row to every index. On failure, changes
// already applied are undone in reverse order and the error is returned; the
// caller must then reject the row mutation.
func (m *Manager) OnRowInserted(id table.RowID, values []table.Value) error {
	var applied []*Handle
	for _, h := range m.Indexes() {
		if !h.covers(values) {
			continue
		}
		if err := h.tree.Insert(h.KeyFor(values), id); err != nil {
			m.rollbackInserts(applied, id, values)
			return fmt.Errorf("index %q: %w", h.name, err)
		}
		applied = append(applied, h)
	}
	return nil
}

// OnRowDeleted removes a deleted row's keys from every index.
func (m *Manager) OnRowDeleted(id table.RowID, values []table.Value) error {
	var applied []*Handle
	for _, h := range m.Indexes() {
		if !h.covers(values) {
			continue
		}
		if err := h.tree.Delete(h.KeyFor(values), id); err != nil {
			// A delete can only fail if index and table disagree; undo and
			// surface it.
			for i := len(applied) - 1; i >= 0; i-- {
				_ = applied[i].tree.Insert(applied[i].KeyFor(values), id)
			}
			return fmt.Errorf("index %q: %w", h.name, err)
		}
		applied = append(applied, h)
	}
	return nil
}

// OnRowUpdated swaps stale keys for fresh ones in every affected index.
// Indexes whose key (and partial-predicate membership) did not change are
// untouched.
func (m *Manager) OnRowUpdated(id table.RowID, oldValues, newValues []table.Value) error {
	type step struct {
		h        *Handle
		oldKey   btree.Key // non-nil: was removed, reinsert on undo
		newKey   btree.Key // non-nil: was inserted, delete on undo
	}
	var applied []step

	undo := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			s := applied[i]
			if s.newKey != nil {
				_ = s.h.tree.Delete(s.newKey, id)
			}
			if s.oldKey != nil {
				_ = s.h.tree.Insert(s.oldKey, id)
			}
		}
	}

	for _, h := range m.Indexes() {
		oldIn := h.covers(oldValues)
		newIn := h.covers(newValues)
		if !oldIn && !newIn {
			continue
		}

		var oldKey, newKey btree.Key
		if oldIn {
			oldKey = h.KeyFor(oldValues)
		}
		if newIn {
			newKey = h.KeyFor(newValues)
		}
		if oldIn && newIn && btree.Compare(oldKey, newKey) == 0 {
			continue
		}

		s := step{h: h}
		// Remove the stale key first so a same-row unique transition
		// (e.g. 5 -> 5 with other columns changed) cannot self-collide.
		if oldIn {
			if err := h.tree.Delete(oldKey, id); err != nil {
				undo()
				return fmt.Errorf("index %q: %w", h.name, err)
			}
			s.oldKey = oldKey
		}
		if newIn {
			if err := h.tree.Insert(newKey, id); err != nil {
				if s.oldKey != nil {
					_ = h.tree.Insert(s.oldKey, id)
				}
				undo()
				return fmt.Errorf("index %q: %w", h.name, err)
			}
			s.newKey = newKey
		}
		applied = append(applied, s)
	}
	return nil
}

func (m *Manager) rollbackInserts(applied []*Handle, id table.RowID, values []table.Value) {
	for i := len(applied) - 1; i >= 0; i-- {
		h := applied[i]
		if err := h.tree.Delete(h.KeyFor(values), id); err != nil {
			m.logger.Error("rollback failed", "index", h.name, "row", uint64(id), "error", err)
		}
	}
}
