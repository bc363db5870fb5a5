package engine

import (
	"fmt"

	"github.com/hupe1980/rowgo/btree"
	"github.com/hupe1980/rowgo/table"
)

// IndexSpec describes an index to create.
type IndexSpec struct {
	// Name identifies the index within its manager. Must be unique.
	Name string

	// Columns are the indexed column names, in significance order. Prefix
	// matching against predicates follows this order.
	Columns []string

	// Unique rejects duplicate keys.
	Unique bool

	// Degree overrides the B-Tree minimum degree; zero selects the default.
	Degree int

	// Where restricts the index to rows satisfying the predicate (a partial
	// index). Rows failing it never enter the tree, and updates move rows in
	// and out as the predicate flips. Partial indexes are maintained but not
	// considered by ChooseIndex; scan them through their Handle.
	Where func(values []table.Value) bool
}

// Handle is a live index: its B-Tree plus the metadata needed to extract
// keys from rows and to match predicates.
type Handle struct {
	name     string
	columns  []string
	ordinals []int
	unique   bool
	partial  bool
	where    func(values []table.Value) bool
	tree     *btree.Tree
}

// Name returns the index name.
func (h *Handle) Name() string { return h.name }

// Columns returns the indexed column names in significance order.
func (h *Handle) Columns() []string { return append([]string(nil), h.columns...) }

// Unique reports whether the index enforces key uniqueness.
func (h *Handle) Unique() bool { return h.unique }

// Partial reports whether the index carries a row predicate.
func (h *Handle) Partial() bool { return h.partial }

// Tree exposes the underlying B-Tree for lookups and range scans.
func (h *Handle) Tree() *btree.Tree { return h.tree }

// KeyFor extracts the index key from a full row tuple.
func (h *Handle) KeyFor(values []table.Value) btree.Key {
	key := make(btree.Key, len(h.ordinals))
	for i, ord := range h.ordinals {
		key[i] = values[ord]
	}
	return key
}

// covers reports whether the row belongs in this index (always true for a
// non-partial index).
func (h *Handle) covers(values []table.Value) bool {
	if h.where == nil {
		return true
	}
	return h.where(values)
}

// resolveSpec validates an IndexSpec against a schema and resolves column
// ordinals and key types.
func resolveSpec(schema *table.Schema, spec IndexSpec) ([]int, []table.ValueType, error) {
	if spec.Name == "" {
		return nil, nil, fmt.Errorf("index needs a name")
	}
	if len(spec.Columns) == 0 {
		return nil, nil, fmt.Errorf("index %q needs at least one column", spec.Name)
	}
	ordinals := make([]int, 0, len(spec.Columns))
	types := make([]table.ValueType, 0, len(spec.Columns))
	seen := make(map[string]struct{}, len(spec.Columns))
	for _, name := range spec.Columns {
		if _, dup := seen[name]; dup {
			return nil, nil, fmt.Errorf("index %q: duplicate column %q", spec.Name, name)
		}
		seen[name] = struct{}{}
		ord, ok := schema.Ordinal(name)
		if !ok {
			return nil, nil, fmt.Errorf("index %q: unknown column %q", spec.Name, name)
		}
		ordinals = append(ordinals, ord)
		types = append(types, schema.Column(ord).Type)
	}
	return ordinals, types, nil
}
