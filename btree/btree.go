package btree

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/rowgo/table"
)

// DefaultDegree is the minimum degree used when Options.Degree is zero.
const DefaultDegree = 32

// Options configures a Tree.
type Options struct {
	// Degree is the minimum degree B: max 2B-1 keys per node, min B-1 keys
	// per non-root node. Must be >= 2; zero selects DefaultDegree.
	Degree int

	// Unique rejects inserts of an already-present key with ErrDuplicateKey.
	Unique bool

	// Columns is the type signature of the composite key. Keys are
	// validated against it on every mutation and lookup.
	Columns []table.ValueType
}

// node is a B+Tree node. Leaves carry the posting sets and sibling links;
// internal nodes carry separator keys only. Separator i is the smallest key
// reachable under children[i+1].
type node struct {
	leaf     bool
	keys     []Key
	sets     []*roaring64.Bitmap // leaves only, parallel to keys
	children []*node             // internal only, len(keys)+1
	next     *node               // leaf threading
	prev     *node
}

// Tree is a B+Tree index from composite keys to row-identifier sets.
// All methods are safe for concurrent use.
type Tree struct {
	mu      sync.RWMutex
	degree  int
	unique  bool
	columns []table.ValueType

	root    *node
	height  int
	keys    int // distinct keys
	pairs   int // (key, rowID) pairs
	version uint64

	visits  atomic.Uint64
	splits  atomic.Uint64
	merges  atomic.Uint64
	borrows atomic.Uint64
}

// New creates an empty tree.
func New(opts Options) (*Tree, error) {
	if opts.Degree == 0 {
		opts.Degree = DefaultDegree
	}
	if opts.Degree < 2 {
		return nil, fmt.Errorf("degree must be >= 2, got %d", opts.Degree)
	}
	if len(opts.Columns) == 0 {
		return nil, fmt.Errorf("key needs at least one column")
	}
	for i, ct := range opts.Columns {
		if ct == table.TypeNull {
			return nil, fmt.Errorf("key column %d: NULL is not a column type", i)
		}
	}
	return &Tree{
		degree:  opts.Degree,
		unique:  opts.Unique,
		columns: append([]table.ValueType(nil), opts.Columns...),
		root:    &node{leaf: true},
		height:  1,
	}, nil
}

// Degree returns the minimum degree B.
func (t *Tree) Degree() int { return t.degree }

// Unique reports whether the tree enforces key uniqueness.
func (t *Tree) Unique() bool { return t.unique }

// Columns returns the key's type signature.
func (t *Tree) Columns() []table.ValueType {
	return append([]table.ValueType(nil), t.columns...)
}

// Len returns the number of (key, rowID) pairs.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pairs
}

// KeyCount returns the number of distinct keys.
func (t *Tree) KeyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keys
}

// Height returns the number of levels, counting the leaf level.
func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.height
}

func (t *Tree) maxKeys() int { return 2*t.degree - 1 }
func (t *Tree) minKeys() int { return t.degree - 1 }

func (t *Tree) validateKey(key Key) error {
	if len(key) != len(t.columns) {
		return fmt.Errorf("key has %d values, index has %d columns", len(key), len(t.columns))
	}
	for i, v := range key {
		if v.IsNull() {
			continue
		}
		if v.Type() != t.columns[i] {
			return fmt.Errorf("key column %d: expected %s, got %s", i, t.columns[i], v.Type())
		}
	}
	return nil
}

// validateBound checks a range-scan bound, which may be a strict prefix of
// the key signature.
func (t *Tree) validateBound(bound Key) error {
	if bound == nil {
		return nil
	}
	if len(bound) == 0 || len(bound) > len(t.columns) {
		return fmt.Errorf("bound has %d values, index has %d columns", len(bound), len(t.columns))
	}
	for i, v := range bound {
		if v.IsNull() {
			continue
		}
		if v.Type() != t.columns[i] {
			return fmt.Errorf("bound column %d: expected %s, got %s", i, t.columns[i], v.Type())
		}
	}
	return nil
}

// search returns the position of key within n.keys and whether it is
// present.
func (n *node) search(key Key) (int, bool) {
	idx := sort.Search(len(n.keys), func(i int) bool {
		return Compare(n.keys[i], key) >= 0
	})
	if idx < len(n.keys) && Compare(n.keys[idx], key) == 0 {
		return idx, true
	}
	return idx, false
}

// childIndex returns the child to descend into for key. Separator i is the
// smallest key of children[i+1], so equal keys go right.
func (n *node) childIndex(key Key) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return Compare(key, n.keys[i]) < 0
	})
}

// Lookup returns a copy of the posting set for key, or (nil, false) when the
// key is absent. The copy is safe to retain and mutate.
func (t *Tree) Lookup(key Key) (*roaring64.Bitmap, bool) {
	if err := t.validateKey(key); err != nil {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.root
	for {
		t.visits.Add(1)
		if n.leaf {
			idx, found := n.search(key)
			if !found {
				return nil, false
			}
			return n.sets[idx].Clone(), true
		}
		n = n.children[n.childIndex(key)]
	}
}

// Contains reports whether the exact (key, rowID) pair is present.
func (t *Tree) Contains(key Key, id table.RowID) bool {
	set, ok := t.Lookup(key)
	return ok && set.Contains(uint64(id))
}

// Insert adds a (key, rowID) pair.
//
// For a unique tree a duplicate key is rejected with ErrDuplicateKey before
// any mutation. For a non-unique tree the rowID joins the key's posting
// set; inserting an already-present pair is a no-op.
func (t *Tree) Insert(key Key, id table.RowID) error {
	if err := t.validateKey(key); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	promoted, right, err := t.insertRec(t.root, key, id)
	if err != nil {
		return err
	}
	if right != nil {
		t.root = &node{
			keys:     []Key{promoted},
			children: []*node{t.root, right},
		}
		t.height++
	}
	t.version++
	return nil
}

// insertRec descends to the target leaf. When a child splits, the median
// separator and the new right node bubble up to be inserted into the
// parent; a non-nil right at the root means the root itself split.
func (t *Tree) insertRec(n *node, key Key, id table.RowID) (Key, *node, error) {
	if n.leaf {
		idx, found := n.search(key)
		if found {
			if t.unique {
				return nil, nil, &ErrDuplicateKey{Key: key.Clone()}
			}
			if n.sets[idx].CheckedAdd(uint64(id)) {
				t.pairs++
			}
			return nil, nil, nil
		}

		set := roaring64.New()
		set.Add(uint64(id))
		n.keys = append(n.keys, nil)
		copy(n.keys[idx+1:], n.keys[idx:])
		n.keys[idx] = key.Clone()
		n.sets = append(n.sets, nil)
		copy(n.sets[idx+1:], n.sets[idx:])
		n.sets[idx] = set
		t.keys++
		t.pairs++

		if len(n.keys) > t.maxKeys() {
			sep, right := t.splitLeaf(n)
			return sep, right, nil
		}
		return nil, nil, nil
	}

	idx := n.childIndex(key)
	promoted, right, err := t.insertRec(n.children[idx], key, id)
	if err != nil || right == nil {
		return nil, nil, err
	}

	n.keys = append(n.keys, nil)
	copy(n.keys[idx+1:], n.keys[idx:])
	n.keys[idx] = promoted
	n.children = append(n.children, nil)
	copy(n.children[idx+2:], n.children[idx+1:])
	n.children[idx+1] = right

	if len(n.keys) > t.maxKeys() {
		sep, newRight := t.splitInternal(n)
		return sep, newRight, nil
	}
	return nil, nil, nil
}

// splitLeaf splits an overflowing leaf at the median. The separator is a
// copy of the right half's first key (B+Tree style: leaf keys stay in the
// leaves).
func (t *Tree) splitLeaf(n *node) (Key, *node) {
	mid := len(n.keys) / 2
	right := &node{
		leaf: true,
		keys: append([]Key(nil), n.keys[mid:]...),
		sets: append([]*roaring64.Bitmap(nil), n.sets[mid:]...),
	}
	n.keys = n.keys[:mid:mid]
	n.sets = n.sets[:mid:mid]

	right.next = n.next
	if right.next != nil {
		right.next.prev = right
	}
	right.prev = n
	n.next = right

	t.splits.Add(1)
	return right.keys[0], right
}

// splitInternal splits an overflowing internal node at the median. The
// median separator moves up; it does not stay in either half.
func (t *Tree) splitInternal(n *node) (Key, *node) {
	mid := len(n.keys) / 2
	sep := n.keys[mid]
	right := &node{
		keys:     append([]Key(nil), n.keys[mid+1:]...),
		children: append([]*node(nil), n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid:mid]
	n.children = n.children[:mid+1 : mid+1]

	t.splits.Add(1)
	return sep, right
}

// Delete removes a (key, rowID) pair. Other rows sharing the key keep their
// entry; the key itself is removed only when its posting set empties.
// Returns ErrNotFound when the pair is absent.
func (t *Tree) Delete(key Key, id table.RowID) error {
	if err := t.validateKey(key); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.deleteRec(t.root, key, id); err != nil {
		return err
	}
	if !t.root.leaf && len(t.root.keys) == 0 {
		t.root = t.root.children[0]
		t.height--
	}
	t.version++
	return nil
}

func (t *Tree) deleteRec(n *node, key Key, id table.RowID) error {
	if n.leaf {
		idx, found := n.search(key)
		if !found {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		if !n.sets[idx].CheckedRemove(uint64(id)) {
			return fmt.Errorf("%s row %d: %w", key, id, ErrNotFound)
		}
		t.pairs--
		if n.sets[idx].IsEmpty() {
			n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
			n.sets = append(n.sets[:idx], n.sets[idx+1:]...)
			t.keys--
		}
		return nil
	}

	idx := n.childIndex(key)
	if err := t.deleteRec(n.children[idx], key, id); err != nil {
		return err
	}
	if len(n.children[idx].keys) < t.minKeys() {
		t.fixChild(n, idx)
	}
	return nil
}

// fixChild repairs the under-full child at idx: borrow a spare entry from an
// adjacent sibling, rotating the parent separator, else merge with a
// sibling and drop the separator.
func (t *Tree) fixChild(n *node, idx int) {
	child := n.children[idx]

	if idx > 0 {
		left := n.children[idx-1]
		if len(left.keys) > t.minKeys() {
			t.borrowFromLeft(n, idx, left, child)
			return
		}
	}
	if idx < len(n.children)-1 {
		right := n.children[idx+1]
		if len(right.keys) > t.minKeys() {
			t.borrowFromRight(n, idx, child, right)
			return
		}
	}

	if idx > 0 {
		t.mergeChildren(n, idx-1)
	} else {
		t.mergeChildren(n, idx)
	}
}

func (t *Tree) borrowFromLeft(n *node, idx int, left, child *node) {
	if child.leaf {
		last := len(left.keys) - 1
		child.keys = append([]Key{left.keys[last]}, child.keys...)
		child.sets = append([]*roaring64.Bitmap{left.sets[last]}, child.sets...)
		left.keys = left.keys[:last]
		left.sets = left.sets[:last]
		n.keys[idx-1] = child.keys[0]
	} else {
		last := len(left.keys) - 1
		child.keys = append([]Key{n.keys[idx-1]}, child.keys...)
		child.children = append([]*node{left.children[last+1]}, child.children...)
		n.keys[idx-1] = left.keys[last]
		left.keys = left.keys[:last]
		left.children = left.children[:last+1]
	}
	t.borrows.Add(1)
}

func (t *Tree) borrowFromRight(n *node, idx int, child, right *node) {
	if child.leaf {
		child.keys = append(child.keys, right.keys[0])
		child.sets = append(child.sets, right.sets[0])
		right.keys = right.keys[1:]
		right.sets = right.sets[1:]
		n.keys[idx] = right.keys[0]
	} else {
		child.keys = append(child.keys, n.keys[idx])
		child.children = append(child.children, right.children[0])
		n.keys[idx] = right.keys[0]
		right.keys = right.keys[1:]
		right.children = right.children[1:]
	}
	t.borrows.Add(1)
}

// mergeChildren merges children[sep] and children[sep+1], removing the
// separator between them.
func (t *Tree) mergeChildren(n *node, sep int) {
	left := n.children[sep]
	right := n.children[sep+1]

	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.sets = append(left.sets, right.sets...)
		left.next = right.next
		if left.next != nil {
			left.next.prev = left
		}
	} else {
		left.keys = append(left.keys, n.keys[sep])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}

	n.keys = append(n.keys[:sep], n.keys[sep+1:]...)
	n.children = append(n.children[:sep+1], n.children[sep+2:]...)
	t.merges.Add(1)
}
