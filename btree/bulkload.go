package btree

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// BulkLoad replaces the tree's contents with the given pairs in O(n): sort
// once, build the leaf level left-to-right, then the internal levels bottom
// up. This is how index creation and rebuild ingest an existing table,
// instead of n single-key inserts at O(n log n).
//
// A duplicate key in the input of a unique tree aborts the load with
// ErrDuplicateKey and leaves the tree empty.
func (t *Tree) BulkLoad(pairs []Pair) error {
	for _, p := range pairs {
		if err := t.validateKey(p.Key); err != nil {
			return err
		}
	}

	sorted := append([]Pair(nil), pairs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := Compare(sorted[i].Key, sorted[j].Key); c != 0 {
			return c < 0
		}
		return sorted[i].RowID < sorted[j].RowID
	})

	// Group duplicate keys into posting sets before touching the tree, so a
	// unique violation leaves the previous contents intact.
	var (
		entryKeys []Key
		entrySets []*roaring64.Bitmap
		pairCount int
	)
	for _, p := range sorted {
		n := len(entryKeys)
		if n > 0 && Compare(entryKeys[n-1], p.Key) == 0 {
			if t.unique {
				return &ErrDuplicateKey{Key: p.Key.Clone()}
			}
			if entrySets[n-1].CheckedAdd(uint64(p.RowID)) {
				pairCount++
			}
			continue
		}
		set := roaring64.New()
		set.Add(uint64(p.RowID))
		entryKeys = append(entryKeys, p.Key.Clone())
		entrySets = append(entrySets, set)
		pairCount++
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.root = &node{leaf: true}
	t.height = 1
	t.keys = len(entryKeys)
	t.pairs = pairCount
	t.version++

	if len(entryKeys) == 0 {
		return nil
	}

	// Leaf level: fill each leaf to capacity, then repair a final short
	// leaf by redistributing with its left neighbor.
	maxK := t.maxKeys()
	var leaves []*node
	for off := 0; off < len(entryKeys); off += maxK {
		end := off + maxK
		if end > len(entryKeys) {
			end = len(entryKeys)
		}
		leaf := &node{
			leaf: true,
			keys: append([]Key(nil), entryKeys[off:end]...),
			sets: append([]*roaring64.Bitmap(nil), entrySets[off:end]...),
		}
		leaves = append(leaves, leaf)
	}
	if n := len(leaves); n > 1 && len(leaves[n-1].keys) < t.minKeys() {
		redistributeTail(leaves[n-2], leaves[n-1], t.minKeys())
	}
	for i := 0; i < len(leaves)-1; i++ {
		leaves[i].next = leaves[i+1]
		leaves[i+1].prev = leaves[i]
	}

	// Internal levels bottom-up. The separator for a child is the smallest
	// key in its subtree; for freshly built levels that is keys[0] chased
	// down the leftmost spine.
	level := leaves
	for len(level) > 1 {
		maxChildren := 2 * t.degree
		var parents []*node
		for off := 0; off < len(level); off += maxChildren {
			end := off + maxChildren
			if end > len(level) {
				end = len(level)
			}
			p := &node{children: append([]*node(nil), level[off:end]...)}
			for _, c := range p.children[1:] {
				p.keys = append(p.keys, smallestKey(c))
			}
			parents = append(parents, p)
		}
		if n := len(parents); n > 1 && len(parents[n-1].keys) < t.minKeys() {
			redistributeInternalTail(parents[n-2], parents[n-1], t.minKeys())
		}
		level = parents
		t.height++
	}

	t.root = level[0]
	return nil
}

// redistributeTail moves leaf entries from left to right until right reaches
// want keys.
func redistributeTail(left, right *node, want int) {
	need := want - len(right.keys)
	cut := len(left.keys) - need
	right.keys = append(append([]Key(nil), left.keys[cut:]...), right.keys...)
	right.sets = append(append([]*roaring64.Bitmap(nil), left.sets[cut:]...), right.sets...)
	left.keys = left.keys[:cut:cut]
	left.sets = left.sets[:cut:cut]
}

// redistributeInternalTail moves children from left to right until right
// reaches want separators, rebuilding both separator lists.
func redistributeInternalTail(left, right *node, want int) {
	needChildren := want + 1 - len(right.children)
	cut := len(left.children) - needChildren
	right.children = append(append([]*node(nil), left.children[cut:]...), right.children...)
	left.children = left.children[:cut:cut]

	rebuildSeparators(left)
	rebuildSeparators(right)
}

func rebuildSeparators(n *node) {
	n.keys = n.keys[:0]
	for _, c := range n.children[1:] {
		n.keys = append(n.keys, smallestKey(c))
	}
}

// smallestKey returns the smallest key in the subtree rooted at n.
func smallestKey(n *node) Key {
	for !n.leaf {
		n = n.children[0]
	}
	if len(n.keys) == 0 {
		panic(fmt.Sprintf("btree: empty leaf in bulk-loaded subtree %p", n))
	}
	return n.keys[0]
}
