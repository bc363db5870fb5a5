package btree

import (
	"sort"

	"github.com/hupe1980/rowgo/table"
)

// Pair is one range-scan result.
type Pair struct {
	Key   Key
	RowID table.RowID
}

// Cursor iterates a key range in order. Each RangeScan call returns a fresh
// cursor with no shared iteration state; abandoning a cursor has no side
// effects.
//
// A cursor holds the tree's read lock only inside Next. While the tree is
// unmodified it follows leaf sibling links; after a mutation it re-descends
// from the last delivered key, so concurrent splits and merges never tear
// the sequence (keys inserted or removed behind the cursor's position are
// simply not revisited).
type Cursor struct {
	tree *Tree
	low  Key // nil: unbounded
	high Key // nil: unbounded
	desc bool

	started bool
	done    bool
	lastKey Key

	// Fast-path position, valid while version matches the tree.
	version uint64
	leaf    *node
	leafIdx int

	// Remaining row IDs of the current key, ascending.
	pending    []uint64
	pendingKey Key
}

// RangeScan returns a cursor over keys k with low <= k <= high, ascending,
// or high >= k >= low when desc is set. Nil bounds are unbounded; bounds may
// be a prefix of the key signature (composite prefix matching).
func (t *Tree) RangeScan(low, high Key, desc bool) (*Cursor, error) {
	if err := t.validateBound(low); err != nil {
		return nil, err
	}
	if err := t.validateBound(high); err != nil {
		return nil, err
	}
	return &Cursor{tree: t, low: low, high: high, desc: desc}, nil
}

// Next returns the next (key, rowID) pair. The second result is false once
// the range is exhausted.
func (c *Cursor) Next() (Pair, bool) {
	if len(c.pending) > 0 {
		id := c.pending[0]
		c.pending = c.pending[1:]
		return Pair{Key: c.pendingKey, RowID: table.RowID(id)}, true
	}
	if c.done {
		return Pair{}, false
	}

	c.tree.mu.RLock()
	key, ids, ok := c.advanceLocked()
	c.tree.mu.RUnlock()

	if !ok {
		c.done = true
		return Pair{}, false
	}
	c.lastKey = key
	c.pendingKey = key
	c.pending = ids[1:]
	return Pair{Key: key, RowID: table.RowID(ids[0])}, true
}

// All drains the cursor into a slice. Intended for small ranges and tests.
func (c *Cursor) All() []Pair {
	var out []Pair
	for {
		p, ok := c.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}

// advanceLocked moves to the next in-range key and returns it with its row
// IDs. Caller holds the read lock.
func (c *Cursor) advanceLocked() (Key, []uint64, bool) {
	var (
		n   *node
		idx int
	)
	switch {
	case !c.started:
		c.started = true
		if c.desc {
			n, idx = c.tree.seekLE(c.high)
		} else {
			n, idx = c.tree.seekGE(c.low)
		}
	case c.version == c.tree.version && c.leaf != nil:
		n, idx = c.step(c.leaf, c.leafIdx)
	default:
		// Structure moved since the last call: reposition strictly past the
		// last delivered key.
		if c.desc {
			n, idx = c.tree.seekLT(c.lastKey)
		} else {
			n, idx = c.tree.seekGT(c.lastKey)
		}
	}
	if n == nil {
		return nil, nil, false
	}

	key := n.keys[idx]
	if c.desc {
		if c.low != nil && ComparePrefix(key, c.low) < 0 {
			return nil, nil, false
		}
	} else {
		if c.high != nil && ComparePrefix(key, c.high) > 0 {
			return nil, nil, false
		}
	}

	c.version = c.tree.version
	c.leaf = n
	c.leafIdx = idx
	return key, n.sets[idx].ToArray(), true
}

// step advances one entry along the leaf threading.
func (c *Cursor) step(n *node, idx int) (*node, int) {
	if c.desc {
		idx--
		for idx < 0 {
			n = n.prev
			if n == nil {
				return nil, 0
			}
			idx = len(n.keys) - 1
		}
		return n, idx
	}
	idx++
	for idx >= len(n.keys) {
		n = n.next
		if n == nil {
			return nil, 0
		}
		idx = 0
	}
	return n, idx
}

// seekGE positions at the first leaf entry whose key is >= bound under
// prefix comparison. A nil bound positions at the leftmost entry. Returns a
// nil node when no entry qualifies. Caller holds the read lock.
func (t *Tree) seekGE(bound Key) (*node, int) {
	n := t.root
	for !n.leaf {
		t.visits.Add(1)
		idx := 0
		if bound != nil {
			idx = sort.Search(len(n.keys), func(i int) bool {
				return ComparePrefix(n.keys[i], bound) >= 0
			})
		}
		n = n.children[idx]
	}
	t.visits.Add(1)

	idx := 0
	if bound != nil {
		idx = sort.Search(len(n.keys), func(i int) bool {
			return ComparePrefix(n.keys[i], bound) >= 0
		})
	}
	return skipForward(n, idx)
}

// seekGT positions at the first leaf entry strictly greater than key (full
// comparison). Caller holds the read lock.
func (t *Tree) seekGT(key Key) (*node, int) {
	n := t.root
	for !n.leaf {
		t.visits.Add(1)
		idx := sort.Search(len(n.keys), func(i int) bool {
			return Compare(n.keys[i], key) > 0
		})
		n = n.children[idx]
	}
	t.visits.Add(1)

	idx := sort.Search(len(n.keys), func(i int) bool {
		return Compare(n.keys[i], key) > 0
	})
	return skipForward(n, idx)
}

// seekLE positions at the last leaf entry whose key is <= bound under
// prefix comparison. A nil bound positions at the rightmost entry.
func (t *Tree) seekLE(bound Key) (*node, int) {
	n := t.root
	for !n.leaf {
		t.visits.Add(1)
		idx := len(n.keys)
		if bound != nil {
			idx = sort.Search(len(n.keys), func(i int) bool {
				return ComparePrefix(n.keys[i], bound) > 0
			})
		}
		n = n.children[idx]
	}
	t.visits.Add(1)

	idx := len(n.keys) - 1
	if bound != nil {
		idx = sort.Search(len(n.keys), func(i int) bool {
			return ComparePrefix(n.keys[i], bound) > 0
		}) - 1
	}
	return skipBackward(n, idx)
}

// seekLT positions at the last leaf entry strictly less than key (full
// comparison).
func (t *Tree) seekLT(key Key) (*node, int) {
	n := t.root
	for !n.leaf {
		t.visits.Add(1)
		idx := sort.Search(len(n.keys), func(i int) bool {
			return Compare(n.keys[i], key) >= 0
		})
		n = n.children[idx]
	}
	t.visits.Add(1)

	idx := sort.Search(len(n.keys), func(i int) bool {
		return Compare(n.keys[i], key) >= 0
	}) - 1
	return skipBackward(n, idx)
}

// skipForward resolves an off-the-end position by following next links.
func skipForward(n *node, idx int) (*node, int) {
	for n != nil && idx >= len(n.keys) {
		n = n.next
		idx = 0
	}
	if n == nil {
		return nil, 0
	}
	return n, idx
}

// skipBackward resolves a before-the-start position by following prev links.
func skipBackward(n *node, idx int) (*node, int) {
	for n != nil && idx < 0 {
		n = n.prev
		if n != nil {
			idx = len(n.keys) - 1
		}
	}
	if n == nil {
		return nil, 0
	}
	return n, idx
}
