package btree

// CheckInvariants validates the tree's structure:
//
//   - node occupancy within [B-1, 2B-1] keys, root exempt from the minimum
//   - internal nodes have exactly len(keys)+1 children
//   - keys strictly sorted within every node
//   - every key in a subtree falls inside the bounding range defined by the
//     adjacent separators
//   - all leaves at the same depth
//   - leaf threading agrees with the in-order leaf sequence
//   - no empty posting set
//
// A violation is returned as *ErrInvariantViolation. It signals corruption:
// the index must be rebuilt.
func (t *Tree) CheckInvariants() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var leaves []*node
	if err := t.checkNode(t.root, nil, nil, 1, &leaves); err != nil {
		return err
	}

	// Threading must visit exactly the in-order leaves.
	if len(leaves) > 0 {
		if leaves[0].prev != nil {
			return invariantf("first leaf has a prev link")
		}
		for i, l := range leaves {
			if i+1 < len(leaves) {
				if l.next != leaves[i+1] {
					return invariantf("leaf %d next link does not reach leaf %d", i, i+1)
				}
				if leaves[i+1].prev != l {
					return invariantf("leaf %d prev link does not reach leaf %d", i+1, i)
				}
			}
		}
		if last := leaves[len(leaves)-1]; last.next != nil {
			return invariantf("last leaf has a next link")
		}
	}
	return nil
}

// checkNode validates the subtree at n. low/high are the separator bounds
// inherited from ancestors (nil: unbounded); every key in the subtree must
// satisfy low <= key < high.
func (t *Tree) checkNode(n *node, low, high Key, depth int, leaves *[]*node) error {
	if n != t.root {
		if len(n.keys) < t.minKeys() {
			return invariantf("node at depth %d has %d keys, minimum is %d", depth, len(n.keys), t.minKeys())
		}
	}
	if len(n.keys) > t.maxKeys() {
		return invariantf("node at depth %d has %d keys, maximum is %d", depth, len(n.keys), t.maxKeys())
	}

	for i, k := range n.keys {
		if i > 0 && Compare(n.keys[i-1], k) >= 0 {
			return invariantf("keys out of order at depth %d: %s before %s", depth, n.keys[i-1], k)
		}
		if low != nil && Compare(k, low) < 0 {
			return invariantf("key %s below separator bound %s", k, low)
		}
		if high != nil && Compare(k, high) >= 0 {
			return invariantf("key %s at or above separator bound %s", k, high)
		}
	}

	if n.leaf {
		if depth != t.height {
			return invariantf("leaf at depth %d, tree height is %d", depth, t.height)
		}
		if len(n.sets) != len(n.keys) {
			return invariantf("leaf has %d keys but %d posting sets", len(n.keys), len(n.sets))
		}
		for i, s := range n.sets {
			if s == nil || s.IsEmpty() {
				return invariantf("empty posting set for key %s", n.keys[i])
			}
		}
		if n != t.root || len(n.keys) > 0 {
			*leaves = append(*leaves, n)
		}
		return nil
	}

	if len(n.children) != len(n.keys)+1 {
		return invariantf("internal node has %d keys but %d children", len(n.keys), len(n.children))
	}
	for i, c := range n.children {
		childLow := low
		if i > 0 {
			childLow = n.keys[i-1]
		}
		childHigh := high
		if i < len(n.keys) {
			childHigh = n.keys[i]
		}
		if err := t.checkNode(c, childLow, childHigh, depth+1, leaves); err != nil {
			return err
		}
	}
	return nil
}
