package btree

// Stats is a point-in-time snapshot of tree counters. NodeVisits counts
// every node touched by Lookup and cursor positioning; the difference across
// a single lookup bounds its descent cost.
type Stats struct {
	NodeVisits uint64
	Splits     uint64
	Merges     uint64
	Borrows    uint64

	Height int
	Keys   int
	Pairs  int
}

// Stats returns a snapshot of the tree's counters.
func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		NodeVisits: t.visits.Load(),
		Splits:     t.splits.Load(),
		Merges:     t.merges.Load(),
		Borrows:    t.borrows.Load(),
		Height:     t.height,
		Keys:       t.keys,
		Pairs:      t.pairs,
	}
}
