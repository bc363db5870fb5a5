// Package btree implements the ordered secondary index structure: a B+Tree
// mapping composite keys to sets of row identifiers.
//
// All row data lives in the leaves; internal nodes carry only separator
// keys. Leaves are doubly threaded so range scans walk sibling links instead
// of re-descending for every result. Duplicate keys share one leaf entry
// whose posting set is a Roaring bitmap.
//
// # Balance
//
// The tree is parameterized by its minimum degree B: every node holds at
// most 2B-1 keys, and every node except the root holds at least B-1.
// Inserts split full nodes at the median, cascading to the root (a root
// split grows the height by one). Deletes repair under-full nodes by
// borrowing from a sibling or merging (a root merge shrinks the height by
// one). CheckInvariants validates occupancy, ordering, separator bounds,
// uniform leaf depth and leaf threading.
//
// # Concurrency
//
// A tree is guarded by a single RWMutex: readers share, mutators exclude.
// Cursors returned by RangeScan hold the read lock only inside Next and
// revalidate their position when the tree's structure version has moved, so
// an abandoned cursor pins nothing.
package btree
