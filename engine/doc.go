// Package engine coordinates secondary indexes with row-store mutations.
//
// The Manager owns every index of a table, in creation order. That order is
// also the lock-acquisition order for multi-index mutations, which keeps
// concurrent row mutations deadlock-free: a mutation takes the row-store
// lock first, then each affected index's lock strictly in creation order.
//
// Index maintenance is transactional per row mutation: when any index
// rejects its part (a unique violation, typically), every index change
// already applied for that mutation is undone in reverse order and the row
// mutation is reported as failed.
package engine
