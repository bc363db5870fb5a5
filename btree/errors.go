package btree

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a (key, rowID) pair is absent from the tree.
//
// This is an index-layer sentinel; the rowgo package may translate it into
// its public error contract.
var ErrNotFound = errors.New("key not found")

// ErrDuplicateKey indicates a unique-index constraint violation.
//
// The insert is rejected before any mutation: the tree is structurally
// unchanged after the error.
type ErrDuplicateKey struct {
	Key Key
}

func (e *ErrDuplicateKey) Error() string {
	return fmt.Sprintf("duplicate key %s in unique index", e.Key)
}

// ErrInvariantViolation indicates a detected balance or structural
// inconsistency. It should never surface in correct operation; when it
// does, the index is corrupt and must be rebuilt.
type ErrInvariantViolation struct {
	Detail string
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("tree invariant violated: %s", e.Detail)
}

func invariantf(format string, args ...any) *ErrInvariantViolation {
	return &ErrInvariantViolation{Detail: fmt.Sprintf(format, args...)}
}
