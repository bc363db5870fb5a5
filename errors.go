package rowgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/rowgo/btree"
	"github.com/hupe1980/rowgo/engine"
	"github.com/hupe1980/rowgo/table"
)

var (
	// ErrNotFound is returned when a row or index is not found.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when operations are attempted on a closed database.
	ErrClosed = errors.New("database is closed")

	// ErrMissingSchema is returned when Open has neither a schema argument nor
	// an existing snapshot to recover the schema from.
	ErrMissingSchema = errors.New("schema required: no snapshot to recover from")

	// ErrNoSnapshot is returned when a snapshot operation requires a snapshot
	// path but none was configured.
	ErrNoSnapshot = errors.New("no snapshot path configured")
)

// ErrUniqueViolation indicates a write was rejected because it would place a
// duplicate key into a unique index. The write is rolled back; table and
// indexes are unchanged.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrUniqueViolation struct {
	Key   string
	cause error
}

func (e *ErrUniqueViolation) Error() string {
	return fmt.Sprintf("unique constraint violation: key %s", e.Key)
}

func (e *ErrUniqueViolation) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, table.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, engine.ErrIndexNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, btree.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Constraint normalization.
	var dup *btree.ErrDuplicateKey
	if errors.As(err, &dup) {
		return &ErrUniqueViolation{Key: dup.Key.String(), cause: err}
	}

	return err
}
