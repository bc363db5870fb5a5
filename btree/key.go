package btree

import (
	"strings"

	"github.com/hupe1980/rowgo/table"
)

// Key is a composite index key: the tuple of values extracted from a row's
// indexed columns, in index-column order.
//
// Keys are treated as immutable once handed to a tree.
type Key []table.Value

// Compare orders two keys of equal arity lexicographically.
//
// Keys inside a tree always share the tree's column signature, so the
// per-value comparison cannot fail after validation; a mixed-type
// comparison reports the values as equal, which validation makes
// unreachable.
func Compare(a, b Key) int {
	for i := range a {
		if i >= len(b) {
			return 1
		}
		c, err := a[i].Compare(b[i])
		if err != nil {
			continue
		}
		if c != 0 {
			return c
		}
	}
	if len(a) < len(b) {
		return -1
	}
	return 0
}

// ComparePrefix orders key k against a bound that may be a strict prefix of
// the tree's key arity. Only the bound's leading values participate, which
// is what makes composite-prefix range scans work: the bound (5) matches
// every key (5, *).
func ComparePrefix(k, bound Key) int {
	n := len(bound)
	if n > len(k) {
		n = len(k)
	}
	for i := 0; i < n; i++ {
		c, err := k[i].Compare(bound[i])
		if err != nil {
			continue
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Clone returns a copy of the key's value slice.
func (k Key) Clone() Key {
	return append(Key(nil), k...)
}

// String renders the key for diagnostics.
func (k Key) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range k {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.String())
	}
	sb.WriteByte(')')
	return sb.String()
}
