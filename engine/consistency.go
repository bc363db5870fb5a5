package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/rowgo/btree"
	"github.com/hupe1980/rowgo/table"
)

// ErrDanglingReference reports an index entry pointing at a row that is not
// live, or a live row missing from an index. Like a tree-balance violation
// it signals corruption: the index must be rebuilt.
type ErrDanglingReference struct {
	Index  string
	RowID  table.RowID
	Detail string
}

func (e *ErrDanglingReference) Error() string {
	return fmt.Sprintf("index %q row %d: %s", e.Index, e.RowID, e.Detail)
}

// CheckConsistency verifies every index against the table: structural tree
// invariants, no dangling references, and no live row absent from an index
// that should cover it.
func (m *Manager) CheckConsistency(ctx context.Context) error {
	for _, h := range m.Indexes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.tree.CheckInvariants(); err != nil {
			return fmt.Errorf("index %q: %w", h.name, err)
		}

		// Every indexed pair must reference a live row carrying that key.
		cur, err := h.tree.RangeScan(nil, nil, false)
		if err != nil {
			return err
		}
		for {
			p, ok := cur.Next()
			if !ok {
				break
			}
			row, err := m.tbl.Get(p.RowID)
			if err != nil {
				return &ErrDanglingReference{
					Index:  h.name,
					RowID:  p.RowID,
					Detail: fmt.Sprintf("key %s references a dead row", p.Key),
				}
			}
			if btree.Compare(h.KeyFor(row.Values), p.Key) != 0 {
				return &ErrDanglingReference{
					Index:  h.name,
					RowID:  p.RowID,
					Detail: fmt.Sprintf("indexed key %s does not match row key %s", p.Key, h.KeyFor(row.Values)),
				}
			}
		}

		// Every covered live row must be indexed.
		for row, err := range m.tbl.Scan(ctx) {
			if err != nil {
				return err
			}
			if !h.covers(row.Values) {
				continue
			}
			if !h.tree.Contains(h.KeyFor(row.Values), row.ID) {
				return &ErrDanglingReference{
					Index:  h.name,
					RowID:  row.ID,
					Detail: fmt.Sprintf("live row with key %s is missing", h.KeyFor(row.Values)),
				}
			}
		}
	}
	return nil
}
