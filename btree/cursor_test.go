package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rowgo/table"
)

func compositeTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := New(Options{
		Degree:  3,
		Columns: []table.ValueType{table.TypeString, table.TypeInt},
	})
	require.NoError(t, err)
	return tree
}

func deptKey(dept string, salary int64) Key {
	return Key{table.String(dept), table.Int(salary)}
}

func TestRangeScanAscending(t *testing.T) {
	tree := intTree(t, 3, false)
	for i := int64(0); i < 100; i += 2 {
		require.NoError(t, tree.Insert(intKey(i), table.RowID(i)))
	}

	cur, err := tree.RangeScan(intKey(10), intKey(20), false)
	require.NoError(t, err)
	pairs := cur.All()

	var keys []int64
	for _, p := range pairs {
		keys = append(keys, p.Key[0].AsInt())
	}
	assert.Equal(t, []int64{10, 12, 14, 16, 18, 20}, keys)

	// Non-decreasing in key.
	for i := 1; i < len(pairs); i++ {
		assert.LessOrEqual(t, pairs[i-1].Key[0].AsInt(), pairs[i].Key[0].AsInt())
	}
}

func TestRangeScanDescending(t *testing.T) {
	tree := intTree(t, 3, false)
	for i := int64(0); i < 100; i += 2 {
		require.NoError(t, tree.Insert(intKey(i), table.RowID(i)))
	}

	cur, err := tree.RangeScan(intKey(10), intKey(20), true)
	require.NoError(t, err)
	var keys []int64
	for _, p := range cur.All() {
		keys = append(keys, p.Key[0].AsInt())
	}
	assert.Equal(t, []int64{20, 18, 16, 14, 12, 10}, keys)
}

func TestRangeScanBoundsInGaps(t *testing.T) {
	tree := intTree(t, 3, false)
	for _, k := range []int64{10, 20, 30, 40} {
		require.NoError(t, tree.Insert(intKey(k), table.RowID(k)))
	}

	// Bounds falling between keys.
	cur, err := tree.RangeScan(intKey(15), intKey(35), false)
	require.NoError(t, err)
	var keys []int64
	for _, p := range cur.All() {
		keys = append(keys, p.Key[0].AsInt())
	}
	assert.Equal(t, []int64{20, 30}, keys)

	// Empty range.
	cur, err = tree.RangeScan(intKey(21), intKey(29), false)
	require.NoError(t, err)
	assert.Empty(t, cur.All())

	// Range entirely past the data.
	cur, err = tree.RangeScan(intKey(100), nil, false)
	require.NoError(t, err)
	assert.Empty(t, cur.All())
}

func TestRangeScanUnbounded(t *testing.T) {
	tree := intTree(t, 3, false)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, tree.Insert(intKey(i), table.RowID(i)))
	}

	cur, err := tree.RangeScan(nil, nil, false)
	require.NoError(t, err)
	assert.Len(t, cur.All(), 10)

	cur, err = tree.RangeScan(intKey(5), nil, false)
	require.NoError(t, err)
	assert.Len(t, cur.All(), 5)

	cur, err = tree.RangeScan(nil, intKey(4), false)
	require.NoError(t, err)
	assert.Len(t, cur.All(), 5)
}

func TestRangeScanDuplicateKeys(t *testing.T) {
	tree := intTree(t, 3, false)
	for id := uint64(0); id < 5; id++ {
		require.NoError(t, tree.Insert(intKey(7), table.RowID(id)))
	}

	cur, err := tree.RangeScan(intKey(7), intKey(7), false)
	require.NoError(t, err)
	pairs := cur.All()
	require.Len(t, pairs, 5)

	// All pairs share the key; row IDs come out in stable ascending order.
	var ids []uint64
	for _, p := range pairs {
		assert.Equal(t, int64(7), p.Key[0].AsInt())
		ids = append(ids, uint64(p.RowID))
	}
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, ids)
}

// Composite-prefix bounds: a bound naming only the leading column matches
// every key sharing that prefix.
func TestRangeScanCompositePrefix(t *testing.T) {
	tree := compositeTree(t)
	rows := []struct {
		dept   string
		salary int64
	}{
		{"eng", 90}, {"eng", 120}, {"eng", 150},
		{"ops", 80}, {"ops", 110},
		{"sales", 100},
	}
	for i, r := range rows {
		require.NoError(t, tree.Insert(deptKey(r.dept, r.salary), table.RowID(i)))
	}

	// Equality on the leading column alone.
	prefix := Key{table.String("eng")}
	cur, err := tree.RangeScan(prefix, prefix, false)
	require.NoError(t, err)
	pairs := cur.All()
	require.Len(t, pairs, 3)
	var salaries []int64
	for _, p := range pairs {
		assert.Equal(t, "eng", p.Key[0].AsString())
		salaries = append(salaries, p.Key[1].AsInt())
	}
	assert.Equal(t, []int64{90, 120, 150}, salaries)

	// Full composite bounds narrow within the prefix.
	cur, err = tree.RangeScan(deptKey("eng", 100), deptKey("eng", 200), false)
	require.NoError(t, err)
	pairs = cur.All()
	require.Len(t, pairs, 2)
	assert.Equal(t, int64(120), pairs[0].Key[1].AsInt())
}

// A cursor stays coherent when the tree mutates between Next calls: keys at
// or before the last delivered position are never replayed, later inserts in
// range are picked up.
func TestCursorSurvivesConcurrentMutation(t *testing.T) {
	tree := intTree(t, 2, false)
	for i := int64(0); i < 50; i += 2 {
		require.NoError(t, tree.Insert(intKey(i), table.RowID(i)))
	}

	cur, err := tree.RangeScan(nil, nil, false)
	require.NoError(t, err)

	var seen []int64
	for {
		p, ok := cur.Next()
		if !ok {
			break
		}
		seen = append(seen, p.Key[0].AsInt())
		// Force splits and merges mid-scan.
		if p.Key[0].AsInt() == 10 {
			require.NoError(t, tree.Insert(intKey(11), 11))
			require.NoError(t, tree.Insert(intKey(13), 13))
			require.NoError(t, tree.Delete(intKey(20), 20))
		}
	}

	// Strictly increasing, includes the late inserts, excludes the delete.
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i])
	}
	assert.Contains(t, seen, int64(11))
	assert.Contains(t, seen, int64(13))
	assert.NotContains(t, seen, int64(20))
	require.NoError(t, tree.CheckInvariants())
}

func TestRangeScanBoundValidation(t *testing.T) {
	tree := compositeTree(t)

	// Bound longer than the key signature.
	_, err := tree.RangeScan(Key{table.String("a"), table.Int(1), table.Int(2)}, nil, false)
	assert.Error(t, err)

	// Bound with a mismatched type.
	_, err = tree.RangeScan(Key{table.Int(1)}, nil, false)
	assert.Error(t, err)
}
