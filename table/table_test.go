package table

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		Column{Name: "name", Type: TypeString},
		Column{Name: "age", Type: TypeInt},
		Column{Name: "active", Type: TypeBool, Nullable: true},
	)
	require.NoError(t, err)
	return s
}

func TestTableInsertGet(t *testing.T) {
	tbl := New("users", testSchema(t))

	id, err := tbl.Insert([]Value{String("alice"), Int(34), Bool(true)})
	require.NoError(t, err)

	row, err := tbl.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, row.ID)
	assert.Equal(t, "alice", row.Values[0].AsString())
	assert.Equal(t, int64(34), row.Values[1].AsInt())

	_, err = tbl.Get(id + 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTableValidation(t *testing.T) {
	tbl := New("users", testSchema(t))

	// Wrong arity
	_, err := tbl.Insert([]Value{String("bob")})
	require.Error(t, err)

	// Wrong type
	_, err = tbl.Insert([]Value{Int(1), Int(2), Bool(true)})
	require.Error(t, err)

	// NULL in non-nullable column
	_, err = tbl.Insert([]Value{Null(), Int(2), Bool(true)})
	require.Error(t, err)

	// NULL in nullable column is fine
	_, err = tbl.Insert([]Value{String("bob"), Int(2), Null()})
	require.NoError(t, err)
}

func TestTableUpdateReturnsOldValues(t *testing.T) {
	tbl := New("users", testSchema(t))

	id, err := tbl.Insert([]Value{String("carol"), Int(28), Bool(false)})
	require.NoError(t, err)

	old, err := tbl.Update(id, []Value{String("carol"), Int(29), Bool(false)})
	require.NoError(t, err)
	assert.Equal(t, int64(28), old.Values[1].AsInt())

	row, err := tbl.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(29), row.Values[1].AsInt())

	_, err = tbl.Update(RowID(999), []Value{String("x"), Int(1), Null()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTableDeleteAndIDReuse(t *testing.T) {
	tbl := New("users", testSchema(t))

	id0, err := tbl.Insert([]Value{String("a"), Int(1), Null()})
	require.NoError(t, err)
	id1, err := tbl.Insert([]Value{String("b"), Int(2), Null()})
	require.NoError(t, err)
	assert.Equal(t, RowID(0), id0)
	assert.Equal(t, RowID(1), id1)

	_, err = tbl.Delete(id0)
	require.NoError(t, err)
	_, err = tbl.Get(id0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tbl.Delete(id0)
	assert.ErrorIs(t, err, ErrNotFound)

	// Before compaction the identifier must not be reused.
	id2, err := tbl.Insert([]Value{String("c"), Int(3), Null()})
	require.NoError(t, err)
	assert.Equal(t, RowID(2), id2)
	assert.Equal(t, 1, tbl.PendingFree())

	reclaimed, err := tbl.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	// After compaction the freed identifier comes back.
	id3, err := tbl.Insert([]Value{String("d"), Int(4), Null()})
	require.NoError(t, err)
	assert.Equal(t, id0, id3)
}

func TestTableInsertAtWithdrawsParkedID(t *testing.T) {
	tbl := New("users", testSchema(t))

	id, err := tbl.Insert([]Value{String("a"), Int(1), Null()})
	require.NoError(t, err)

	// Delete then InsertAt is the shape of a write rollback: the revived
	// identifier must leave the pending-free list, or a later Compact would
	// free it while the row is live.
	_, err = tbl.Delete(id)
	require.NoError(t, err)
	require.NoError(t, tbl.InsertAt(id, []Value{String("a"), Int(1), Null()}))
	assert.Equal(t, 0, tbl.PendingFree())

	reclaimed, err := tbl.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)

	id2, err := tbl.Insert([]Value{String("b"), Int(2), Null()})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)

	row, err := tbl.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "a", row.Values[0].AsString())
}

func TestTableInsertAtWithdrawsFreedID(t *testing.T) {
	tbl := New("users", testSchema(t))

	id, err := tbl.Insert([]Value{String("a"), Int(1), Null()})
	require.NoError(t, err)
	_, err = tbl.Delete(id)
	require.NoError(t, err)
	_, err = tbl.Compact(context.Background())
	require.NoError(t, err)

	// The identifier is already on the free list; reviving the row must pull
	// it back out.
	require.NoError(t, tbl.InsertAt(id, []Value{String("a"), Int(1), Null()}))

	id2, err := tbl.Insert([]Value{String("b"), Int(2), Null()})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestTableRestoreNextID(t *testing.T) {
	tbl := New("users", testSchema(t))

	tbl.RestoreNextID(10)
	id, err := tbl.Insert([]Value{String("a"), Int(1), Null()})
	require.NoError(t, err)
	assert.Equal(t, RowID(10), id)

	// Lower values never wind the counter back.
	tbl.RestoreNextID(5)
	assert.Equal(t, uint64(11), tbl.NextID())
}

func TestTableScanStorageOrder(t *testing.T) {
	tbl := New("users", testSchema(t))

	want := []string{"a", "b", "c", "d"}
	for i, name := range want {
		_, err := tbl.Insert([]Value{String(name), Int(int64(i)), Null()})
		require.NoError(t, err)
	}

	var got []string
	for row, err := range tbl.Scan(context.Background()) {
		require.NoError(t, err)
		got = append(got, row.Values[0].AsString())
	}
	assert.Equal(t, want, got)
}

func TestTableScanCancellation(t *testing.T) {
	tbl := New("users", testSchema(t))
	for i := 0; i < 10; i++ {
		_, err := tbl.Insert([]Value{String("x"), Int(int64(i)), Null()})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr bool
	for _, err := range tbl.Scan(ctx) {
		if err != nil {
			sawErr = true
			break
		}
	}
	assert.True(t, sawErr)
}

func TestValueCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"int less", Int(1), Int(2), -1},
		{"int equal", Int(5), Int(5), 0},
		{"string greater", String("b"), String("a"), 1},
		{"float less", Float(1.5), Float(2.5), -1},
		{"bool order", Bool(false), Bool(true), -1},
		{"bytes", Bytes([]byte{1}), Bytes([]byte{2}), -1},
		{"null before int", Null(), Int(-100), -1},
		{"int after null", Int(-100), Null(), 1},
		{"null equal", Null(), Null(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Compare(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Int(1).Compare(String("1"))
	assert.Error(t, err)
}

func TestValueBinaryRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		Int(-42),
		Float(3.14159),
		String("hello"),
		Bool(true),
		Bytes([]byte{0xde, 0xad, 0xbe, 0xef}),
	}

	buf := AppendRowBinary(nil, values)
	got, n, err := DecodeRowBinary(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	require.Len(t, got, len(values))
	for i := range values {
		assert.True(t, values[i].Equal(got[i]), "value %d: %s != %s", i, values[i], got[i])
	}
}

func TestDecodeValueTruncated(t *testing.T) {
	buf := Int(7).AppendBinary(nil)
	for cut := 1; cut < len(buf); cut++ {
		_, _, err := DecodeValue(buf[:cut])
		assert.Error(t, err, "cut=%d", cut)
	}
}
