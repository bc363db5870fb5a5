package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rowgo/btree"
	"github.com/hupe1980/rowgo/table"
)

func employees(t *testing.T) (*table.Table, *Manager) {
	t.Helper()
	schema := table.MustSchema(
		table.Column{Name: "email", Type: table.TypeString},
		table.Column{Name: "department", Type: table.TypeString},
		table.Column{Name: "salary", Type: table.TypeInt},
	)
	tbl := table.New("employees", schema)
	return tbl, NewManager(tbl, nil)
}

func emp(email, dept string, salary int64) []table.Value {
	return []table.Value{table.String(email), table.String(dept), table.Int(salary)}
}

// insertRow mimics the facade's write path: row store first, then index
// maintenance with the row removed again on failure.
func insertRow(t *testing.T, tbl *table.Table, m *Manager, values []table.Value) table.RowID {
	t.Helper()
	id, err := tbl.Insert(values)
	require.NoError(t, err)
	require.NoError(t, m.OnRowInserted(id, values))
	return id
}

func TestCreateIndexBulkLoadsExistingRows(t *testing.T) {
	tbl, m := employees(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		id, err := tbl.Insert(emp("u"+string(rune('a'+i%26))+string(rune('0'+i/26)), "eng", int64(1000+i)))
		require.NoError(t, err)
		_ = id
	}

	h, err := m.CreateIndex(ctx, IndexSpec{Name: "by_salary", Columns: []string{"salary"}, Degree: 3})
	require.NoError(t, err)
	assert.Equal(t, 50, h.Tree().Len())
	require.NoError(t, m.CheckConsistency(ctx))

	set, ok := h.Tree().Lookup(btree.Key{table.Int(1010)})
	require.True(t, ok)
	assert.Equal(t, uint64(1), set.GetCardinality())
}

func TestCreateIndexValidation(t *testing.T) {
	_, m := employees(t)
	ctx := context.Background()

	_, err := m.CreateIndex(ctx, IndexSpec{Name: "", Columns: []string{"salary"}})
	assert.Error(t, err)

	_, err = m.CreateIndex(ctx, IndexSpec{Name: "x", Columns: []string{"nope"}})
	assert.Error(t, err)

	_, err = m.CreateIndex(ctx, IndexSpec{Name: "x", Columns: []string{"salary", "salary"}})
	assert.Error(t, err)

	_, err = m.CreateIndex(ctx, IndexSpec{Name: "ok", Columns: []string{"salary"}})
	require.NoError(t, err)
	_, err = m.CreateIndex(ctx, IndexSpec{Name: "ok", Columns: []string{"email"}})
	assert.Error(t, err)
}

func TestCreateUniqueIndexRejectsExistingDuplicates(t *testing.T) {
	tbl, m := employees(t)
	ctx := context.Background()

	_, err := tbl.Insert(emp("a@x", "eng", 100))
	require.NoError(t, err)
	_, err = tbl.Insert(emp("a@x", "ops", 200))
	require.NoError(t, err)

	_, err = m.CreateIndex(ctx, IndexSpec{Name: "by_email", Columns: []string{"email"}, Unique: true})
	var dup *btree.ErrDuplicateKey
	require.ErrorAs(t, err, &dup)
	assert.Empty(t, m.Indexes())
}

func TestMutationPropagation(t *testing.T) {
	tbl, m := employees(t)
	ctx := context.Background()

	bySalary, err := m.CreateIndex(ctx, IndexSpec{Name: "by_salary", Columns: []string{"salary"}, Degree: 3})
	require.NoError(t, err)

	id := insertRow(t, tbl, m, emp("a@x", "eng", 100))
	require.NoError(t, m.CheckConsistency(ctx))

	// Update moves the key.
	old, err := tbl.Update(id, emp("a@x", "eng", 150))
	require.NoError(t, err)
	require.NoError(t, m.OnRowUpdated(id, old.Values, emp("a@x", "eng", 150)))

	_, ok := bySalary.Tree().Lookup(btree.Key{table.Int(100)})
	assert.False(t, ok)
	set, ok := bySalary.Tree().Lookup(btree.Key{table.Int(150)})
	require.True(t, ok)
	assert.True(t, set.Contains(uint64(id)))

	// Delete leaves no trace.
	row, err := tbl.Delete(id)
	require.NoError(t, err)
	require.NoError(t, m.OnRowDeleted(id, row.Values))
	_, ok = bySalary.Tree().Lookup(btree.Key{table.Int(150)})
	assert.False(t, ok)
	require.NoError(t, m.CheckConsistency(ctx))
}

func TestUniqueViolationRollsBackEarlierIndexes(t *testing.T) {
	tbl, m := employees(t)
	ctx := context.Background()

	// Non-unique index created first, unique index second: a violation in
	// the second must undo the first's insert.
	bySalary, err := m.CreateIndex(ctx, IndexSpec{Name: "by_salary", Columns: []string{"salary"}, Degree: 3})
	require.NoError(t, err)
	_, err = m.CreateIndex(ctx, IndexSpec{Name: "by_email", Columns: []string{"email"}, Unique: true})
	require.NoError(t, err)

	insertRow(t, tbl, m, emp("a@x", "eng", 100))

	id, err := tbl.Insert(emp("a@x", "ops", 300))
	require.NoError(t, err)
	err = m.OnRowInserted(id, emp("a@x", "ops", 300))
	var dup *btree.ErrDuplicateKey
	require.ErrorAs(t, err, &dup)

	// The salary index must not retain the rolled-back key.
	_, ok := bySalary.Tree().Lookup(btree.Key{table.Int(300)})
	assert.False(t, ok)

	// Caller rejects the row mutation, restoring full consistency.
	_, err = tbl.Delete(id)
	require.NoError(t, err)
	require.NoError(t, m.CheckConsistency(ctx))
}

func TestUpdateUniqueViolationRollsBack(t *testing.T) {
	tbl, m := employees(t)
	ctx := context.Background()

	bySalary, err := m.CreateIndex(ctx, IndexSpec{Name: "by_salary", Columns: []string{"salary"}, Degree: 3})
	require.NoError(t, err)
	_, err = m.CreateIndex(ctx, IndexSpec{Name: "by_email", Columns: []string{"email"}, Unique: true})
	require.NoError(t, err)

	insertRow(t, tbl, m, emp("a@x", "eng", 100))
	id := insertRow(t, tbl, m, emp("b@x", "eng", 200))

	// Renaming b@x to a@x violates the unique email index; the salary key
	// change applied before it must be undone.
	newValues := emp("a@x", "eng", 250)
	old, err := tbl.Update(id, newValues)
	require.NoError(t, err)
	err = m.OnRowUpdated(id, old.Values, newValues)
	var dup *btree.ErrDuplicateKey
	require.ErrorAs(t, err, &dup)

	set, ok := bySalary.Tree().Lookup(btree.Key{table.Int(200)})
	require.True(t, ok)
	assert.True(t, set.Contains(uint64(id)))
	_, ok = bySalary.Tree().Lookup(btree.Key{table.Int(250)})
	assert.False(t, ok)

	// Caller restores the row, as the facade does on a failed update.
	_, err = tbl.Update(id, old.Values)
	require.NoError(t, err)
	require.NoError(t, m.CheckConsistency(ctx))
}

func TestUpdateSameKeyIsUntouched(t *testing.T) {
	tbl, m := employees(t)
	ctx := context.Background()

	byEmail, err := m.CreateIndex(ctx, IndexSpec{Name: "by_email", Columns: []string{"email"}, Unique: true})
	require.NoError(t, err)

	id := insertRow(t, tbl, m, emp("a@x", "eng", 100))

	// Salary changes, email key does not: the unique index must not see a
	// self-collision.
	newValues := emp("a@x", "eng", 999)
	old, err := tbl.Update(id, newValues)
	require.NoError(t, err)
	require.NoError(t, m.OnRowUpdated(id, old.Values, newValues))

	set, ok := byEmail.Tree().Lookup(btree.Key{table.String("a@x")})
	require.True(t, ok)
	assert.True(t, set.Contains(uint64(id)))
	require.NoError(t, m.CheckConsistency(ctx))
}

func TestPartialIndexMaintenance(t *testing.T) {
	tbl, m := employees(t)
	ctx := context.Background()

	insertRow(t, tbl, m, emp("lo@x", "eng", 50))

	highEarners, err := m.CreateIndex(ctx, IndexSpec{
		Name:    "high_earners",
		Columns: []string{"salary"},
		Degree:  3,
		Where: func(values []table.Value) bool {
			return values[2].AsInt() >= 100
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, highEarners.Tree().Len())

	id := insertRow(t, tbl, m, emp("hi@x", "eng", 500))
	assert.Equal(t, 1, highEarners.Tree().Len())

	// Predicate flips false: the row leaves the index.
	newValues := emp("hi@x", "eng", 60)
	old, err := tbl.Update(id, newValues)
	require.NoError(t, err)
	require.NoError(t, m.OnRowUpdated(id, old.Values, newValues))
	assert.Equal(t, 0, highEarners.Tree().Len())

	// And back in.
	old, err = tbl.Update(id, emp("hi@x", "eng", 300))
	require.NoError(t, err)
	require.NoError(t, m.OnRowUpdated(id, old.Values, emp("hi@x", "eng", 300)))
	assert.Equal(t, 1, highEarners.Tree().Len())
	require.NoError(t, m.CheckConsistency(ctx))
}

func TestDropAndRebuild(t *testing.T) {
	tbl, m := employees(t)
	ctx := context.Background()

	_, err := m.CreateIndex(ctx, IndexSpec{Name: "by_salary", Columns: []string{"salary"}, Degree: 3})
	require.NoError(t, err)
	_, err = m.CreateIndex(ctx, IndexSpec{Name: "by_dept", Columns: []string{"department", "salary"}, Degree: 3})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		insertRow(t, tbl, m, emp("u"+string(rune('a'+i)), "eng", int64(i)))
	}

	require.NoError(t, m.RebuildAll(ctx))
	require.NoError(t, m.CheckConsistency(ctx))

	require.NoError(t, m.DropIndex("by_salary"))
	assert.Len(t, m.Indexes(), 1)
	assert.ErrorIs(t, m.DropIndex("by_salary"), ErrIndexNotFound)
	_, err = m.Index("by_salary")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestChooseIndex(t *testing.T) {
	tbl, m := employees(t)
	ctx := context.Background()
	_ = tbl

	composite, err := m.CreateIndex(ctx, IndexSpec{Name: "by_dept_salary", Columns: []string{"department", "salary"}})
	require.NoError(t, err)
	byEmail, err := m.CreateIndex(ctx, IndexSpec{Name: "by_email", Columns: []string{"email"}, Unique: true})
	require.NoError(t, err)
	_, err = m.CreateIndex(ctx, IndexSpec{
		Name: "partial", Columns: []string{"salary"},
		Where: func(values []table.Value) bool { return values[2].AsInt() > 0 },
	})
	require.NoError(t, err)

	eq := func(cols ...string) map[string]struct{} {
		s := make(map[string]struct{})
		for _, c := range cols {
			s[c] = struct{}{}
		}
		return s
	}

	// Leading-column equality matches the composite index.
	h := m.ChooseIndex(PredicateColumns{Equality: eq("department")})
	require.NotNil(t, h)
	assert.Equal(t, composite.Name(), h.Name())

	// Equality on department plus range on salary: full two-column prefix.
	h = m.ChooseIndex(PredicateColumns{Equality: eq("department"), Range: "salary"})
	require.NotNil(t, h)
	assert.Equal(t, composite.Name(), h.Name())

	// Salary alone skips the composite index (not a leading column) and the
	// partial index (never chosen): full scan.
	assert.Nil(t, m.ChooseIndex(PredicateColumns{Equality: eq("salary")}))
	assert.Nil(t, m.ChooseIndex(PredicateColumns{Range: "salary"}))

	// Unique index wins ties at equal prefix length.
	h = m.ChooseIndex(PredicateColumns{Equality: eq("email", "department")})
	require.NotNil(t, h)
	assert.Equal(t, byEmail.Name(), h.Name())
}
