package benchmark_test

import (
	"context"
	"testing"

	rowgo "github.com/hupe1980/rowgo"
	"github.com/hupe1980/rowgo/testutil"
)

const benchSeed = 42

// Dataset sizes for benchmarks that pre-load rows.
const (
	sizeSmall  = 1_000
	sizeMedium = 10_000
)

// openBenchDB creates an in-memory database for benchmarks, optionally with
// secondary indexes over department+salary and email.
func openBenchDB(b *testing.B, indexed bool) *rowgo.DB {
	b.Helper()

	db, err := rowgo.Open(context.Background(), "employees", testutil.EmployeeSchema())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })

	if indexed {
		ctx := context.Background()
		if _, err := db.CreateIndex(ctx, rowgo.IndexSpec{
			Name:    "by_email",
			Columns: []string{"email"},
			Unique:  true,
		}); err != nil {
			b.Fatal(err)
		}
		if _, err := db.CreateIndex(ctx, rowgo.IndexSpec{
			Name:    "by_dept_salary",
			Columns: []string{"department", "salary"},
		}); err != nil {
			b.Fatal(err)
		}
	}
	return db
}

// loadRows inserts n deterministic rows.
func loadRows(b *testing.B, db *rowgo.DB, n int) {
	b.Helper()

	ctx := context.Background()
	rng := testutil.NewRNG(benchSeed)
	for i := range n {
		if _, err := db.Insert(ctx, rng.EmployeeRow(i)); err != nil {
			b.Fatal(err)
		}
	}
}
