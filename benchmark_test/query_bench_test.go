package benchmark_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/hupe1980/rowgo/table"
	"github.com/hupe1980/rowgo/testutil"
)

// BenchmarkPointLookup compares a unique-index point lookup against the
// full-scan fallback for the same predicate.
func BenchmarkPointLookup(b *testing.B) {
	for _, indexed := range []bool{false, true} {
		b.Run("indexed="+strconv.FormatBool(indexed), func(b *testing.B) {
			db := openBenchDB(b, indexed)
			loadRows(b, db, sizeMedium)

			// Emails only depend on the row ordinal, so regenerate them for
			// probing.
			probe := testutil.NewRNG(benchSeed)
			emails := make([]table.Value, sizeMedium)
			for i := range emails {
				emails[i] = probe.EmployeeRow(i)[0]
			}

			rng := testutil.NewRNG(benchSeed)
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				n, err := db.Query().Eq("email", emails[rng.Intn(sizeMedium)]).Count(ctx)
				if err != nil {
					b.Fatal(err)
				}
				if n != 1 {
					b.Fatalf("expected 1 row, got %d", n)
				}
			}
		})
	}
}

// BenchmarkRangeQuery measures an equality-prefix plus salary-range query
// over a composite index.
func BenchmarkRangeQuery(b *testing.B) {
	for _, indexed := range []bool{false, true} {
		b.Run("indexed="+strconv.FormatBool(indexed), func(b *testing.B) {
			db := openBenchDB(b, indexed)
			loadRows(b, db, sizeMedium)

			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_, err := db.Query().
					Eq("department", table.String("eng")).
					Between("salary", table.Int(45000), table.Int(55000)).
					Count(ctx)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkFullScan measures the unindexed scan floor.
func BenchmarkFullScan(b *testing.B) {
	db := openBenchDB(b, false)
	loadRows(b, db, sizeMedium)

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		n, err := db.Query().Count(ctx)
		if err != nil {
			b.Fatal(err)
		}
		if n != sizeMedium {
			b.Fatalf("expected %d rows, got %d", sizeMedium, n)
		}
	}
}
