package benchmark_test

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	rowgo "github.com/hupe1980/rowgo"
	"github.com/hupe1980/rowgo/testutil"
	"github.com/hupe1980/rowgo/wal"
)

// BenchmarkSnapshotSave measures writing the table plus two indexes to disk.
// Use -benchtime=1x for large sizes; each iteration writes the full file.
func BenchmarkSnapshotSave(b *testing.B) {
	for _, n := range []int{sizeSmall, sizeMedium} {
		b.Run("n="+strconv.Itoa(n), func(b *testing.B) {
			dir := b.TempDir()
			db, err := rowgo.Open(context.Background(), "employees", testutil.EmployeeSchema(),
				rowgo.WithSnapshotPath(filepath.Join(dir, "bench.rgs")),
			)
			if err != nil {
				b.Fatal(err)
			}
			b.Cleanup(func() { _ = db.Close() })

			ctx := context.Background()
			if _, err := db.CreateIndex(ctx, rowgo.IndexSpec{Name: "by_email", Columns: []string{"email"}, Unique: true}); err != nil {
				b.Fatal(err)
			}
			if _, err := db.CreateIndex(ctx, rowgo.IndexSpec{Name: "by_dept_salary", Columns: []string{"department", "salary"}}); err != nil {
				b.Fatal(err)
			}
			loadRows(b, db, n)

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if err := db.SaveSnapshot(ctx); err != nil {
					b.Fatal(err)
				}
			}

			b.StopTimer()
			b.ReportMetric(float64(n)*float64(b.N)/b.Elapsed().Seconds(), "rows/sec")
		})
	}
}

// BenchmarkSnapshotLoad measures opening a database from a snapshot file.
func BenchmarkSnapshotLoad(b *testing.B) {
	dir := b.TempDir()
	snapPath := filepath.Join(dir, "bench.rgs")
	ctx := context.Background()

	db, err := rowgo.Open(ctx, "employees", testutil.EmployeeSchema(),
		rowgo.WithSnapshotPath(snapPath),
	)
	if err != nil {
		b.Fatal(err)
	}
	if _, err := db.CreateIndex(ctx, rowgo.IndexSpec{Name: "by_dept_salary", Columns: []string{"department", "salary"}}); err != nil {
		b.Fatal(err)
	}
	loadRows(b, db, sizeMedium)
	if err := db.SaveSnapshot(ctx); err != nil {
		b.Fatal(err)
	}
	if err := db.Close(); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		db, err := rowgo.Open(ctx, "employees", nil, rowgo.WithSnapshotPath(snapPath))
		if err != nil {
			b.Fatal(err)
		}
		if db.Len() != sizeMedium {
			b.Fatalf("expected %d rows, got %d", sizeMedium, db.Len())
		}
		b.StopTimer()
		_ = db.Close()
		b.StartTimer()
	}
}

// BenchmarkWALReplay measures recovering purely from the log.
func BenchmarkWALReplay(b *testing.B) {
	dir := b.TempDir()
	walDir := filepath.Join(dir, "wal")
	ctx := context.Background()

	db, err := rowgo.Open(ctx, "employees", testutil.EmployeeSchema(),
		rowgo.WithWAL(walDir, func(o *wal.Options) {
			o.DurabilityMode = wal.DurabilityAsync
		}),
	)
	if err != nil {
		b.Fatal(err)
	}
	loadRows(b, db, sizeMedium)
	if err := db.Close(); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		db, err := rowgo.Open(ctx, "employees", testutil.EmployeeSchema(), rowgo.WithWAL(walDir))
		if err != nil {
			b.Fatal(err)
		}
		if db.Len() != sizeMedium {
			b.Fatalf("expected %d rows, got %d", sizeMedium, db.Len())
		}
		b.StopTimer()
		_ = db.Close()
		b.StartTimer()
	}
}

// BenchmarkIndexBuild measures bulk-loading an index over an existing table.
func BenchmarkIndexBuild(b *testing.B) {
	db := openBenchDB(b, false)
	loadRows(b, db, sizeMedium)

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		name := "bench_" + strconv.Itoa(i)
		if _, err := db.CreateIndex(ctx, rowgo.IndexSpec{Name: name, Columns: []string{"department", "salary"}}); err != nil {
			b.Fatal(err)
		}
		b.StopTimer()
		if err := db.DropIndex(name); err != nil {
			b.Fatal(err)
		}
		b.StartTimer()
	}
}
