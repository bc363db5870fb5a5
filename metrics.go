package rowgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    insertCounter  prometheus.Counter
//	    queryHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordInsert(duration time.Duration, err error) {
//	    p.insertCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordInsert is called after each insert operation.
	// duration is the total time taken, err is nil if successful.
	RecordInsert(duration time.Duration, err error)

	// RecordUpdate is called after each update operation.
	RecordUpdate(duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, err error)

	// RecordQuery is called after each query execution. rowsReturned is the
	// number of rows yielded, duration is the time taken, err is nil if
	// successful.
	RecordQuery(rowsReturned int, duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot save.
	RecordSnapshot(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)     {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error)     {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)     {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	UpdateCount      atomic.Int64
	UpdateErrors     atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryRows        atomic.Int64
	QueryTotalNanos  atomic.Int64
	SnapshotCount    atomic.Int64
	SnapshotErrors   atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(duration time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(rowsReturned int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryRows.Add(int64(rowsReturned))
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:    b.InsertCount.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		InsertAvgNanos: b.getAvgInsertNanos(),
		UpdateCount:    b.UpdateCount.Load(),
		UpdateErrors:   b.UpdateErrors.Load(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		QueryCount:     b.QueryCount.Load(),
		QueryErrors:    b.QueryErrors.Load(),
		QueryRows:      b.QueryRows.Load(),
		QueryAvgNanos:  b.getAvgQueryNanos(),
		SnapshotCount:  b.SnapshotCount.Load(),
		SnapshotErrors: b.SnapshotErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgInsertNanos() int64 {
	count := b.InsertCount.Load()
	if count == 0 {
		return 0
	}
	return b.InsertTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount    int64
	InsertErrors   int64
	InsertAvgNanos int64
	UpdateCount    int64
	UpdateErrors   int64
	DeleteCount    int64
	DeleteErrors   int64
	QueryCount     int64
	QueryErrors    int64
	QueryRows      int64
	QueryAvgNanos  int64
	SnapshotCount  int64
	SnapshotErrors int64
}
