package rowgo

import (
	"context"
	"iter"
	"time"

	"github.com/hupe1980/rowgo/executor"
	"github.com/hupe1980/rowgo/table"
)

// Query is a fluent predicate builder. Conditions are combined with AND;
// an empty query matches every row.
//
//	rows, err := db.Query().
//	    Eq("department", table.String("eng")).
//	    Gt("salary", table.Int(100000)).
//	    All(ctx)
type Query struct {
	db   *DB
	pred executor.Predicate
}

// Query starts a new query against the database.
func (db *DB) Query() *Query {
	return &Query{db: db}
}

// Eq adds a `column = value` condition.
func (q *Query) Eq(column string, value table.Value) *Query {
	q.pred = append(q.pred, executor.Condition{Column: column, Op: executor.Eq, Value: value})
	return q
}

// Lt adds a `column < value` condition.
func (q *Query) Lt(column string, value table.Value) *Query {
	q.pred = append(q.pred, executor.Condition{Column: column, Op: executor.Lt, Value: value})
	return q
}

// Le adds a `column <= value` condition.
func (q *Query) Le(column string, value table.Value) *Query {
	q.pred = append(q.pred, executor.Condition{Column: column, Op: executor.Le, Value: value})
	return q
}

// Gt adds a `column > value` condition.
func (q *Query) Gt(column string, value table.Value) *Query {
	q.pred = append(q.pred, executor.Condition{Column: column, Op: executor.Gt, Value: value})
	return q
}

// Ge adds a `column >= value` condition.
func (q *Query) Ge(column string, value table.Value) *Query {
	q.pred = append(q.pred, executor.Condition{Column: column, Op: executor.Ge, Value: value})
	return q
}

// Between adds an inclusive `column BETWEEN low AND high` condition.
func (q *Query) Between(column string, low, high table.Value) *Query {
	q.pred = append(q.pred, executor.Condition{Column: column, Op: executor.Between, Value: low, High: high})
	return q
}

// Execute returns a lazy row sequence matching the query. Results follow
// index key order when an index is used, storage order otherwise.
func (q *Query) Execute(ctx context.Context) iter.Seq2[table.Row, error] {
	inner := q.db.exec.Execute(ctx, q.pred)
	return func(yield func(table.Row, error) bool) {
		start := time.Now()
		rows := 0
		var execErr error
		for row, err := range inner {
			if err != nil {
				execErr = err
				yield(table.Row{}, err)
				break
			}
			rows++
			if !yield(row, nil) {
				break
			}
		}
		q.db.metrics.RecordQuery(rows, time.Since(start), execErr)
		q.db.logger.LogQuery(ctx, q.pred.String(), rows, execErr)
	}
}

// All collects every matching row into a slice.
func (q *Query) All(ctx context.Context) ([]table.Row, error) {
	var out []table.Row
	for row, err := range q.Execute(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Count returns the number of matching rows without materializing them.
func (q *Query) Count(ctx context.Context) (int, error) {
	n := 0
	for _, err := range q.Execute(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Explain returns the access plan Execute would choose, without running it.
func (q *Query) Explain() (*executor.Plan, error) {
	return q.db.exec.Explain(q.pred)
}
