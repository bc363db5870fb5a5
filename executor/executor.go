// Package executor translates conjunctive predicates into index accesses,
// falling back to a full table scan when no index matches the predicate's
// leading columns.
package executor

import (
	"context"
	"iter"
	"log/slog"

	"github.com/hupe1980/rowgo/btree"
	"github.com/hupe1980/rowgo/engine"
	"github.com/hupe1980/rowgo/table"
)

// Executor runs predicates against a table through its index manager.
type Executor struct {
	mgr    *engine.Manager
	logger *slog.Logger
}

// New creates an executor. A nil logger disables logging.
func New(mgr *engine.Manager, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{mgr: mgr, logger: logger}
}

// Execute returns a lazy row sequence matching the predicate. Index access
// never reorders results beyond the index's key order; the full-scan
// fallback yields storage order. Every yielded row has been re-checked
// against the complete predicate (the index only narrows candidates).
func (e *Executor) Execute(ctx context.Context, pred Predicate) iter.Seq2[table.Row, error] {
	rows, _ := e.ExecutePlanned(ctx, pred)
	return rows
}

// ExecutePlanned is Execute plus the plan that was chosen. The plan's
// counters are live: they reflect rows examined and returned so far and are
// final once the sequence is drained.
func (e *Executor) ExecutePlanned(ctx context.Context, pred Predicate) (iter.Seq2[table.Row, error], *Plan) {
	tbl := e.mgr.Table()

	plan, cp, err := e.plan(pred)
	if err != nil {
		return func(yield func(table.Row, error) bool) {
			yield(table.Row{}, err)
		}, plan
	}

	e.logger.Debug("executing predicate",
		"predicate", pred.String(),
		"access", plan.Access.String(),
		"index", plan.Index,
	)

	if plan.Access == AccessFullScan {
		return func(yield func(table.Row, error) bool) {
			for row, err := range tbl.Scan(ctx) {
				if err != nil {
					yield(table.Row{}, err)
					return
				}
				plan.RowsExamined++
				if !cp.matches(row.Values) {
					continue
				}
				plan.RowsReturned++
				if !yield(row, nil) {
					return
				}
			}
		}, plan
	}

	h := plan.handle
	return func(yield func(table.Row, error) bool) {
		cur, err := h.Tree().RangeScan(plan.Low, plan.High, false)
		if err != nil {
			yield(table.Row{}, err)
			return
		}
		for {
			if err := ctx.Err(); err != nil {
				yield(table.Row{}, err)
				return
			}
			p, ok := cur.Next()
			if !ok {
				return
			}
			plan.RowsExamined++
			row, err := tbl.Get(p.RowID)
			if err != nil {
				// The pair vanished between index read and row fetch; a
				// concurrent delete, not an error.
				continue
			}
			if !cp.matches(row.Values) {
				continue
			}
			plan.RowsReturned++
			if !yield(row, nil) {
				return
			}
		}
	}, plan
}

// Explain returns the plan that Execute would choose, without running it.
func (e *Executor) Explain(pred Predicate) (*Plan, error) {
	plan, _, err := e.plan(pred)
	return plan, err
}

// plan compiles the predicate and picks the access path.
func (e *Executor) plan(pred Predicate) (*Plan, *compiledPredicate, error) {
	tbl := e.mgr.Table()

	cp, err := pred.compile(tbl.Schema())
	if err != nil {
		return &Plan{Access: AccessFullScan, Predicate: pred.String()}, nil, err
	}

	plan := &Plan{Access: AccessFullScan, Predicate: pred.String(), EstimatedRows: tbl.Len()}
	if len(pred) == 0 {
		return plan, cp, nil
	}

	h := e.mgr.ChooseIndex(pred.columns())
	if h == nil {
		return plan, cp, nil
	}

	low, high, exact := keyBounds(h, cp)
	plan.handle = h
	plan.Index = h.Name()
	plan.Low = low
	plan.High = high

	stats := h.Tree().Stats()
	if exact {
		plan.Access = AccessIndexLookup
		switch {
		case h.Unique():
			plan.EstimatedRows = 1
		case stats.Keys > 0:
			// Average posting-set size: total pairs over distinct keys
			// (the index's selectivity).
			plan.EstimatedRows = stats.Pairs / stats.Keys
		default:
			plan.EstimatedRows = 0
		}
	} else {
		plan.Access = AccessIndexRange
		plan.EstimatedRows = stats.Pairs
	}
	return plan, cp, nil
}

// keyBounds builds the scan bounds for the chosen index: the run of
// leading equality values, optionally extended by one range condition on
// the next column. Bounds are inclusive over-approximations; exclusive
// operators are tightened by the residual predicate check. exact reports a
// full-arity equality key (a point lookup rather than a range).
func keyBounds(h *engine.Handle, cp *compiledPredicate) (low, high btree.Key, exact bool) {
	eq := make(map[string]table.Value)
	var (
		rangeCol  string
		rangeLow  table.Value
		rangeHigh table.Value
		hasLow    bool
		hasHigh   bool
	)
	for _, c := range cp.conds {
		switch c.Op {
		case Eq:
			if _, dup := eq[c.Column]; !dup {
				eq[c.Column] = c.Value
			}
		case Lt, Le:
			if rangeCol == "" || rangeCol == c.Column {
				rangeCol = c.Column
				if !hasHigh {
					rangeHigh, hasHigh = c.Value, true
				}
			}
		case Gt, Ge:
			if rangeCol == "" || rangeCol == c.Column {
				rangeCol = c.Column
				if !hasLow {
					rangeLow, hasLow = c.Value, true
				}
			}
		case Between:
			if rangeCol == "" || rangeCol == c.Column {
				rangeCol = c.Column
				if !hasLow {
					rangeLow, hasLow = c.Value, true
				}
				if !hasHigh {
					rangeHigh, hasHigh = c.High, true
				}
			}
		}
	}

	var prefix btree.Key
	cols := h.Columns()
	for _, col := range cols {
		v, ok := eq[col]
		if !ok {
			break
		}
		prefix = append(prefix, v)
	}

	if len(prefix) == len(cols) {
		return prefix, prefix, true
	}

	// One range condition on the column right after the equality prefix.
	if len(prefix) < len(cols) && cols[len(prefix)] == rangeCol {
		low = prefix.Clone()
		high = prefix.Clone()
		if hasLow {
			low = append(low, rangeLow)
		}
		if hasHigh {
			high = append(high, rangeHigh)
		}
		if len(low) == 0 {
			low = nil
		}
		if len(high) == 0 {
			high = nil
		}
		return low, high, false
	}

	// Equality prefix only.
	return prefix, prefix, false
}
