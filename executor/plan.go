package executor

import (
	"fmt"

	"github.com/hupe1980/rowgo/btree"
	"github.com/hupe1980/rowgo/engine"
)

// AccessPath is how a plan reaches its rows.
type AccessPath uint8

const (
	// AccessFullScan evaluates the predicate over every live row in
	// storage order. The silent, correct, slower path; never an error.
	AccessFullScan AccessPath = iota
	// AccessIndexLookup is a point lookup of a full-arity equality key.
	AccessIndexLookup
	// AccessIndexRange is an ordered scan of an index key range.
	AccessIndexRange
)

// String returns the EXPLAIN spelling of the access path.
func (a AccessPath) String() string {
	switch a {
	case AccessFullScan:
		return "FULL SCAN"
	case AccessIndexLookup:
		return "INDEX LOOKUP"
	case AccessIndexRange:
		return "INDEX RANGE"
	default:
		return fmt.Sprintf("AccessPath(%d)", uint8(a))
	}
}

// Plan is the EXPLAIN-style diagnostic for one execution: the chosen access
// path, bounds, the optimizer's row estimate, and the actual counts touched
// once the row sequence has been drained.
type Plan struct {
	Access    AccessPath
	Predicate string
	Index     string    // empty for a full scan
	Low, High btree.Key // index bounds, nil when unbounded

	// EstimatedRows is the a-priori estimate: table size for a full scan,
	// average posting-set size for an equality lookup, index size for a
	// range.
	EstimatedRows int

	// RowsExamined and RowsReturned are filled in during execution.
	RowsExamined int
	RowsReturned int

	handle *engine.Handle
}

// String renders the plan in a compact EXPLAIN line.
func (p *Plan) String() string {
	switch p.Access {
	case AccessFullScan:
		return fmt.Sprintf("%s (%s) estimated=%d", p.Access, p.Predicate, p.EstimatedRows)
	case AccessIndexLookup:
		return fmt.Sprintf("%s %s key=%s estimated=%d", p.Access, p.Index, p.Low, p.EstimatedRows)
	default:
		return fmt.Sprintf("%s %s low=%s high=%s estimated=%d", p.Access, p.Index, p.Low, p.High, p.EstimatedRows)
	}
}
