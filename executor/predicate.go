package executor

import (
	"fmt"
	"strings"

	"github.com/hupe1980/rowgo/engine"
	"github.com/hupe1980/rowgo/table"
)

// Op is a comparison operator in a predicate condition.
type Op uint8

const (
	// Eq is equality (=).
	Eq Op = iota
	// Lt is strictly less (<).
	Lt
	// Le is less or equal (<=).
	Le
	// Gt is strictly greater (>).
	Gt
	// Ge is greater or equal (>=).
	Ge
	// Between is an inclusive two-sided range.
	Between
)

// String returns the SQL spelling of the operator.
func (op Op) String() string {
	switch op {
	case Eq:
		return "="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	case Between:
		return "BETWEEN"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

// Condition is one `column OP literal` term. For Between, Value and High are
// the inclusive bounds.
type Condition struct {
	Column string
	Op     Op
	Value  table.Value
	High   table.Value // Between only
}

// String renders the condition for EXPLAIN output.
func (c Condition) String() string {
	if c.Op == Between {
		return fmt.Sprintf("%s BETWEEN %s AND %s", c.Column, c.Value, c.High)
	}
	return fmt.Sprintf("%s %s %s", c.Column, c.Op, c.Value)
}

// Predicate is a conjunction of conditions. An empty predicate matches every
// row.
type Predicate []Condition

// String renders the predicate for EXPLAIN output.
func (p Predicate) String() string {
	if len(p) == 0 {
		return "TRUE"
	}
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

// columns summarizes the predicate for index selection: which columns carry
// equality constraints, and the first column carrying a range constraint.
func (p Predicate) columns() engine.PredicateColumns {
	pc := engine.PredicateColumns{Equality: make(map[string]struct{})}
	for _, c := range p {
		if c.Op == Eq {
			pc.Equality[c.Column] = struct{}{}
		} else if pc.Range == "" {
			pc.Range = c.Column
		}
	}
	return pc
}

// compiledPredicate is a predicate with column ordinals resolved against a
// schema, ready for per-row evaluation.
type compiledPredicate struct {
	conds []compiledCond
}

type compiledCond struct {
	Condition
	ordinal int
}

// compile resolves column names and validates literal types.
func (p Predicate) compile(schema *table.Schema) (*compiledPredicate, error) {
	cp := &compiledPredicate{conds: make([]compiledCond, 0, len(p))}
	for _, c := range p {
		ord, ok := schema.Ordinal(c.Column)
		if !ok {
			return nil, fmt.Errorf("unknown column %q in predicate", c.Column)
		}
		colType := schema.Column(ord).Type
		if !c.Value.IsNull() && c.Value.Type() != colType {
			return nil, fmt.Errorf("condition %s: literal type %s does not match column type %s", c, c.Value.Type(), colType)
		}
		if c.Op == Between && !c.High.IsNull() && c.High.Type() != colType {
			return nil, fmt.Errorf("condition %s: upper bound type %s does not match column type %s", c, c.High.Type(), colType)
		}
		cp.conds = append(cp.conds, compiledCond{Condition: c, ordinal: ord})
	}
	return cp, nil
}

// matches evaluates the conjunction against a row tuple. A comparison
// involving NULL is false, SQL style.
func (cp *compiledPredicate) matches(values []table.Value) bool {
	for _, c := range cp.conds {
		v := values[c.ordinal]
		if v.IsNull() || c.Value.IsNull() {
			return false
		}
		cmp, err := v.Compare(c.Value)
		if err != nil {
			return false
		}
		switch c.Op {
		case Eq:
			if cmp != 0 {
				return false
			}
		case Lt:
			if cmp >= 0 {
				return false
			}
		case Le:
			if cmp > 0 {
				return false
			}
		case Gt:
			if cmp <= 0 {
				return false
			}
		case Ge:
			if cmp < 0 {
				return false
			}
		case Between:
			if cmp < 0 || c.High.IsNull() {
				return false
			}
			hi, err := v.Compare(c.High)
			if err != nil || hi > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
