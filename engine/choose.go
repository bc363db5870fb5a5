package engine

// PredicateColumns is the shape of a conjunctive predicate as seen by index
// selection: which columns carry equality constraints and which single
// column (if any) carries a range constraint.
type PredicateColumns struct {
	Equality map[string]struct{}
	Range    string
}

// ChooseIndex selects the index best matching the predicate, or nil when no
// index is usable and the caller must fall back to a full scan.
//
// An index is usable when its leading columns are constrained left to
// right: a run of equality columns, optionally followed by the range
// column. A predicate constraining only a non-leading column (salary in an
// index on (department, salary)) matches nothing; composite prefixes are
// usable for leftmost columns only.
//
// Ties break by longest matching prefix, then uniqueness, then creation
// order. Partial indexes are never chosen: whether their row predicate
// subsumes the query's cannot be decided here.
func (m *Manager) ChooseIndex(pc PredicateColumns) *Handle {
	var (
		best    *Handle
		bestLen int
	)
	for _, h := range m.Indexes() {
		if h.partial {
			continue
		}
		n := h.matchLen(pc)
		if n == 0 {
			continue
		}
		if n > bestLen || (n == bestLen && h.unique && !best.unique) {
			best = h
			bestLen = n
		}
	}
	return best
}

// matchLen returns the length of the usable leading-column prefix, zero when
// the index cannot serve the predicate.
func (h *Handle) matchLen(pc PredicateColumns) int {
	n := 0
	for _, col := range h.columns {
		if _, ok := pc.Equality[col]; ok {
			n++
			continue
		}
		if col == pc.Range {
			n++
		}
		break
	}
	return n
}
