package table

import (
	"fmt"
)

// Column describes a single column of a table.
type Column struct {
	Name string
	Type ValueType
	// Nullable permits NULL in this column. Indexed columns may still be
	// nullable; NULL sorts before every non-NULL key.
	Nullable bool
}

// Schema is an ordered list of column definitions.
type Schema struct {
	columns []Column
	byName  map[string]int
}

// NewSchema builds a schema from column definitions.
// Column names must be unique and non-empty.
func NewSchema(columns ...Column) (*Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("schema needs at least one column")
	}
	byName := make(map[string]int, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if c.Type == TypeNull {
			return nil, fmt.Errorf("column %q: NULL is not a column type", c.Name)
		}
		if _, ok := byName[c.Name]; ok {
			return nil, fmt.Errorf("duplicate column name %q", c.Name)
		}
		byName[c.Name] = i
	}
	return &Schema{columns: append([]Column(nil), columns...), byName: byName}, nil
}

// MustSchema is like NewSchema but panics on error. Intended for tests and
// static schema definitions.
func MustSchema(columns ...Column) *Schema {
	s, err := NewSchema(columns...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.columns) }

// Columns returns a copy of the column definitions.
func (s *Schema) Columns() []Column { return append([]Column(nil), s.columns...) }

// Column returns the definition at position i.
func (s *Schema) Column(i int) Column { return s.columns[i] }

// Ordinal returns the position of the named column.
func (s *Schema) Ordinal(name string) (int, bool) {
	i, ok := s.byName[name]
	return i, ok
}

// Validate checks a tuple against the schema: arity, per-column type and
// nullability.
func (s *Schema) Validate(values []Value) error {
	if len(values) != len(s.columns) {
		return fmt.Errorf("row has %d values, schema has %d columns", len(values), len(s.columns))
	}
	for i, v := range values {
		col := s.columns[i]
		if v.IsNull() {
			if !col.Nullable {
				return fmt.Errorf("column %q is not nullable", col.Name)
			}
			continue
		}
		if v.Type() != col.Type {
			return fmt.Errorf("column %q: expected %s, got %s", col.Name, col.Type, v.Type())
		}
	}
	return nil
}
