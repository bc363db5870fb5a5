package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNGDeterministic(t *testing.T) {
	a := NewRNG(42)
	b := NewRNG(42)

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Uint64(), b.Uint64())
	}

	a.Reset()
	c := NewRNG(42)
	assert.Equal(t, c.Uint64(), a.Uint64())
}

func TestEmployeeRowsMatchSchema(t *testing.T) {
	schema := EmployeeSchema()
	rng := NewRNG(1)

	rows := rng.Rows(100)
	require.Len(t, rows, 100)

	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		require.NoError(t, schema.Validate(row))
		email := row[0].AsString()
		_, dup := seen[email]
		require.False(t, dup, "emails must be unique")
		seen[email] = struct{}{}
	}
}

func TestIntKeysDistinct(t *testing.T) {
	keys := NewRNG(7).IntKeys(1000)
	seen := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}
