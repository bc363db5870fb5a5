// Package testutil provides seeded random data generators shared by tests
// and benchmarks. Everything is deterministic for a given seed, so failures
// reproduce.
package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/hupe1980/rowgo/table"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), //nolint:gosec // test data only
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63n returns a non-negative pseudo-random int64 in [0,n).
func (r *RNG) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63n(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Perm returns a pseudo-random permutation of [0,n).
func (r *RNG) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Perm(n)
}

// departments is a small realistic pool for string-keyed index tests.
var departments = []string{"eng", "ops", "sales", "finance", "legal", "hr"}

// EmployeeSchema returns the schema used by most integration-style tests:
// a unique email, a low-cardinality department and a numeric salary.
func EmployeeSchema() *table.Schema {
	return table.MustSchema(
		table.Column{Name: "email", Type: table.TypeString},
		table.Column{Name: "department", Type: table.TypeString},
		table.Column{Name: "salary", Type: table.TypeInt},
	)
}

// EmployeeRow generates the i-th deterministic employee tuple. Emails are
// unique per i; departments and salaries repeat.
func (r *RNG) EmployeeRow(i int) []table.Value {
	return []table.Value{
		table.String(fmt.Sprintf("user%06d@example.com", i)),
		table.String(departments[r.Intn(len(departments))]),
		table.Int(40_000 + r.Int63n(100_000)),
	}
}

// Rows generates n employee tuples.
func (r *RNG) Rows(n int) [][]table.Value {
	rows := make([][]table.Value, n)
	for i := range rows {
		rows[i] = r.EmployeeRow(i)
	}
	return rows
}

// IntKeys generates n distinct int64 keys in shuffled order.
func (r *RNG) IntKeys(n int) []int64 {
	keys := make([]int64, n)
	for i, p := range r.Perm(n) {
		keys[i] = int64(p)
	}
	return keys
}
