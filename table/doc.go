// Package table implements the row store: typed tuples addressed by stable
// row identifiers.
//
// # Identity
//
// A RowID is assigned on insert from a monotonic counter and never changes
// for the lifetime of the row. Deleted identifiers are parked until Compact
// confirms no secondary index references them, then recycled through a free
// list.
//
// # Types
//
//   - Value: a typed column value (INT, FLOAT, STRING, BOOL, BYTES, NULL)
//   - Schema: ordered column definitions with validation
//   - Row: a tuple plus its RowID
//   - Table: the concurrent row store with Insert/Get/Update/Delete/Scan
//
// The table layer is deliberately index-agnostic: keeping B-Tree indexes
// consistent with mutations is the engine package's job.
package table
