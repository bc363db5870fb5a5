package persistence

import "errors"

const (
	// MagicNumber identifies snapshot files (ASCII: "RGS1").
	MagicNumber = 0x52475331
	// Version is the current snapshot format version.
	Version = 0x00010000

	// Section identifiers, in file order.
	SectionManifest = 1
	SectionRows     = 2
	SectionIndex    = 3
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	ErrInvalidSection = errors.New("invalid section")
	ErrUnknownCodec   = errors.New("unknown codec")
)

// Manifest is the codec-encoded description of a snapshot's contents. It is
// the first section of the file and tells the loader how to interpret the
// rest.
type Manifest struct {
	TableName string           `json:"table_name"`
	Columns   []ManifestColumn `json:"columns"`
	RowCount  uint64           `json:"row_count"`
	NextRowID uint64           `json:"next_row_id"`
	WALSeqNum uint64           `json:"wal_seq_num"`
	Indexes   []ManifestIndex  `json:"indexes"`

	// PartialIndexes lists partial indexes that existed at snapshot time.
	// Their row predicates are Go functions and cannot be serialized, so the
	// trees are not included; re-create them after loading.
	PartialIndexes []string `json:"partial_indexes,omitempty"`
}

// ManifestColumn describes one schema column.
type ManifestColumn struct {
	Name     string `json:"name"`
	Type     uint8  `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ManifestIndex describes one serialized index, in creation order.
type ManifestIndex struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Degree  int      `json:"degree"`
}
