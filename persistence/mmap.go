package persistence

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hupe1980/rowgo/engine"
	"github.com/hupe1980/rowgo/table"
)

// MappedFile is a read-only memory mapping of a file.
//
// The Bytes() slice aliases the mapped region and becomes invalid after
// Close. On platforms without mmap support the file is read into memory
// instead; callers see the same interface either way.
type MappedFile struct {
	data   []byte
	mapped bool
}

// Bytes returns the mapped file contents.
func (m *MappedFile) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Close unmaps the region.
func (m *MappedFile) Close() error {
	if m == nil || m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	if m.mapped {
		return munmap(data)
	}
	return nil
}

// MmapReadOnly opens path and memory-maps it as read-only.
func MmapReadOnly(path string) (*MappedFile, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is configurable
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() <= 0 {
		return nil, fmt.Errorf("mmap: empty file %s", path)
	}

	data, mapped, err := mapFile(f, int(st.Size()))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &MappedFile{data: data, mapped: mapped}, nil
}

// ReadSnapshotFile loads a snapshot through a memory mapping, avoiding
// read syscalls while the sections are decoded.
func ReadSnapshotFile(ctx context.Context, path string, logger *slog.Logger) (*table.Table, *engine.Manager, *Manifest, error) {
	mf, err := MmapReadOnly(path)
	if err != nil {
		return nil, nil, nil, err
	}
	defer mf.Close()

	return ReadSnapshot(ctx, bytes.NewReader(mf.Bytes()), logger)
}
