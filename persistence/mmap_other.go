//go:build !unix

package persistence

import (
	"io"
	"os"
)

// No mmap here; read the whole file instead.
func mapFile(f *os.File, size int) ([]byte, bool, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, false, err
	}
	return data, false, nil
}

func munmap(data []byte) error { return nil }
