package persistence

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
)

// SaveToFile writes a file atomically: the content goes to a temp file in
// the same directory, which is fsynced and then renamed over the target.
// A crash mid-write leaves the previous file intact.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	// Success: prevent deferred cleanup from removing the final file.
	tmpName = ""
	return nil
}

// LoadFromFile opens filename and hands a buffered reader to readFunc.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename) //nolint:gosec // G304: path is configurable
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, 256*1024)
	return readFunc(buf)
}
