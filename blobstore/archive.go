package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// CurrentPointer is the blob whose content names the latest archived
// snapshot. Stores with stronger coordination needs (concurrent writers)
// can intercept writes to it; see the s3 commit store.
const CurrentPointer = "CURRENT"

// snapshotPrefix is where archived snapshots live inside a store.
const snapshotPrefix = "snapshots/"

// Archive uploads the snapshot file at filePath under snapshots/<name> and
// atomically repoints CURRENT at it.
func Archive(ctx context.Context, store BlobStore, filePath, name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid snapshot name %q", name)
	}

	f, err := os.Open(filePath) //nolint:gosec // G304: path is configurable
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	blobName := path.Join(snapshotPrefix, name)
	if err := store.Put(ctx, blobName, f, st.Size()); err != nil {
		return fmt.Errorf("upload snapshot %q: %w", name, err)
	}
	if err := store.Put(ctx, CurrentPointer, strings.NewReader(blobName), int64(len(blobName))); err != nil {
		return fmt.Errorf("update %s: %w", CurrentPointer, err)
	}
	return nil
}

// RestoreLatest downloads the snapshot CURRENT points at to destPath and
// returns its blob name.
func RestoreLatest(ctx context.Context, store BlobStore, destPath string) (string, error) {
	cur, err := store.Open(ctx, CurrentPointer)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", CurrentPointer, err)
	}
	nameBytes, err := io.ReadAll(cur)
	_ = cur.Close()
	if err != nil {
		return "", err
	}
	blobName := strings.TrimSpace(string(nameBytes))

	src, err := store.Open(ctx, blobName)
	if err != nil {
		return "", fmt.Errorf("open snapshot %q: %w", blobName, err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(filepath.Dir(destPath), ".restore-*")
	if err != nil {
		return "", err
	}
	tmpName := dst.Name()
	defer func() {
		_ = dst.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	if err := dst.Sync(); err != nil {
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		return "", err
	}
	tmpName = ""
	return blobName, nil
}
