// Package blobstore abstracts remote storage for snapshot archival.
//
// A database directory stays on the local filesystem; the blobstore is where
// finished snapshots go for off-host durability. Implementations must be
// safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: a directory tree, for tests and single-host setups
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 (with an optional DynamoDB commit store for
//     atomic CURRENT-pointer updates between concurrent writers)
//   - minio.Store: MinIO and other S3-compatible object stores
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations must return an error that satisfies
// errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("blob not found")

// BlobStore stores named immutable blobs.
type BlobStore interface {
	// Open opens a blob for reading. The caller must close the reader.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Put writes a blob atomically: a partially written blob is never
	// observable under its final name. size is the number of bytes r will
	// yield, or -1 if unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the blob names under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
