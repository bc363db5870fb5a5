// Package s3 provides an Amazon S3 blobstore backend for snapshot archival.
//
// Store alone is enough for a single writer: snapshot uploads go through the
// parallel multipart uploader and the CURRENT pointer is a plain object.
// With concurrent writers, wrap it in a CommitStore: CURRENT updates then go
// through DynamoDB conditional writes, which provide the compare-and-swap
// semantics S3 lacks.
package s3
