// Package storage defines the blob store abstraction used to archive
// rendered artifacts. Implementations live in the subpackages (memory,
// local, gcs, s3).
package storage

import (
	"context"
	"io"
)

// BlobStore persists one object and returns a URI that identifies it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
