// Package gcs archives artifacts to a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config selects the bucket and object attributes.
type Config struct {
	Bucket string
	// Prefix is an optional bucket-level key prefix, for buckets shared with
	// other services.
	Prefix string
	// CacheControl is set on uploaded objects when non-empty.
	CacheControl string
}

// BlobStore uploads artifacts as single-shot writes verified by CRC32C.
type BlobStore struct {
	bucket       *storage.BucketHandle
	name         string
	prefix       string
	cacheControl string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		bucket:       client.Bucket(cfg.Bucket),
		name:         cfg.Bucket,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		cacheControl: cfg.CacheControl,
	}, nil
}

// ObjectName returns the bucket key used for p.
func (s *BlobStore) ObjectName(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// PutObject uploads r and returns a gs:// URI. Artifacts are small, so the
// body is buffered to send its checksum with the upload and let GCS reject
// corrupted writes.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	name := s.ObjectName(p)
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = s.cacheControl
	w.ContentDisposition = fmt.Sprintf(`inline; filename="%s"`, path.Base(p))
	w.CRC32C = crc32.Checksum(data, castagnoli)
	w.SendCRC32C = true
	w.ChunkSize = 0

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, name), nil
}
