// Package storage defines the destination for rendered tile artifacts.
// Implementations live in subpackages (local filesystem, Google Cloud Storage,
// memory) so the serializer never depends on a concrete backend.
package storage

import (
	"context"
	"io"
)

// ContentTypeText is the content type of the tile text representation.
const ContentTypeText = "text/plain; charset=utf-8"

// BlobStore writes an artifact and returns a URI for it. Implementations must
// not expose a partially written object at the returned location.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
