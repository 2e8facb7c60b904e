// Package storage defines the blob storage abstraction used for scanned tally
// sheets and logos, so the asset store can target the local filesystem or a
// cloud bucket interchangeably.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Size when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// BlobStore stores binary objects by relative path.
type BlobStore interface {
	// Size returns the stored object's length, or ErrNotFound.
	Size(ctx context.Context, path string) (int64, error)
	// PutObject writes the object and returns its URI. Readers of the path
	// never observe a partially written object.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
