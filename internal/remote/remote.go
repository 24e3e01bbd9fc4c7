// Package remote defines the boundary contract to the remote object store.
// The engine decides what must move; implementations of Store decide how
// bytes reach the other side.
package remote

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist in the bucket
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one remote object
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Store is the remote object store collaborator
type Store interface {
	// List returns all objects under prefix, keyed by full object key
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// Get streams an object's content to w and returns bytes written
	Get(ctx context.Context, bucket, key string, w io.Writer) (int64, error)

	// Put writes an object from r and returns its resulting metadata
	Put(ctx context.Context, bucket, key string, r io.Reader) (ObjectInfo, error)

	// Head returns metadata for one object
	Head(ctx context.Context, bucket, key string) (ObjectInfo, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error
}
