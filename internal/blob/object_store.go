package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by backends for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the byte backend under the file index. Keys are slash separated:
// {user_id}/{category}/{stored_name}.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}
