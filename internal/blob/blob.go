// Package blob stores uploaded source images, one prefix per request.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Store holds the source images of requests until retention removes them.
type Store interface {
	Put(ctx context.Context, requestID, object string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, requestID, object string) (io.ReadCloser, error)
	DeleteRequest(ctx context.Context, requestID string) error
}

// Presigner is implemented by stores that can hand out time-limited direct
// download URLs.
type Presigner interface {
	PresignedURL(ctx context.Context, requestID, object string, ttl time.Duration) (string, error)
}

// ValidName reports whether s is safe to use as a single path segment.
func ValidName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`) && path.Clean(s) == s
}
