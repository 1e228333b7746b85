package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local stores objects on the filesystem under root/{request_id}/{object}.
type Local struct {
	root string
}

// NewLocal creates a filesystem store rooted at root.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) path(requestID, object string) (string, error) {
	if !ValidName(requestID) || !ValidName(object) {
		return "", fmt.Errorf("invalid object path %q/%q", requestID, object)
	}
	return filepath.Join(l.root, requestID, object), nil
}

// Put writes the object, replacing any previous content.
func (l *Local) Put(ctx context.Context, requestID, object string, r io.Reader, size int64, contentType string) error {
	p, err := l.path(requestID, object)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create request dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), object+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("store object: %w", err)
	}
	return nil
}

// Open returns a reader for the object.
func (l *Local) Open(ctx context.Context, requestID, object string) (io.ReadCloser, error) {
	p, err := l.path(requestID, object)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// DeleteRequest removes every object of a request. A missing directory is
// not an error.
func (l *Local) DeleteRequest(ctx context.Context, requestID string) error {
	if !ValidName(requestID) {
		return fmt.Errorf("invalid request id %q", requestID)
	}
	if err := os.RemoveAll(filepath.Join(l.root, requestID)); err != nil {
		return fmt.Errorf("remove request images: %w", err)
	}
	return nil
}
