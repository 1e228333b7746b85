// Package archive stores the result artifacts of each request in a single zip
// container, serializing every access to it with a per-request file lock.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrEntryNotFound is returned when the archive or the requested entry does
// not exist.
var ErrEntryNotFound = errors.New("archive entry not found")

// Entry is one named artifact.
type Entry struct {
	Name string
	Data []byte
}

// Manager owns the archive directory.
type Manager struct {
	dir         string
	lockTimeout time.Duration
	logger      *slog.Logger
}

// New creates a manager storing archives in dir.
func New(dir string, lockTimeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{dir: dir, lockTimeout: lockTimeout, logger: logger}
}

func (m *Manager) archivePath(requestID string) string {
	return filepath.Join(m.dir, filepath.Base(requestID)+".zip")
}

func (m *Manager) lockPath(requestID string) string {
	return filepath.Join(m.dir, filepath.Base(requestID)+".lock")
}

// withLock runs fn while holding the request's lock.
func (m *Manager) withLock(ctx context.Context, requestID string, fn func() error) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	l, err := acquire(ctx, m.lockPath(requestID), m.lockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.release(); err != nil {
			m.logger.Warn("release archive lock", "request_id", requestID, "error", err)
		}
	}()
	return fn()
}

// Append adds entries to the request's archive, replacing existing entries
// of the same name. The archive is rewritten into a temporary file and
// renamed over the old one, so readers never see a partial container.
func (m *Manager) Append(ctx context.Context, requestID string, entries []Entry) error {
	return m.withLock(ctx, requestID, func() error {
		return m.rewrite(requestID, entries)
	})
}

func (m *Manager) rewrite(requestID string, entries []Entry) error {
	replaced := make(map[string]bool, len(entries))
	for _, e := range entries {
		replaced[e.Name] = true
	}

	tmp, err := os.CreateTemp(m.dir, filepath.Base(requestID)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)

	old, err := zip.OpenReader(m.archivePath(requestID))
	switch {
	case err == nil:
		defer old.Close()
		for _, f := range old.File {
			if replaced[f.Name] {
				continue
			}
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("copy entry %s: %w", f.Name, err)
			}
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("open archive: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate, Modified: now})
		if err != nil {
			return fmt.Errorf("create entry %s: %w", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return fmt.Errorf("write entry %s: %w", e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.archivePath(requestID)); err != nil {
		return fmt.Errorf("replace archive: %w", err)
	}
	committed = true
	return nil
}

// Read returns the contents of one entry of the request's archive.
func (m *Manager) Read(ctx context.Context, requestID, name string) ([]byte, error) {
	var data []byte
	err := m.withLock(ctx, requestID, func() error {
		zr, err := zip.OpenReader(m.archivePath(requestID))
		if errors.Is(err, os.ErrNotExist) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer zr.Close()

		f, err := zr.Open(name)
		if errors.Is(err, os.ErrNotExist) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("open entry %s: %w", name, err)
		}
		defer f.Close()

		data, err = io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read entry %s: %w", name, err)
		}
		return nil
	})
	return data, err
}

// List returns the entry names of the request's archive.
func (m *Manager) List(ctx context.Context, requestID string) ([]string, error) {
	var names []string
	err := m.withLock(ctx, requestID, func() error {
		zr, err := zip.OpenReader(m.archivePath(requestID))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer zr.Close()
		for _, f := range zr.File {
			names = append(names, f.Name)
		}
		return nil
	})
	return names, err
}

// Delete removes the request's archive and any temporary file left by an
// interrupted rewrite. Missing files are not an error. The lock file stays:
// unlinking it would let a waiter holding the old inode and a new opener both
// hold "the" lock.
func (m *Manager) Delete(ctx context.Context, requestID string) error {
	return m.withLock(ctx, requestID, func() error {
		if err := os.Remove(m.archivePath(requestID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove archive: %w", err)
		}
		stale, err := filepath.Glob(filepath.Join(m.dir, filepath.Base(requestID)+".*.tmp"))
		if err != nil {
			return fmt.Errorf("glob temp archives: %w", err)
		}
		for _, name := range stale {
			if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove temp archive: %w", err)
			}
		}
		return nil
	})
}
