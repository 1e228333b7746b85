package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned when a request's archive lock cannot be acquired
// within the configured wait. The operation did not run.
var ErrLockTimeout = errors.New("archive lock acquisition timed out")

const (
	lockInitialInterval = 5 * time.Millisecond
	lockMaxInterval     = 200 * time.Millisecond
)

// fileLock is an exclusive flock(2) held on a per-request lock file. Separate
// opens conflict even within one process, so goroutines and processes sharing
// the data directory exclude each other alike.
type fileLock struct {
	f *os.File
}

// acquire polls for the lock with exponential backoff until timeout elapses or
// ctx is done.
func acquire(ctx context.Context, path string, timeout time.Duration) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = lockInitialInterval
	eb.MaxInterval = lockMaxInterval
	eb.MaxElapsedTime = timeout

	start := time.Now()
	err = backoff.Retry(func() error {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil || errors.Is(err, unix.EWOULDBLOCK) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(eb, ctx))
	lockWaitSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		f.Close()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, unix.EWOULDBLOCK):
			lockTimeoutsTotal.Inc()
			return nil, fmt.Errorf("%s after %s: %w", path, timeout, ErrLockTimeout)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() error {
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
