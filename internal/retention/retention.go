// Package retention expires the results of requests that finished longer
// ago than the retention window and deletes their files.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/scribe/internal/events"
	"github.com/seantiz/scribe/internal/store"
)

// Defaults for the sweep.
const (
	DefaultRetention   = 7 * 24 * time.Hour
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

// ArchiveStore removes a request's result archive. Missing archives are not
// an error.
type ArchiveStore interface {
	Delete(ctx context.Context, requestID string) error
}

// ImageStore removes a request's uploaded source images. Missing images are
// not an error.
type ImageStore interface {
	DeleteRequest(ctx context.Context, requestID string) error
}

// Sweeper runs the retention sweep.
type Sweeper struct {
	store       store.Store
	archives    ArchiveStore
	images      ImageStore
	events      events.Publisher
	retention   time.Duration
	batchSize   int
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithConcurrency sets how many requests are swept at once.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithBatchSize sets how many requests are loaded per store query.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New creates a sweeper. A non-positive retention selects DefaultRetention.
func New(s store.Store, archives ArchiveStore, images ImageStore, pub events.Publisher, retention time.Duration, logger *slog.Logger, opts ...Option) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	sw := &Sweeper{
		store:       s,
		archives:    archives,
		images:      images,
		events:      pub,
		retention:   retention,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Sweep expires every finished request older than the retention window and
// reports how many it swept. Requests that fail stay unswept and are retried
// by the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { sweepDurationSeconds.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	cutoff := now.Add(-s.retention)

	var swept atomic.Int64
	for {
		batch, err := s.store.ListSweepableRequests(ctx, cutoff, s.batchSize)
		if err != nil {
			return int(swept.Load()), fmt.Errorf("list sweepable requests: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for _, r := range batch {
			g.Go(func() error {
				if err := s.sweepRequest(ctx, r.ID, now); err != nil {
					return fmt.Errorf("sweep request %s: %w", r.ID, err)
				}
				swept.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return int(swept.Load()), err
		}
		if len(batch) < s.batchSize {
			break
		}
	}
	return int(swept.Load()), nil
}

// sweepRequest expires the request's PROCESSED pages, then deletes its
// files, then marks it swept. A crash in between leaves it eligible for the
// next sweep, and every step tolerates having already run.
func (s *Sweeper) sweepRequest(ctx context.Context, requestID string, now time.Time) error {
	var expired int64
	err := s.store.InTx(ctx, func(q store.Queries) error {
		if err := q.TouchRequest(ctx, requestID, now); err != nil {
			return err
		}
		var err error
		expired, err = q.ExpirePages(ctx, requestID)
		return err
	})
	if err != nil {
		return fmt.Errorf("expire pages: %w", err)
	}

	var errs []error
	if err := s.archives.Delete(ctx, requestID); err != nil {
		errs = append(errs, fmt.Errorf("delete archive: %w", err))
	}
	if err := s.images.DeleteRequest(ctx, requestID); err != nil {
		errs = append(errs, fmt.Errorf("delete images: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if err := s.store.MarkRequestSwept(ctx, requestID, now); err != nil {
		return fmt.Errorf("mark swept: %w", err)
	}

	requestsSweptTotal.Inc()
	pagesExpiredTotal.Add(float64(expired))
	s.logger.Info("request expired", "request_id", requestID, "pages_expired", expired)
	s.events.Publish(events.Event{Kind: events.RequestExpired, RequestID: requestID})
	return nil
}

// Run sweeps once immediately and then every interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("retention sweep started", "interval", interval, "retention", s.retention)
	for {
		n, err := s.Sweep(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			s.logger.Error("retention sweep", "error", err, "swept", n)
		case n > 0:
			s.logger.Info("retention sweep finished", "swept", n)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("retention sweep stopped")
			return
		case <-ticker.C:
		}
	}
}
