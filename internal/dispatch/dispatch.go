// Package dispatch leases WAITING pages to workers and reclaims leases that
// outlive their timeout.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/scribe/internal/events"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// DefaultLeaseTimeout is how long a worker may hold a page without reporting.
const DefaultLeaseTimeout = 60 * time.Second

// maxClaimAttempts bounds how often Acquire reselects after losing a page to
// a concurrent worker.
const maxClaimAttempts = 8

// errRaced rolls back a unit of work whose conditional update matched no row.
var errRaced = errors.New("page changed concurrently")

// Assignment is a page leased to the calling worker.
type Assignment struct {
	PageID    string
	RequestID string
	URL       string
	EngineID  int64
	// Stolen is set when the page belongs to an engine other than the
	// preferred one.
	Stolen bool
}

// Manager hands out page leases and runs the stale-lease reaper.
type Manager struct {
	store        store.Store
	events       events.Publisher
	leaseTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for lease timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a dispatch manager. A non-positive leaseTimeout selects
// DefaultLeaseTimeout.
func New(s store.Store, pub events.Publisher, leaseTimeout time.Duration, logger *slog.Logger, opts ...Option) *Manager {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	m := &Manager{
		store:        s,
		events:       pub,
		leaseTimeout: leaseTimeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LeaseTimeout returns the configured lease duration.
func (m *Manager) LeaseTimeout() time.Duration {
	return m.leaseTimeout
}

// Acquire leases the oldest eligible page of the preferred engine, falling
// back to the oldest eligible page of any engine. It returns nil when no
// page is waiting anywhere.
func (m *Manager) Acquire(ctx context.Context, preferred int64) (*Assignment, error) {
	a, err := m.acquire(ctx, &preferred)
	if err != nil {
		return nil, err
	}
	if a == nil {
		a, err = m.acquire(ctx, nil)
		if err != nil || a == nil {
			return nil, err
		}
	}
	a.Stolen = a.EngineID != preferred

	source := "preferred"
	if a.Stolen {
		source = "steal"
	}
	pagesDispatchedTotal.WithLabelValues(source).Inc()
	m.logger.Info("page leased",
		"page_id", a.PageID,
		"request_id", a.RequestID,
		"engine_id", a.EngineID,
		"preferred_engine_id", preferred,
	)
	m.events.Publish(events.Event{
		Kind:      events.PageLeased,
		RequestID: a.RequestID,
		PageID:    a.PageID,
		State:     model.PageProcessing,
		EngineID:  a.EngineID,
	})
	return a, nil
}

// acquire selects and claims one page. A nil engineID matches any engine.
// The claim is a compare-and-swap on the page state: when another worker
// wins the same candidate the unit of work rolls back and selection runs
// again.
func (m *Manager) acquire(ctx context.Context, engineID *int64) (*Assignment, error) {
	for range maxClaimAttempts {
		var a *Assignment
		now := m.now()
		err := m.store.InTx(ctx, func(q store.Queries) error {
			c, err := q.NextWaitingPage(ctx, engineID)
			if err != nil {
				return err
			}
			if err := q.TouchRequest(ctx, c.RequestID, now); err != nil {
				return err
			}
			ok, err := q.ClaimPage(ctx, c.PageID, now)
			if err != nil {
				return err
			}
			if !ok {
				return errRaced
			}
			a = &Assignment{PageID: c.PageID, RequestID: c.RequestID, URL: c.URL, EngineID: c.EngineID}
			return nil
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, nil
		case errors.Is(err, errRaced):
			claimConflictsTotal.Inc()
			continue
		case err != nil:
			return nil, fmt.Errorf("acquire page: %w", err)
		}
		return a, nil
	}
	m.logger.Warn("lease contention, giving up for this poll", "attempts", maxClaimAttempts)
	return nil, nil
}

// Reap returns every PROCESSING page whose lease started more than the lease
// timeout ago to WAITING and reports how many it released. A page finished or
// re-leased between the scan and its release is left alone.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	now := m.now()
	cutoff := now.Add(-m.leaseTimeout)

	pages, err := m.store.ListExpiredLeases(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired leases: %w", err)
	}

	released := 0
	for _, p := range pages {
		err := m.store.InTx(ctx, func(q store.Queries) error {
			if err := q.TouchRequest(ctx, p.RequestID, now); err != nil {
				return err
			}
			ok, err := q.ReleaseLease(ctx, p.ID, cutoff)
			if err != nil {
				return err
			}
			if !ok {
				return errRaced
			}
			return nil
		})
		if errors.Is(err, errRaced) {
			continue
		}
		if err != nil {
			return released, fmt.Errorf("release lease of page %s: %w", p.ID, err)
		}

		released++
		leasesReapedTotal.Inc()
		m.logger.Warn("lease expired, page returned to queue",
			"page_id", p.ID,
			"request_id", p.RequestID,
			"leased_at", p.ProcessingTimestamp,
		)
		m.events.Publish(events.Event{
			Kind:      events.PageReleased,
			RequestID: p.RequestID,
			PageID:    p.ID,
			PageName:  p.Name,
			State:     model.PageWaiting,
		})
	}
	return released, nil
}

// RunReaper calls Reap every interval until ctx is canceled.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("lease reaper started", "interval", interval, "lease_timeout", m.leaseTimeout)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("lease reaper stopped")
			return
		case <-ticker.C:
			n, err := m.Reap(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Error("reap leases", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Info("reaped expired leases", "count", n)
			}
		}
	}
}
