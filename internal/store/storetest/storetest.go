// Package storetest provides in-memory stores and fixtures for tests of the
// packages built on top of store.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// T0 is a fixed clock origin.
var T0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// New opens an in-memory SQLite store closed at the end of the test.
func New(t testing.TB) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Key creates an API key with the given permission.
func Key(t testing.TB, s store.Store, owner string, perm model.Permission) *model.ApiKey {
	t.Helper()
	k := &model.ApiKey{Key: owner + "-" + model.NewID(), Owner: owner, Permission: perm}
	require.NoError(t, s.CreateApiKey(context.Background(), k))
	return k
}

// Engine creates an engine with a single version and no models.
func Engine(t testing.TB, s store.Store, name string) *model.Engine {
	t.Helper()
	ctx := context.Background()
	e := &model.Engine{Name: name}
	require.NoError(t, s.CreateEngine(ctx, e))
	v := &model.EngineVersion{EngineID: e.ID, Version: "1.0", CreatedAt: T0}
	require.NoError(t, s.CreateEngineVersion(ctx, v, nil))
	return e
}

// Request creates a request with one WAITING page per name. Pages are
// returned in the order given.
func Request(t testing.TB, s store.Store, engineID, keyID int64, created time.Time, names ...string) (*model.Request, []*model.Page) {
	t.Helper()
	ctx := context.Background()

	r := &model.Request{
		ID:                    model.NewTaskID(),
		EngineID:              engineID,
		ApiKeyID:              keyID,
		CreationTimestamp:     created,
		ModificationTimestamp: created,
	}
	require.NoError(t, s.CreateRequest(ctx, r))

	pages := make([]*model.Page, 0, len(names))
	for _, name := range names {
		url := "http://images.test/" + r.ID + "/" + name
		p := &model.Page{
			ID:        model.NewTaskID(),
			RequestID: r.ID,
			Name:      name,
			URL:       &url,
			State:     model.PageWaiting,
			CreatedAt: created,
		}
		require.NoError(t, s.CreatePage(ctx, p))
		pages = append(pages, p)
	}
	return r, pages
}

// Page reads a page, failing the test on error.
func Page(t testing.TB, s store.Store, id string) *model.Page {
	t.Helper()
	p, err := s.GetPage(context.Background(), id)
	require.NoError(t, err)
	return p
}

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
