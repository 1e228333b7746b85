package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/scribe/internal/events"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
	"github.com/seantiz/scribe/internal/store/storetest"
)

type harness struct {
	store  store.Store
	clock  *storetest.Clock
	broker *events.Broker
	mgr    *Manager
	key    *model.ApiKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := storetest.New(t)
	clock := storetest.NewClock(storetest.T0)
	broker := events.NewBroker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &harness{
		store:  s,
		clock:  clock,
		broker: broker,
		mgr:    New(s, broker, time.Minute, logger, WithClock(clock.Now)),
		key:    storetest.Key(t, s, "library", model.PermissionUser),
	}
}

func TestAcquirePrefersEngine(t *testing.T) {
	h := newHarness(t)
	printed := storetest.Engine(t, h.store, "printed")
	hand := storetest.Engine(t, h.store, "handwritten")

	// The handwritten page is older, but the worker prefers printed.
	storetest.Request(t, h.store, hand.ID, h.key.ID, storetest.T0, "h1")
	_, pages := storetest.Request(t, h.store, printed.ID, h.key.ID, storetest.T0.Add(time.Second), "p1")

	a, err := h.mgr.Acquire(context.Background(), printed.ID)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, pages[0].ID, a.PageID)
	assert.Equal(t, printed.ID, a.EngineID)
	assert.False(t, a.Stolen)
	assert.Equal(t, *pages[0].URL, a.URL)

	p := storetest.Page(t, h.store, a.PageID)
	assert.Equal(t, model.PageProcessing, p.State)
	require.NotNil(t, p.ProcessingTimestamp)
	assert.True(t, p.ProcessingTimestamp.Equal(storetest.T0))
}

func TestAcquireStealsFromOtherEngine(t *testing.T) {
	h := newHarness(t)
	printed := storetest.Engine(t, h.store, "printed")
	hand := storetest.Engine(t, h.store, "handwritten")
	_, pages := storetest.Request(t, h.store, hand.ID, h.key.ID, storetest.T0, "h1")

	a, err := h.mgr.Acquire(context.Background(), printed.ID)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, pages[0].ID, a.PageID)
	assert.Equal(t, hand.ID, a.EngineID, "the page's own engine is reported")
	assert.True(t, a.Stolen)
}

func TestAcquireNoWork(t *testing.T) {
	h := newHarness(t)
	e := storetest.Engine(t, h.store, "printed")

	a, err := h.mgr.Acquire(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Nil(t, a)

	// An unknown preferred engine is not an error either.
	a, err = h.mgr.Acquire(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAcquireOldestFirst(t *testing.T) {
	h := newHarness(t)
	e := storetest.Engine(t, h.store, "printed")
	_, newer := storetest.Request(t, h.store, e.ID, h.key.ID, storetest.T0.Add(time.Minute), "b")
	_, older := storetest.Request(t, h.store, e.ID, h.key.ID, storetest.T0, "a")

	first, err := h.mgr.Acquire(context.Background(), e.ID)
	require.NoError(t, err)
	second, err := h.mgr.Acquire(context.Background(), e.ID)
	require.NoError(t, err)

	assert.Equal(t, older[0].ID, first.PageID)
	assert.Equal(t, newer[0].ID, second.PageID)
}

func TestAcquireSkipsSuspendedKeys(t *testing.T) {
	h := newHarness(t)
	e := storetest.Engine(t, h.store, "printed")
	suspended := storetest.Key(t, h.store, "abuser", model.PermissionUser)
	require.NoError(t, h.store.SetSuspension(context.Background(), suspended.ID, true))
	storetest.Request(t, h.store, e.ID, suspended.ID, storetest.T0, "x")

	a, err := h.mgr.Acquire(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAcquireSkipsPagesWithoutImage(t *testing.T) {
	h := newHarness(t)
	e := storetest.Engine(t, h.store, "printed")
	r, _ := storetest.Request(t, h.store, e.ID, h.key.ID, storetest.T0)
	require.NoError(t, h.store.CreatePage(context.Background(), &model.Page{
		ID:        model.NewTaskID(),
		RequestID: r.ID,
		Name:      "pending-upload",
		State:     model.PageCreated,
		CreatedAt: storetest.T0,
	}))

	a, err := h.mgr.Acquire(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestTwoWorkersReceiveDistinctPages(t *testing.T) {
	h := newHarness(t)
	e := storetest.Engine(t, h.store, "printed")
	r, pages := storetest.Request(t, h.store, e.ID, h.key.ID, storetest.T0, "page-1", "page-2")

	first, err := h.mgr.Acquire(context.Background(), e.ID)
	require.NoError(t, err)
	second, err := h.mgr.Acquire(context.Background(), e.ID)
	require.NoError(t, err)
	third, err := h.mgr.Acquire(context.Background(), e.ID)
	require.NoError(t, err)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Nil(t, third)
	assert.ElementsMatch(t, []string{pages[0].ID, pages[1].ID}, []string{first.PageID, second.PageID})
	assert.Equal(t, r.ID, first.RequestID)
}

func TestConcurrentAcquireIsExclusive(t *testing.T) {
	h := newHarness(t)
	e := storetest.Engine(t, h.store, "printed")
	const pageCount = 10
	names := make([]string, pageCount)
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	storetest.Request(t, h.store, e.ID, h.key.ID, storetest.T0, names...)

	var (
		mu   sync.Mutex
		got  = make(map[string]int)
		wg   sync.WaitGroup
		errs = make(chan error, 2*pageCount)
	)
	for range 2 * pageCount {
		wg.Go(func() {
			a, err := h.mgr.Acquire(context.Background(), e.ID)
			if err != nil {
				errs <- err
				return
			}
			if a == nil {
				return
			}
			mu.Lock()
			got[a.PageID]++
			mu.Unlock()
		})
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Acquire: %v", err)
	}
	assert.Len(t, got, pageCount)
	for id, n := range got {
		assert.Equal(t, 1, n, "page %s leased %d times", id, n)
	}
}

func TestAcquirePublishesLease(t *testing.T) {
	h := newHarness(t)
	e := storetest.Engine(t, h.store, "printed")
	r, _ := storetest.Request(t, h.store, e.ID, h.key.ID, storetest.T0, "p")

	ch, unsubscribe := h.broker.Subscribe(r.ID)
	defer unsubscribe()

	a, err := h.mgr.Acquire(context.Background(), e.ID)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, events.PageLeased, ev.Kind)
		assert.Equal(t, a.PageID, ev.PageID)
		assert.Equal(t, model.PageProcessing, ev.State)
	case <-time.After(time.Second):
		t.Fatal("no lease event")
	}
}

func TestReapExpiredLease(t *testing.T) {
	h := newHarness(t)
	e := storetest.Engine(t, h.store, "printed")
	r, _ := storetest.Request(t, h.store, e.ID, h.key.ID, storetest.T0, "p")
	ctx := context.Background()

	a, err := h.mgr.Acquire(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, a)

	h.clock.Advance(61 * time.Second)
	n, err := h.mgr.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p := storetest.Page(t, h.store, a.PageID)
	assert.Equal(t, model.PageWaiting, p.State)
	assert.Nil(t, p.ProcessingTimestamp)

	req, err := h.store.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, req.ModificationTimestamp.Equal(storetest.T0.Add(61*time.Second)))

	n, err = h.mgr.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep must not release the page again")

	again, err := h.mgr.Acquire(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, a.PageID, again.PageID)
}

func TestReapKeepsLiveLeases(t *testing.T) {
	h := newHarness(t)
	e := storetest.Engine(t, h.store, "printed")
	storetest.Request(t, h.store, e.ID, h.key.ID, storetest.T0, "p")
	ctx := context.Background()

	a, err := h.mgr.Acquire(ctx, e.ID)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	n, err := h.mgr.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.PageProcessing, storetest.Page(t, h.store, a.PageID).State)
}

func TestRunReaperStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.mgr.RunReaper(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunReaper did not return after cancel")
	}
}

func TestNewDefaultsLeaseTimeout(t *testing.T) {
	m := New(nil, nil, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, DefaultLeaseTimeout, m.LeaseTimeout())
}
