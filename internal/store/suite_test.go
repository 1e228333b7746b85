package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/scribe/internal/model"
)

// t0 is the fixed clock origin used by the suite.
var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// storeSuite runs against every supported driver.
var storeSuite = []struct {
	name string
	fn   func(t *testing.T, s Store)
}{
	{"ApiKeys", testApiKeys},
	{"Catalog", testCatalog},
	{"ClaimIsCompareAndSwap", testClaimIsCompareAndSwap},
	{"NextWaitingPage", testNextWaitingPage},
	{"ConcurrentClaims", testConcurrentClaims},
	{"ReleaseLease", testReleaseLease},
	{"AttachPageImage", testAttachPageImage},
	{"FinishPage", testFinishPage},
	{"RequestCompletion", testRequestCompletion},
	{"CancelPages", testCancelPages},
	{"ExpireAndSweep", testExpireAndSweep},
	{"ClaimNotification", testClaimNotification},
	{"ReleaseNotification", testReleaseNotification},
	{"PageStats", testPageStats},
	{"InTxRollback", testInTxRollback},
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	for _, tc := range storeSuite {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

type fixture struct {
	key     *model.ApiKey
	engine  *model.Engine
	version *model.EngineVersion
}

func seedFixture(t *testing.T, s Store) fixture {
	t.Helper()
	ctx := context.Background()

	key := &model.ApiKey{Key: "key-" + model.NewID(), Owner: "library", Permission: model.PermissionUser}
	if err := s.CreateApiKey(ctx, key); err != nil {
		t.Fatalf("CreateApiKey: %v", err)
	}
	engine := &model.Engine{Name: "engine-" + model.NewID(), Description: "printed"}
	if err := s.CreateEngine(ctx, engine); err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}
	version := &model.EngineVersion{EngineID: engine.ID, Version: "1.0", CreatedAt: t0}
	if err := s.CreateEngineVersion(ctx, version, nil); err != nil {
		t.Fatalf("CreateEngineVersion: %v", err)
	}
	return fixture{key: key, engine: engine, version: version}
}

// seedRequest creates a request with one WAITING page per name.
func seedRequest(t *testing.T, s Store, f fixture, created time.Time, names ...string) (*model.Request, []*model.Page) {
	t.Helper()
	ctx := context.Background()

	r := &model.Request{
		ID:                    model.NewTaskID(),
		EngineID:              f.engine.ID,
		ApiKeyID:              f.key.ID,
		CreationTimestamp:     created,
		ModificationTimestamp: created,
	}
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	var pages []*model.Page
	for _, name := range names {
		url := "http://images.example/" + name
		p := &model.Page{
			ID:        model.NewTaskID(),
			RequestID: r.ID,
			Name:      name,
			URL:       &url,
			State:     model.PageWaiting,
			CreatedAt: created,
		}
		if err := s.CreatePage(ctx, p); err != nil {
			t.Fatalf("CreatePage(%s): %v", name, err)
		}
		pages = append(pages, p)
	}
	return r, pages
}

func mustClaim(t *testing.T, s Store, id string, now time.Time) {
	t.Helper()
	ok, err := s.ClaimPage(context.Background(), id, now)
	if err != nil {
		t.Fatalf("ClaimPage: %v", err)
	}
	if !ok {
		t.Fatalf("ClaimPage(%s) = false, want true", id)
	}
}

func mustState(t *testing.T, s Store, id string, want model.PageState) *model.Page {
	t.Helper()
	p, err := s.GetPage(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if p.State != want {
		t.Errorf("page %s State = %s, want %s", p.Name, p.State, want)
	}
	return p
}

func testApiKeys(t *testing.T, s Store) {
	ctx := context.Background()
	k := &model.ApiKey{Key: "secret", Owner: "ops", Permission: model.PermissionSuperUser}
	if err := s.CreateApiKey(ctx, k); err != nil {
		t.Fatalf("CreateApiKey: %v", err)
	}
	if k.ID == 0 {
		t.Error("ID = 0, want generated id")
	}

	got, err := s.GetApiKeyByKey(ctx, "secret")
	if err != nil {
		t.Fatalf("GetApiKeyByKey: %v", err)
	}
	if got.Owner != "ops" || got.Permission != model.PermissionSuperUser || got.Suspended {
		t.Errorf("got %+v, want owner=ops permission=SUPER_USER suspended=false", got)
	}

	if err := s.SetSuspension(ctx, k.ID, true); err != nil {
		t.Fatalf("SetSuspension: %v", err)
	}
	got, _ = s.GetApiKeyByKey(ctx, "secret")
	if !got.Suspended {
		t.Error("Suspended = false after SetSuspension(true)")
	}

	if err := s.CreateApiKey(ctx, &model.ApiKey{Key: "secret", Owner: "dup", Permission: model.PermissionUser}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate CreateApiKey error = %v, want ErrConflict", err)
	}
	if _, err := s.GetApiKeyByKey(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetApiKeyByKey error = %v, want ErrNotFound", err)
	}
	if err := s.SetSuspension(ctx, 9999, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetSuspension error = %v, want ErrNotFound", err)
	}
}

func testCatalog(t *testing.T, s Store) {
	ctx := context.Background()
	e := &model.Engine{Name: "handwritten"}
	if err := s.CreateEngine(ctx, e); err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}

	var ids []int64
	for _, name := range []string{"layout", "ocr", "decoder"} {
		m := &model.Model{Name: name, Config: "[" + name + "]"}
		if err := s.CreateModel(ctx, m); err != nil {
			t.Fatalf("CreateModel: %v", err)
		}
		ids = append(ids, m.ID)
	}

	v1 := &model.EngineVersion{EngineID: e.ID, Version: "1.0", CreatedAt: t0}
	if err := s.CreateEngineVersion(ctx, v1, ids[:2]); err != nil {
		t.Fatalf("CreateEngineVersion v1: %v", err)
	}
	// Reverse order to prove association order is kept.
	v2 := &model.EngineVersion{EngineID: e.ID, Version: "2.0", CreatedAt: t0.Add(time.Hour)}
	if err := s.CreateEngineVersion(ctx, v2, []int64{ids[2], ids[1], ids[0]}); err != nil {
		t.Fatalf("CreateEngineVersion v2: %v", err)
	}

	latest, err := s.LatestEngineVersion(ctx, e.ID)
	if err != nil {
		t.Fatalf("LatestEngineVersion: %v", err)
	}
	if latest.ID != v2.ID {
		t.Errorf("LatestEngineVersion = %s, want 2.0", latest.Version)
	}

	models, err := s.ListVersionModels(ctx, v2.ID)
	if err != nil {
		t.Fatalf("ListVersionModels: %v", err)
	}
	var names []string
	for _, m := range models {
		names = append(names, m.Name)
	}
	if fmt.Sprint(names) != "[decoder ocr layout]" {
		t.Errorf("models = %v, want [decoder ocr layout]", names)
	}

	got, err := s.GetEngineVersionByLabel(ctx, e.ID, "1.0")
	if err != nil {
		t.Fatalf("GetEngineVersionByLabel: %v", err)
	}
	if got.ID != v1.ID {
		t.Errorf("GetEngineVersionByLabel ID = %d, want %d", got.ID, v1.ID)
	}
	if _, err := s.GetEngineVersionByLabel(ctx, e.ID, "9.9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEngineVersionByLabel error = %v, want ErrNotFound", err)
	}

	byName, err := s.GetEngineByName(ctx, "handwritten")
	if err != nil || byName.ID != e.ID {
		t.Errorf("GetEngineByName = %v, %v, want id %d", byName, err, e.ID)
	}
	if _, err := s.LatestEngineVersion(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestEngineVersion error = %v, want ErrNotFound", err)
	}
	engines, err := s.ListEngines(ctx)
	if err != nil {
		t.Fatalf("ListEngines: %v", err)
	}
	if len(engines) != 1 {
		t.Errorf("len(engines) = %d, want 1", len(engines))
	}
}

func testClaimIsCompareAndSwap(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	_, pages := seedRequest(t, s, f, t0, "p1")

	mustClaim(t, s, pages[0].ID, t0)
	ok, err := s.ClaimPage(ctx, pages[0].ID, t0)
	if err != nil {
		t.Fatalf("second ClaimPage: %v", err)
	}
	if ok {
		t.Error("second ClaimPage = true, want false")
	}

	p := mustState(t, s, pages[0].ID, model.PageProcessing)
	if p.ProcessingTimestamp == nil || !p.ProcessingTimestamp.Equal(t0) {
		t.Errorf("ProcessingTimestamp = %v, want %v", p.ProcessingTimestamp, t0)
	}
}

func testNextWaitingPage(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	other := &model.Engine{Name: "other-" + model.NewID()}
	if err := s.CreateEngine(ctx, other); err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}

	if _, err := s.NextWaitingPage(ctx, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("NextWaitingPage on empty store error = %v, want ErrNotFound", err)
	}

	seedRequest(t, s, f, t0.Add(time.Minute), "b")
	_, older := seedRequest(t, s, f, t0, "a")

	c, err := s.NextWaitingPage(ctx, &f.engine.ID)
	if err != nil {
		t.Fatalf("NextWaitingPage: %v", err)
	}
	if c.PageID != older[0].ID {
		t.Errorf("NextWaitingPage = %s, want oldest page %s", c.PageID, older[0].ID)
	}
	if c.EngineID != f.engine.ID {
		t.Errorf("EngineID = %d, want %d", c.EngineID, f.engine.ID)
	}

	if _, err := s.NextWaitingPage(ctx, &other.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("NextWaitingPage(other) error = %v, want ErrNotFound", err)
	}

	if err := s.SetSuspension(ctx, f.key.ID, true); err != nil {
		t.Fatalf("SetSuspension: %v", err)
	}
	if _, err := s.NextWaitingPage(ctx, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("NextWaitingPage with suspended owner error = %v, want ErrNotFound", err)
	}
}

func testConcurrentClaims(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("page-%02d", i)
	}
	seedRequest(t, s, f, t0, names...)

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				c, err := s.NextWaitingPage(ctx, nil)
				if errors.Is(err, ErrNotFound) {
					return
				}
				if err != nil {
					t.Errorf("NextWaitingPage: %v", err)
					return
				}
				ok, err := s.ClaimPage(ctx, c.PageID, t0)
				if err != nil {
					t.Errorf("ClaimPage: %v", err)
					return
				}
				if ok {
					mu.Lock()
					claimed[c.PageID]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if len(claimed) != len(names) {
		t.Errorf("claimed %d distinct pages, want %d", len(claimed), len(names))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("page %s claimed %d times, want 1", id, n)
		}
	}
}

func testReleaseLease(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	_, pages := seedRequest(t, s, f, t0, "stale", "fresh")

	mustClaim(t, s, pages[0].ID, t0)
	mustClaim(t, s, pages[1].ID, t0.Add(50*time.Second))

	cutoff := t0.Add(61 * time.Second).Add(-60 * time.Second)
	expired, err := s.ListExpiredLeases(ctx, cutoff)
	if err != nil {
		t.Fatalf("ListExpiredLeases: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != pages[0].ID {
		t.Fatalf("ListExpiredLeases = %d pages, want only the stale page", len(expired))
	}

	ok, err := s.ReleaseLease(ctx, pages[0].ID, cutoff)
	if err != nil || !ok {
		t.Fatalf("ReleaseLease = %v, %v, want true", ok, err)
	}
	ok, err = s.ReleaseLease(ctx, pages[0].ID, cutoff)
	if err != nil || ok {
		t.Errorf("second ReleaseLease = %v, %v, want false", ok, err)
	}

	p := mustState(t, s, pages[0].ID, model.PageWaiting)
	if p.ProcessingTimestamp != nil {
		t.Errorf("ProcessingTimestamp = %v, want nil", p.ProcessingTimestamp)
	}
	mustState(t, s, pages[1].ID, model.PageProcessing)
}

func testAttachPageImage(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	r, _ := seedRequest(t, s, f, t0)
	p := &model.Page{ID: model.NewTaskID(), RequestID: r.ID, Name: "scan", State: model.PageCreated, CreatedAt: t0}
	if err := s.CreatePage(ctx, p); err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if err := s.CreatePage(ctx, &model.Page{ID: model.NewTaskID(), RequestID: r.ID, Name: "scan", State: model.PageCreated, CreatedAt: t0}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate page name error = %v, want ErrConflict", err)
	}

	if _, err := s.NextWaitingPage(ctx, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("CREATED page is dispatchable: error = %v, want ErrNotFound", err)
	}

	ok, err := s.AttachPageImage(ctx, p.ID, "file:///scan.jpg")
	if err != nil || !ok {
		t.Fatalf("AttachPageImage = %v, %v, want true", ok, err)
	}
	got := mustState(t, s, p.ID, model.PageWaiting)
	if got.URL == nil || *got.URL != "file:///scan.jpg" {
		t.Errorf("URL = %v, want file:///scan.jpg", got.URL)
	}

	ok, _ = s.AttachPageImage(ctx, p.ID, "file:///again.jpg")
	if ok {
		t.Error("AttachPageImage on WAITING page = true, want false")
	}
}

func testFinishPage(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	_, pages := seedRequest(t, s, f, t0, "p1")
	score := 87.5

	out := PageOutcome{State: model.PageProcessed, Score: &score, EngineVersionID: &f.version.ID, FinishedAt: t0.Add(time.Minute)}
	ok, err := s.FinishPage(ctx, pages[0].ID, out)
	if err != nil || ok {
		t.Fatalf("FinishPage on WAITING page = %v, %v, want false", ok, err)
	}

	mustClaim(t, s, pages[0].ID, t0)
	ok, err = s.FinishPage(ctx, pages[0].ID, out)
	if err != nil || !ok {
		t.Fatalf("FinishPage = %v, %v, want true", ok, err)
	}
	p := mustState(t, s, pages[0].ID, model.PageProcessed)
	if p.Score == nil || *p.Score != score {
		t.Errorf("Score = %v, want %v", p.Score, score)
	}
	if p.EngineVersionID == nil || *p.EngineVersionID != f.version.ID {
		t.Errorf("EngineVersionID = %v, want %d", p.EngineVersionID, f.version.ID)
	}
	if p.FinishTimestamp == nil {
		t.Error("FinishTimestamp is nil, want set")
	}

	ok, _ = s.FinishPage(ctx, pages[0].ID, out)
	if ok {
		t.Error("second FinishPage = true, want false")
	}

	_, err = s.FinishPage(ctx, pages[0].ID, PageOutcome{State: model.PageWaiting})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FinishPage(WAITING) error = %v, want ErrInvalidTransition", err)
	}
}

func testRequestCompletion(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	r, pages := seedRequest(t, s, f, t0, "p1", "p2")

	finish := func(p *model.Page, state model.PageState) {
		mustClaim(t, s, p.ID, t0)
		if ok, err := s.FinishPage(ctx, p.ID, PageOutcome{State: state, FinishedAt: t0}); err != nil || !ok {
			t.Fatalf("FinishPage = %v, %v", ok, err)
		}
	}

	finish(pages[0], model.PageProcessed)
	done, err := s.FinishRequestIfComplete(ctx, r.ID, t0)
	if err != nil {
		t.Fatalf("FinishRequestIfComplete: %v", err)
	}
	if done {
		t.Error("request finished with a page still WAITING")
	}

	finish(pages[1], model.PageInvalidFile)
	done, err = s.FinishRequestIfComplete(ctx, r.ID, t0.Add(time.Second))
	if err != nil || !done {
		t.Fatalf("FinishRequestIfComplete = %v, %v, want true", done, err)
	}
	done, _ = s.FinishRequestIfComplete(ctx, r.ID, t0.Add(2*time.Second))
	if done {
		t.Error("second FinishRequestIfComplete = true, want false")
	}

	got, err := s.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.FinishTimestamp == nil || !got.FinishTimestamp.Equal(t0.Add(time.Second)) {
		t.Errorf("FinishTimestamp = %v, want %v", got.FinishTimestamp, t0.Add(time.Second))
	}

	if err := s.TouchRequest(ctx, "nonexistent", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchRequest error = %v, want ErrNotFound", err)
	}
}

func testCancelPages(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	r, pages := seedRequest(t, s, f, t0, "done", "leased", "queued")

	mustClaim(t, s, pages[0].ID, t0)
	if _, err := s.FinishPage(ctx, pages[0].ID, PageOutcome{State: model.PageProcessed, FinishedAt: t0}); err != nil {
		t.Fatalf("FinishPage: %v", err)
	}
	mustClaim(t, s, pages[1].ID, t0)

	n, err := s.CancelPages(ctx, r.ID, t0)
	if err != nil {
		t.Fatalf("CancelPages: %v", err)
	}
	if n != 2 {
		t.Errorf("CancelPages = %d, want 2", n)
	}
	n, err = s.CancelPages(ctx, r.ID, t0)
	if err != nil || n != 0 {
		t.Errorf("second CancelPages = %d, %v, want 0", n, err)
	}

	mustState(t, s, pages[0].ID, model.PageProcessed)
	mustState(t, s, pages[1].ID, model.PageCanceled)
	p := mustState(t, s, pages[2].ID, model.PageCanceled)
	if p.FinishTimestamp == nil {
		t.Error("canceled page FinishTimestamp is nil")
	}
}

func testExpireAndSweep(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	old, oldPages := seedRequest(t, s, f, t0, "a")
	recent, recentPages := seedRequest(t, s, f, t0, "b")

	for _, p := range []*model.Page{oldPages[0], recentPages[0]} {
		mustClaim(t, s, p.ID, t0)
		if _, err := s.FinishPage(ctx, p.ID, PageOutcome{State: model.PageProcessed, FinishedAt: t0}); err != nil {
			t.Fatalf("FinishPage: %v", err)
		}
	}
	if _, err := s.FinishRequestIfComplete(ctx, old.ID, t0); err != nil {
		t.Fatalf("FinishRequestIfComplete: %v", err)
	}
	if _, err := s.FinishRequestIfComplete(ctx, recent.ID, t0.Add(6*24*time.Hour)); err != nil {
		t.Fatalf("FinishRequestIfComplete: %v", err)
	}

	cutoff := t0.Add(8 * 24 * time.Hour).Add(-7 * 24 * time.Hour)
	due, err := s.ListSweepableRequests(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("ListSweepableRequests: %v", err)
	}
	if len(due) != 1 || due[0].ID != old.ID {
		t.Fatalf("ListSweepableRequests = %d requests, want only the old one", len(due))
	}

	n, err := s.ExpirePages(ctx, old.ID)
	if err != nil || n != 1 {
		t.Fatalf("ExpirePages = %d, %v, want 1", n, err)
	}
	mustState(t, s, oldPages[0].ID, model.PageExpired)
	mustState(t, s, recentPages[0].ID, model.PageProcessed)

	if err := s.MarkRequestSwept(ctx, old.ID, t0); err != nil {
		t.Fatalf("MarkRequestSwept: %v", err)
	}
	due, _ = s.ListSweepableRequests(ctx, cutoff, 10)
	if len(due) != 0 {
		t.Errorf("ListSweepableRequests after sweep = %d, want 0", len(due))
	}
}

func testClaimNotification(t *testing.T, s Store) {
	ctx := context.Background()
	interval := 10 * time.Minute

	ok, err := s.ClaimNotification(ctx, t0, interval)
	if err != nil || !ok {
		t.Fatalf("first ClaimNotification = %v, %v, want true", ok, err)
	}
	ok, _ = s.ClaimNotification(ctx, t0.Add(5*time.Minute), interval)
	if ok {
		t.Error("ClaimNotification inside interval = true, want false")
	}
	ok, _ = s.ClaimNotification(ctx, t0.Add(11*time.Minute), interval)
	if !ok {
		t.Error("ClaimNotification after interval = false, want true")
	}

	ns, err := s.GetNotificationState(ctx)
	if err != nil {
		t.Fatalf("GetNotificationState: %v", err)
	}
	if ns.LastNotification == nil || !ns.LastNotification.Equal(t0.Add(11*time.Minute)) {
		t.Errorf("LastNotification = %v, want %v", ns.LastNotification, t0.Add(11*time.Minute))
	}
}

func testReleaseNotification(t *testing.T, s Store) {
	ctx := context.Background()
	interval := 10 * time.Minute

	ok, err := s.ClaimNotification(ctx, t0, interval)
	if err != nil || !ok {
		t.Fatalf("ClaimNotification = %v, %v, want true", ok, err)
	}
	ok, err = s.ReleaseNotification(ctx, t0, nil)
	if err != nil || !ok {
		t.Fatalf("ReleaseNotification = %v, %v, want true", ok, err)
	}
	ns, err := s.GetNotificationState(ctx)
	if err != nil {
		t.Fatalf("GetNotificationState: %v", err)
	}
	if ns.LastNotification != nil {
		t.Errorf("LastNotification = %v, want nil", ns.LastNotification)
	}

	// The window is open again straight away.
	later := t0.Add(time.Minute)
	ok, _ = s.ClaimNotification(ctx, later, interval)
	if !ok {
		t.Fatal("ClaimNotification after release = false, want true")
	}

	// A stale release must not clobber a newer claim.
	ok, err = s.ReleaseNotification(ctx, t0, nil)
	if err != nil || ok {
		t.Errorf("stale ReleaseNotification = %v, %v, want false", ok, err)
	}
	ns, _ = s.GetNotificationState(ctx)
	if ns.LastNotification == nil || !ns.LastNotification.Equal(later) {
		t.Errorf("LastNotification = %v, want %v", ns.LastNotification, later)
	}
}

func testPageStats(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	_, pages := seedRequest(t, s, f, t0, "a", "b", "c")
	mustClaim(t, s, pages[0].ID, t0)

	stats, err := s.GetPageStats(ctx)
	if err != nil {
		t.Fatalf("GetPageStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByState[model.PageWaiting] != 2 {
		t.Errorf("CountByState[WAITING] = %d, want 2", stats.CountByState[model.PageWaiting])
	}
	if stats.CountByState[model.PageProcessing] != 1 {
		t.Errorf("CountByState[PROCESSING] = %d, want 1", stats.CountByState[model.PageProcessing])
	}
	if stats.CountByEngine[f.engine.ID] != 3 {
		t.Errorf("CountByEngine = %d, want 3", stats.CountByEngine[f.engine.ID])
	}
	if stats.WaitingByEngine[f.engine.ID] != 2 {
		t.Errorf("WaitingByEngine = %d, want 2", stats.WaitingByEngine[f.engine.ID])
	}
}

func testInTxRollback(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	_, pages := seedRequest(t, s, f, t0, "p1")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q Queries) error {
		if _, err := q.ClaimPage(ctx, pages[0].ID, t0); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want boom", err)
	}
	mustState(t, s, pages[0].ID, model.PageWaiting)

	err = s.InTx(ctx, func(q Queries) error {
		_, err := q.ClaimPage(ctx, pages[0].ID, t0)
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	mustState(t, s, pages[0].ID, model.PageProcessing)
}
