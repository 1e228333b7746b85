// Package tracker records page outcomes and derives request completion from
// them.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/seantiz/scribe/internal/events"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// ValidScore reports whether score lies in [MinScore, MaxScore]. NaN never does.
func ValidScore(score float64) bool {
	return score >= MinScore && score <= MaxScore
}

// ErrInvalidInput is returned for submissions and reports that can never be
// accepted as given.
var ErrInvalidInput = errors.New("invalid input")

// errNoop rolls back a unit of work that changed nothing.
var errNoop = errors.New("nothing to change")

// Score bounds of a processed page.
const (
	MinScore = 0
	MaxScore = 100
)

// Submission describes a new request. A nil image URL leaves the page
// CREATED until an image is attached.
type Submission struct {
	EngineID int64
	ApiKeyID int64
	Images   map[string]*string
}

// Outcome is the state after a worker report.
type Outcome struct {
	Page            *model.Page
	RequestFinished bool
}

// Status summarizes the progress of one request.
type Status struct {
	Request *model.Request
	Pages   []*model.Page
	Total   int
	// Terminal counts pages in a terminal state.
	Terminal           int
	CompletionFraction float64
	// AverageQuality is the mean score of PROCESSED pages, nil if none.
	AverageQuality *float64
}

// IsComplete reports whether every page of the request is terminal.
func (s *Status) IsComplete() bool {
	return s.Total > 0 && s.Terminal == s.Total
}

// Tracker applies page state transitions and request completion.
type Tracker struct {
	store  store.Store
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker.
func New(s store.Store, pub events.Publisher, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:  s,
		events: pub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit creates a request and its pages in one unit of work. Pages are
// created in name order.
func (t *Tracker) Submit(ctx context.Context, sub Submission) (*model.Request, []*model.Page, error) {
	if len(sub.Images) == 0 {
		return nil, nil, fmt.Errorf("%w: request has no images", ErrInvalidInput)
	}
	names := make([]string, 0, len(sub.Images))
	for name := range sub.Images {
		if name == "" {
			return nil, nil, fmt.Errorf("%w: empty image name", ErrInvalidInput)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	now := t.now()
	req := &model.Request{
		ID:                    model.NewTaskID(),
		EngineID:              sub.EngineID,
		ApiKeyID:              sub.ApiKeyID,
		CreationTimestamp:     now,
		ModificationTimestamp: now,
	}
	pages := make([]*model.Page, 0, len(names))
	for _, name := range names {
		p := &model.Page{
			ID:        model.NewTaskID(),
			RequestID: req.ID,
			Name:      name,
			URL:       sub.Images[name],
			State:     model.PageCreated,
			CreatedAt: now,
		}
		if p.URL != nil {
			p.State = model.PageWaiting
		}
		pages = append(pages, p)
	}

	err := t.store.InTx(ctx, func(q store.Queries) error {
		if _, err := q.GetEngine(ctx, sub.EngineID); err != nil {
			return fmt.Errorf("engine %d: %w", sub.EngineID, err)
		}
		if err := q.CreateRequest(ctx, req); err != nil {
			return err
		}
		for _, p := range pages {
			if err := q.CreatePage(ctx, p); err != nil {
				return fmt.Errorf("page %q: %w", p.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("submit request: %w", err)
	}

	requestsSubmittedTotal.Inc()
	pagesSubmittedTotal.Add(float64(len(pages)))
	t.logger.Info("request submitted",
		"request_id", req.ID,
		"engine_id", req.EngineID,
		"pages", len(pages),
	)
	for _, p := range pages {
		if p.State == model.PageWaiting {
			t.publishPage(events.PageWaiting, req.EngineID, p)
		}
	}
	return req, pages, nil
}

// AttachImage records the URL of a CREATED page's image and makes the page
// WAITING.
func (t *Tracker) AttachImage(ctx context.Context, requestID, name, url string) (*model.Page, error) {
	now := t.now()
	var page *model.Page
	err := t.store.InTx(ctx, func(q store.Queries) error {
		p, err := q.GetPageByName(ctx, requestID, name)
		if err != nil {
			return err
		}
		if err := q.TouchRequest(ctx, requestID, now); err != nil {
			return err
		}
		ok, err := q.AttachPageImage(ctx, p.ID, url)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("page %q is %s: %w", name, p.State, store.ErrInvalidTransition)
		}
		p.URL = &url
		p.State = model.PageWaiting
		page = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("attach image: %w", err)
	}

	t.logger.Info("page image attached", "request_id", requestID, "page_id", page.ID, "page_name", name)
	t.publishPage(events.PageWaiting, 0, page)
	return page, nil
}

// MarkSucceeded records a PROCESSED outcome for a leased page.
func (t *Tracker) MarkSucceeded(ctx context.Context, pageID string, score float64, engineVersionID int64) (*Outcome, error) {
	if !ValidScore(score) {
		return nil, fmt.Errorf("%w: score %v outside [%d, %d]", ErrInvalidInput, score, MinScore, MaxScore)
	}
	return t.finish(ctx, pageID, store.PageOutcome{
		State:           model.PageProcessed,
		Score:           &score,
		EngineVersionID: &engineVersionID,
	})
}

// MarkFailed records a typed failure for a leased page. The traceback is
// stored verbatim.
func (t *Tracker) MarkFailed(ctx context.Context, pageID string, kind model.FailKind, traceback string, engineVersionID *int64) (*Outcome, error) {
	if _, err := model.ParseFailKind(string(kind)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return t.finish(ctx, pageID, store.PageOutcome{
		State:           kind.State(),
		Traceback:       &traceback,
		EngineVersionID: engineVersionID,
	})
}

// finish moves a PROCESSING page to a terminal state and stamps the request
// finished when it was the last non-terminal page. The request row is
// touched first so concurrent reports on sibling pages serialize on it.
func (t *Tracker) finish(ctx context.Context, pageID string, o store.PageOutcome) (*Outcome, error) {
	now := t.now()
	o.FinishedAt = now

	out := &Outcome{}
	err := t.store.InTx(ctx, func(q store.Queries) error {
		p, err := q.GetPage(ctx, pageID)
		if err != nil {
			return err
		}
		if err := q.TouchRequest(ctx, p.RequestID, now); err != nil {
			return err
		}
		ok, err := q.FinishPage(ctx, pageID, o)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("page %s is %s, not %s: %w", pageID, p.State, model.PageProcessing, store.ErrInvalidTransition)
		}
		out.RequestFinished, err = q.FinishRequestIfComplete(ctx, p.RequestID, now)
		if err != nil {
			return err
		}

		p.State = o.State
		p.Score = o.Score
		p.Traceback = o.Traceback
		p.EngineVersionID = o.EngineVersionID
		p.FinishTimestamp = &now
		out.Page = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finish page: %w", err)
	}

	pageOutcomesTotal.WithLabelValues(string(o.State)).Inc()
	t.logger.Info("page finished",
		"page_id", pageID,
		"request_id", out.Page.RequestID,
		"state", o.State,
	)
	t.publishPage(events.PageFinished, 0, out.Page)
	if out.RequestFinished {
		t.requestFinished(out.Page.RequestID)
	}
	return out, nil
}

// Status returns the request, its pages and the derived progress figures.
func (t *Tracker) Status(ctx context.Context, requestID string) (*Status, error) {
	st := &Status{}
	err := t.store.InTx(ctx, func(q store.Queries) error {
		r, err := q.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		pages, err := q.ListPages(ctx, requestID)
		if err != nil {
			return err
		}
		st.Request, st.Pages = r, pages
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("request status: %w", err)
	}

	var (
		scoreSum float64
		scored   int
	)
	for _, p := range st.Pages {
		st.Total++
		if p.State.IsTerminal() {
			st.Terminal++
		}
		if p.State == model.PageProcessed && p.Score != nil {
			scoreSum += *p.Score
			scored++
		}
	}
	if st.Total > 0 {
		st.CompletionFraction = float64(st.Terminal) / float64(st.Total)
	}
	if scored > 0 {
		avg := scoreSum / float64(scored)
		st.AverageQuality = &avg
	}
	return st, nil
}

// Cancel moves every non-terminal page of the request to CANCELED and
// returns how many pages changed. Canceling again is a no-op.
func (t *Tracker) Cancel(ctx context.Context, requestID string) (int64, error) {
	now := t.now()
	var (
		n        int64
		finished bool
	)
	err := t.store.InTx(ctx, func(q store.Queries) error {
		if err := q.TouchRequest(ctx, requestID, now); err != nil {
			return err
		}
		var err error
		n, err = q.CancelPages(ctx, requestID, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return errNoop
		}
		finished, err = q.FinishRequestIfComplete(ctx, requestID, now)
		return err
	})
	if errors.Is(err, errNoop) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cancel request: %w", err)
	}

	pageOutcomesTotal.WithLabelValues(string(model.PageCanceled)).Add(float64(n))
	t.logger.Info("request canceled", "request_id", requestID, "pages", n)
	t.events.Publish(events.Event{Kind: events.RequestCanceled, RequestID: requestID, State: model.PageCanceled})
	if finished {
		t.requestFinished(requestID)
	}
	return n, nil
}

func (t *Tracker) requestFinished(requestID string) {
	requestsFinishedTotal.Inc()
	t.logger.Info("request finished", "request_id", requestID)
	t.events.Publish(events.Event{Kind: events.RequestFinished, RequestID: requestID})
}

func (t *Tracker) publishPage(kind events.Kind, engineID int64, p *model.Page) {
	t.events.Publish(events.Event{
		Kind:      kind,
		RequestID: p.RequestID,
		PageID:    p.ID,
		PageName:  p.Name,
		State:     p.State,
		EngineID:  engineID,
	})
}
