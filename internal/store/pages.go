package store

import (
	"context"
	"fmt"
	"time"

	"github.com/seantiz/scribe/internal/model"
)

const pageColumns = `id, request_id, name, url, state, score, traceback,
	engine_version_id, processing_timestamp, finish_timestamp, created_at`

func scanPage(row interface{ Scan(...any) error }) (*model.Page, error) {
	p := &model.Page{}
	err := row.Scan(
		&p.ID, &p.RequestID, &p.Name, &p.URL, &p.State, &p.Score, &p.Traceback,
		&p.EngineVersionID, &p.ProcessingTimestamp, &p.FinishTimestamp, &p.CreatedAt,
	)
	return p, err
}

// CreatePage inserts a new page record.
func (q queries) CreatePage(ctx context.Context, p *model.Page) error {
	_, err := q.exec(ctx,
		`INSERT INTO pages (`+pageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RequestID, p.Name, p.URL, string(p.State), p.Score, p.Traceback,
		p.EngineVersionID, p.ProcessingTimestamp, p.FinishTimestamp, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// GetPage retrieves a page by id.
func (q queries) GetPage(ctx context.Context, id string) (*model.Page, error) {
	p, err := scanPage(q.queryRow(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE id = ?`, id,
	))
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return p, nil
}

// GetPageByName retrieves a page by its name within a request.
func (q queries) GetPageByName(ctx context.Context, requestID, name string) (*model.Page, error) {
	p, err := scanPage(q.queryRow(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE request_id = ? AND name = ?`, requestID, name,
	))
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return p, nil
}

// ListPages returns the pages of a request ordered by name.
func (q queries) ListPages(ctx context.Context, requestID string) ([]*model.Page, error) {
	return q.listPages(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE request_id = ? ORDER BY name`, requestID,
	)
}

// ListExpiredLeases returns PROCESSING pages whose lease started before cutoff.
func (q queries) ListExpiredLeases(ctx context.Context, cutoff time.Time) ([]*model.Page, error) {
	return q.listPages(ctx,
		`SELECT `+pageColumns+` FROM pages
		WHERE state = ? AND processing_timestamp < ?
		ORDER BY processing_timestamp`, string(model.PageProcessing), cutoff,
	)
}

func (q queries) listPages(ctx context.Context, query string, args ...any) ([]*model.Page, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []*model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

// NextWaitingPage returns the oldest WAITING page with a known URL whose owning
// key is not suspended. A nil engineID matches any engine. It returns
// ErrNotFound when nothing is eligible.
func (q queries) NextWaitingPage(ctx context.Context, engineID *int64) (*Candidate, error) {
	query := `SELECT p.id, p.request_id, p.url, r.engine_id
		FROM pages p
		JOIN requests r ON r.id = p.request_id
		JOIN api_keys k ON k.id = r.api_key_id
		WHERE p.state = ? AND p.url IS NOT NULL AND k.suspended = ?`
	args := []any{string(model.PageWaiting), false}
	if engineID != nil {
		query += ` AND r.engine_id = ?`
		args = append(args, *engineID)
	}
	query += ` ORDER BY p.created_at, p.request_id, p.name LIMIT 1`

	c := &Candidate{}
	err := q.queryRow(ctx, query, args...).Scan(&c.PageID, &c.RequestID, &c.URL, &c.EngineID)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select waiting page: %w", err)
	}
	return c, nil
}

// ClaimPage moves a WAITING page to PROCESSING. The state check is part of
// the UPDATE, so of any number of concurrent claimers exactly one sees true.
func (q queries) ClaimPage(ctx context.Context, id string, now time.Time) (bool, error) {
	return q.transition(ctx,
		`UPDATE pages SET state = ?, processing_timestamp = ? WHERE id = ? AND state = ?`,
		string(model.PageProcessing), now, id, string(model.PageWaiting),
	)
}

// ReleaseLease returns a PROCESSING page to WAITING if its lease is still the
// expired one observed by the caller.
func (q queries) ReleaseLease(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	return q.transition(ctx,
		`UPDATE pages SET state = ?, processing_timestamp = NULL
		WHERE id = ? AND state = ? AND processing_timestamp < ?`,
		string(model.PageWaiting), id, string(model.PageProcessing), cutoff,
	)
}

// AttachPageImage records the image URL of a CREATED page and moves it to WAITING.
func (q queries) AttachPageImage(ctx context.Context, id, url string) (bool, error) {
	return q.transition(ctx,
		`UPDATE pages SET state = ?, url = ? WHERE id = ? AND state = ?`,
		string(model.PageWaiting), url, id, string(model.PageCreated),
	)
}

// FinishPage records a worker outcome on a PROCESSING page.
func (q queries) FinishPage(ctx context.Context, id string, o PageOutcome) (bool, error) {
	if !o.State.IsTerminal() || !model.ValidTransition(model.PageProcessing, o.State) {
		return false, fmt.Errorf("finish page as %s: %w", o.State, ErrInvalidTransition)
	}
	return q.transition(ctx,
		`UPDATE pages SET state = ?, score = ?, traceback = ?, engine_version_id = ?,
			finish_timestamp = ?
		WHERE id = ? AND state = ?`,
		string(o.State), o.Score, o.Traceback, o.EngineVersionID, o.FinishedAt,
		id, string(model.PageProcessing),
	)
}

// CancelPages moves every non-terminal page of a request to CANCELED and
// returns how many changed.
func (q queries) CancelPages(ctx context.Context, requestID string, now time.Time) (int64, error) {
	args := []any{string(model.PageCanceled), now, requestID}
	for _, s := range model.CancelableStates {
		args = append(args, string(s))
	}
	res, err := q.exec(ctx,
		`UPDATE pages SET state = ?, finish_timestamp = ?
		WHERE request_id = ? AND state IN (`+placeholders(len(model.CancelableStates))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pages: %w", err)
	}
	return affected(res)
}

// ExpirePages moves the PROCESSED pages of a request to EXPIRED.
func (q queries) ExpirePages(ctx context.Context, requestID string) (int64, error) {
	res, err := q.exec(ctx,
		`UPDATE pages SET state = ? WHERE request_id = ? AND state = ?`,
		string(model.PageExpired), requestID, string(model.PageProcessed),
	)
	if err != nil {
		return 0, fmt.Errorf("expire pages: %w", err)
	}
	return affected(res)
}

func (q queries) transition(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update page state: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetPageStats counts pages by state and by engine.
func (q queries) GetPageStats(ctx context.Context) (*PageStats, error) {
	rows, err := q.query(ctx,
		`SELECT p.state, r.engine_id, COUNT(*)
		FROM pages p JOIN requests r ON r.id = p.request_id
		GROUP BY p.state, r.engine_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("page stats: %w", err)
	}
	defer rows.Close()

	stats := &PageStats{
		CountByState:    make(map[model.PageState]int),
		CountByEngine:   make(map[int64]int),
		WaitingByEngine: make(map[int64]int),
	}
	for rows.Next() {
		var (
			state    model.PageState
			engineID int64
			count    int
		)
		if err := rows.Scan(&state, &engineID, &count); err != nil {
			return nil, fmt.Errorf("scan page stats: %w", err)
		}
		stats.Total += count
		stats.CountByState[state] += count
		stats.CountByEngine[engineID] += count
		if state == model.PageWaiting {
			stats.WaitingByEngine[engineID] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page stats: %w", err)
	}
	return stats, nil
}
