package store

import (
	"context"
	"fmt"
	"time"

	"github.com/seantiz/scribe/internal/model"
)

const requestColumns = `id, engine_id, api_key_id, creation_timestamp,
	modification_timestamp, finish_timestamp, swept_timestamp`

func scanRequest(row interface{ Scan(...any) error }) (*model.Request, error) {
	r := &model.Request{}
	err := row.Scan(
		&r.ID, &r.EngineID, &r.ApiKeyID, &r.CreationTimestamp,
		&r.ModificationTimestamp, &r.FinishTimestamp, &r.SweptTimestamp,
	)
	return r, err
}

// CreateRequest inserts a new request record.
func (q queries) CreateRequest(ctx context.Context, r *model.Request) error {
	_, err := q.exec(ctx,
		`INSERT INTO requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EngineID, r.ApiKeyID, r.CreationTimestamp,
		r.ModificationTimestamp, r.FinishTimestamp, r.SweptTimestamp,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by id.
func (q queries) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	r, err := scanRequest(q.queryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id,
	))
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// TouchRequest bumps the modification timestamp. Inside a transaction it also
// takes the request row lock, so every page mutation of the request that
// touches first is serialized with completion detection.
func (q queries) TouchRequest(ctx context.Context, id string, now time.Time) error {
	res, err := q.exec(ctx,
		`UPDATE requests SET modification_timestamp = ? WHERE id = ?`, now, id,
	)
	if err != nil {
		return fmt.Errorf("touch request: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishRequestIfComplete stamps finish_timestamp when every page of the
// request is terminal. It reports whether this call stamped it.
func (q queries) FinishRequestIfComplete(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := q.exec(ctx,
		`UPDATE requests SET finish_timestamp = ?
		WHERE id = ? AND finish_timestamp IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM pages WHERE request_id = ? AND state IN (?, ?, ?)
		)`,
		now, id, id, string(model.PageCreated), string(model.PageWaiting), string(model.PageProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("finish request: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListSweepableRequests returns finished requests older than finishedBefore
// that retention has not yet swept, oldest first.
func (q queries) ListSweepableRequests(ctx context.Context, finishedBefore time.Time, limit int) ([]*model.Request, error) {
	rows, err := q.query(ctx,
		`SELECT `+requestColumns+` FROM requests
		WHERE finish_timestamp IS NOT NULL AND finish_timestamp < ?
		AND swept_timestamp IS NULL
		ORDER BY finish_timestamp LIMIT ?`, finishedBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sweepable requests: %w", err)
	}
	defer rows.Close()

	var requests []*model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return requests, nil
}

// MarkRequestSwept records that retention has removed the request's files.
func (q queries) MarkRequestSwept(ctx context.Context, id string, now time.Time) error {
	res, err := q.exec(ctx,
		`UPDATE requests SET swept_timestamp = ? WHERE id = ?`, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark request swept: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetNotificationState reads the alert throttle singleton.
func (q queries) GetNotificationState(ctx context.Context) (*model.NotificationState, error) {
	ns := &model.NotificationState{}
	err := q.queryRow(ctx,
		`SELECT last_notification FROM notification_state WHERE id = 1`,
	).Scan(&ns.LastNotification)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification state: %w", err)
	}
	return ns, nil
}

// ClaimNotification sets last_notification to now if more than interval has
// passed since the previous alert. The check and the write are one
// statement, so at most one concurrent caller wins a window.
func (q queries) ClaimNotification(ctx context.Context, now time.Time, interval time.Duration) (bool, error) {
	res, err := q.exec(ctx,
		`UPDATE notification_state SET last_notification = ?
		WHERE id = 1 AND (last_notification IS NULL OR last_notification < ?)`,
		now, now.Add(-interval),
	)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseNotification hands back a window won by ClaimNotification at
// claimed, restoring previous. It is a no-op once someone else has claimed
// a later window.
func (q queries) ReleaseNotification(ctx context.Context, claimed time.Time, previous *time.Time) (bool, error) {
	res, err := q.exec(ctx,
		`UPDATE notification_state SET last_notification = ?
		WHERE id = 1 AND last_notification = ?`,
		previous, claimed,
	)
	if err != nil {
		return false, fmt.Errorf("release notification: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
