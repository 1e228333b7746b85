package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/scribe/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a page is not in the state a
	// transition requires.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("already exists")
)

// PageStats holds aggregate page counts for capacity monitoring.
type PageStats struct {
	Total         int                     `json:"total"`
	CountByState  map[model.PageState]int `json:"count_by_state"`
	CountByEngine map[int64]int           `json:"count_by_engine"`
	// WaitingByEngine is the queue depth per engine.
	WaitingByEngine map[int64]int `json:"waiting_by_engine"`
}

// Candidate is a WAITING page eligible for dispatch.
type Candidate struct {
	PageID    string
	RequestID string
	URL       string
	EngineID  int64
}

// PageOutcome is the terminal result a worker reports for a leased page.
type PageOutcome struct {
	State           model.PageState
	Score           *float64
	Traceback       *string
	EngineVersionID *int64
	FinishedAt      time.Time
}

// Queries defines the persistence operations available both directly on a
// Store and inside a unit of work.
type Queries interface {
	CreateApiKey(ctx context.Context, k *model.ApiKey) error
	GetApiKeyByKey(ctx context.Context, key string) (*model.ApiKey, error)
	SetSuspension(ctx context.Context, id int64, suspended bool) error

	CreateEngine(ctx context.Context, e *model.Engine) error
	GetEngine(ctx context.Context, id int64) (*model.Engine, error)
	GetEngineByName(ctx context.Context, name string) (*model.Engine, error)
	ListEngines(ctx context.Context) ([]*model.Engine, error)
	CreateModel(ctx context.Context, m *model.Model) error
	GetModelByName(ctx context.Context, name string) (*model.Model, error)
	CreateEngineVersion(ctx context.Context, v *model.EngineVersion, modelIDs []int64) error
	GetEngineVersionByLabel(ctx context.Context, engineID int64, version string) (*model.EngineVersion, error)
	LatestEngineVersion(ctx context.Context, engineID int64) (*model.EngineVersion, error)
	ListVersionModels(ctx context.Context, versionID int64) ([]*model.Model, error)

	CreateRequest(ctx context.Context, r *model.Request) error
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	TouchRequest(ctx context.Context, id string, now time.Time) error
	FinishRequestIfComplete(ctx context.Context, id string, now time.Time) (bool, error)
	ListSweepableRequests(ctx context.Context, finishedBefore time.Time, limit int) ([]*model.Request, error)
	MarkRequestSwept(ctx context.Context, id string, now time.Time) error

	CreatePage(ctx context.Context, p *model.Page) error
	GetPage(ctx context.Context, id string) (*model.Page, error)
	GetPageByName(ctx context.Context, requestID, name string) (*model.Page, error)
	ListPages(ctx context.Context, requestID string) ([]*model.Page, error)
	NextWaitingPage(ctx context.Context, engineID *int64) (*Candidate, error)
	ClaimPage(ctx context.Context, id string, now time.Time) (bool, error)
	ListExpiredLeases(ctx context.Context, cutoff time.Time) ([]*model.Page, error)
	ReleaseLease(ctx context.Context, id string, cutoff time.Time) (bool, error)
	AttachPageImage(ctx context.Context, id, url string) (bool, error)
	FinishPage(ctx context.Context, id string, outcome PageOutcome) (bool, error)
	CancelPages(ctx context.Context, requestID string, now time.Time) (int64, error)
	ExpirePages(ctx context.Context, requestID string) (int64, error)
	GetPageStats(ctx context.Context) (*PageStats, error)

	GetNotificationState(ctx context.Context) (*model.NotificationState, error)
	ClaimNotification(ctx context.Context, now time.Time, interval time.Duration) (bool, error)
	ReleaseNotification(ctx context.Context, claimed time.Time, previous *time.Time) (bool, error)
}

// Store is the persistent source of truth. InTx runs fn as one unit of work:
// every Queries call made through the argument commits or rolls back together.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
	Close() error
}
