// Package service composes dispatch, tracking, packaging, archives and
// alerts into the operations exposed to clients and workers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/scribe/internal/alert"
	"github.com/seantiz/scribe/internal/archive"
	"github.com/seantiz/scribe/internal/blob"
	"github.com/seantiz/scribe/internal/dispatch"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/packaging"
	"github.com/seantiz/scribe/internal/store"
	"github.com/seantiz/scribe/internal/tracker"
)

var (
	// ErrUnauthorized is returned for missing, unknown or suspended keys, keys
	// lacking the required permission, and keys that do not own the request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformed is returned for input that can never be accepted.
	ErrMalformed = errors.New("malformed input")

	// ErrNotReady is returned when results are requested for a page that is
	// not PROCESSED yet.
	ErrNotReady = errors.New("results not ready")

	// ErrGone is returned when the results of a page have expired.
	ErrGone = errors.New("results expired")
)

// DefaultPresignTTL is how long a presigned image URL stays valid.
const DefaultPresignTTL = 15 * time.Minute

// Deps are the components a Service is built from.
type Deps struct {
	Store    store.Store
	Dispatch *dispatch.Manager
	Tracker  *tracker.Tracker
	Packager *packaging.Packager
	Archives *archive.Manager
	Images   blob.Store
	Alerts   *alert.Throttler
	Logger   *slog.Logger

	// PublicURL is the externally reachable base URL of this server, used
	// to build the image URLs handed to workers.
	PublicURL  string
	PresignTTL time.Duration
}

// Service implements the client and worker operations.
type Service struct {
	store      store.Store
	dispatch   *dispatch.Manager
	tracker    *tracker.Tracker
	packager   *packaging.Packager
	archives   *archive.Manager
	images     blob.Store
	alerts     *alert.Throttler
	logger     *slog.Logger
	publicURL  string
	presignTTL time.Duration
}

// New creates a service from d.
func New(d Deps) *Service {
	ttl := d.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &Service{
		store:      d.Store,
		dispatch:   d.Dispatch,
		tracker:    d.Tracker,
		packager:   d.Packager,
		archives:   d.Archives,
		images:     d.Images,
		alerts:     d.Alerts,
		logger:     d.Logger,
		publicURL:  d.PublicURL,
		presignTTL: ttl,
	}
}

// Authenticate resolves an API key and checks that it carries at least the
// needed permission. SUPER_USER keys satisfy USER requirements.
func (s *Service) Authenticate(ctx context.Context, secret string, need model.Permission) (*model.ApiKey, error) {
	if secret == "" {
		return nil, fmt.Errorf("missing api key: %w", ErrUnauthorized)
	}
	k, err := s.store.GetApiKeyByKey(ctx, secret)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("unknown api key: %w", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if k.Suspended {
		return nil, fmt.Errorf("api key of %s is suspended: %w", k.Owner, ErrUnauthorized)
	}
	if k.Permission < need {
		return nil, fmt.Errorf("api key of %s lacks %s permission: %w", k.Owner, need, ErrUnauthorized)
	}
	return k, nil
}

// ownedRequest loads a request and checks that key submitted it.
func (s *Service) ownedRequest(ctx context.Context, key *model.ApiKey, requestID string) (*model.Request, error) {
	if !model.ValidTaskID(requestID) {
		return nil, fmt.Errorf("request %q: %w", requestID, store.ErrNotFound)
	}
	r, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	if r.ApiKeyID != key.ID {
		return nil, fmt.Errorf("request %s belongs to another key: %w", requestID, ErrUnauthorized)
	}
	return r, nil
}

// Request returns a request owned by key.
func (s *Service) Request(ctx context.Context, key *model.ApiKey, requestID string) (*model.Request, error) {
	return s.ownedRequest(ctx, key, requestID)
}

// EngineInfo describes an engine and its current version.
type EngineInfo struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Version     string   `json:"version,omitempty"`
	Models      []string `json:"models"`
}

// ListEngines returns every engine with its latest version and models.
// Engines without a version are listed without one.
func (s *Service) ListEngines(ctx context.Context) ([]EngineInfo, error) {
	engines, err := s.store.ListEngines(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]EngineInfo, 0, len(engines))
	for _, e := range engines {
		info := EngineInfo{ID: e.ID, Name: e.Name, Description: e.Description, Models: []string{}}
		r, err := s.packager.ResolveLatestVersion(ctx, e.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			info.Version = r.Version.Version
			for _, m := range r.Models {
				info.Models = append(info.Models, m.Name)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Submit creates a request for key. A nil URL leaves the page waiting for an
// upload.
func (s *Service) Submit(ctx context.Context, key *model.ApiKey, engineID int64, images map[string]*string) (*model.Request, []*model.Page, error) {
	for name, url := range images {
		if !blob.ValidName(name) {
			return nil, nil, fmt.Errorf("invalid image name %q: %w", name, ErrMalformed)
		}
		if url != nil && *url == "" {
			return nil, nil, fmt.Errorf("image %q: empty url: %w", name, ErrMalformed)
		}
	}
	r, pages, err := s.tracker.Submit(ctx, tracker.Submission{
		EngineID: engineID,
		ApiKeyID: key.ID,
		Images:   images,
	})
	if errors.Is(err, tracker.ErrInvalidInput) {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, pages, err
}

// Status returns the progress of a request owned by key.
func (s *Service) Status(ctx context.Context, key *model.ApiKey, requestID string) (*tracker.Status, error) {
	if _, err := s.ownedRequest(ctx, key, requestID); err != nil {
		return nil, err
	}
	return s.tracker.Status(ctx, requestID)
}

// Cancel cancels every non-terminal page of a request owned by key.
func (s *Service) Cancel(ctx context.Context, key *model.ApiKey, requestID string) (int64, error) {
	if _, err := s.ownedRequest(ctx, key, requestID); err != nil {
		return 0, err
	}
	return s.tracker.Cancel(ctx, requestID)
}

// Acquire leases a page to a worker, preferring its engine.
func (s *Service) Acquire(ctx context.Context, preferredEngineID int64) (*dispatch.Assignment, error) {
	return s.dispatch.Acquire(ctx, preferredEngineID)
}

// Stats returns page counts for capacity monitoring.
func (s *Service) Stats(ctx context.Context) (*store.PageStats, error) {
	return s.store.GetPageStats(ctx)
}

// PrepareBundle resolves the latest version of an engine and verifies that
// it can be packaged.
func (s *Service) PrepareBundle(ctx context.Context, engineID int64) (*packaging.Resolved, error) {
	return s.packager.Prepare(ctx, engineID)
}

// Packager returns the bundle writer.
func (s *Service) Packager() *packaging.Packager {
	return s.packager
}
