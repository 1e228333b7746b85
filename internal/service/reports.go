package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/scribe/internal/alert"
	"github.com/seantiz/scribe/internal/archive"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
	"github.com/seantiz/scribe/internal/tracker"
)

// SuccessReport is a worker's result upload for a leased page.
type SuccessReport struct {
	Score         float64
	EngineVersion string
	Artifacts     map[model.ResultFormat][]byte
}

// FailureReport is a worker's failure report for a leased page.
type FailureReport struct {
	Kind          string `json:"kind"`
	Traceback     string `json:"traceback"`
	EngineVersion string `json:"engine_version"`
	Hostname      string `json:"hostname"`
	IPAddress     string `json:"ip_address"`
}

// leasedPage loads a page and its request and checks that the page is
// PROCESSING.
func (s *Service) leasedPage(ctx context.Context, pageID string) (*model.Page, *model.Request, error) {
	if !model.ValidTaskID(pageID) {
		return nil, nil, fmt.Errorf("page %q: %w", pageID, store.ErrNotFound)
	}
	p, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, nil, fmt.Errorf("page %s: %w", pageID, err)
	}
	if p.State != model.PageProcessing {
		return nil, nil, fmt.Errorf("page %s is %s, not %s: %w", pageID, p.State, model.PageProcessing, store.ErrInvalidTransition)
	}
	r, err := s.store.GetRequest(ctx, p.RequestID)
	if err != nil {
		return nil, nil, fmt.Errorf("request %s: %w", p.RequestID, err)
	}
	return p, r, nil
}

// resolveVersion maps a version label reported by a worker to the version
// of the request's engine.
func (s *Service) resolveVersion(ctx context.Context, engineID int64, label string) (*model.EngineVersion, error) {
	v, err := s.store.GetEngineVersionByLabel(ctx, engineID, label)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("engine %d has no version %q: %w", engineID, label, ErrMalformed)
	}
	return v, err
}

// ReportSuccess stores the artifacts of a leased page in its request's
// archive and marks the page PROCESSED. The archive is written first: a page
// is never PROCESSED without downloadable results, and a retried report
// replaces the entries of a failed attempt.
func (s *Service) ReportSuccess(ctx context.Context, pageID string, rep SuccessReport) (*tracker.Outcome, error) {
	if !tracker.ValidScore(rep.Score) {
		return nil, fmt.Errorf("score %v outside [%d, %d]: %w", rep.Score, tracker.MinScore, tracker.MaxScore, ErrMalformed)
	}
	if rep.EngineVersion == "" {
		return nil, fmt.Errorf("engine version is required: %w", ErrMalformed)
	}
	for _, f := range model.ResultFormats {
		if _, ok := rep.Artifacts[f]; !ok {
			return nil, fmt.Errorf("missing %s result: %w", f, ErrMalformed)
		}
	}

	p, r, err := s.leasedPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	v, err := s.resolveVersion(ctx, r.EngineID, rep.EngineVersion)
	if err != nil {
		return nil, err
	}

	entries := make([]archive.Entry, 0, len(model.ResultFormats))
	for _, f := range model.ResultFormats {
		entries = append(entries, archive.Entry{Name: f.EntryName(p.Name), Data: rep.Artifacts[f]})
	}
	if err := s.archives.Append(ctx, r.ID, entries); err != nil {
		return nil, fmt.Errorf("store results of page %s: %w", pageID, err)
	}

	out, err := s.tracker.MarkSucceeded(ctx, pageID, rep.Score, v.ID)
	if errors.Is(err, tracker.ErrInvalidInput) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, err
}

// ReportFailure records a typed failure for a leased page and alerts
// operators about system failures. The engine version is optional.
func (s *Service) ReportFailure(ctx context.Context, pageID string, rep FailureReport) (*tracker.Outcome, error) {
	kind, err := model.ParseFailKind(rep.Kind)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformed)
	}

	p, r, err := s.leasedPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	var (
		versionID *int64
		label     string
	)
	if rep.EngineVersion != "" {
		v, err := s.resolveVersion(ctx, r.EngineID, rep.EngineVersion)
		if err != nil {
			return nil, err
		}
		versionID, label = &v.ID, v.Version
	}

	out, err := s.tracker.MarkFailed(ctx, pageID, kind, rep.Traceback, versionID)
	if err != nil {
		return nil, err
	}

	engineName := fmt.Sprint(r.EngineID)
	if e, err := s.store.GetEngine(ctx, r.EngineID); err == nil {
		engineName = e.Name
	}
	if _, err := s.alerts.Notify(ctx, alert.Failure{
		PageID:        p.ID,
		PageName:      p.Name,
		RequestID:     r.ID,
		Engine:        engineName,
		EngineVersion: label,
		Kind:          kind,
		Traceback:     rep.Traceback,
		Hostname:      rep.Hostname,
		IPAddress:     rep.IPAddress,
	}); err != nil {
		s.logger.Error("failure alert", "page_id", p.ID, "error", err)
	}
	return out, nil
}
