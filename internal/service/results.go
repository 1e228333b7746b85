package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/scribe/internal/archive"
	"github.com/seantiz/scribe/internal/model"
)

// Result is one downloadable artifact of a processed page.
type Result struct {
	Name        string
	ContentType string
	Data        []byte
}

// Download returns one artifact of a page of a request owned by key.
func (s *Service) Download(ctx context.Context, key *model.ApiKey, requestID, pageName, format string) (*Result, error) {
	f, err := model.ParseResultFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	r, err := s.ownedRequest(ctx, key, requestID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPageByName(ctx, r.ID, pageName)
	if err != nil {
		return nil, fmt.Errorf("page %q: %w", pageName, err)
	}
	switch p.State {
	case model.PageProcessed:
	case model.PageExpired:
		return nil, fmt.Errorf("page %q: %w", pageName, ErrGone)
	default:
		return nil, fmt.Errorf("page %q is %s: %w", pageName, p.State, ErrNotReady)
	}

	name := f.EntryName(p.Name)
	data, err := s.archives.Read(ctx, r.ID, name)
	if errors.Is(err, archive.ErrEntryNotFound) {
		// Retention expires pages before deleting archives; a PROCESSED page
		// without an entry is being swept right now.
		return nil, fmt.Errorf("page %q: %w", pageName, ErrGone)
	}
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	contentType := "application/xml"
	if f == model.FormatText {
		contentType = "text/plain; charset=utf-8"
	}
	return &Result{Name: name, ContentType: contentType, Data: data}, nil
}
