package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/seantiz/scribe/internal/blob"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// MaxImageSize bounds an uploaded image.
const MaxImageSize = 64 << 20

// imageTypes maps the accepted upload extensions to their content type.
var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".pdf":  "application/pdf",
}

// UploadImage stores the image of a CREATED page owned by key and makes the
// page WAITING. The file extension selects the validation applied.
func (s *Service) UploadImage(ctx context.Context, key *model.ApiKey, requestID, pageName, filename string, body io.Reader) (*model.Page, error) {
	r, err := s.ownedRequest(ctx, key, requestID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPageByName(ctx, r.ID, pageName)
	if err != nil {
		return nil, fmt.Errorf("page %q: %w", pageName, err)
	}
	if p.State != model.PageCreated {
		return nil, fmt.Errorf("page %q is %s, not %s: %w", pageName, p.State, model.PageCreated, store.ErrInvalidTransition)
	}

	ext := strings.ToLower(path.Ext(filename))
	contentType, ok := imageTypes[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported image extension %q: %w", ext, ErrMalformed)
	}

	data, err := io.ReadAll(io.LimitReader(body, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("image larger than %d bytes: %w", MaxImageSize, ErrMalformed)
	}
	if err := validateImage(ext, data); err != nil {
		return nil, fmt.Errorf("image %q: %v: %w", filename, err, ErrMalformed)
	}

	object := model.NewID() + ext
	if err := s.images.Put(ctx, r.ID, object, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	page, err := s.tracker.AttachImage(ctx, r.ID, pageName, s.imageURL(r.ID, object))
	if err != nil {
		return nil, err
	}
	s.logger.Info("image uploaded", "request_id", r.ID, "page_name", pageName, "object", object, "bytes", len(data))
	return page, nil
}

// imageURL is where workers fetch an uploaded image from.
func (s *Service) imageURL(requestID, object string) string {
	return strings.TrimRight(s.publicURL, "/") + "/v1/images/" + url.PathEscape(requestID) + "/" + url.PathEscape(object)
}

func validateImage(ext string, data []byte) error {
	if ext == ".pdf" {
		return validatePDF(data)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	return nil
}

// validatePDF checks that data parses as a PDF with at least one page. The
// parser panics on some malformed input.
func validatePDF(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("parse pdf: %w", err)
	}
	if r.NumPage() < 1 {
		return errors.New("pdf has no pages")
	}
	return nil
}

// Image is an uploaded source image, either streamed or reachable at a
// presigned URL.
type Image struct {
	Body        io.ReadCloser
	ContentType string
	RedirectURL string
}

// OpenImage returns an uploaded image for a worker. Stores that can presign
// URLs hand out a redirect instead of streaming.
func (s *Service) OpenImage(ctx context.Context, requestID, object string) (*Image, error) {
	if !blob.ValidName(requestID) || !blob.ValidName(object) {
		return nil, fmt.Errorf("image %s/%s: %w", requestID, object, store.ErrNotFound)
	}
	if p, ok := s.images.(blob.Presigner); ok {
		u, err := p.PresignedURL(ctx, requestID, object, s.presignTTL)
		if err != nil {
			return nil, fmt.Errorf("presign image: %w", err)
		}
		return &Image{RedirectURL: u}, nil
	}

	rc, err := s.images.Open(ctx, requestID, object)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("image %s/%s: %w", requestID, object, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	contentType := imageTypes[strings.ToLower(path.Ext(object))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Image{Body: rc, ContentType: contentType}, nil
}
