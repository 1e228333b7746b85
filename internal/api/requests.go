package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/service"
)

// maxBodySize is the maximum allowed JSON request body size (1 MB).
const maxBodySize = 1 << 20

// submitRequest is the JSON body for POST /v1/requests. A null image URL
// leaves the page waiting for an upload.
type submitRequest struct {
	EngineID int64              `json:"engine_id"`
	Images   map[string]*string `json:"images"`
}

// submitResponse is the JSON response for POST /v1/requests.
type submitResponse struct {
	RequestID string         `json:"request_id"`
	Pages     []pageResponse `json:"pages"`
}

// pageResponse describes one page of a request.
type pageResponse struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	State   model.PageState `json:"state"`
	Quality *float64        `json:"quality,omitempty"`
}

// statusResponse is the JSON response for GET /v1/requests/{id}.
type statusResponse struct {
	RequestID          string         `json:"request_id"`
	EngineID           int64          `json:"engine_id"`
	CreatedAt          string         `json:"created_at"`
	FinishedAt         *string        `json:"finished_at,omitempty"`
	Total              int            `json:"total"`
	Finished           int            `json:"finished"`
	CompletionFraction float64        `json:"completion_fraction"`
	AverageQuality     *float64       `json:"average_quality,omitempty"`
	Pages              []pageResponse `json:"pages"`
}

// cancelResponse is the JSON response for POST /v1/requests/{id}/cancel.
type cancelResponse struct {
	RequestID string `json:"request_id"`
	Canceled  int64  `json:"canceled"`
}

func toPageResponses(pages []*model.Page) []pageResponse {
	out := make([]pageResponse, len(pages))
	for i, p := range pages {
		out[i] = pageResponse{ID: p.ID, Name: p.Name, State: p.State, Quality: p.Score}
	}
	return out
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	request, pages, err := s.svc.Submit(r.Context(), apiKeyFrom(r.Context()), req.EngineID, req.Images)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, submitResponse{
		RequestID: request.ID,
		Pages:     toPageResponses(pages),
	})
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), apiKeyFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := statusResponse{
		RequestID:          st.Request.ID,
		EngineID:           st.Request.EngineID,
		CreatedAt:          st.Request.CreationTimestamp.Format(time.RFC3339),
		Total:              st.Total,
		Finished:           st.Terminal,
		CompletionFraction: st.CompletionFraction,
		AverageQuality:     st.AverageQuality,
		Pages:              toPageResponses(st.Pages),
	}
	if ft := st.Request.FinishTimestamp; ft != nil {
		f := ft.Format(time.RFC3339)
		resp.FinishedAt = &f
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.svc.Cancel(r.Context(), apiKeyFrom(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cancelResponse{RequestID: id, Canceled: n})
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxImageSize+maxBodySize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	page, err := s.svc.UploadImage(r.Context(), apiKeyFrom(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "name"), header.Filename, file)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pageResponse{ID: page.ID, Name: page.Name, State: page.State})
}

func (s *Server) handleDownloadResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Download(r.Context(), apiKeyFrom(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "name"), chi.URLParam(r, "format"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		s.logger.Warn("write result", "request_id", chi.URLParam(r, "id"), "error", err)
	}
}
