package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/service"
)

// maxArtifactSize bounds each uploaded result file.
const maxArtifactSize = 32 << 20

// workResponse is the JSON response for GET /v1/work.
type workResponse struct {
	Status   string `json:"status"`
	PageID   string `json:"page_id,omitempty"`
	PageURL  string `json:"page_url,omitempty"`
	EngineID int64  `json:"engine_id,omitempty"`
}

// reportResponse is the JSON response for worker reports.
type reportResponse struct {
	PageID          string          `json:"page_id"`
	State           model.PageState `json:"state"`
	RequestFinished bool            `json:"request_finished"`
}

func (s *Server) handleAcquireWork(w http.ResponseWriter, r *http.Request) {
	preferred := parseIntQuery(r, "preferred_engine", 0)

	a, err := s.svc.Acquire(r.Context(), preferred)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if a == nil {
		s.writeJSON(w, http.StatusOK, workResponse{Status: "none"})
		return
	}
	s.writeJSON(w, http.StatusOK, workResponse{
		Status:   "success",
		PageID:   a.PageID,
		PageURL:  a.URL,
		EngineID: a.EngineID,
	})
}

func (s *Server) handleReportResult(w http.ResponseWriter, r *http.Request) {
	limit := int64(len(model.ResultFormats))*maxArtifactSize + maxBodySize
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(maxBodySize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	score, err := strconv.ParseFloat(r.FormValue("score"), 64)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "score must be a number")
		return
	}

	rep := service.SuccessReport{
		Score:         score,
		EngineVersion: r.FormValue("engine_version"),
		Artifacts:     make(map[model.ResultFormat][]byte, len(model.ResultFormats)),
	}
	for _, f := range model.ResultFormats {
		data, err := readFormFile(r, string(f))
		if err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		rep.Artifacts[f] = data
	}

	out, err := s.svc.ReportSuccess(r.Context(), chi.URLParam(r, "id"), rep)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reportResponse{
		PageID:          out.Page.ID,
		State:           out.Page.State,
		RequestFinished: out.RequestFinished,
	})
}

// readFormFile returns the contents of a multipart file field.
func readFormFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %s file", field)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s file: %w", field, err)
	}
	if len(data) > maxArtifactSize {
		return nil, fmt.Errorf("%s file too large", field)
	}
	return data, nil
}

func (s *Server) handleReportFailure(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var rep service.FailureReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.svc.ReportFailure(r.Context(), chi.URLParam(r, "id"), rep)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reportResponse{
		PageID:          out.Page.ID,
		State:           out.Page.State,
		RequestFinished: out.RequestFinished,
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.svc.OpenImage(r.Context(), chi.URLParam(r, "request_id"), chi.URLParam(r, "object"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if img.RedirectURL != "" {
		http.Redirect(w, r, img.RedirectURL, http.StatusTemporaryRedirect)
		return
	}
	defer img.Body.Close()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline", "error", err)
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, img.Body); err != nil {
		s.logger.Warn("stream image", "object", chi.URLParam(r, "object"), "error", err)
	}
}
