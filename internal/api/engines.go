package api

import (
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/scribe/internal/service"
)

// enginesResponse is the JSON response for GET /v1/engines.
type enginesResponse struct {
	Engines []service.EngineInfo `json:"engines"`
}

func (s *Server) handleListEngines(w http.ResponseWriter, r *http.Request) {
	engines, err := s.svc.ListEngines(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, enginesResponse{Engines: engines})
}

func (s *Server) handleDownloadBundle(w http.ResponseWriter, r *http.Request) {
	engineID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid engine id")
		return
	}

	resolved, err := s.svc.PrepareBundle(r.Context(), engineID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline", "error", err)
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": resolved.Filename()}))
	w.WriteHeader(http.StatusOK)

	// Headers are sent; a failure here can only cut the stream short.
	if err := s.svc.Packager().WriteBundle(resolved, w); err != nil {
		s.logger.Error("write bundle", "engine_id", engineID, "error", err)
	}
}
