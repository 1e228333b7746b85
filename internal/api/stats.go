package api

import (
	"net/http"
	"strconv"

	"github.com/seantiz/scribe/internal/model"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total   int                     `json:"total"`
	ByState map[model.PageState]int `json:"by_state"`
	// ByEngine and EngineStats are keyed by engine id.
	ByEngine    map[string]int `json:"by_engine"`
	EngineStats map[string]int `json:"engine_stats"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:       stats.Total,
		ByState:     stats.CountByState,
		ByEngine:    keyByEngine(stats.CountByEngine),
		EngineStats: keyByEngine(stats.WaitingByEngine),
	})
}

func keyByEngine(m map[int64]int) map[string]int {
	out := make(map[string]int, len(m))
	for id, n := range m {
		out[strconv.FormatInt(id, 10)] = n
	}
	return out
}
