package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/findmy-bridge/internal/history"
)

// handleListPasses returns the sync pass history, most recent first.
//
// Query parameters:
//   - forced: "true" or "false" to filter on forced passes
//   - failed: "true" for passes with file or publish errors only
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListPasses(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeDisabled(w, "pass history requires state.persist")
		return
	}

	q := r.URL.Query()
	var filter history.Filter

	if v := q.Get("forced"); v != "" {
		forced, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "forced must be true or false")
			return
		}
		filter.Forced = &forced
	}
	if v := q.Get("failed"); v != "" {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "failed must be true or false")
			return
		}
		filter.FailedOnly = failed
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list pass history", "error", err)
		writeInternalError(w, "failed to list pass history")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
