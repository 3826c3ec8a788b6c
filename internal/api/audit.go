package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-aqara/internal/audit"
)

// handleListAudit returns the command and eviction trail, newest first.
// Query parameters: action, key, status, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Key:    q.Get("key"),
		Status: q.Get("status"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
