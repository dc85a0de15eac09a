package httpapi

import (
	"net/http"

	"github.com/campusswap/campusswap/internal/domain/audit"
)

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 500)

	filter := audit.Filter{}
	if v := r.URL.Query().Get("entity_type"); v != "" {
		entityType := audit.EntityType(v)
		filter.EntityType = &entityType
	}
	if v := r.URL.Query().Get("entity_id"); v != "" {
		filter.EntityID = &v
	}
	if v := r.URL.Query().Get("action"); v != "" {
		action := audit.Action(v)
		filter.Action = &action
	}
	if v := r.URL.Query().Get("actor"); v != "" {
		filter.Actor = &v
	}

	logs, err := s.auditSvc.Query(r.Context(), filter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}
