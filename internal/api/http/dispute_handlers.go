package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/campusswap/campusswap/internal/domain/dispute"
)

func (s *Server) listDisputes(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	limit, offset := parseLimitOffset(r, 50, 200)

	filter := dispute.Filter{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := dispute.Status(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("request_id"); v != "" {
		requestID, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid request_id")
			return
		}
		filter.RequestID = &requestID
	}

	disputes, err := s.disputeSvc.List(r.Context(), auth.exchangeActor(), filter, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"disputes": disputes})
}

func (s *Server) getDispute(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	id, err := parseUUIDParam(r, "disputeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid disputeId")
		return
	}
	d, err := s.disputeSvc.Get(r.Context(), auth.exchangeActor(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) beginDisputeReview(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	id, err := parseUUIDParam(r, "disputeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid disputeId")
		return
	}
	d, err := s.disputeSvc.BeginReview(r.Context(), auth.exchangeActor(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

type disputeCloseRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note,omitempty"`
}

func (s *Server) closeDispute(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	id, err := parseUUIDParam(r, "disputeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid disputeId")
		return
	}
	var req disputeCloseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Outcome == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "outcome is required")
		return
	}
	d, err := s.disputeSvc.Close(r.Context(), auth.exchangeActor(), id, dispute.Event(req.Outcome), req.Note)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}
