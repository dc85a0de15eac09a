package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	appListing "github.com/campusswap/campusswap/internal/application/listing"
	"github.com/campusswap/campusswap/internal/domain/listing"
)

type listingCreateRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	PriceCents  int64      `json:"price_cents"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) createListing(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	var req listingCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	l, err := s.listingSvc.Create(r.Context(), auth.listingActor(), appListing.CreateParams{
		Title:       req.Title,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, l)
}

func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "listingId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid listingId")
		return
	}
	l, err := s.listingSvc.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (s *Server) listListings(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 200)
	filter := listing.Filter{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := listing.Status(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("owner_id"); v != "" {
		ownerID, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid owner_id")
			return
		}
		filter.OwnerID = &ownerID
	}
	listings, err := s.listingSvc.List(r.Context(), filter, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"listings": listings})
}

type listingEventRequest struct {
	Event string `json:"event"`
}

func (s *Server) applyListingEvent(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	id, err := parseUUIDParam(r, "listingId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid listingId")
		return
	}
	var req listingEventRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Event == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "event is required")
		return
	}
	l, err := s.listingSvc.ApplyEvent(r.Context(), auth.listingActor(), id, listing.Event(req.Event))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}
