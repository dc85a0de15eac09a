package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	appExchange "github.com/campusswap/campusswap/internal/application/exchange"
	"github.com/campusswap/campusswap/internal/domain/request"
	domainUser "github.com/campusswap/campusswap/internal/domain/user"
)

type requestCreateRequest struct {
	ListingID uuid.UUID `json:"listing_id"`
}

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	var req requestCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.ListingID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "listing_id is required")
		return
	}
	created, err := s.exchangeSvc.CreateRequest(r.Context(), auth.exchangeActor(), req.ListingID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	id, err := parseUUIDParam(r, "requestId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid requestId")
		return
	}
	req, err := s.requests.GetByID(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if auth.Role != domainUser.RoleAdmin && auth.UserID != req.BuyerID && auth.UserID != req.SellerID {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "not a party to this request")
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// listRequests returns the caller's requests. Admins may filter freely;
// students are pinned to requests they are a party to.
func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	limit, offset := parseLimitOffset(r, 50, 200)

	filter := request.Filter{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := request.Status(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("listing_id"); v != "" {
		listingID, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid listing_id")
			return
		}
		filter.ListingID = &listingID
	}

	if auth.Role != domainUser.RoleAdmin {
		switch r.URL.Query().Get("side") {
		case "selling":
			filter.SellerID = &auth.UserID
		default:
			filter.BuyerID = &auth.UserID
		}
	}

	requests, err := s.requests.List(r.Context(), filter, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

type requestEventRequest struct {
	Event           string `json:"event"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func (s *Server) applyRequestEvent(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	id, err := parseUUIDParam(r, "requestId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid requestId")
		return
	}
	var req requestEventRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Event == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "event is required")
		return
	}
	updated, err := s.exchangeSvc.ApplyEvent(r.Context(), auth.exchangeActor(), appExchange.Command{
		RequestID:       id,
		Event:           request.Event(req.Event),
		ExpectedVersion: req.ExpectedVersion,
		Reason:          req.Reason,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}
