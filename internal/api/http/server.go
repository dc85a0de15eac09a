package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	appAudit "github.com/campusswap/campusswap/internal/application/audit"
	appAuth "github.com/campusswap/campusswap/internal/application/auth"
	appDispute "github.com/campusswap/campusswap/internal/application/dispute"
	appExchange "github.com/campusswap/campusswap/internal/application/exchange"
	appListing "github.com/campusswap/campusswap/internal/application/listing"
	appUser "github.com/campusswap/campusswap/internal/application/user"
	"github.com/campusswap/campusswap/internal/domain/dispute"
	"github.com/campusswap/campusswap/internal/domain/listing"
	"github.com/campusswap/campusswap/internal/domain/request"
	domainUser "github.com/campusswap/campusswap/internal/domain/user"
	"github.com/campusswap/campusswap/internal/infrastructure/keyvalue"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	exchangeSvc         *appExchange.Service
	listingSvc          *appListing.Service
	disputeSvc          *appDispute.Service
	auditSvc            *appAudit.Service
	authSvc             *appAuth.Service
	userSvc             *appUser.Service
	requests            request.Repository
	idempotency         keyvalue.Store
	replays             ReplayRecorder
	metricsHandler      http.Handler
	sessionCookieName   string
	sessionCookieSecure bool
}

func NewServer(
	exchangeSvc *appExchange.Service,
	listingSvc *appListing.Service,
	disputeSvc *appDispute.Service,
	auditSvc *appAudit.Service,
	authSvc *appAuth.Service,
	userSvc *appUser.Service,
	requests request.Repository,
	idempotency keyvalue.Store,
	replays ReplayRecorder,
	metricsHandler http.Handler,
	sessionCookieName string,
	sessionCookieSecure bool,
) *Server {
	return &Server{
		exchangeSvc:         exchangeSvc,
		listingSvc:          listingSvc,
		disputeSvc:          disputeSvc,
		auditSvc:            auditSvc,
		authSvc:             authSvc,
		userSvc:             userSvc,
		requests:            requests,
		idempotency:         idempotency,
		replays:             replays,
		metricsHandler:      metricsHandler,
		sessionCookieName:   sessionCookieName,
		sessionCookieSecure: sessionCookieSecure,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/logout", s.logout)
				r.Get("/me", s.me)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/listings", func(r chi.Router) {
				r.Post("/", s.createListing)
				r.Get("/", s.listListings)
				r.Get("/{listingId}", s.getListing)
				r.Post("/{listingId}/events", s.applyListingEvent)
			})

			r.Route("/requests", func(r chi.Router) {
				r.With(s.idempotent).Post("/", s.createRequest)
				r.Get("/", s.listRequests)
				r.Get("/{requestId}", s.getRequest)
				r.With(s.idempotent).Post("/{requestId}/events", s.applyRequestEvent)
			})

			r.Route("/disputes", func(r chi.Router) {
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Get("/", s.listDisputes)
				r.Get("/{disputeId}", s.getDispute)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Post("/{disputeId}/review", s.beginDisputeReview)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Post("/{disputeId}/close", s.closeDispute)
			})

			r.Route("/users", func(r chi.Router) {
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Post("/", s.createUser)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Get("/", s.listUsers)
				r.Get("/{userId}", s.getUser)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Post("/{userId}/flag", s.flagUser)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Put("/{userId}/status", s.setUserStatus)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Put("/{userId}/role", s.setUserRole)
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Put("/{userId}/password", s.setUserPassword)
			})

			r.Route("/admin", func(r chi.Router) {
				r.With(s.requireRole(string(domainUser.RoleAdmin))).Get("/audit", s.queryAudit)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps domain sentinel errors onto HTTP statuses. A
// version conflict carries the current version so clients can refresh.
func respondDomainError(w http.ResponseWriter, err error) {
	var versionConflict *request.VersionConflictError
	if errors.As(err, &versionConflict) {
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":          "VERSION_CONFLICT",
			"message":        versionConflict.Error(),
			"currentVersion": versionConflict.Current,
		})
		return
	}
	switch {
	case errors.Is(err, request.ErrNotFound),
		errors.Is(err, listing.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, domainUser.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, request.ErrForbidden),
		errors.Is(err, listing.ErrForbidden),
		errors.Is(err, dispute.ErrForbidden):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, request.ErrConflict),
		errors.Is(err, listing.ErrConflict),
		errors.Is(err, dispute.ErrConflict):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, listing.ErrInvalid):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
