// Package listing implements listing lifecycle operations outside the
// request transaction path: creation, moderation and the expiry sweep.
package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusswap/campusswap/internal/domain/audit"
	"github.com/campusswap/campusswap/internal/domain/listing"
	"github.com/campusswap/campusswap/internal/domain/user"
)

// Actor identifies who is performing an operation.
type Actor struct {
	UserID uuid.UUID
	Role   user.Role
}

// Recorder observes transition outcomes for metrics.
type Recorder interface {
	RecordTransition(machine, event, outcome string)
}

// Service handles listing operations.
type Service struct {
	repo     listing.Repository
	audits   audit.Repository
	recorder Recorder
	logger   zerolog.Logger
}

// NewService creates a listing service. recorder may be nil.
func NewService(repo listing.Repository, audits audit.Repository, recorder Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		audits:   audits,
		recorder: recorder,
		logger:   logger.With().Str("service", "listing").Logger(),
	}
}

// CreateParams are the caller-supplied fields of a new listing.
type CreateParams struct {
	Title       string
	Description string
	PriceCents  int64
	ExpiresAt   *time.Time
}

func (p *CreateParams) validate() error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return fmt.Errorf("%w: title is required", listing.ErrInvalid)
	}
	if len(p.Title) > 140 {
		return fmt.Errorf("%w: title exceeds 140 characters", listing.ErrInvalid)
	}
	if p.PriceCents < 0 {
		return fmt.Errorf("%w: price must not be negative", listing.ErrInvalid)
	}
	return nil
}

// Create opens a new listing in DRAFT owned by the actor.
func (s *Service) Create(ctx context.Context, actor Actor, params CreateParams) (*listing.Listing, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	l := listing.New(actor.UserID, params.Title, params.Description, params.PriceCents)
	l.ExpiresAt = params.ExpiresAt
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	s.appendAudit(ctx, actor, audit.ActionCreate, l.ListingID, nil)
	s.logger.Info().
		Str("listing_id", l.ListingID.String()).
		Str("owner_id", actor.UserID.String()).
		Msg("listing created")
	return l, nil
}

// Get returns a listing by public ID.
func (s *Service) Get(ctx context.Context, listingID uuid.UUID) (*listing.Listing, error) {
	return s.repo.GetByID(ctx, listingID)
}

// List returns listings matching the filter.
func (s *Service) List(ctx context.Context, filter listing.Filter, limit, offset int) ([]*listing.Listing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, filter, limit, offset)
}

// exchangeDriven events may only be emitted by the request transition
// service as cascades; they are not accepted from the API.
var exchangeDriven = map[listing.Event]bool{
	listing.EventReceiveRequest: true,
	listing.EventDeclineRequest: true,
	listing.EventAcceptRequest:  true,
	listing.EventRelease:        true,
	listing.EventComplete:       true,
}

// ApplyEvent performs one moderation or ownership transition on a listing.
// Admin-only events require an admin actor; every other event requires the
// listing's owner or an admin.
func (s *Service) ApplyEvent(ctx context.Context, actor Actor, listingID uuid.UUID, event listing.Event) (*listing.Listing, error) {
	l, err := s.apply(ctx, actor, listingID, event)
	if err != nil {
		s.record(string(event), outcomeOf(err))
		return nil, err
	}
	s.record(string(event), "ok")
	return l, nil
}

func (s *Service) apply(ctx context.Context, actor Actor, listingID uuid.UUID, event listing.Event) (*listing.Listing, error) {
	if exchangeDriven[event] {
		return nil, fmt.Errorf("%w: event %s is not accepted here", listing.ErrConflict, event)
	}

	l, err := s.repo.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}

	isAdmin := actor.Role == user.RoleAdmin
	if event.AdminOnly() && !isAdmin {
		return nil, fmt.Errorf("%w: event %s requires admin", listing.ErrForbidden, event)
	}
	if !event.AdminOnly() && !isAdmin && l.OwnerID != actor.UserID {
		return nil, fmt.Errorf("%w: not the listing owner", listing.ErrForbidden)
	}

	from := l.Status
	m, err := listing.Machine(from).Send(event)
	if err != nil {
		return nil, fmt.Errorf("%w: event %s not allowed in status %s", listing.ErrConflict, event, from)
	}

	l.Status = m.State()
	l.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, listingID, l.Status); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, actor, audit.ActionTransition, listingID, &audit.TransitionMetadata{
		Event:      string(event),
		FromStatus: string(from),
		ToStatus:   string(l.Status),
	})
	s.logger.Info().
		Str("listing_id", listingID.String()).
		Str("event", string(event)).
		Str("status", string(l.Status)).
		Msg("listing transitioned")
	return l, nil
}

// ExpireDue sweeps listings whose ExpiresAt has passed and drives them to
// EXPIRED. Returns the number expired. Listings a sweep cannot legally
// expire are skipped, not failed.
func (s *Service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repo.ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, l := range due {
		m, err := listing.Machine(l.Status).Send(listing.EventExpire)
		if err != nil {
			continue
		}
		if err := s.repo.UpdateStatus(ctx, l.ListingID, m.State()); err != nil {
			s.logger.Error().Err(err).
				Str("listing_id", l.ListingID.String()).
				Msg("failed to expire listing")
			continue
		}
		s.appendAudit(ctx, Actor{Role: user.RoleAdmin}, audit.ActionTransition, l.ListingID, &audit.TransitionMetadata{
			Event:      string(listing.EventExpire),
			FromStatus: string(l.Status),
			ToStatus:   string(m.State()),
		})
		s.record(string(listing.EventExpire), "ok")
		expired++
	}

	if expired > 0 {
		s.logger.Info().Int("count", expired).Msg("expired due listings")
	}
	return expired, nil
}

func (s *Service) appendAudit(ctx context.Context, actor Actor, action audit.Action, listingID uuid.UUID, meta *audit.TransitionMetadata) {
	actorID := actor.UserID.String()
	if actor.UserID == uuid.Nil {
		actorID = "system"
	}
	entry := audit.Entry{
		EntityType: audit.EntityTypeListing,
		EntityID:   listingID.String(),
		Action:     action,
		Actor:      actorID,
		ActorRole:  string(actor.Role),
	}
	if meta != nil {
		entry.Metadata = *meta
	}
	log, err := audit.NewLog(entry, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build audit log")
		return
	}
	if err := s.audits.Append(ctx, log); err != nil {
		s.logger.Error().Err(err).Msg("failed to append audit log")
	}
}

func (s *Service) record(event, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordTransition("listing", event, outcome)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, listing.ErrConflict):
		return "conflict"
	case errors.Is(err, listing.ErrForbidden):
		return "forbidden"
	case errors.Is(err, listing.ErrNotFound):
		return "not_found"
	case errors.Is(err, listing.ErrInvalid):
		return "invalid"
	default:
		return "error"
	}
}
