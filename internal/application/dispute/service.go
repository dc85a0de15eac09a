// Package dispute implements admin review of disputes. Disputes are
// opened by the request transition service; this service moves them
// through review and closes the underlying request when a verdict
// lands.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusswap/campusswap/internal/application/exchange"
	"github.com/campusswap/campusswap/internal/domain/audit"
	"github.com/campusswap/campusswap/internal/domain/dispute"
	"github.com/campusswap/campusswap/internal/domain/request"
	"github.com/campusswap/campusswap/internal/domain/user"
)

// RequestTransitioner applies events to the disputed request. Satisfied by
// the exchange transition service.
type RequestTransitioner interface {
	ApplyEvent(ctx context.Context, actor exchange.Actor, cmd exchange.Command) (*request.Request, error)
}

// Service handles dispute review operations.
type Service struct {
	repo     dispute.Repository
	requests RequestTransitioner
	audits   audit.Repository
	logger   zerolog.Logger
}

// NewService creates a dispute service.
func NewService(repo dispute.Repository, requests RequestTransitioner, audits audit.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		requests: requests,
		audits:   audits,
		logger:   logger.With().Str("service", "dispute").Logger(),
	}
}

// Get returns a dispute. Only the parties and admins may view it.
func (s *Service) Get(ctx context.Context, actor exchange.Actor, disputeID uuid.UUID) (*dispute.Dispute, error) {
	d, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if actor.Role != user.RoleAdmin && actor.UserID != d.InitiatorID && actor.UserID != d.TargetID {
		return nil, dispute.ErrForbidden
	}
	return d, nil
}

// List returns disputes matching the filter. Admin only.
func (s *Service) List(ctx context.Context, actor exchange.Actor, filter dispute.Filter, limit, offset int) ([]*dispute.Dispute, error) {
	if actor.Role != user.RoleAdmin {
		return nil, dispute.ErrForbidden
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, filter, limit, offset)
}

// BeginReview moves an open dispute under review.
func (s *Service) BeginReview(ctx context.Context, actor exchange.Actor, disputeID uuid.UUID) (*dispute.Dispute, error) {
	if actor.Role != user.RoleAdmin {
		return nil, dispute.ErrForbidden
	}

	d, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	from := d.Status
	m, err := dispute.Machine(from).Send(dispute.EventBeginReview)
	if err != nil {
		return nil, fmt.Errorf("%w: event %s not allowed in status %s", dispute.ErrConflict, dispute.EventBeginReview, from)
	}

	now := time.Now().UTC()
	d.Status = m.State()
	d.ReviewStartedAt = &now
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	s.finishTransition(ctx, actor, d, dispute.EventBeginReview, from)
	return d, nil
}

// Close delivers a verdict: RESOLVE, REJECT or ESCALATE. RESOLVE and
// REJECT also resolve the disputed request; an escalated dispute leaves
// the request DISPUTED for out-of-band handling.
//
// The request is resolved before the verdict is written, so a failed
// request transition leaves the dispute still reviewable. RESOLVE is
// the only exit from the request's DISPUTED status, so a conflict from
// the transition service means an earlier close already resolved the
// request and only the verdict write remains.
func (s *Service) Close(ctx context.Context, actor exchange.Actor, disputeID uuid.UUID, event dispute.Event, note string) (*dispute.Dispute, error) {
	switch event {
	case dispute.EventResolve, dispute.EventReject, dispute.EventEscalate:
	default:
		return nil, fmt.Errorf("%w: %s is not a closing event", dispute.ErrConflict, event)
	}
	if actor.Role != user.RoleAdmin {
		return nil, dispute.ErrForbidden
	}

	d, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	from := d.Status
	m, err := dispute.Machine(from).Send(event)
	if err != nil {
		return nil, fmt.Errorf("%w: event %s not allowed in status %s", dispute.ErrConflict, event, from)
	}

	if event != dispute.EventEscalate {
		if _, err := s.requests.ApplyEvent(ctx, actor, exchange.Command{
			RequestID: d.RequestID,
			Event:     request.EventResolve,
		}); err != nil {
			if !errors.Is(err, request.ErrConflict) {
				s.logger.Error().Err(err).
					Str("dispute_id", disputeID.String()).
					Str("request_id", d.RequestID.String()).
					Msg("failed to resolve disputed request")
				return nil, err
			}
			s.logger.Warn().
				Str("dispute_id", disputeID.String()).
				Str("request_id", d.RequestID.String()).
				Msg("disputed request already resolved, recording verdict")
		}
	}

	now := time.Now().UTC()
	d.Status = m.State()
	d.ClosedAt = &now
	if note != "" {
		d.ResolutionNote = &note
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	s.finishTransition(ctx, actor, d, event, from)
	return d, nil
}

func (s *Service) finishTransition(ctx context.Context, actor exchange.Actor, d *dispute.Dispute, event dispute.Event, from dispute.Status) {
	s.appendAudit(ctx, actor, d.DisputeID, audit.TransitionMetadata{
		Event:      string(event),
		FromStatus: string(from),
		ToStatus:   string(d.Status),
	})
	s.logger.Info().
		Str("dispute_id", d.DisputeID.String()).
		Str("event", string(event)).
		Str("status", string(d.Status)).
		Msg("dispute transitioned")
}

func (s *Service) appendAudit(ctx context.Context, actor exchange.Actor, disputeID uuid.UUID, meta audit.TransitionMetadata) {
	log, err := audit.NewLog(audit.Entry{
		EntityType: audit.EntityTypeDispute,
		EntityID:   disputeID.String(),
		Action:     audit.ActionTransition,
		Actor:      actor.UserID.String(),
		ActorRole:  string(actor.Role),
		Metadata:   meta,
	}, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build audit log")
		return
	}
	if err := s.audits.Append(ctx, log); err != nil {
		s.logger.Error().Err(err).Msg("failed to append audit log")
	}
}
