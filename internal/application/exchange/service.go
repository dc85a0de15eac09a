// Package exchange implements the transition service: the single write
// path for request lifecycle changes. It locks the request row, checks
// the client-supplied version, authorizes the actor, drives the request
// machine and applies listing, counter, dispute and audit cascades in
// the same transaction.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusswap/campusswap/internal/domain/audit"
	"github.com/campusswap/campusswap/internal/domain/dispute"
	"github.com/campusswap/campusswap/internal/domain/exchange"
	"github.com/campusswap/campusswap/internal/domain/listing"
	"github.com/campusswap/campusswap/internal/domain/request"
	"github.com/campusswap/campusswap/internal/domain/trust"
	"github.com/campusswap/campusswap/internal/domain/user"
)

// Actor identifies who is performing an operation.
type Actor struct {
	UserID uuid.UUID
	Role   user.Role
}

func (a Actor) isAdmin() bool {
	return a.Role == user.RoleAdmin
}

// Command describes a requested transition. ExpectedVersion of zero skips
// the optimistic check; Reason is only consulted for dispute-opening
// events.
type Command struct {
	RequestID       uuid.UUID
	Event           request.Event
	ExpectedVersion int64
	Reason          string
}

// Recorder observes transition outcomes for metrics.
type Recorder interface {
	RecordTransition(machine, event, outcome string)
}

// Service is the transition service.
type Service struct {
	store    exchange.Store
	users    user.Repository
	trust    *trust.Engine
	recorder Recorder
	logger   zerolog.Logger
}

// NewService creates a transition service. recorder may be nil.
func NewService(store exchange.Store, users user.Repository, trustEngine *trust.Engine, recorder Recorder, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		users:    users,
		trust:    trustEngine,
		recorder: recorder,
		logger:   logger.With().Str("service", "exchange").Logger(),
	}
}

// CreateRequest opens a new request by the acting buyer against a listing.
// The buyer must pass the trust policy, must not own the listing and must
// not already have an active request on it. On an APPROVED listing the
// first requester wins the conditional move to INTEREST_RECEIVED; later
// buyers join while the listing stays INTEREST_RECEIVED.
func (s *Service) CreateRequest(ctx context.Context, actor Actor, listingID uuid.UUID) (*request.Request, error) {
	if err := s.checkTrust(ctx, actor); err != nil {
		return nil, err
	}

	var req *request.Request
	err := s.store.WithinTx(ctx, func(tx exchange.Tx) error {
		l, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if l.OwnerID == actor.UserID {
			return fmt.Errorf("%w: cannot request own listing", request.ErrForbidden)
		}

		active, err := tx.BuyerHasActiveRequest(ctx, listingID, actor.UserID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: buyer already has an active request on listing %s", request.ErrConflict, listingID)
		}

		switch l.Status {
		case listing.StatusApproved:
			acquired, err := tx.AcquireListingForRequest(ctx, listingID)
			if err != nil {
				return err
			}
			if !acquired {
				// Another buyer moved the listing first; the caller may
				// retry against the new listing state.
				return fmt.Errorf("%w: listing %s changed state", request.ErrConflict, listingID)
			}
		case listing.StatusInterestReceived:
			// Additional interest on an already-requested listing.
		default:
			return fmt.Errorf("%w: listing %s is %s", request.ErrConflict, listingID, l.Status)
		}

		req = request.New(listingID, actor.UserID, l.OwnerID)
		m, err := request.Machine(req.Status).Send(request.EventSend)
		if err != nil {
			return err
		}
		req.Status = m.State()
		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}

		return s.appendAudit(ctx, tx, actor, audit.ActionCreate, req.RequestID, audit.TransitionMetadata{
			Event:      string(request.EventSend),
			FromStatus: string(request.StatusIdle),
			ToStatus:   string(req.Status),
			ToVersion:  req.Version,
		})
	})
	if err != nil {
		s.record(string(request.EventSend), outcomeOf(err))
		return nil, err
	}

	s.record(string(request.EventSend), "ok")
	s.logger.Info().
		Str("request_id", req.RequestID.String()).
		Str("listing_id", listingID.String()).
		Str("buyer_id", actor.UserID.String()).
		Msg("request created")
	return req, nil
}

// ApplyEvent performs one transition on a request. The request row is
// locked for the whole transaction, so concurrent events on the same
// request serialize and the loser sees the updated state.
func (s *Service) ApplyEvent(ctx context.Context, actor Actor, cmd Command) (*request.Request, error) {
	var req *request.Request
	err := s.store.WithinTx(ctx, func(tx exchange.Tx) error {
		var err error
		req, err = tx.LockRequest(ctx, cmd.RequestID)
		if err != nil {
			return err
		}

		if cmd.ExpectedVersion != 0 && cmd.ExpectedVersion != req.Version {
			return &request.VersionConflictError{
				RequestID: req.RequestID,
				Expected:  cmd.ExpectedVersion,
				Current:   req.Version,
			}
		}

		if err := authorize(actor, req, cmd.Event); err != nil {
			return err
		}

		from := req.Status
		m, err := request.Machine(from).Send(cmd.Event)
		if err != nil {
			return fmt.Errorf("%w: event %s not allowed in status %s", request.ErrConflict, cmd.Event, from)
		}

		fromVersion := req.Version
		req.Status = m.State()
		req.Version++
		req.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateRequestStatus(ctx, req.RequestID, req.Status, req.Version); err != nil {
			return err
		}

		if err := s.cascade(ctx, tx, actor, req, cmd); err != nil {
			return err
		}

		return s.appendAudit(ctx, tx, actor, audit.ActionTransition, req.RequestID, audit.TransitionMetadata{
			Event:       string(cmd.Event),
			FromStatus:  string(from),
			ToStatus:    string(req.Status),
			FromVersion: fromVersion,
			ToVersion:   req.Version,
		})
	})
	if err != nil {
		s.record(string(cmd.Event), outcomeOf(err))
		return nil, err
	}

	s.record(string(cmd.Event), "ok")
	s.logger.Info().
		Str("request_id", req.RequestID.String()).
		Str("event", string(cmd.Event)).
		Str("status", string(req.Status)).
		Int64("version", req.Version).
		Msg("request transitioned")
	return req, nil
}

// authorize enforces the party matrix. Admins may emit any event.
func authorize(actor Actor, req *request.Request, event request.Event) error {
	if actor.isAdmin() {
		return nil
	}
	switch event.PermittedParty() {
	case request.PartyBuyer:
		if actor.UserID == req.BuyerID {
			return nil
		}
	case request.PartySeller:
		if actor.UserID == req.SellerID {
			return nil
		}
	case request.PartyEither:
		if actor.UserID == req.BuyerID || actor.UserID == req.SellerID {
			return nil
		}
	case request.PartyAdmin:
		// Falls through to forbidden.
	}
	return fmt.Errorf("%w: event %s", request.ErrForbidden, event)
}

// cascade applies the side effects keyed on the request's new status.
// All writes share the surrounding transaction.
func (s *Service) cascade(ctx context.Context, tx exchange.Tx, actor Actor, req *request.Request, cmd Command) error {
	switch req.Status {
	case request.StatusAccepted:
		return s.sendListingEvent(ctx, tx, req.ListingID, listing.EventAcceptRequest)

	case request.StatusCompleted:
		if err := s.sendListingEvent(ctx, tx, req.ListingID, listing.EventComplete); err != nil {
			return err
		}
		return tx.AddCompletedExchange(ctx, req.BuyerID, req.SellerID)

	case request.StatusCancelled:
		if !actor.isAdmin() {
			if err := tx.AddCancelledRequest(ctx, actor.UserID); err != nil {
				return err
			}
		}
		return s.revertListing(ctx, tx, req)

	case request.StatusWithdrawn, request.StatusDeclined, request.StatusExpired:
		return s.revertListing(ctx, tx, req)

	case request.StatusDisputed:
		d := dispute.New(req.RequestID, req.ListingID, actor.UserID, counterparty(actor, req), cmd.Reason)
		if err := tx.InsertDispute(ctx, d); err != nil {
			return err
		}
		return tx.AddDisputeCount(ctx, d.TargetID)
	}
	return nil
}

// sendListingEvent drives the listing machine. An illegal edge here means
// the listing and request rows disagree, which aborts the transaction.
func (s *Service) sendListingEvent(ctx context.Context, tx exchange.Tx, listingID uuid.UUID, event listing.Event) error {
	l, err := tx.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	m, err := listing.Machine(l.Status).Send(event)
	if err != nil {
		return fmt.Errorf("listing %s out of step with request: %w", listingID, err)
	}
	return tx.UpdateListingStatus(ctx, listingID, m.State())
}

// revertListing returns the listing to APPROVED when the departing request
// was the last active one. A listing past the requesting phase, or one
// with other live requests, is left alone.
func (s *Service) revertListing(ctx context.Context, tx exchange.Tx, req *request.Request) error {
	l, err := tx.GetListing(ctx, req.ListingID)
	if err != nil {
		return err
	}

	var event listing.Event
	switch l.Status {
	case listing.StatusInterestReceived:
		event = listing.EventDeclineRequest
	case listing.StatusInTransaction:
		event = listing.EventRelease
	default:
		return nil
	}

	remaining, err := tx.CountActiveRequests(ctx, req.ListingID, req.RequestID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	m, err := listing.Machine(l.Status).Send(event)
	if err != nil {
		return fmt.Errorf("listing %s out of step with request: %w", req.ListingID, err)
	}
	return tx.UpdateListingStatus(ctx, req.ListingID, m.State())
}

func counterparty(actor Actor, req *request.Request) uuid.UUID {
	if actor.UserID == req.SellerID {
		return req.BuyerID
	}
	return req.SellerID
}

// checkTrust blocks request creation by restricted or blocked buyers.
// Admin accounts are exempt.
func (s *Service) checkTrust(ctx context.Context, actor Actor) error {
	if s.trust == nil || actor.isAdmin() {
		return nil
	}
	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return err
	}
	status, rule, err := s.trust.Evaluate(trust.InputsFor(u, time.Now().UTC()))
	if err != nil {
		return err
	}
	if status != trust.StatusTrusted {
		s.logger.Warn().
			Str("user_id", actor.UserID.String()).
			Str("trust_status", string(status)).
			Str("rule", rule).
			Msg("request creation blocked by trust policy")
		return fmt.Errorf("%w: account is %s", request.ErrForbidden, status)
	}
	return nil
}

func (s *Service) appendAudit(ctx context.Context, tx exchange.Tx, actor Actor, action audit.Action, requestID uuid.UUID, meta audit.TransitionMetadata) error {
	log, err := audit.NewLog(audit.Entry{
		EntityType: audit.EntityTypeRequest,
		EntityID:   requestID.String(),
		Action:     action,
		Actor:      actor.UserID.String(),
		ActorRole:  string(actor.Role),
		Metadata:   meta,
	}, time.Now().UTC())
	if err != nil {
		return err
	}
	return tx.AppendAudit(ctx, log)
}

func (s *Service) record(event, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordTransition("request", event, outcome)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, request.ErrConflict):
		return "conflict"
	case errors.Is(err, request.ErrForbidden):
		return "forbidden"
	case errors.Is(err, request.ErrNotFound), errors.Is(err, listing.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
