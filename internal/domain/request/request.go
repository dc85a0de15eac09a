package request

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campusswap/campusswap/internal/fsm"
)

// Status represents request lifecycle status.
type Status string

const (
	StatusIdle             Status = "IDLE"
	StatusSent             Status = "SENT"
	StatusAccepted         Status = "ACCEPTED"
	StatusDeclined         Status = "DECLINED"
	StatusMeetingScheduled Status = "MEETING_SCHEDULED"
	StatusCompleted        Status = "COMPLETED"
	StatusExpired          Status = "EXPIRED"
	StatusCancelled        Status = "CANCELLED"
	StatusWithdrawn        Status = "WITHDRAWN"
	StatusDisputed         Status = "DISPUTED"
	StatusResolved         Status = "RESOLVED"
)

// Event represents a request lifecycle event.
type Event string

const (
	EventSend     Event = "SEND"
	EventAccept   Event = "ACCEPT"
	EventDecline  Event = "DECLINE"
	EventSchedule Event = "SCHEDULE"
	EventConfirm  Event = "CONFIRM"
	EventCancel   Event = "CANCEL"
	EventWithdraw Event = "WITHDRAW"
	EventDispute  Event = "DISPUTE"
	EventResolve  Event = "RESOLVE"
	EventExpire   Event = "EXPIRE"
	EventRetry    Event = "RETRY"
)

var (
	ErrNotFound  = errors.New("request not found")
	ErrForbidden = errors.New("actor not permitted for request event")
	ErrConflict  = errors.New("conflicting request state")
)

// VersionConflictError reports a stale client-supplied version. It is a
// distinguished subtype of ErrConflict: errors.Is(err, ErrConflict) holds.
type VersionConflictError struct {
	RequestID uuid.UUID
	Expected  int64
	Current   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("request %s version conflict: expected %d, current %d", e.RequestID, e.Expected, e.Current)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Party identifies which side of a request may emit an event. Admins bypass
// every restriction; the service enforces this matrix before any FSM
// evaluation.
type Party int

const (
	PartyBuyer Party = iota
	PartySeller
	PartyEither
	PartyAdmin
)

// PermittedParty returns the party allowed to emit event.
func (e Event) PermittedParty() Party {
	switch e {
	case EventSend, EventWithdraw, EventDispute, EventRetry:
		return PartyBuyer
	case EventAccept, EventDecline:
		return PartySeller
	case EventSchedule, EventConfirm, EventCancel:
		return PartyEither
	case EventResolve, EventExpire:
		return PartyAdmin
	default:
		return PartyAdmin
	}
}

var definition = &fsm.Definition[Status, Event]{
	ID:      "request",
	Initial: StatusIdle,
	Table: map[Status]map[Event]Status{
		StatusIdle: {
			EventSend: StatusSent,
		},
		StatusSent: {
			EventAccept:   StatusAccepted,
			EventDecline:  StatusDeclined,
			EventWithdraw: StatusWithdrawn,
			EventExpire:   StatusExpired,
		},
		StatusAccepted: {
			EventSchedule: StatusMeetingScheduled,
			EventCancel:   StatusCancelled,
			EventWithdraw: StatusWithdrawn,
			EventDispute:  StatusDisputed,
		},
		StatusMeetingScheduled: {
			EventConfirm: StatusCompleted,
			EventCancel:  StatusCancelled,
			EventDispute: StatusDisputed,
		},
		StatusCompleted: {
			EventDispute: StatusDisputed,
		},
		// Recoverable terminal-looking states: exactly one edge back to idle.
		StatusDeclined: {
			EventRetry: StatusIdle,
		},
		StatusExpired: {
			EventRetry: StatusIdle,
		},
		StatusCancelled: {
			EventRetry: StatusIdle,
		},
		StatusWithdrawn: {
			EventRetry: StatusIdle,
		},
		StatusDisputed: {
			EventResolve: StatusResolved,
		},
		// RESOLVED is the sole absorbing state.
		StatusResolved: {},
	},
}

// Definition returns the request lifecycle table.
func Definition() *fsm.Definition[Status, Event] {
	return definition
}

// Machine rehydrates a request machine at status.
func Machine(status Status) fsm.Machine[Status, Event] {
	return fsm.Rehydrate(definition, status, nil)
}

// ActiveStatuses are the in-flight statuses that count against the
// one-active-request-per-(listing, buyer) invariant and against listing
// reversion.
var ActiveStatuses = []Status{StatusSent, StatusAccepted, StatusMeetingScheduled, StatusDisputed}

// IsActive reports whether s is an in-flight status.
func IsActive(s Status) bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Request represents a buyer's exchange request against a listing. Status and
// Version are mutated exclusively through the transition service; rows are
// never hard-deleted because terminal states feed trust history.
type Request struct {
	ID        int64     `json:"id"`
	RequestID uuid.UUID `json:"requestId"`
	ListingID uuid.UUID `json:"listingId"`
	BuyerID   uuid.UUID `json:"buyerId"`
	SellerID  uuid.UUID `json:"sellerId"`
	Status    Status    `json:"status"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates a request at the machine's initial state.
func New(listingID, buyerID, sellerID uuid.UUID) *Request {
	now := time.Now().UTC()
	return &Request{
		RequestID: uuid.New(),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Status:    StatusIdle,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
