package dispute

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/campusswap/campusswap/internal/fsm"
)

// Status represents dispute status.
type Status string

const (
	StatusOpen        Status = "OPEN"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusResolved    Status = "RESOLVED"
	StatusRejected    Status = "REJECTED"
	StatusEscalated   Status = "ESCALATED"
)

// Event represents a dispute lifecycle event. All dispute events are
// admin-only; the dispute service enforces that.
type Event string

const (
	EventBeginReview Event = "BEGIN_REVIEW"
	EventResolve     Event = "RESOLVE"
	EventReject      Event = "REJECT"
	EventEscalate    Event = "ESCALATE"
)

var (
	ErrNotFound  = errors.New("dispute not found")
	ErrForbidden = errors.New("actor not permitted for dispute operation")
	ErrConflict  = errors.New("conflicting dispute state")
)

var definition = &fsm.Definition[Status, Event]{
	ID:      "dispute",
	Initial: StatusOpen,
	Table: map[Status]map[Event]Status{
		StatusOpen: {
			EventBeginReview: StatusUnderReview,
		},
		StatusUnderReview: {
			EventResolve:  StatusResolved,
			EventReject:   StatusRejected,
			EventEscalate: StatusEscalated,
		},
		// All three outcomes are hard absorbing states.
		StatusResolved:  {},
		StatusRejected:  {},
		StatusEscalated: {},
	},
}

// Definition returns the dispute lifecycle table.
func Definition() *fsm.Definition[Status, Event] {
	return definition
}

// Machine rehydrates a dispute machine at status.
func Machine(status Status) fsm.Machine[Status, Event] {
	return fsm.Rehydrate(definition, status, nil)
}

// IsTerminal reports whether s permits no further transition.
func IsTerminal(s Status) bool {
	return len(Machine(s).AvailableEvents()) == 0
}

// Dispute represents a dispute raised by a buyer against an exchange request.
type Dispute struct {
	ID              int64      `json:"id"`
	DisputeID       uuid.UUID  `json:"disputeId"`
	RequestID       uuid.UUID  `json:"requestId"`
	ListingID       uuid.UUID  `json:"listingId"`
	InitiatorID     uuid.UUID  `json:"initiatorId"`
	TargetID        uuid.UUID  `json:"targetId"`
	Status          Status     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	ResolutionNote  *string    `json:"resolutionNote,omitempty"`
	OpenedAt        time.Time  `json:"openedAt"`
	ReviewStartedAt *time.Time `json:"reviewStartedAt,omitempty"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
}

// New creates an open dispute.
func New(requestID, listingID, initiatorID, targetID uuid.UUID, reason string) *Dispute {
	return &Dispute{
		DisputeID:   uuid.New(),
		RequestID:   requestID,
		ListingID:   listingID,
		InitiatorID: initiatorID,
		TargetID:    targetID,
		Status:      StatusOpen,
		Reason:      reason,
		OpenedAt:    time.Now().UTC(),
	}
}
