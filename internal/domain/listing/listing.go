package listing

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/campusswap/campusswap/internal/fsm"
)

// Status represents listing lifecycle status.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusPendingReview    Status = "PENDING_REVIEW"
	StatusApproved         Status = "APPROVED"
	StatusRejected         Status = "REJECTED"
	StatusInterestReceived Status = "INTEREST_RECEIVED"
	StatusInTransaction    Status = "IN_TRANSACTION"
	StatusCompleted        Status = "COMPLETED"
	StatusExpired          Status = "EXPIRED"
	StatusFlagged          Status = "FLAGGED"
	StatusArchived         Status = "ARCHIVED"
	StatusRemoved          Status = "REMOVED"
)

// Event represents a listing lifecycle event.
type Event string

const (
	EventSubmit         Event = "SUBMIT"
	EventApprove        Event = "APPROVE"
	EventReject         Event = "REJECT"
	EventRevise         Event = "REVISE"
	EventReceiveRequest Event = "RECEIVE_REQUEST"
	EventDeclineRequest Event = "DECLINE_REQUEST"
	EventAcceptRequest  Event = "ACCEPT_REQUEST"
	EventRelease        Event = "RELEASE"
	EventComplete       Event = "COMPLETE"
	EventExpire         Event = "EXPIRE"
	EventRelist         Event = "RELIST"
	EventFlag           Event = "FLAG"
	EventUnflag         Event = "UNFLAG"
	EventRemove         Event = "REMOVE"
	EventArchive        Event = "ARCHIVE"
)

var (
	ErrNotFound  = errors.New("listing not found")
	ErrForbidden = errors.New("actor not permitted for listing operation")
	ErrConflict  = errors.New("conflicting listing state")
	ErrInvalid   = errors.New("invalid listing input")
)

// AdminOnly reports whether event may only be applied by an admin. Legality
// lives in the transition table; authorization is the caller's concern.
func (e Event) AdminOnly() bool {
	switch e {
	case EventApprove, EventReject, EventFlag, EventUnflag, EventRemove, EventExpire:
		return true
	default:
		return false
	}
}

var definition = &fsm.Definition[Status, Event]{
	ID:      "listing",
	Initial: StatusDraft,
	Table: map[Status]map[Event]Status{
		StatusDraft: {
			EventSubmit:  StatusPendingReview,
			EventArchive: StatusArchived,
		},
		StatusPendingReview: {
			EventApprove: StatusApproved,
			EventReject:  StatusRejected,
		},
		StatusApproved: {
			EventReceiveRequest: StatusInterestReceived,
			EventExpire:         StatusExpired,
			EventFlag:           StatusFlagged,
			EventArchive:        StatusArchived,
		},
		StatusRejected: {
			EventRevise:  StatusDraft,
			EventArchive: StatusArchived,
		},
		// A declined interest returns the listing to the pool without
		// another review pass.
		StatusInterestReceived: {
			EventAcceptRequest:  StatusInTransaction,
			EventDeclineRequest: StatusApproved,
			EventExpire:         StatusExpired,
			EventFlag:           StatusFlagged,
		},
		StatusInTransaction: {
			EventComplete: StatusCompleted,
			EventRelease:  StatusApproved,
			EventFlag:     StatusFlagged,
		},
		StatusCompleted: {
			EventArchive: StatusArchived,
		},
		StatusExpired: {
			EventRelist:  StatusApproved,
			EventArchive: StatusArchived,
		},
		StatusFlagged: {
			EventUnflag: StatusApproved,
			EventRemove: StatusRemoved,
		},
		StatusRemoved: {
			EventArchive: StatusArchived,
		},
		// ARCHIVED is the sole absorbing state.
		StatusArchived: {},
	},
}

// Definition returns the listing lifecycle table.
func Definition() *fsm.Definition[Status, Event] {
	return definition
}

// Machine rehydrates a listing machine at status.
func Machine(status Status) fsm.Machine[Status, Event] {
	return fsm.Rehydrate(definition, status, nil)
}

// Listing represents a marketplace listing. Status transitions are
// single-writer and admin-gated, so no version column is carried.
type Listing struct {
	ID          int64      `json:"id"`
	ListingID   uuid.UUID  `json:"listingId"`
	OwnerID     uuid.UUID  `json:"ownerId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	PriceCents  int64      `json:"priceCents"`
	Status      Status     `json:"status"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// New creates a draft listing.
func New(ownerID uuid.UUID, title, description string, priceCents int64) *Listing {
	now := time.Now().UTC()
	return &Listing{
		ListingID:   uuid.New(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		PriceCents:  priceCents,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
