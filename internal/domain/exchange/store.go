// Package exchange defines the transactional persistence contract for
// request lifecycle transitions. Every transition runs inside a single
// Store transaction so that row locks, status writes, counter updates
// and audit entries commit or roll back together.
package exchange

import (
	"context"

	"github.com/google/uuid"

	"github.com/campusswap/campusswap/internal/domain/audit"
	"github.com/campusswap/campusswap/internal/domain/dispute"
	"github.com/campusswap/campusswap/internal/domain/listing"
	"github.com/campusswap/campusswap/internal/domain/request"
)

// Tx is the set of operations available inside a transaction. LockRequest
// takes a row lock, so two concurrent transitions on the same request
// serialize at the store.
type Tx interface {
	// LockRequest loads a request and locks its row for the duration of
	// the transaction. Returns request.ErrNotFound if absent.
	LockRequest(ctx context.Context, requestID uuid.UUID) (*request.Request, error)

	InsertRequest(ctx context.Context, req *request.Request) error

	// UpdateRequestStatus writes the new status and bumps the version.
	UpdateRequestStatus(ctx context.Context, requestID uuid.UUID, status request.Status, version int64) error

	// GetListing loads a listing by public ID. Returns listing.ErrNotFound
	// if absent.
	GetListing(ctx context.Context, listingID uuid.UUID) (*listing.Listing, error)

	UpdateListingStatus(ctx context.Context, listingID uuid.UUID, status listing.Status) error

	// AcquireListingForRequest moves a listing from APPROVED to
	// INTEREST_RECEIVED only if it is still APPROVED, reporting whether
	// the write happened. Losers of a race see false, not an error.
	AcquireListingForRequest(ctx context.Context, listingID uuid.UUID) (bool, error)

	// CountActiveRequests counts requests on the listing whose status is
	// active, excluding the given request.
	CountActiveRequests(ctx context.Context, listingID, exclude uuid.UUID) (int, error)

	// BuyerHasActiveRequest reports whether the buyer already has an
	// active request on the listing.
	BuyerHasActiveRequest(ctx context.Context, listingID, buyerID uuid.UUID) (bool, error)

	// AddCompletedExchange increments the completed counter for each user.
	AddCompletedExchange(ctx context.Context, userIDs ...uuid.UUID) error

	AddCancelledRequest(ctx context.Context, userID uuid.UUID) error

	AddDisputeCount(ctx context.Context, userID uuid.UUID) error

	InsertDispute(ctx context.Context, d *dispute.Dispute) error

	AppendAudit(ctx context.Context, log *audit.AuditLog) error
}

// Store opens transactions. WithinTx commits when fn returns nil and
// rolls back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
