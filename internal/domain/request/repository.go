package request

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows request queries.
type Filter struct {
	ListingID *uuid.UUID
	BuyerID   *uuid.UUID
	SellerID  *uuid.UUID
	Status    *Status
}

// Repository defines the read-side interface for request persistence. Writes
// to status and version go through the exchange store only.
type Repository interface {
	GetByID(ctx context.Context, requestID uuid.UUID) (*Request, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Request, error)
}
