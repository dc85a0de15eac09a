package listing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows listing queries.
type Filter struct {
	OwnerID *uuid.UUID
	Status  *Status
}

// Repository defines the interface for listing persistence.
type Repository interface {
	Create(ctx context.Context, l *Listing) error
	GetByID(ctx context.Context, listingID uuid.UUID) (*Listing, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Listing, error)
	UpdateStatus(ctx context.Context, listingID uuid.UUID, status Status) error
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*Listing, error)
}
