package dispute

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows dispute queries.
type Filter struct {
	RequestID *uuid.UUID
	Status    *Status
}

// Repository defines the interface for dispute persistence.
type Repository interface {
	Create(ctx context.Context, d *Dispute) error
	GetByID(ctx context.Context, disputeID uuid.UUID) (*Dispute, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
}
