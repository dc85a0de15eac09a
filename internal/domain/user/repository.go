package user

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows user queries.
type Filter struct {
	Role   *Role
	Status *Status
}

// Repository defines the interface for user persistence. The trust counters
// are written only by the exchange store inside its transaction boundary.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*User, error)
	Update(ctx context.Context, u *User) error
}
