package audit

import "context"

// Filter narrows audit log queries.
type Filter struct {
	EntityType *EntityType
	EntityID   *string
	Action     *Action
	Actor      *string
}

// Repository defines persistence for audit logs.
type Repository interface {
	Append(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*AuditLog, error)
}
