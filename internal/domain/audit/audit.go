package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the kind of record an audit entry refers to.
type EntityType string

const (
	EntityTypeListing EntityType = "LISTING"
	EntityTypeRequest EntityType = "REQUEST"
	EntityTypeDispute EntityType = "DISPUTE"
	EntityTypeUser    EntityType = "USER"
)

// Action identifies what happened to the entity.
type Action string

const (
	ActionCreate     Action = "CREATE"
	ActionTransition Action = "TRANSITION"
	ActionLogin      Action = "LOGIN"
	ActionLogout     Action = "LOGOUT"
)

// AuditLog is an immutable record of a state change or security event.
type AuditLog struct {
	ID         int64           `json:"id"`
	AuditID    uuid.UUID       `json:"auditId"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     Action          `json:"action"`
	Actor      string          `json:"actor"`
	ActorRole  string          `json:"actorRole,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// TransitionMetadata is the Metadata payload recorded for every
// ActionTransition entry.
type TransitionMetadata struct {
	Event       string `json:"event"`
	FromStatus  string `json:"fromStatus"`
	ToStatus    string `json:"toStatus"`
	FromVersion int64  `json:"fromVersion,omitempty"`
	ToVersion   int64  `json:"toVersion,omitempty"`
}

// Entry is the input for appending a new audit log.
type Entry struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	Actor      string
	ActorRole  string
	Metadata   any
}

// NewLog builds an AuditLog from an Entry, marshalling its metadata.
func NewLog(entry Entry, now time.Time) (*AuditLog, error) {
	var meta json.RawMessage
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, err
		}
		meta = data
	}
	return &AuditLog{
		AuditID:    uuid.New(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Actor:      entry.Actor,
		ActorRole:  entry.ActorRole,
		Metadata:   meta,
		CreatedAt:  now.UTC(),
	}, nil
}
