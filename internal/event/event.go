package event

import (
	"context"
	"time"
)

type Type string

const (
	TypeLoanOpened      Type = "loan.opened"
	TypeLoanClosed      Type = "loan.closed"
	TypeUserRegistered  Type = "user.registered"
	TypeUserCreated     Type = "user.created"
	TypeUserApproved    Type = "user.approved"
	TypeUserRoleChanged Type = "user.role_changed"
	TypeUserUpdated     Type = "user.updated"
	TypeUserDeleted     Type = "user.deleted"
	TypeBookCreated     Type = "book.created"
	TypeBookUpdated     Type = "book.updated"
	TypeBookDeleted     Type = "book.deleted"
)

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Resource   string    `json:"resource"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
	Actor      string    `json:"actor,omitempty"` // subject of the caller that caused it
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

type actorKey struct{}

// WithActor attaches the authenticated subject to ctx so services can stamp events.
func WithActor(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, actorKey{}, subject)
}

func ActorFrom(ctx context.Context) string {
	subject, _ := ctx.Value(actorKey{}).(string)
	return subject
}
