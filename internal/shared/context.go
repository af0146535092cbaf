package shared

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Actor is the authenticated caller supplied by the auth layer.
type Actor struct {
	CompanyID uuid.UUID
	UserID    uuid.UUID
}

// ErrNoActor indicates a request without caller context.
var ErrNoActor = errors.New("caller context missing")

// Validate ensures both identifiers are present.
func (a Actor) Validate() error {
	if a.CompanyID == uuid.Nil || a.UserID == uuid.Nil {
		return ErrNoActor
	}
	return nil
}

type actorContextKey struct{}

// ContextWithActor stores the caller in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the caller from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
