package auditctx

import (
	"context"
	"strings"
)

// Actor identifies who triggered a folder mutation. The HTTP layer fills it from headers set by
// the upstream auth proxy.
type Actor struct {
	ID         string
	RemoteAddr string
	UserAgent  string
}

type actorContextKey struct{}

// WithActor injects actor metadata into the supplied context, returning a derived context that
// callers can pass down into service layers for event logging.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	actor.ID = strings.TrimSpace(actor.ID)
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ActorID returns the actor identifier stored in ctx, or fallback when none is present.
func ActorID(ctx context.Context, fallback string) string {
	if actor, ok := FromContext(ctx); ok && actor.ID != "" {
		return actor.ID
	}
	return fallback
}
