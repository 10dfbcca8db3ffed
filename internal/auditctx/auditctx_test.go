package auditctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: " alice ", RemoteAddr: "10.0.0.1"})

	actor, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "alice", actor.ID)
	require.Equal(t, "10.0.0.1", actor.RemoteAddr)
	require.Equal(t, "alice", ActorID(ctx, "system"))
}

func TestActorIDFallback(t *testing.T) {
	require.Equal(t, "system", ActorID(context.Background(), "system"))
	require.Equal(t, "system", ActorID(nil, "system")) //nolint:staticcheck

	_, ok := FromContext(nil) //nolint:staticcheck
	require.False(t, ok)

	ctx := WithActor(nil, Actor{}) //nolint:staticcheck
	require.Equal(t, "system", ActorID(ctx, "system"))
}
