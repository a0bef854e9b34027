// README: Push notification collaborator. Fire-and-forget: failures are logged,
// never returned to the trip flow.
package notify

import (
	"context"

	"diomy/internal/types"
)

type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

type Pusher interface {
	Push(ctx context.Context, actorID types.ID, n Notification)
}

// TokenSource resolves an actor's device token.
type TokenSource interface {
	PushToken(ctx context.Context, actorID types.ID) (string, error)
}

type Nop struct{}

func (Nop) Push(context.Context, types.ID, Notification) {}
