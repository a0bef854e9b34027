// README: Per-trip chat log shared by the parties and by system notices.
package chat

import (
	"time"

	"diomy/internal/types"
)

type Kind string

const (
	KindUser   Kind = "user"
	KindSystem Kind = "system"
)

const MaxContentLength = 1000

type Message struct {
	ID        types.ID  `json:"id"`
	TripID    types.ID  `json:"trip_id"`
	SenderID  *types.ID `json:"sender_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
