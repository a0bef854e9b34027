// README: Change-event feed: row-level insert/update events addressed to one actor.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"diomy/internal/types"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

type Table string

const (
	TableTrips        Table = "trips"
	TableChatMessages Table = "chat_messages"
)

type ChangeEvent struct {
	Type  EventType       `json:"event_type"`
	Table Table           `json:"table"`
	Row   json.RawMessage `json:"row"`
	At    time.Time       `json:"at"`
}

func NewEvent(typ EventType, table Table, row any) (ChangeEvent, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("feed: encode %s row: %w", table, err)
	}
	return ChangeEvent{Type: typ, Table: table, Row: raw, At: time.Now()}, nil
}

// Publisher delivers an event to a single recipient. Delivery is at-least-once
// with no ordering guarantee across rows.
type Publisher interface {
	Publish(ctx context.Context, recipient types.ID, ev ChangeEvent) error
}

// Subscriber streams events addressed to actorID until ctx is done or the
// returned close func is called.
type Subscriber interface {
	Subscribe(ctx context.Context, actorID types.ID) (<-chan ChangeEvent, func(), error)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, types.ID, ChangeEvent) error { return nil }
