// README: Directives are what a realtime session asks the connected client to do.
package realtime

import (
	"context"

	"diomy/internal/maps"
	"diomy/internal/modules/actor"
	"diomy/internal/modules/chat"
	"diomy/internal/modules/trip"
	"diomy/internal/types"
)

type Kind string

const (
	KindView            Kind = "view"
	KindIncomingRequest Kind = "incoming_request"
	KindCountdown       Kind = "countdown"
	KindPromptDismissed Kind = "prompt_dismissed"
	KindPartner         Kind = "partner"
	KindRoute           Kind = "route"
	KindVibrate         Kind = "vibrate"
	KindWaiting         Kind = "waiting"
	KindSummary         Kind = "summary"
	KindAlert           Kind = "alert"
	KindChat            Kind = "chat"
)

// View is the local screen state a trip status maps to.
type View string

const (
	ViewIdle     View = "idle"
	ViewWaiting  View = "awaiting_provider"
	ViewToPickup View = "to_pickup"
	ViewInTrip   View = "in_trip"
	ViewSummary  View = "summary"
)

type Directive struct {
	Kind    Kind           `json:"kind"`
	TripID  types.ID       `json:"trip_id,omitempty"`
	View    View           `json:"view,omitempty"`
	Trip    *trip.Trip     `json:"trip,omitempty"`
	Partner *actor.Profile `json:"partner,omitempty"`
	Route   *maps.Route    `json:"route,omitempty"`
	// Degraded marks a straight-line route used when the route provider failed.
	Degraded bool          `json:"degraded,omitempty"`
	Seconds  int64         `json:"seconds,omitempty"`
	Message  string        `json:"message,omitempty"`
	Chat     *chat.Message `json:"chat,omitempty"`
}

// Sink delivers directives to one client connection.
type Sink interface {
	Send(ctx context.Context, d Directive) error
}

func viewFor(s trip.Status) View {
	switch s {
	case trip.StatusPending:
		return ViewWaiting
	case trip.StatusAccepted:
		return ViewToPickup
	case trip.StatusInProgress:
		return ViewInTrip
	case trip.StatusCompleted:
		return ViewSummary
	default:
		return ViewIdle
	}
}
