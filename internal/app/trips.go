// README: Trip and chat assembly shared by the API and the geofence worker.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"diomy/internal/logging"
	"diomy/internal/modules/actor"
	"diomy/internal/modules/chat"
	"diomy/internal/modules/trip"
	"diomy/internal/modules/wallet"
)

// Trips holds a trip service and the chat log it posts system notices to.
type Trips struct {
	Trips *trip.Service
	Chat  *chat.Service
}

// NewTrips builds the Postgres-backed trip and chat services.
func NewTrips(db *pgxpool.Pool, d trip.Deps) Trips {
	store := trip.NewStore(db, wallet.NewStore(db), actor.NewStore(db))
	return WireTrips(store, chat.NewStore(db), d)
}

// WireTrips attaches the chat log to the trip service. Chat reads trips from
// the repository, never from the service, so neither needs the other first.
func WireTrips(trips trip.Repository, messages chat.Repository, d trip.Deps) Trips {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	chatSvc := chat.NewService(messages, trips, d.Feed, d.Log)
	d.Chat = chatSvc
	return Trips{Trips: trip.NewService(trips, d), Chat: chatSvc}
}
