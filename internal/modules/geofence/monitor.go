// README: Geofence monitor turns provider position samples into one-shot
// arrival and proximity events for the provider's current trip.
package geofence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"diomy/internal/config"
	"diomy/internal/geo"
	"diomy/internal/modules/location"
	"diomy/internal/modules/notify"
	"diomy/internal/modules/trip"
	"diomy/internal/observability"
	"diomy/internal/types"
)

type Kind string

const (
	KindArrival   Kind = "arrival"
	KindProximity Kind = "proximity"
)

type Event struct {
	Kind       Kind
	TripID     types.ID
	ProviderID types.ID
	DistanceM  float64
	At         time.Time
}

type Trips interface {
	ActiveForProvider(ctx context.Context, providerID types.ID) (*trip.Trip, error)
	RecordArrival(ctx context.Context, tripID types.ID) (bool, error)
	RecordProximity(ctx context.Context, tripID types.ID) (bool, error)
}

type Odometer interface {
	Track(ctx context.Context, tripID types.ID, p types.Point) (int64, error)
	Reset(ctx context.Context, tripID types.ID) error
}

type Monitor struct {
	trips    Trips
	odometer Odometer
	push     notify.Pusher
	cfg      config.GeofenceConfig
	log      *slog.Logger

	// done caches events already settled so repeat samples skip the store.
	// The persisted flags on the trip row remain the source of truth.
	mu      sync.Mutex
	done    map[doneKey]struct{}
	current map[types.ID]types.ID // provider -> active trip
}

type doneKey struct {
	trip types.ID
	kind Kind
}

func NewMonitor(trips Trips, odometer Odometer, push notify.Pusher, cfg config.GeofenceConfig, log *slog.Logger) *Monitor {
	if push == nil {
		push = notify.Nop{}
	}
	return &Monitor{
		trips:    trips,
		odometer: odometer,
		push:     push,
		cfg:      cfg,
		log:      log,
		done:     make(map[doneKey]struct{}),
		current:  make(map[types.ID]types.ID),
	}
}

// Handle evaluates one sample against the provider's active trip and returns
// the events that fired because of it.
func (m *Monitor) Handle(ctx context.Context, s location.Sample) ([]Event, error) {
	t, err := m.trips.ActiveForProvider(ctx, s.ProviderID)
	if errors.Is(err, trip.ErrNotFound) {
		m.rotate(ctx, s.ProviderID, "")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.rotate(ctx, s.ProviderID, t.ID)

	var events []Event
	switch t.Status {
	case trip.StatusAccepted:
		ev, err := m.checkArrival(ctx, t, s)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	case trip.StatusInProgress:
		if m.odometer != nil {
			if _, err := m.odometer.Track(ctx, t.ID, s.Position); err != nil {
				m.log.Warn("odometer track", "trip_id", t.ID, "err", err)
			}
		}
		if t.ServiceType != types.ServiceDelivery {
			break
		}
		ev, err := m.checkProximity(ctx, t, s)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

func (m *Monitor) checkArrival(ctx context.Context, t *trip.Trip, s location.Sample) (*Event, error) {
	if t.ArrivedAt != nil || m.settled(t.ID, KindArrival) {
		return nil, nil
	}
	d := geo.HaversineMeters(s.Position, t.Pickup)
	if d >= m.cfg.ArrivalRadiusM {
		return nil, nil
	}
	fired, err := m.trips.RecordArrival(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	m.settle(t.ID, KindArrival)
	if !fired {
		return nil, nil
	}
	observability.GeofenceEvents.WithLabelValues(string(KindArrival)).Inc()
	m.log.Info("provider arrived at pickup", "trip_id", t.ID, "provider_id", s.ProviderID, "distance_m", d)
	return &Event{Kind: KindArrival, TripID: t.ID, ProviderID: s.ProviderID, DistanceM: d, At: s.Timestamp}, nil
}

func (m *Monitor) checkProximity(ctx context.Context, t *trip.Trip, s location.Sample) (*Event, error) {
	if t.ProximityNotifiedAt != nil || m.settled(t.ID, KindProximity) {
		return nil, nil
	}
	d := geo.HaversineMeters(s.Position, t.Dropoff)
	if d >= m.cfg.ProximityRadiusM {
		return nil, nil
	}
	fired, err := m.trips.RecordProximity(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	m.settle(t.ID, KindProximity)
	if !fired {
		return nil, nil
	}
	observability.GeofenceEvents.WithLabelValues(string(KindProximity)).Inc()
	m.push.Push(ctx, t.RequesterID, notify.Notification{
		Title: "Your parcel is almost there",
		Body:  "The courier is close to the delivery point.",
		Data: map[string]string{
			"type":    "delivery_nearby",
			"trip_id": string(t.ID),
		},
	})
	return &Event{Kind: KindProximity, TripID: t.ID, ProviderID: s.ProviderID, DistanceM: d, At: s.Timestamp}, nil
}

func (m *Monitor) settled(tripID types.ID, k Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.done[doneKey{tripID, k}]
	return ok
}

func (m *Monitor) settle(tripID types.ID, k Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[doneKey{tripID, k}] = struct{}{}
}

// rotate records the provider's current trip and releases cached state of
// the previous one once it is no longer active.
func (m *Monitor) rotate(ctx context.Context, providerID, tripID types.ID) {
	m.mu.Lock()
	prev := m.current[providerID]
	if tripID == "" {
		delete(m.current, providerID)
	} else {
		m.current[providerID] = tripID
	}
	if prev != "" && prev != tripID {
		delete(m.done, doneKey{prev, KindArrival})
		delete(m.done, doneKey{prev, KindProximity})
	}
	m.mu.Unlock()

	if prev != "" && prev != tripID && m.odometer != nil {
		if err := m.odometer.Reset(ctx, prev); err != nil {
			m.log.Warn("odometer reset", "trip_id", prev, "err", err)
		}
	}
}
