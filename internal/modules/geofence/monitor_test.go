package geofence

import (
	"context"
	"sync"
	"testing"
	"time"

	"diomy/internal/config"
	"diomy/internal/logging"
	"diomy/internal/modules/location"
	"diomy/internal/modules/notify"
	"diomy/internal/modules/trip"
	"diomy/internal/types"
)

// memTrips mimics the persisted check-and-set flags of the trip store.
type memTrips struct {
	mu          sync.Mutex
	byProvider  map[types.ID]*trip.Trip
	arrivals    int
	proximities int
}

func (m *memTrips) ActiveForProvider(_ context.Context, id types.ID) (*trip.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byProvider[id]
	if !ok {
		return nil, trip.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTrips) RecordArrival(_ context.Context, id types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byProvider {
		if t.ID == id && t.Status == trip.StatusAccepted && t.ArrivedAt == nil {
			now := time.Now()
			t.ArrivedAt = &now
			m.arrivals++
			return true, nil
		}
	}
	return false, nil
}

func (m *memTrips) RecordProximity(_ context.Context, id types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byProvider {
		if t.ID == id && t.Status == trip.StatusInProgress && t.ProximityNotifiedAt == nil {
			now := time.Now()
			t.ProximityNotifiedAt = &now
			m.proximities++
			return true, nil
		}
	}
	return false, nil
}

type memOdometer struct {
	tracked map[types.ID]int
	reset   []types.ID
}

func (o *memOdometer) Track(_ context.Context, id types.ID, _ types.Point) (int64, error) {
	o.tracked[id]++
	return 0, nil
}

func (o *memOdometer) Reset(_ context.Context, id types.ID) error {
	o.reset = append(o.reset, id)
	return nil
}

type memPusher struct {
	to []types.ID
}

func (p *memPusher) Push(_ context.Context, id types.ID, _ notify.Notification) {
	p.to = append(p.to, id)
}

var (
	pickup  = types.Point{Lat: 5.3600, Lng: -4.0083}
	dropoff = types.Point{Lat: 5.3450, Lng: -4.0240}
)

// offset moves p north by roughly meters.
func offset(p types.Point, meters float64) types.Point {
	return types.Point{Lat: p.Lat + meters/111195.0, Lng: p.Lng}
}

func newMonitor(t *trip.Trip) (*Monitor, *memTrips, *memOdometer, *memPusher) {
	trips := &memTrips{byProvider: map[types.ID]*trip.Trip{"prov": t}}
	odo := &memOdometer{tracked: map[types.ID]int{}}
	push := &memPusher{}
	cfg := config.GeofenceConfig{ArrivalRadiusM: 50, ProximityRadiusM: 500}
	return NewMonitor(trips, odo, push, cfg, logging.Nop()), trips, odo, push
}

func sample(p types.Point) location.Sample {
	return location.Sample{ProviderID: "prov", Position: p, Timestamp: time.Now()}
}

func TestArrival_FiresOnceWhenThresholdFirstCrossed(t *testing.T) {
	prov := types.ID("prov")
	tr := &trip.Trip{ID: "t1", ServiceType: types.ServiceTransport, Status: trip.StatusAccepted,
		RequesterID: "req", ProviderID: &prov, Pickup: pickup, Dropoff: dropoff}
	m, trips, _, _ := newMonitor(tr)
	ctx := context.Background()

	path := []float64{400, 120, 60, 49, 10, 0, 30}
	var fired int
	for _, d := range path {
		evs, err := m.Handle(ctx, sample(offset(pickup, d)))
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		for _, ev := range evs {
			if ev.Kind != KindArrival {
				t.Fatalf("unexpected event %s", ev.Kind)
			}
			if d != 49 {
				t.Fatalf("arrival fired at %.0f m, want first sample under 50 m", d)
			}
			fired++
		}
	}
	if fired != 1 || trips.arrivals != 1 {
		t.Fatalf("arrival fired %d times (store %d), want exactly once", fired, trips.arrivals)
	}
}

func TestArrival_NotOnBoundary(t *testing.T) {
	prov := types.ID("prov")
	tr := &trip.Trip{ID: "t1", Status: trip.StatusAccepted, ProviderID: &prov, Pickup: pickup}
	m, trips, _, _ := newMonitor(tr)

	// Exactly on the radius is not "closer than".
	if evs, _ := m.Handle(context.Background(), sample(offset(pickup, 50.5))); len(evs) != 0 || trips.arrivals != 0 {
		t.Fatal("arrival must require distance < radius")
	}
}

func TestArrival_RestartDoesNotRefire(t *testing.T) {
	prov := types.ID("prov")
	tr := &trip.Trip{ID: "t1", Status: trip.StatusAccepted, ProviderID: &prov, Pickup: pickup}
	m, trips, odo, push := newMonitor(tr)
	ctx := context.Background()

	if evs, _ := m.Handle(ctx, sample(pickup)); len(evs) != 1 {
		t.Fatal("expected arrival")
	}
	// A fresh monitor (worker restart) consults the persisted flag.
	fresh := NewMonitor(trips, odo, push, m.cfg, logging.Nop())
	if evs, _ := fresh.Handle(ctx, sample(pickup)); len(evs) != 0 {
		t.Fatal("arrival refired after restart")
	}
	if trips.arrivals != 1 {
		t.Fatalf("store recorded %d arrivals", trips.arrivals)
	}
}

func TestProximity_DeliveryOnlyAndPushesRequester(t *testing.T) {
	prov := types.ID("prov")
	tr := &trip.Trip{ID: "t2", ServiceType: types.ServiceDelivery, Status: trip.StatusInProgress,
		RequesterID: "req", ProviderID: &prov, Pickup: pickup, Dropoff: dropoff}
	m, trips, odo, push := newMonitor(tr)
	ctx := context.Background()

	for _, d := range []float64{2000, 800, 450, 200, 20} {
		if _, err := m.Handle(ctx, sample(offset(dropoff, d))); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if trips.proximities != 1 {
		t.Fatalf("proximity fired %d times", trips.proximities)
	}
	if len(push.to) != 1 || push.to[0] != "req" {
		t.Fatalf("expected a single push to the requester, got %v", push.to)
	}
	if odo.tracked["t2"] != 5 {
		t.Fatalf("odometer saw %d samples, want 5", odo.tracked["t2"])
	}
}

func TestProximity_TransportIgnored(t *testing.T) {
	prov := types.ID("prov")
	tr := &trip.Trip{ID: "t3", ServiceType: types.ServiceTransport, Status: trip.StatusInProgress,
		RequesterID: "req", ProviderID: &prov, Dropoff: dropoff}
	m, trips, _, push := newMonitor(tr)

	if evs, _ := m.Handle(context.Background(), sample(dropoff)); len(evs) != 0 {
		t.Fatal("transport trips have no proximity event")
	}
	if trips.proximities != 0 || len(push.to) != 0 {
		t.Fatal("no side effects expected")
	}
}

func TestProximity_NotWhileAccepted(t *testing.T) {
	prov := types.ID("prov")
	tr := &trip.Trip{ID: "t4", ServiceType: types.ServiceDelivery, Status: trip.StatusAccepted,
		ProviderID: &prov, Pickup: pickup, Dropoff: dropoff}
	m, trips, _, _ := newMonitor(tr)

	if _, err := m.Handle(context.Background(), sample(dropoff)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if trips.proximities != 0 {
		t.Fatal("proximity only applies in progress")
	}
}

func TestHandle_NoActiveTripResetsOdometer(t *testing.T) {
	prov := types.ID("prov")
	tr := &trip.Trip{ID: "t5", ServiceType: types.ServiceTransport, Status: trip.StatusInProgress,
		ProviderID: &prov, Dropoff: dropoff}
	m, trips, odo, _ := newMonitor(tr)
	ctx := context.Background()

	if _, err := m.Handle(ctx, sample(pickup)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	delete(trips.byProvider, "prov")
	if evs, err := m.Handle(ctx, sample(pickup)); err != nil || len(evs) != 0 {
		t.Fatalf("idle provider: evs=%v err=%v", evs, err)
	}
	if len(odo.reset) != 1 || odo.reset[0] != "t5" {
		t.Fatalf("expected odometer reset for t5, got %v", odo.reset)
	}
}
