package trip

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"diomy/internal/maps"
	"diomy/internal/modules/feed"
	"diomy/internal/modules/reliability"
	"diomy/internal/types"
)

type memRepo struct {
	mu          sync.Mutex
	trips       map[types.ID]*Trip
	events      []Event
	commissions map[types.ID]int64
	// beforeUpdate runs before each CAS write; tests use it to race a writer.
	beforeUpdate func(t *Trip)
	completeErr  error
	// scores is the actors' reliability column; scoreErr fails its writes.
	scores   memScores
	scoreErr error
}

func newMemRepo() *memRepo {
	return &memRepo{trips: map[types.ID]*Trip{}, commissions: map[types.ID]int64{}, scores: memScores{}}
}

func (m *memRepo) Create(_ context.Context, t *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.trips {
		if cur.RequesterID == t.RequesterID && cur.Status.Active() {
			return ErrActiveTrip
		}
	}
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memRepo) Update(_ context.Context, t *Trip, version int) (bool, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate(t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(t, version), nil
}

func (m *memRepo) write(t *Trip, version int) bool {
	cur, ok := m.trips[t.ID]
	if !ok || cur.StatusVersion != version {
		return false
	}
	cp := *t
	// Columns owned by dedicated atomic writes survive a CAS update.
	cp.TraveledDistanceM = cur.TraveledDistanceM
	cp.ArrivedAt = cur.ArrivedAt
	cp.ProximityNotifiedAt = cur.ProximityNotifiedAt
	cp.RatingByRequester = cur.RatingByRequester
	cp.RatingByProvider = cur.RatingByProvider
	cp.StatusVersion = version + 1
	m.trips[t.ID] = &cp
	return true
}

func (m *memRepo) Complete(_ context.Context, t *Trip, version int) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return 0, false, m.completeErr
	}
	if !m.write(t, version) {
		return 0, false, nil
	}
	m.commissions[t.ID] = *t.CommissionAmount
	return 1000 - *t.CommissionAmount, true, nil
}

func (m *memRepo) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memRepo) HasActiveByRequester(_ context.Context, id types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.RequesterID == id && t.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ActiveFor(_ context.Context, id types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.Status.Active() && (t.CanView(id)) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) ActiveForProvider(_ context.Context, id types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if (t.Status == StatusAccepted || t.Status == StatusInProgress) && t.ProviderID != nil && *t.ProviderID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) History(_ context.Context, id types.ID, limit int) ([]Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trip
	for _, t := range m.trips {
		if _, ok := t.RoleOf(id); ok && t.Status.Terminal() && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memRepo) ListExpiredOffers(_ context.Context, before time.Time, limit int) ([]Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trip
	for _, t := range m.trips {
		if t.Status == StatusPending && t.CandidateID != nil && t.OfferedAt != nil && t.OfferedAt.Before(before) && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memRepo) MarkArrived(_ context.Context, id types.ID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != StatusAccepted || t.ArrivedAt != nil {
		return false, nil
	}
	t.ArrivedAt = &at
	return true, nil
}

func (m *memRepo) MarkProximityNotified(_ context.Context, id types.ID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != StatusInProgress || t.ServiceType != types.ServiceDelivery || t.ProximityNotifiedAt != nil {
		return false, nil
	}
	t.ProximityNotifiedAt = &at
	return true, nil
}

func (m *memRepo) AddTraveledDistance(_ context.Context, id types.ID, meters int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != StatusInProgress {
		return false, nil
	}
	t.TraveledDistanceM += meters
	return true, nil
}

func (m *memRepo) LastEndedFor(_ context.Context, actorID types.ID, since time.Time) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Trip
	var bestAt time.Time
	for _, t := range m.trips {
		if t.RequesterID != actorID && derefID(t.ProviderID) != actorID {
			continue
		}
		var at *time.Time
		switch t.Status {
		case StatusCompleted:
			at = t.CompletedAt
		case StatusCancelled:
			at = t.CancelledAt
		}
		if at == nil || !at.After(since) || (best != nil && !at.After(bestAt)) {
			continue
		}
		best, bestAt = t, *at
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memRepo) Cancel(_ context.Context, t *Trip, version int, penalty *ScoreChange) (bool, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate(t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.trips[t.ID]; !ok || cur.StatusVersion != version {
		return false, nil
	}
	if penalty != nil {
		if m.scoreErr != nil {
			return false, m.scoreErr
		}
		m.scores.apply(*penalty)
	}
	return m.write(t, version), nil
}

func (m *memRepo) SetRating(_ context.Context, id types.ID, rater types.Role, stars int, change ScoreChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != StatusCompleted {
		return false, nil
	}
	var slot **int
	switch rater {
	case types.RoleRequester:
		slot = &t.RatingByRequester
	case types.RoleProvider:
		slot = &t.RatingByProvider
	default:
		return false, ErrBadRequest
	}
	if *slot != nil {
		return false, nil
	}
	if m.scoreErr != nil {
		return false, m.scoreErr
	}
	s := stars
	*slot = &s
	m.scores.apply(change)
	return true, nil
}

type published struct {
	recipient types.ID
	ev        feed.ChangeEvent
}

type memFeed struct {
	mu   sync.Mutex
	sent []published
}

func (f *memFeed) Publish(_ context.Context, r types.ID, ev feed.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{recipient: r, ev: ev})
	return nil
}

func (f *memFeed) to(r types.ID) []Trip {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Trip
	for _, p := range f.sent {
		if p.recipient != r {
			continue
		}
		var t Trip
		_ = json.Unmarshal(p.ev.Row, &t)
		out = append(out, t)
	}
	return out
}

type memChat struct {
	mu   sync.Mutex
	msgs map[types.ID][]string
}

func (c *memChat) PostSystem(_ context.Context, tripID types.ID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.msgs == nil {
		c.msgs = map[types.ID][]string{}
	}
	c.msgs[tripID] = append(c.msgs[tripID], content)
	return nil
}

type memScores map[types.ID]int

func (m memScores) apply(c ScoreChange) {
	cur, ok := m[c.ActorID]
	if !ok {
		cur = reliability.InitialScore
	}
	m[c.ActorID] = reliability.Apply(cur, c.Event)
}

type stubRoutes struct {
	route maps.Route
	err   error
}

func (s stubRoutes) Route(context.Context, types.Point, types.Point) (maps.Route, error) {
	return s.route, s.err
}
