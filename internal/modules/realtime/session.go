// README: Realtime session: one event loop per connected client that folds the
// change feed into an explicit per-trip state and emits client directives.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"diomy/internal/geo"
	"diomy/internal/maps"
	"diomy/internal/modules/actor"
	"diomy/internal/modules/chat"
	"diomy/internal/modules/feed"
	"diomy/internal/modules/trip"
	"diomy/internal/observability"
	"diomy/internal/types"
)

type Trips interface {
	ActiveFor(ctx context.Context, actorID types.ID) (*trip.Trip, error)
	LastEndedFor(ctx context.Context, actorID types.ID, since time.Time) (*trip.Trip, error)
}

type Profiles interface {
	PublicProfile(ctx context.Context, id types.ID) (actor.Profile, error)
}

type Routes interface {
	Route(ctx context.Context, from, to types.Point) (maps.Route, error)
}

// Positions resolves a provider's last known position.
type Positions interface {
	Position(ctx context.Context, providerID types.ID) (types.Point, bool, error)
}

type Deps struct {
	Feed      feed.Subscriber
	Trips     Trips
	Profiles  Profiles
	Routes    Routes
	Positions Positions
	Countdown time.Duration
	// ReplayWindow bounds how far back a reconnect looks for a trip that
	// ended while the client was away, when the client does not say.
	ReplayWindow time.Duration
	Log          *slog.Logger
}

const (
	defaultCountdown    = 30 * time.Second
	defaultReplayWindow = 10 * time.Minute
)

type timerKind int

const (
	timerCountdown timerKind = iota
	timerWaiting
)

type timerTick struct {
	tripID types.ID
	kind   timerKind
	gen    uint64
}

type timer struct {
	gen  uint64
	stop func()
}

// tripState is everything the session knows about one trip.
type tripState struct {
	trip trip.Trip

	prompted  bool
	offeredAt time.Time // offer the prompt belongs to
	remaining int64

	countdown *timer
	waiting   *timer
}

type Session struct {
	actorID types.ID
	sink    Sink
	deps    Deps

	now  func() time.Time
	tick func(d time.Duration) (<-chan time.Time, func())

	// since is the last moment the client reports having been in sync.
	since time.Time

	ticks chan timerTick
	gen   uint64
	trips map[types.ID]*tripState
	// ended holds trips already seen in a terminal status. Nothing about
	// them is applied again.
	ended map[types.ID]trip.Status
}

func NewSession(actorID types.ID, sink Sink, deps Deps) *Session {
	if deps.Countdown <= 0 {
		deps.Countdown = defaultCountdown
	}
	if deps.ReplayWindow <= 0 {
		deps.ReplayWindow = defaultReplayWindow
	}
	return &Session{
		actorID: actorID,
		sink:    sink,
		deps:    deps,
		now:     time.Now,
		tick:    realTicker,
		ticks:   make(chan timerTick),
		trips:   make(map[types.ID]*tripState),
		ended:   make(map[types.ID]trip.Status),
	}
}

// Since records when the client last saw its state. A trip that ended after
// it is replayed on connect.
func (s *Session) Since(t time.Time) *Session {
	s.since = t
	return s
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Run serves the session until ctx is done, the feed closes or the sink
// fails. All timers are stopped on return.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, closeFeed, err := s.deps.Feed.Subscribe(ctx, s.actorID)
	if err != nil {
		return err
	}
	defer closeFeed()
	defer s.stopAll()

	observability.RealtimeSessions.Inc()
	defer observability.RealtimeSessions.Dec()

	if err := s.resync(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.handle(ctx, ev); err != nil {
				return err
			}
		case tk := <-s.ticks:
			if err := s.onTick(ctx, tk); err != nil {
				return err
			}
		}
	}
}

// resync restores the client after (re)connecting. The feed is already
// subscribed so nothing published meanwhile is lost. With no active trip, a
// trip that ended while the client was away is replayed so its summary or
// cancellation alert still reaches it.
func (s *Session) resync(ctx context.Context) error {
	t, err := s.deps.Trips.ActiveFor(ctx, s.actorID)
	if errors.Is(err, trip.ErrNotFound) {
		t, err = s.deps.Trips.LastEndedFor(ctx, s.actorID, s.replayFrom())
		if errors.Is(err, trip.ErrNotFound) {
			return s.send(ctx, Directive{Kind: KindView, View: ViewIdle})
		}
	}
	if err != nil {
		return fmt.Errorf("realtime: resync: %w", err)
	}
	return s.applyTrip(ctx, t)
}

func (s *Session) replayFrom() time.Time {
	floor := s.now().Add(-s.deps.ReplayWindow)
	if s.since.After(floor) {
		return s.since
	}
	return floor
}

func (s *Session) handle(ctx context.Context, ev feed.ChangeEvent) error {
	switch ev.Table {
	case feed.TableTrips:
		var t trip.Trip
		if err := json.Unmarshal(ev.Row, &t); err != nil {
			s.deps.Log.Warn("realtime: drop malformed trip row", "actor_id", s.actorID, "err", err)
			return nil
		}
		return s.applyTrip(ctx, &t)
	case feed.TableChatMessages:
		if ev.Type != feed.EventInsert {
			return nil
		}
		var m chat.Message
		if err := json.Unmarshal(ev.Row, &m); err != nil {
			s.deps.Log.Warn("realtime: drop malformed chat row", "actor_id", s.actorID, "err", err)
			return nil
		}
		return s.send(ctx, Directive{Kind: KindChat, TripID: m.TripID, Chat: &m})
	}
	return nil
}

func (s *Session) applyTrip(ctx context.Context, t *trip.Trip) error {
	// Last terminal wins: once completed or cancelled, later deliveries
	// describing any other state are stale.
	if _, done := s.ended[t.ID]; done {
		return nil
	}

	st := s.trips[t.ID]
	fresh := st == nil
	prev := trip.StatusNone
	var old trip.Trip
	if st != nil {
		if !t.Status.Terminal() && t.StatusVersion < st.trip.StatusVersion {
			return nil
		}
		if t.StatusVersion == st.trip.StatusVersion {
			keepMonotonic(&st.trip, t)
		}
		prev = st.trip.Status
		old = st.trip
	} else {
		st = &tripState{}
		s.trips[t.ID] = st
	}
	st.trip = *t

	if err := s.offer(ctx, st); err != nil {
		return err
	}
	role, party := t.RoleOf(s.actorID)
	if !party {
		if !st.prompted && !t.IsCandidate(s.actorID) {
			s.release(st)
		}
		return nil
	}

	if t.Status != prev {
		if err := s.enter(ctx, st, role); err != nil {
			return err
		}
	}
	if t.Status.Terminal() {
		return nil
	}
	if !fresh && old.ArrivedAt == nil && t.ArrivedAt != nil && t.Status == trip.StatusAccepted {
		if err := s.send(ctx, Directive{Kind: KindVibrate, TripID: t.ID, Message: "The provider is at the pickup point."}); err != nil {
			return err
		}
	}
	return s.syncWaiting(ctx, st)
}

// offer handles the incoming-request prompt of a provider candidate.
func (s *Session) offer(ctx context.Context, st *tripState) error {
	t := &st.trip
	offered := t.Status == trip.StatusPending && t.IsCandidate(s.actorID)

	if !offered {
		if st.prompted {
			st.prompted = false
			s.stopTimer(&st.countdown)
			// Accepting is the one way out of a prompt that is not a dismissal.
			if t.ProviderID == nil || *t.ProviderID != s.actorID {
				return s.send(ctx, Directive{Kind: KindPromptDismissed, TripID: t.ID})
			}
		}
		return nil
	}

	var offeredAt time.Time
	if t.OfferedAt != nil {
		offeredAt = *t.OfferedAt
	}
	if st.prompted || (!st.offeredAt.IsZero() && st.offeredAt.Equal(offeredAt)) {
		return nil
	}
	if s.busyAsProvider(t.ID) {
		return nil
	}
	remaining := s.secondsLeft(offeredAt)
	if remaining <= 0 {
		return nil
	}

	st.prompted = true
	st.offeredAt = offeredAt
	st.remaining = remaining
	view := t.ViewFor(s.actorID)
	if err := s.send(ctx, Directive{Kind: KindIncomingRequest, TripID: t.ID, Trip: &view}); err != nil {
		return err
	}
	if err := s.send(ctx, Directive{Kind: KindCountdown, TripID: t.ID, Seconds: remaining}); err != nil {
		return err
	}
	st.countdown = s.startTimer(ctx, t.ID, timerCountdown)
	return nil
}

// enter reacts to a status the client has not seen yet.
func (s *Session) enter(ctx context.Context, st *tripState, role types.Role) error {
	t := &st.trip
	view := t.ViewFor(s.actorID)

	switch t.Status {
	case trip.StatusCompleted:
		s.release(st)
		if err := s.send(ctx, Directive{Kind: KindView, TripID: t.ID, View: ViewSummary, Trip: &view}); err != nil {
			return err
		}
		return s.send(ctx, Directive{Kind: KindSummary, TripID: t.ID, Trip: &view})
	case trip.StatusCancelled:
		s.release(st)
		msg := "The trip was cancelled."
		if t.CancelReason != nil && *t.CancelReason != "" {
			msg = "The trip was cancelled: " + *t.CancelReason
		}
		if err := s.send(ctx, Directive{Kind: KindAlert, TripID: t.ID, Message: msg}); err != nil {
			return err
		}
		return s.send(ctx, Directive{Kind: KindView, View: ViewIdle})
	}

	if err := s.send(ctx, Directive{Kind: KindView, TripID: t.ID, View: viewFor(t.Status), Trip: &view}); err != nil {
		return err
	}
	if t.Status != trip.StatusAccepted && t.Status != trip.StatusInProgress {
		return nil
	}
	if err := s.partner(ctx, t); err != nil {
		return err
	}
	if role == types.RoleProvider {
		return s.route(ctx, t)
	}
	return nil
}

func (s *Session) partner(ctx context.Context, t *trip.Trip) error {
	id, ok := t.Partner(s.actorID)
	if !ok || s.deps.Profiles == nil {
		return nil
	}
	p, err := s.deps.Profiles.PublicProfile(ctx, id)
	if err != nil {
		s.deps.Log.Warn("realtime: partner profile", "trip_id", t.ID, "err", err)
		return s.send(ctx, Directive{Kind: KindAlert, TripID: t.ID, Message: "Partner details are unavailable right now."})
	}
	return s.send(ctx, Directive{Kind: KindPartner, TripID: t.ID, Partner: &p})
}

// route recomputes the provider's current leg: to pickup once accepted, to
// dropoff once in progress.
func (s *Session) route(ctx context.Context, t *trip.Trip) error {
	dest := t.Pickup
	if t.Status == trip.StatusInProgress {
		dest = t.Dropoff
	}
	from, ok := t.Pickup, false
	if s.deps.Positions != nil {
		p, found, err := s.deps.Positions.Position(ctx, s.actorID)
		if err != nil {
			s.deps.Log.Warn("realtime: provider position", "trip_id", t.ID, "err", err)
		}
		if found {
			from, ok = p, true
		}
	}
	if !ok && t.Status == trip.StatusAccepted {
		// No fix yet; nothing sensible to draw to the pickup.
		return nil
	}

	var r maps.Route
	var err error
	if s.deps.Routes != nil {
		r, err = s.deps.Routes.Route(ctx, from, dest)
	} else {
		err = errors.New("no route provider")
	}
	if err != nil {
		s.deps.Log.Warn("realtime: route recomputation", "trip_id", t.ID, "err", err)
		if err := s.send(ctx, Directive{Kind: KindAlert, TripID: t.ID, Message: "Route unavailable, showing a direct estimate."}); err != nil {
			return err
		}
		r = maps.Route{DistanceMeters: int64(math.Round(geo.HaversineMeters(from, dest)))}
		return s.send(ctx, Directive{Kind: KindRoute, TripID: t.ID, Route: &r, Degraded: true})
	}
	return s.send(ctx, Directive{Kind: KindRoute, TripID: t.ID, Route: &r})
}

// syncWaiting runs the waiting-second counter while a trip is paused.
func (s *Session) syncWaiting(ctx context.Context, st *tripState) error {
	t := &st.trip
	switch {
	case t.PausedAt != nil && st.waiting == nil:
		st.waiting = s.startTimer(ctx, t.ID, timerWaiting)
		return s.send(ctx, Directive{Kind: KindWaiting, TripID: t.ID, Seconds: s.waitedSeconds(t)})
	case t.PausedAt == nil && st.waiting != nil:
		s.stopTimer(&st.waiting)
		return s.send(ctx, Directive{Kind: KindWaiting, TripID: t.ID, Seconds: t.WaitingSeconds})
	}
	return nil
}

func (s *Session) onTick(ctx context.Context, tk timerTick) error {
	st := s.trips[tk.tripID]
	if st == nil {
		return nil
	}
	switch tk.kind {
	case timerCountdown:
		if st.countdown == nil || st.countdown.gen != tk.gen {
			return nil
		}
		st.remaining--
		if st.remaining > 0 {
			return s.send(ctx, Directive{Kind: KindCountdown, TripID: tk.tripID, Seconds: st.remaining})
		}
		// Expiry is local only; what happens to the offer is up to dispatch.
		s.stopTimer(&st.countdown)
		st.prompted = false
		return s.send(ctx, Directive{Kind: KindPromptDismissed, TripID: tk.tripID})
	case timerWaiting:
		if st.waiting == nil || st.waiting.gen != tk.gen {
			return nil
		}
		return s.send(ctx, Directive{Kind: KindWaiting, TripID: tk.tripID, Seconds: s.waitedSeconds(&st.trip)})
	}
	return nil
}

func (s *Session) startTimer(ctx context.Context, tripID types.ID, kind timerKind) *timer {
	s.gen++
	gen := s.gen
	c, stopTicker := s.tick(time.Second)
	done := make(chan struct{})
	go func() {
		defer stopTicker()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-c:
				select {
				case s.ticks <- timerTick{tripID: tripID, kind: kind, gen: gen}:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return &timer{gen: gen, stop: sync.OnceFunc(func() { close(done) })}
}

func (s *Session) stopTimer(t **timer) {
	if *t != nil {
		(*t).stop()
		*t = nil
	}
}

// release stops the trip's timers and forgets it, leaving a tombstone for
// terminal trips.
func (s *Session) release(st *tripState) {
	s.stopTimer(&st.countdown)
	s.stopTimer(&st.waiting)
	if st.trip.Status.Terminal() {
		s.ended[st.trip.ID] = st.trip.Status
	}
	delete(s.trips, st.trip.ID)
}

func (s *Session) stopAll() {
	for _, st := range s.trips {
		s.stopTimer(&st.countdown)
		s.stopTimer(&st.waiting)
	}
}

func (s *Session) busyAsProvider(except types.ID) bool {
	for id, st := range s.trips {
		if id == except {
			continue
		}
		t := &st.trip
		if t.ProviderID != nil && *t.ProviderID == s.actorID && t.Status.Active() {
			return true
		}
	}
	return false
}

func (s *Session) secondsLeft(offeredAt time.Time) int64 {
	window := s.deps.Countdown
	if !offeredAt.IsZero() {
		window -= s.now().Sub(offeredAt)
	}
	return int64(math.Ceil(window.Seconds()))
}

func (s *Session) waitedSeconds(t *trip.Trip) int64 {
	w := t.WaitingSeconds
	if t.PausedAt != nil {
		if d := s.now().Sub(*t.PausedAt); d > 0 {
			w += int64(d / time.Second)
		}
	}
	return w
}

func (s *Session) send(ctx context.Context, d Directive) error {
	if err := s.sink.Send(ctx, d); err != nil {
		return fmt.Errorf("realtime: send %s: %w", d.Kind, err)
	}
	return nil
}

// keepMonotonic carries forward one-way flags when a same-version row
// arrives out of order.
func keepMonotonic(cur, next *trip.Trip) {
	if next.ArrivedAt == nil {
		next.ArrivedAt = cur.ArrivedAt
	}
	if next.ProximityNotifiedAt == nil {
		next.ProximityNotifiedAt = cur.ProximityNotifiedAt
	}
	if next.TraveledDistanceM < cur.TraveledDistanceM {
		next.TraveledDistanceM = cur.TraveledDistanceM
	}
}
