// README: Trip service implements state transitions, guards and their side effects.
package trip

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"diomy/internal/geo"
	"diomy/internal/logging"
	"diomy/internal/maps"
	"diomy/internal/modules/feed"
	"diomy/internal/modules/pricing"
	"diomy/internal/modules/reliability"
	"diomy/internal/observability"
	"diomy/internal/types"
)

var (
	ErrNotFound             = errors.New("trip not found")
	ErrConflict             = errors.New("trip state conflict")
	ErrActiveTrip           = errors.New("actor already has an active trip")
	ErrBadRequest           = errors.New("bad request")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrVerificationMismatch = errors.New("verification code mismatch")
	ErrAlreadyRated         = errors.New("trip already rated by this actor")

	ErrNotParty        = fmt.Errorf("%w: actor is not party to the trip", ErrInvalidTransition)
	ErrArrivalRequired = fmt.Errorf("%w: provider has not arrived at pickup", ErrInvalidTransition)
	ErrNotPausable     = fmt.Errorf("%w: only transport trips can be paused", ErrInvalidTransition)
	ErrAlreadyPaused   = fmt.Errorf("%w: trip already paused", ErrInvalidTransition)
	ErrNotPaused       = fmt.Errorf("%w: trip is not paused", ErrInvalidTransition)
)

type Repository interface {
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	// Update writes the mutable columns of t if the stored status_version
	// still equals version, bumping it by one.
	Update(ctx context.Context, t *Trip, version int) (bool, error)
	// Complete is Update plus the provider commission debit, in one transaction.
	Complete(ctx context.Context, t *Trip, version int) (balanceAfter int64, ok bool, err error)
	AppendEvent(ctx context.Context, e *Event) error
	HasActiveByRequester(ctx context.Context, requesterID types.ID) (bool, error)
	ActiveFor(ctx context.Context, actorID types.ID) (*Trip, error)
	ActiveForProvider(ctx context.Context, providerID types.ID) (*Trip, error)
	// LastEndedFor returns the actor's most recent trip that completed or was
	// cancelled after since.
	LastEndedFor(ctx context.Context, actorID types.ID, since time.Time) (*Trip, error)
	History(ctx context.Context, actorID types.ID, limit int) ([]Trip, error)
	ListExpiredOffers(ctx context.Context, offeredBefore time.Time, limit int) ([]Trip, error)
	MarkArrived(ctx context.Context, id types.ID, at time.Time) (bool, error)
	MarkProximityNotified(ctx context.Context, id types.ID, at time.Time) (bool, error)
	AddTraveledDistance(ctx context.Context, id types.ID, meters int64) (bool, error)
	// Cancel is Update plus the canceller's penalty when one is due, in one
	// transaction.
	Cancel(ctx context.Context, t *Trip, version int, penalty *ScoreChange) (bool, error)
	// SetRating stores rater's stars and the rated party's score change
	// together. It reports false when rater already rated the trip.
	SetRating(ctx context.Context, id types.ID, rater types.Role, stars int, change ScoreChange) (bool, error)
}

// ScoreChange is a reliability event committed with the trip write that
// caused it.
type ScoreChange struct {
	ActorID types.ID
	Event   reliability.Event
}

type RouteProvider interface {
	Route(ctx context.Context, origin, destination types.Point) (maps.Route, error)
}

// SystemMessenger posts system notices into a trip's chat log.
type SystemMessenger interface {
	PostSystem(ctx context.Context, tripID types.ID, content string) error
}

type Deps struct {
	Pricing     *pricing.Calculator
	Routes      RouteProvider
	Chat        SystemMessenger
	Feed        feed.Publisher
	CancelGrace time.Duration
	Log         *slog.Logger
}

type Service struct {
	store   Repository
	pricing *pricing.Calculator
	routes  RouteProvider
	chat    SystemMessenger
	feed    feed.Publisher
	grace   time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewService(store Repository, d Deps) *Service {
	s := &Service{
		store:   store,
		pricing: d.Pricing,
		routes:  d.Routes,
		chat:    d.Chat,
		feed:    d.Feed,
		grace:   d.CancelGrace,
		log:     d.Log,
		now:     time.Now,
	}
	if s.pricing == nil {
		s.pricing = pricing.NewCalculator()
	}
	if s.feed == nil {
		s.feed = feed.Nop{}
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	return s
}

type QuoteCommand struct {
	ServiceType types.ServiceType
	PackageSize types.PackageSize
	Pickup      types.Point
	Dropoff     types.Point
}

type CreateCommand struct {
	RequesterID      types.ID
	CandidateID      types.ID
	ServiceType      types.ServiceType
	PackageSize      types.PackageSize
	Pickup           types.Point
	Dropoff          types.Point
	DestinationLabel string
}

type CompleteCommand struct {
	TripID           types.ID
	ProviderID       types.ID
	VerificationCode string
}

type CancelCommand struct {
	TripID  types.ID
	ActorID types.ID
	Reason  string
}

// Quote estimates the price from the predicted route distance. A route
// provider failure degrades to the straight-line distance with no polyline.
func (s *Service) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	if !cmd.ServiceType.Valid() || !cmd.Pickup.Valid() || !cmd.Dropoff.Valid() {
		return Quote{}, ErrBadRequest
	}
	if cmd.ServiceType == types.ServiceDelivery && !cmd.PackageSize.Valid() {
		return Quote{}, fmt.Errorf("%w: package size required for delivery", ErrBadRequest)
	}
	if cmd.ServiceType == types.ServiceTransport {
		cmd.PackageSize = ""
	}

	q := Quote{ServiceType: cmd.ServiceType, PackageSize: cmd.PackageSize, Currency: types.Currency}
	route, err := s.route(ctx, cmd.Pickup, cmd.Dropoff)
	if err != nil {
		s.log.Warn("route unavailable, using straight-line distance", "err", err)
		q.Degraded = true
		q.DistanceMeters = int64(math.Round(geo.HaversineMeters(cmd.Pickup, cmd.Dropoff)))
	} else {
		q.DistanceMeters = route.DistanceMeters
		q.Polyline = route.Polyline
	}

	fare, err := s.pricing.Estimate(pricing.FareRequest{
		ServiceType:    cmd.ServiceType,
		PackageSize:    cmd.PackageSize,
		DistanceMeters: q.DistanceMeters,
	})
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	q.EstimatedPrice = fare.TotalAmount
	q.Breakdown = fare.Breakdown
	return q, nil
}

// Create persists a pending trip offered to cmd.CandidateID. Candidate
// selection happens before this call; no trip exists without one.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Trip, error) {
	if cmd.RequesterID == "" || cmd.CandidateID == "" || cmd.RequesterID == cmd.CandidateID {
		return nil, ErrBadRequest
	}
	active, err := s.store.HasActiveByRequester(ctx, cmd.RequesterID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, s.reject("active_trip", ErrActiveTrip)
	}

	q, err := s.Quote(ctx, QuoteCommand{
		ServiceType: cmd.ServiceType,
		PackageSize: cmd.PackageSize,
		Pickup:      cmd.Pickup,
		Dropoff:     cmd.Dropoff,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	candidate := cmd.CandidateID
	t := &Trip{
		ID:                 types.ID(uuid.NewString()),
		ServiceType:        cmd.ServiceType,
		Status:             StatusPending,
		RequesterID:        cmd.RequesterID,
		CandidateID:        &candidate,
		Pickup:             cmd.Pickup,
		Dropoff:            cmd.Dropoff,
		DestinationLabel:   cmd.DestinationLabel,
		EstimatedPrice:     q.EstimatedPrice,
		EstimatedDistanceM: q.DistanceMeters,
		Currency:           types.Currency,
		PackageSize:        q.PackageSize,
		CreatedAt:          now,
		OfferedAt:          &now,
	}
	if t.ServiceType == types.ServiceDelivery {
		code, err := newVerificationCode()
		if err != nil {
			return nil, err
		}
		t.VerificationCode = code
	}
	if err := s.store.Create(ctx, t); err != nil {
		if errors.Is(err, ErrActiveTrip) {
			return nil, s.reject("active_trip", err)
		}
		return nil, err
	}

	s.recordEvent(ctx, t.ID, StatusNone, StatusPending, ByRequester, &cmd.RequesterID)
	observability.TripsCreated.WithLabelValues(string(t.ServiceType)).Inc()
	s.publish(ctx, t, feed.EventInsert, candidate)
	s.log.Info("trip created", "trip_id", t.ID, "service_type", t.ServiceType, "candidate_id", candidate)
	return t, nil
}

func (s *Service) Accept(ctx context.Context, tripID, providerID types.ID) (*Trip, error) {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, s.invalid(t.Status, StatusAccepted)
	}
	if !t.IsCandidate(providerID) {
		return nil, s.reject("not_party", ErrNotParty)
	}

	now := s.now()
	err = s.transition(ctx, t, StatusAccepted, ByProvider, &providerID, func(n *Trip) {
		p := providerID
		n.ProviderID = &p
		n.CandidateID = nil
		n.AcceptedAt = &now
	})
	if err != nil {
		return nil, err
	}
	s.system(ctx, t.ID, "Your provider accepted the trip and is on the way.")
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID, providerID)
	return t, nil
}

// Decline clears the candidate of a pending offer. The trip stays pending;
// what happens next is the dispatcher's decision.
func (s *Service) Decline(ctx context.Context, tripID, providerID types.ID) (*Trip, error) {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, s.invalid(t.Status, StatusPending)
	}
	if !t.IsCandidate(providerID) {
		return nil, s.reject("not_party", ErrNotParty)
	}
	if err := s.update(ctx, t, func(n *Trip) {
		n.CandidateID = nil
		n.OfferedAt = nil
	}); err != nil {
		return nil, err
	}
	s.log.Info("offer declined", "trip_id", t.ID, "provider_id", providerID)
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID, providerID)
	return t, nil
}

// Reoffer hands a pending trip to a new candidate and restarts its accept window.
func (s *Service) Reoffer(ctx context.Context, tripID, providerID types.ID) (*Trip, error) {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, s.invalid(t.Status, StatusPending)
	}
	if providerID == "" || providerID == t.RequesterID {
		return nil, ErrBadRequest
	}
	previous := t.CandidateID
	now := s.now()
	if err := s.update(ctx, t, func(n *Trip) {
		p := providerID
		n.CandidateID = &p
		n.OfferedAt = &now
	}); err != nil {
		return nil, err
	}
	if previous != nil && *previous != providerID {
		s.publish(ctx, t, feed.EventUpdate, *previous)
	}
	s.publish(ctx, t, feed.EventInsert, providerID)
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID)
	return t, nil
}

func (s *Service) Start(ctx context.Context, tripID, providerID types.ID) (*Trip, error) {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusAccepted {
		return nil, s.invalid(t.Status, StatusInProgress)
	}
	if role, ok := t.RoleOf(providerID); !ok || role != types.RoleProvider {
		return nil, s.reject("not_party", ErrNotParty)
	}
	// Arrival is informational for deliveries.
	if t.ServiceType == types.ServiceTransport && t.ArrivedAt == nil {
		return nil, s.reject("arrival_required", ErrArrivalRequired)
	}

	now := s.now()
	if err := s.transition(ctx, t, StatusInProgress, ByProvider, &providerID, func(n *Trip) {
		n.StartedAt = &now
	}); err != nil {
		return nil, err
	}
	s.system(ctx, t.ID, "Trip started.")
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID, providerID)
	return t, nil
}

func (s *Service) Pause(ctx context.Context, tripID, providerID types.ID) (*Trip, error) {
	t, err := s.inProgressForProvider(ctx, tripID, providerID)
	if err != nil {
		return nil, err
	}
	if t.ServiceType != types.ServiceTransport {
		return nil, s.reject("not_pausable", ErrNotPausable)
	}
	if t.PausedAt != nil {
		return nil, s.reject("already_paused", ErrAlreadyPaused)
	}
	now := s.now()
	if err := s.update(ctx, t, func(n *Trip) { n.PausedAt = &now }); err != nil {
		return nil, err
	}
	s.system(ctx, t.ID, "Trip paused. Waiting time is being counted.")
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID, providerID)
	return t, nil
}

func (s *Service) Resume(ctx context.Context, tripID, providerID types.ID) (*Trip, error) {
	t, err := s.inProgressForProvider(ctx, tripID, providerID)
	if err != nil {
		return nil, err
	}
	if t.PausedAt == nil {
		return nil, s.reject("not_paused", ErrNotPaused)
	}
	waited := elapsedSeconds(*t.PausedAt, s.now())
	if err := s.update(ctx, t, func(n *Trip) {
		n.WaitingSeconds += waited
		n.PausedAt = nil
	}); err != nil {
		return nil, err
	}
	s.system(ctx, t.ID, fmt.Sprintf("Trip resumed after %s of waiting.", time.Duration(waited)*time.Second))
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID, providerID)
	return t, nil
}

// Complete finalizes the fare from the distance actually travelled and the
// accumulated waiting time, then charges the provider's commission in the
// same transaction as the status change.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Trip, error) {
	t, err := s.inProgressForProvider(ctx, cmd.TripID, cmd.ProviderID)
	if err != nil {
		return nil, err
	}
	if t.ServiceType == types.ServiceDelivery &&
		subtle.ConstantTimeCompare([]byte(cmd.VerificationCode), []byte(t.VerificationCode)) != 1 {
		return nil, s.reject("verification_mismatch", ErrVerificationMismatch)
	}

	now := s.now()
	waiting := t.WaitingSeconds
	if t.PausedAt != nil {
		waiting += elapsedSeconds(*t.PausedAt, now)
	}
	fare, err := s.pricing.Finalize(pricing.FareRequest{
		ServiceType:    t.ServiceType,
		PackageSize:    t.PackageSize,
		DistanceMeters: t.TraveledDistanceM,
		WaitingSeconds: waiting,
	})
	if err != nil {
		return nil, fmt.Errorf("trip.Complete finalize fare: %w", err)
	}
	commission, err := s.pricing.Commission(t.ServiceType, fare.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("trip.Complete commission: %w", err)
	}

	version := t.StatusVersion
	next := *t
	next.Status = StatusCompleted
	next.Price = &fare.TotalAmount
	next.CommissionAmount = &commission
	next.WaitingSeconds = waiting
	next.PausedAt = nil
	next.CompletedAt = &now

	balance, ok, err := s.store.Complete(ctx, &next, version)
	if err != nil {
		observability.TripRejections.WithLabelValues("finalize_failed").Inc()
		return nil, fmt.Errorf("trip.Complete: %w", err)
	}
	if !ok {
		return nil, s.reject("conflict", ErrConflict)
	}
	next.StatusVersion = version + 1
	*t = next

	s.recordEvent(ctx, t.ID, StatusInProgress, StatusCompleted, ByProvider, &cmd.ProviderID)
	observability.TripTransitions.WithLabelValues(string(StatusCompleted)).Inc()
	if balance <= 0 {
		s.log.Info("provider balance exhausted, set offline", "provider_id", cmd.ProviderID)
	}
	s.system(ctx, t.ID, fmt.Sprintf("Trip completed. Price: %d %s.", fare.TotalAmount, types.Currency))
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID, cmd.ProviderID)
	return t, nil
}

// Cancel lets either party cancel a non-terminal trip. Cancelling once the
// grace window has elapsed costs the canceller reliability.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Trip, error) {
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, s.invalid(t.Status, StatusCancelled)
	}
	role, ok := t.RoleOf(cmd.ActorID)
	if !ok {
		return nil, s.reject("not_party", ErrNotParty)
	}
	by := ByRequester
	if role == types.RoleProvider {
		by = ByProvider
	}

	now := s.now()
	var penalty *ScoreChange
	if now.Sub(t.CreatedAt) >= s.grace {
		penalty = &ScoreChange{ActorID: cmd.ActorID, Event: reliability.LateCancellation()}
	}
	candidate := t.CandidateID
	if err := s.cancel(ctx, t, now, by, &cmd.ActorID, cmd.Reason, penalty); err != nil {
		return nil, err
	}
	if penalty != nil {
		s.log.Info("late cancellation penalty", "trip_id", t.ID, "actor_id", cmd.ActorID)
	}

	s.system(ctx, t.ID, fmt.Sprintf("Trip cancelled by the %s.", by))
	s.publishCancelled(ctx, t, candidate)
	return t, nil
}

// CancelBySystem cancels a trip on behalf of the platform, without penalty.
func (s *Service) CancelBySystem(ctx context.Context, tripID types.ID, reason string) (*Trip, error) {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, s.invalid(t.Status, StatusCancelled)
	}
	candidate := t.CandidateID
	if err := s.cancel(ctx, t, s.now(), BySystem, nil, reason, nil); err != nil {
		return nil, err
	}
	s.system(ctx, t.ID, "Trip cancelled: "+reason+".")
	s.publishCancelled(ctx, t, candidate)
	return t, nil
}

// Rate records rater's stars for a completed trip and adjusts the other
// party's reliability. Each side rates at most once.
func (s *Service) Rate(ctx context.Context, tripID, raterID types.ID, stars int) error {
	ev, err := reliability.Rating(stars)
	if err != nil {
		return err
	}
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.Status != StatusCompleted {
		return s.reject("invalid_transition", fmt.Errorf("%w: only completed trips can be rated", ErrInvalidTransition))
	}
	role, ok := t.RoleOf(raterID)
	if !ok {
		return s.reject("not_party", ErrNotParty)
	}
	rated, ok := t.Partner(raterID)
	if !ok {
		return ErrBadRequest
	}
	stored, err := s.store.SetRating(ctx, tripID, role, stars, ScoreChange{ActorID: rated, Event: ev})
	if err != nil {
		return fmt.Errorf("trip.Rate: %w", err)
	}
	if !stored {
		return ErrAlreadyRated
	}
	return nil
}

// RecordArrival marks the provider as arrived at pickup. It reports true only
// for the call that set the flag.
func (s *Service) RecordArrival(ctx context.Context, tripID types.ID) (bool, error) {
	fired, err := s.store.MarkArrived(ctx, tripID, s.now())
	if err != nil || !fired {
		return false, err
	}
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return true, err
	}
	s.system(ctx, t.ID, "Your provider has arrived at the pickup point.")
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID, derefID(t.ProviderID))
	return true, nil
}

// RecordProximity marks a delivery as close to its dropoff. It reports true
// only for the call that set the flag.
func (s *Service) RecordProximity(ctx context.Context, tripID types.ID) (bool, error) {
	fired, err := s.store.MarkProximityNotified(ctx, tripID, s.now())
	if err != nil || !fired {
		return false, err
	}
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return true, err
	}
	s.system(ctx, t.ID, "Your parcel is almost there.")
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID, derefID(t.ProviderID))
	return true, nil
}

// AddTraveledDistance feeds the odometer of an in-progress trip.
func (s *Service) AddTraveledDistance(ctx context.Context, tripID types.ID, meters int64) error {
	if meters <= 0 {
		return nil
	}
	_, err := s.store.AddTraveledDistance(ctx, tripID, meters)
	return err
}

// Get returns the trip as seen by viewer. Non-parties get ErrNotFound.
func (s *Service) Get(ctx context.Context, tripID, viewer types.ID) (*Trip, error) {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !t.CanView(viewer) {
		return nil, ErrNotFound
	}
	v := t.ViewFor(viewer)
	return &v, nil
}

func (s *Service) ActiveFor(ctx context.Context, actorID types.ID) (*Trip, error) {
	t, err := s.store.ActiveFor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	v := t.ViewFor(actorID)
	return &v, nil
}

// LastEndedFor returns, as seen by actorID, the latest trip of theirs that
// ended after since.
func (s *Service) LastEndedFor(ctx context.Context, actorID types.ID, since time.Time) (*Trip, error) {
	t, err := s.store.LastEndedFor(ctx, actorID, since)
	if err != nil {
		return nil, err
	}
	v := t.ViewFor(actorID)
	return &v, nil
}

// ActiveForProvider returns the accepted or in-progress trip of a provider.
func (s *Service) ActiveForProvider(ctx context.Context, providerID types.ID) (*Trip, error) {
	return s.store.ActiveForProvider(ctx, providerID)
}

func (s *Service) History(ctx context.Context, actorID types.ID, limit int) ([]Trip, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	trips, err := s.store.History(ctx, actorID, limit)
	if err != nil {
		return nil, err
	}
	for i := range trips {
		trips[i] = trips[i].ViewFor(actorID)
	}
	return trips, nil
}

// ListExpiredOffers returns pending trips whose current offer is older than window.
func (s *Service) ListExpiredOffers(ctx context.Context, window time.Duration, limit int) ([]Trip, error) {
	return s.store.ListExpiredOffers(ctx, s.now().Add(-window), limit)
}

func (s *Service) inProgressForProvider(ctx context.Context, tripID, providerID types.ID) (*Trip, error) {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusInProgress {
		return nil, s.invalid(t.Status, StatusInProgress)
	}
	if role, ok := t.RoleOf(providerID); !ok || role != types.RoleProvider {
		return nil, s.reject("not_party", ErrNotParty)
	}
	return t, nil
}

func (s *Service) cancel(ctx context.Context, t *Trip, now time.Time, by string, actorID *types.ID, reason string, penalty *ScoreChange) error {
	write := func(ctx context.Context, next *Trip, version int) (bool, error) {
		return s.store.Cancel(ctx, next, version, penalty)
	}
	return s.transitionWith(ctx, t, StatusCancelled, by, actorID, write, func(n *Trip) {
		b := by
		n.CancelledBy = &b
		if reason != "" {
			r := reason
			n.CancelReason = &r
		}
		n.CancelledAt = &now
		n.CandidateID = nil
		n.PausedAt = nil
	})
}

// writeFunc persists next if the stored status_version still equals version.
type writeFunc func(ctx context.Context, next *Trip, version int) (bool, error)

// transition validates and persists a status change, then logs it.
func (s *Service) transition(ctx context.Context, t *Trip, to Status, actorType string, actorID *types.ID, mutate func(*Trip)) error {
	return s.transitionWith(ctx, t, to, actorType, actorID, s.store.Update, mutate)
}

func (s *Service) transitionWith(ctx context.Context, t *Trip, to Status, actorType string, actorID *types.ID, write writeFunc, mutate func(*Trip)) error {
	from := t.Status
	if !CanTransition(from, to) {
		return s.invalid(from, to)
	}
	next := *t
	next.Status = to
	mutate(&next)
	if err := s.commit(ctx, t, &next, write); err != nil {
		return err
	}
	s.recordEvent(ctx, t.ID, from, to, actorType, actorID)
	observability.TripTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

// update persists a change that keeps the status.
func (s *Service) update(ctx context.Context, t *Trip, mutate func(*Trip)) error {
	next := *t
	mutate(&next)
	return s.save(ctx, t, &next)
}

func (s *Service) save(ctx context.Context, t, next *Trip) error {
	return s.commit(ctx, t, next, s.store.Update)
}

func (s *Service) commit(ctx context.Context, t, next *Trip, write writeFunc) error {
	version := t.StatusVersion
	ok, err := write(ctx, next, version)
	if err != nil {
		if errors.Is(err, ErrActiveTrip) {
			return s.reject("active_trip", err)
		}
		return err
	}
	if !ok {
		return s.reject("conflict", ErrConflict)
	}
	next.StatusVersion = version + 1
	*t = *next
	return nil
}

func (s *Service) recordEvent(ctx context.Context, tripID types.ID, from, to Status, actorType string, actorID *types.ID) {
	err := s.store.AppendEvent(ctx, &Event{
		TripID:     tripID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Warn("append trip event", "trip_id", tripID, "to", to, "err", err)
	}
}

func (s *Service) system(ctx context.Context, tripID types.ID, content string) {
	if s.chat == nil {
		return
	}
	if err := s.chat.PostSystem(ctx, tripID, content); err != nil {
		s.log.Warn("post system message", "trip_id", tripID, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, t *Trip, typ feed.EventType, recipients ...types.ID) {
	seen := make(map[types.ID]bool, len(recipients))
	for _, r := range recipients {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		ev, err := feed.NewEvent(typ, feed.TableTrips, t.ViewFor(r))
		if err != nil {
			s.log.Error("encode trip event", "trip_id", t.ID, "err", err)
			return
		}
		if err := s.feed.Publish(ctx, r, ev); err != nil {
			s.log.Warn("publish trip event", "trip_id", t.ID, "recipient", r, "err", err)
		}
	}
}

func (s *Service) publishCancelled(ctx context.Context, t *Trip, candidate *types.ID) {
	s.publish(ctx, t, feed.EventUpdate, t.RequesterID, derefID(t.ProviderID), derefID(candidate))
}

func (s *Service) route(ctx context.Context, from, to types.Point) (maps.Route, error) {
	if s.routes == nil {
		return maps.Route{}, errors.New("no route provider configured")
	}
	return s.routes.Route(ctx, from, to)
}

func (s *Service) invalid(from, to Status) error {
	return s.reject("invalid_transition", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to))
}

func (s *Service) reject(reason string, err error) error {
	observability.TripRejections.WithLabelValues(reason).Inc()
	return err
}

func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("verification code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

func elapsedSeconds(from, to time.Time) int64 {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

func derefID(id *types.ID) types.ID {
	if id == nil {
		return ""
	}
	return *id
}
