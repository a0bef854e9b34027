// README: Matching service selects the nearest eligible provider, creates the
// trip offer and applies the dispatch policy when an offer lapses or is declined.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"diomy/internal/config"
	"diomy/internal/modules/notify"
	"diomy/internal/modules/pricing"
	"diomy/internal/modules/trip"
	"diomy/internal/observability"
	"diomy/internal/types"
)

var ErrNoProvider = errors.New("no provider available")

type Index interface {
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Candidate, error)
	SaveQueue(ctx context.Context, tripID types.ID, ids []types.ID) error
	PopQueue(ctx context.Context, tripID types.ID) (types.ID, bool, error)
	ClearQueue(ctx context.Context, tripID types.ID) error
}

type Eligibility interface {
	Eligible(ctx context.Context, ids []types.ID, minBalance int64) ([]types.ID, error)
}

type Trips interface {
	Create(ctx context.Context, cmd trip.CreateCommand) (*trip.Trip, error)
	Decline(ctx context.Context, tripID, providerID types.ID) (*trip.Trip, error)
	Reoffer(ctx context.Context, tripID, providerID types.ID) (*trip.Trip, error)
	CancelBySystem(ctx context.Context, tripID types.ID, reason string) (*trip.Trip, error)
	ListExpiredOffers(ctx context.Context, window time.Duration, limit int) ([]trip.Trip, error)
}

type Service struct {
	index   Index
	actors  Eligibility
	trips   Trips
	push    notify.Pusher
	pricing *pricing.Calculator
	cfg     config.MatchingConfig
	log     *slog.Logger
}

func NewService(index Index, actors Eligibility, trips Trips, push notify.Pusher, cfg config.MatchingConfig, log *slog.Logger) *Service {
	if push == nil {
		push = notify.Nop{}
	}
	return &Service{
		index:   index,
		actors:  actors,
		trips:   trips,
		push:    push,
		pricing: pricing.NewCalculator(),
		cfg:     cfg,
		log:     log,
	}
}

// FindCandidates returns eligible providers within radiusKm of origin,
// nearest first.
func (s *Service) FindCandidates(ctx context.Context, origin types.Point, radiusKm float64, st types.ServiceType) ([]types.ID, error) {
	minBalance, err := s.pricing.MinCommission(st)
	if err != nil {
		return nil, err
	}
	nearby, err := s.index.Nearby(ctx, origin, radiusKm, s.cfg.MaxCandidates*searchOversample)
	if err != nil {
		return nil, fmt.Errorf("matching: nearby providers: %w", err)
	}
	if len(nearby) == 0 {
		return nil, nil
	}
	ids := make([]types.ID, len(nearby))
	for i, c := range nearby {
		ids[i] = c.ID
	}
	eligible, err := s.actors.Eligible(ctx, ids, minBalance)
	if err != nil {
		return nil, err
	}
	if len(eligible) > s.cfg.MaxCandidates {
		eligible = eligible[:s.cfg.MaxCandidates]
	}
	return eligible, nil
}

// Dispatch offers a new trip to the nearest eligible provider. When nobody
// is available no trip is created.
func (s *Service) Dispatch(ctx context.Context, cmd trip.CreateCommand) (*trip.Trip, error) {
	if !cmd.Pickup.Valid() {
		return nil, trip.ErrBadRequest
	}
	candidates, err := s.FindCandidates(ctx, cmd.Pickup, s.cfg.RadiusKm, cmd.ServiceType)
	if err != nil {
		return nil, err
	}
	// The requester can't be offered their own trip.
	candidates = without(candidates, cmd.RequesterID)
	if len(candidates) == 0 {
		observability.NoCandidate.Inc()
		return nil, ErrNoProvider
	}

	cmd.CandidateID = candidates[0]
	t, err := s.trips.Create(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if s.cfg.DispatchPolicy == config.DispatchNextCandidate && len(candidates) > 1 {
		if err := s.index.SaveQueue(ctx, t.ID, candidates[1:]); err != nil {
			s.log.Warn("save dispatch queue", "trip_id", t.ID, "err", err)
		}
	}
	s.push.Push(ctx, cmd.CandidateID, OfferNotification(t))
	return t, nil
}

// Decline records a candidate's refusal and applies the dispatch policy.
func (s *Service) Decline(ctx context.Context, tripID, providerID types.ID) (*trip.Trip, error) {
	t, err := s.trips.Decline(ctx, tripID, providerID)
	if err != nil {
		return nil, err
	}
	return s.applyPolicy(ctx, t, "declined")
}

// Expire applies the dispatch policy to a pending trip whose offer lapsed.
func (s *Service) Expire(ctx context.Context, t *trip.Trip) (*trip.Trip, error) {
	return s.applyPolicy(ctx, t, "expired")
}

func (s *Service) applyPolicy(ctx context.Context, t *trip.Trip, reason string) (*trip.Trip, error) {
	switch s.cfg.DispatchPolicy {
	case config.DispatchCancel:
		observability.DispatchReoffers.WithLabelValues("cancel").Inc()
		return s.cancel(ctx, t.ID, "no provider accepted the request")
	case config.DispatchNextCandidate:
		return s.offerNext(ctx, t, reason)
	default:
		return t, nil
	}
}

func (s *Service) offerNext(ctx context.Context, t *trip.Trip, reason string) (*trip.Trip, error) {
	minBalance, err := s.pricing.MinCommission(t.ServiceType)
	if err != nil {
		return nil, err
	}
	for {
		next, ok, err := s.index.PopQueue(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("matching: pop queue: %w", err)
		}
		if !ok {
			observability.DispatchReoffers.WithLabelValues("exhausted").Inc()
			return s.cancel(ctx, t.ID, "no provider available")
		}
		// Availability may have changed since the trip was created.
		still, err := s.actors.Eligible(ctx, []types.ID{next}, minBalance)
		if err != nil {
			return nil, err
		}
		if len(still) == 0 {
			continue
		}
		re, err := s.trips.Reoffer(ctx, t.ID, next)
		if errors.Is(err, trip.ErrActiveTrip) {
			continue
		}
		if err != nil {
			return nil, err
		}
		observability.DispatchReoffers.WithLabelValues("reoffer").Inc()
		s.log.Info("trip re-offered", "trip_id", t.ID, "provider_id", next, "reason", reason)
		s.push.Push(ctx, next, OfferNotification(re))
		return re, nil
	}
}

func (s *Service) cancel(ctx context.Context, tripID types.ID, reason string) (*trip.Trip, error) {
	if err := s.index.ClearQueue(ctx, tripID); err != nil {
		s.log.Warn("clear dispatch queue", "trip_id", tripID, "err", err)
	}
	return s.trips.CancelBySystem(ctx, tripID, reason)
}

// RunScheduler periodically applies the dispatch policy to offers older than
// the accept window. With policy "none" offers never lapse server-side.
func (s *Service) RunScheduler(ctx context.Context) {
	if s.cfg.DispatchPolicy == config.DispatchNone || s.cfg.DispatchPolicy == "" {
		s.log.Info("dispatch scheduler idle", "policy", config.DispatchNone)
		return
	}
	ticker := time.NewTicker(time.Duration(s.cfg.TickSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	expired, err := s.trips.ListExpiredOffers(ctx, s.cfg.AcceptWindow(), sweepBatch)
	if err != nil {
		s.log.Error("list expired offers", "err", err)
		return
	}
	for i := range expired {
		t := &expired[i]
		if _, err := s.Expire(ctx, t); err != nil {
			// Lost a race with accept/cancel; the trip moved on.
			if errors.Is(err, trip.ErrConflict) || errors.Is(err, trip.ErrInvalidTransition) {
				s.log.Debug("expired offer already resolved", "trip_id", t.ID, "err", err)
				continue
			}
			s.log.Warn("apply dispatch policy", "trip_id", t.ID, "err", err)
		}
	}
}

func without(ids []types.ID, drop types.ID) []types.ID {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
