// README: Location service accepts provider position updates, keeps the
// candidate geo index current and fans samples out to the position stream.
package location

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"diomy/internal/modules/actor"
	"diomy/internal/types"
)

var ErrBadPosition = errors.New("invalid position")

type ActorReader interface {
	Get(ctx context.Context, id types.ID) (*actor.Actor, error)
}

// PositionIndex is the geo index matching searches.
type PositionIndex interface {
	AddCandidate(ctx context.Context, providerID types.ID, p types.Point) error
}

type Publisher interface {
	Publish(ctx context.Context, s Sample) error
}

// Mirror receives a best-effort copy of every accepted sample.
type Mirror interface {
	Mirror(ctx context.Context, s Sample) error
}

type Service struct {
	actors ActorReader
	index  PositionIndex
	stream Publisher
	mirror Mirror
	log    *slog.Logger
	now    func() time.Time
}

func NewService(actors ActorReader, index PositionIndex, stream Publisher, mirror Mirror, log *slog.Logger) *Service {
	return &Service{
		actors: actors,
		index:  index,
		stream: stream,
		mirror: mirror,
		log:    log,
		now:    time.Now,
	}
}

// Update records a provider position. Online providers are (re)indexed for
// matching; every sample is published so in-trip geofencing keeps working.
func (s *Service) Update(ctx context.Context, providerID types.ID, p types.Point) (Sample, error) {
	if !p.Valid() {
		return Sample{}, ErrBadPosition
	}
	a, err := s.actors.Get(ctx, providerID)
	if err != nil {
		return Sample{}, err
	}
	if !a.IsProvider() {
		return Sample{}, actor.ErrNotProvider
	}

	sample := Sample{ProviderID: providerID, Position: p, Timestamp: s.now().UTC()}
	if a.Online {
		if err := s.index.AddCandidate(ctx, providerID, p); err != nil {
			return Sample{}, err
		}
	}
	if err := s.stream.Publish(ctx, sample); err != nil {
		return Sample{}, err
	}
	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, sample); err != nil {
			s.log.Warn("mirror provider position", "provider_id", providerID, "err", err)
		}
	}
	return sample, nil
}
