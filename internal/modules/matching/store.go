// README: Matching store backed by Redis GEO (online providers) and lists
// (per-trip dispatch queues).
package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"diomy/internal/types"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) AddCandidate(ctx context.Context, id types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, providerGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *Store) RemoveCandidate(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, providerGeoKey, string(id)).Err()
}

// Nearby returns indexed providers within radiusKm of p, nearest first.
func (s *Store) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Candidate, error) {
	locs, err := s.redis.GeoSearchLocation(ctx, providerGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(locs))
	for i, l := range locs {
		out[i] = Candidate{
			ID:        types.ID(l.Name),
			Position:  types.Point{Lat: l.Latitude, Lng: l.Longitude},
			DistanceM: l.Dist * 1000,
		}
	}
	return out, nil
}

// Position returns the last indexed position of a provider.
func (s *Store) Position(ctx context.Context, id types.ID) (types.Point, bool, error) {
	pos, err := s.redis.GeoPos(ctx, providerGeoKey, string(id)).Result()
	if err != nil {
		return types.Point{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return types.Point{}, false, nil
	}
	return types.Point{Lat: pos[0].Latitude, Lng: pos[0].Longitude}, true, nil
}

// SaveQueue stores the ordered fallback candidates of a trip.
func (s *Store) SaveQueue(ctx context.Context, tripID types.ID, ids []types.ID) error {
	key := queueKey(tripID)
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key)
	if len(ids) > 0 {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = string(id)
		}
		pipe.RPush(ctx, key, members...)
		pipe.Expire(ctx, key, keyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PopQueue takes the next fallback candidate, if any remain.
func (s *Store) PopQueue(ctx context.Context, tripID types.ID) (types.ID, bool, error) {
	val, err := s.redis.LPop(ctx, queueKey(tripID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return types.ID(val), true, nil
}

func (s *Store) ClearQueue(ctx context.Context, tripID types.ID) error {
	return s.redis.Del(ctx, queueKey(tripID)).Err()
}

func queueKey(tripID types.ID) string {
	return fmt.Sprintf(queueKeyPrefix, string(tripID))
}
