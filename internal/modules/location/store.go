// README: Redis-backed last-point store for the trip odometer.
package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"diomy/internal/types"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Last(ctx context.Context, tripID types.ID) (types.Point, bool, error) {
	val, err := s.redis.Get(ctx, lastKey(tripID)).Result()
	if errors.Is(err, redis.Nil) {
		return types.Point{}, false, nil
	}
	if err != nil {
		return types.Point{}, false, err
	}
	p, err := parsePoint(val)
	if err != nil {
		return types.Point{}, false, err
	}
	return p, true, nil
}

func (s *Store) SetLast(ctx context.Context, tripID types.ID, p types.Point) error {
	return s.redis.Set(ctx, lastKey(tripID), formatPoint(p), odometerTTL).Err()
}

func (s *Store) Clear(ctx context.Context, tripID types.ID) error {
	return s.redis.Del(ctx, lastKey(tripID)).Err()
}

func lastKey(tripID types.ID) string {
	return fmt.Sprintf(odometerKey, string(tripID))
}

func formatPoint(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 7, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 7, 64)
}

func parsePoint(s string) (types.Point, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return types.Point{}, fmt.Errorf("location: malformed point %q", s)
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return types.Point{}, err
	}
	lo, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return types.Point{}, err
	}
	return types.Point{Lat: la, Lng: lo}, nil
}
