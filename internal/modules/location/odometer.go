// README: Odometer accumulates the real traveled distance of in-progress trips.
package location

import (
	"context"
	"math"

	"diomy/internal/geo"
	"diomy/internal/types"
)

type PointStore interface {
	Last(ctx context.Context, tripID types.ID) (types.Point, bool, error)
	SetLast(ctx context.Context, tripID types.ID, p types.Point) error
	Clear(ctx context.Context, tripID types.ID) error
}

type DistanceRecorder interface {
	AddTraveledDistance(ctx context.Context, tripID types.ID, meters int64) error
}

type Odometer struct {
	points PointStore
	trips  DistanceRecorder
}

func NewOdometer(points PointStore, trips DistanceRecorder) *Odometer {
	return &Odometer{points: points, trips: trips}
}

// Track adds the distance from the trip's last recorded point to p and
// returns the meters credited.
func (o *Odometer) Track(ctx context.Context, tripID types.ID, p types.Point) (int64, error) {
	last, ok, err := o.points.Last(ctx, tripID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, o.points.SetLast(ctx, tripID, p)
	}
	d := geo.HaversineMeters(last, p)
	if d < minStepMeters {
		return 0, nil
	}
	meters := int64(math.Round(d))
	if err := o.trips.AddTraveledDistance(ctx, tripID, meters); err != nil {
		return 0, err
	}
	return meters, o.points.SetLast(ctx, tripID, p)
}

// Reset forgets the trip's last point.
func (o *Odometer) Reset(ctx context.Context, tripID types.ID) error {
	return o.points.Clear(ctx, tripID)
}
