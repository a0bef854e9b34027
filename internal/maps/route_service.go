// README: Route/distance collaborator backed by the Google Directions API.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"diomy/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// Route is a driving route between two points.
type Route struct {
	Polyline       string        `json:"polyline"`
	DistanceMeters int64         `json:"distance_meters"`
	Duration       time.Duration `json:"duration"`
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Route returns the driving route from origin to destination.
func (s *RouteService) Route(ctx context.Context, origin, destination types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
		Language:    "fr",
		Region:      "CI",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, ErrNoRoute
	}

	out := Route{Polyline: routes[0].OverviewPolyline.Points}
	for _, leg := range routes[0].Legs {
		out.DistanceMeters += int64(leg.Distance.Meters)
		out.Duration += leg.Duration
	}
	return out, nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
