// Package geo contains pure geographic computation helpers.
package geo

import (
	"math"

	"diomy/internal/types"
)

const earthRadiusM = 6371000.0

// HaversineMeters returns the great-circle distance in metres between two
// points specified in decimal degrees. No altitude correction is applied.
func HaversineMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// HaversineKm is HaversineMeters in kilometres.
func HaversineKm(a, b types.Point) float64 {
	return HaversineMeters(a, b) / 1000.0
}

// Within reports whether b lies strictly closer than radiusM to a.
func Within(a, b types.Point, radiusM float64) bool {
	return HaversineMeters(a, b) < radiusM
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
