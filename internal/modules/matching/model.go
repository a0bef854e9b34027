// README: Matching candidates and the offer notification sent to them.
package matching

import (
	"fmt"
	"strconv"
	"time"

	"diomy/internal/modules/notify"
	"diomy/internal/modules/trip"
	"diomy/internal/types"
)

// Candidate is an online provider found near a pickup point.
type Candidate struct {
	ID        types.ID
	Position  types.Point
	DistanceM float64
}

const (
	// sweepBatch bounds how many expired offers one scheduler tick handles.
	sweepBatch = 50
	// searchOversample widens the geo query because eligibility filtering
	// drops busy, unvalidated or underfunded providers afterwards.
	searchOversample = 3
)

const (
	providerGeoKey = "matching:providers"
	queueKeyPrefix = "matching:trip:%s:queue"
	// TTL for dispatch queues; offers resolve well within an hour.
	keyTTL = time.Hour
)

// OfferNotification is the push sent to a provider offered a trip.
func OfferNotification(t *trip.Trip) notify.Notification {
	kind := "ride"
	if t.ServiceType == types.ServiceDelivery {
		kind = "delivery"
	}
	return notify.Notification{
		Title: "New " + kind + " request",
		Body:  fmt.Sprintf("Pickup nearby, estimated %d %s", t.EstimatedPrice, t.Currency),
		Data: map[string]string{
			"type":            "new_trip",
			"trip_id":         string(t.ID),
			"service_type":    string(t.ServiceType),
			"pickup_lat":      strconv.FormatFloat(t.Pickup.Lat, 'f', 6, 64),
			"pickup_lng":      strconv.FormatFloat(t.Pickup.Lng, 'f', 6, 64),
			"dropoff_lat":     strconv.FormatFloat(t.Dropoff.Lat, 'f', 6, 64),
			"dropoff_lng":     strconv.FormatFloat(t.Dropoff.Lng, 'f', 6, 64),
			"estimated_price": strconv.FormatInt(t.EstimatedPrice, 10),
		},
	}
}
