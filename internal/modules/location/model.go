// README: Provider position samples carried on the position stream.
package location

import (
	"time"

	"diomy/internal/types"
)

// Sample is one position fix reported by a provider's device.
type Sample struct {
	ProviderID types.ID    `json:"provider_id"`
	Position   types.Point `json:"position"`
	Timestamp  time.Time   `json:"timestamp"`
}

const (
	// minStepMeters is the smallest move the odometer records on its own;
	// shorter moves are folded into the next sample to filter GPS jitter.
	minStepMeters = 10.0
	odometerKey   = "odometer:trip:%s:last"
	odometerTTL   = 6 * time.Hour
)
