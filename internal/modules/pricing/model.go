// README: Fare rules per service type and the request/result shapes of the calculator.
package pricing

import "diomy/internal/types"

// Rate describes the fare rule for one service type.
type Rate struct {
	ServiceType types.ServiceType
	// BaseFare is the flat fare; delivery rates key it by package size.
	BaseFare       int64
	BaseByPackage  map[types.PackageSize]int64
	FreeDistanceM  int64
	PerKm          int64
	CommissionBps  int64 // basis points, 1200 = 12%
	ChargesWaiting bool
}

const (
	// roundingStep is the price granularity; every price is a multiple of it.
	roundingStep = 50
	// waitingUnitSeconds and waitingUnitPrice define the pause charge: 25 per started minute.
	waitingUnitSeconds = 60
	waitingUnitPrice   = 25
)

var rates = map[types.ServiceType]Rate{
	types.ServiceTransport: {
		ServiceType:    types.ServiceTransport,
		BaseFare:       250,
		FreeDistanceM:  1500,
		PerKm:          100,
		CommissionBps:  1200,
		ChargesWaiting: true,
	},
	types.ServiceDelivery: {
		ServiceType: types.ServiceDelivery,
		BaseByPackage: map[types.PackageSize]int64{
			types.PackageSmall:  500,
			types.PackageMedium: 750,
			types.PackageLarge:  1000,
		},
		FreeDistanceM: 3000,
		PerKm:         100,
		CommissionBps: 1500,
	},
}

type FareRequest struct {
	ServiceType    types.ServiceType
	PackageSize    types.PackageSize
	DistanceMeters int64
	WaitingSeconds int64
}

type FareResult struct {
	TotalAmount int64
	Currency    string
	Breakdown   map[string]int64
}
