// README: Deterministic fare and commission computation. No side effects.
package pricing

import (
	"errors"

	"diomy/internal/types"
)

var (
	ErrUnknownServiceType = errors.New("unknown service type")
	ErrUnknownPackageSize = errors.New("unknown package size")
	ErrNegativeInput      = errors.New("distance and waiting time must be non-negative")
)

type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Estimate prices a trip before commit from the predicted route distance.
// Waiting time is never part of an estimate.
func (c *Calculator) Estimate(req FareRequest) (FareResult, error) {
	req.WaitingSeconds = 0
	return c.compute(req)
}

// Finalize prices a finished trip from the distance actually travelled plus
// any accumulated pause time.
func (c *Calculator) Finalize(req FareRequest) (FareResult, error) {
	return c.compute(req)
}

func (c *Calculator) compute(req FareRequest) (FareResult, error) {
	rate, ok := rates[req.ServiceType]
	if !ok {
		return FareResult{}, ErrUnknownServiceType
	}
	if req.DistanceMeters < 0 || req.WaitingSeconds < 0 {
		return FareResult{}, ErrNegativeInput
	}
	base, err := baseFare(rate, req.PackageSize)
	if err != nil {
		return FareResult{}, err
	}

	distance := distanceSurcharge(rate, req.DistanceMeters)
	var waiting int64
	if rate.ChargesWaiting {
		waiting = WaitingCharge(req.WaitingSeconds)
	}
	raw := base + distance + waiting
	total := roundUp(raw, roundingStep)

	return FareResult{
		TotalAmount: total,
		Currency:    types.Currency,
		Breakdown: map[string]int64{
			"base":     base,
			"distance": distance,
			"waiting":  waiting,
			"rounding": total - raw,
		},
	}, nil
}

// Commission is ceil(price * rate) for the service type, computed in integer
// basis points so that e.g. 400 * 12% is exactly 48.
func (c *Calculator) Commission(st types.ServiceType, price int64) (int64, error) {
	rate, ok := rates[st]
	if !ok {
		return 0, ErrUnknownServiceType
	}
	if price < 0 {
		return 0, ErrNegativeInput
	}
	return ceilDiv(price*rate.CommissionBps, 10000), nil
}

// MinCommission is the commission charged on the cheapest possible trip of
// the service type. Providers must hold at least this much to be matched.
func (c *Calculator) MinCommission(st types.ServiceType) (int64, error) {
	rate, ok := rates[st]
	if !ok {
		return 0, ErrUnknownServiceType
	}
	lowest := rate.BaseFare
	for _, v := range rate.BaseByPackage {
		if lowest == 0 || v < lowest {
			lowest = v
		}
	}
	return c.Commission(st, roundUp(lowest, roundingStep))
}

// WaitingCharge is 25 per started minute of pause.
func WaitingCharge(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return ceilDiv(seconds, waitingUnitSeconds) * waitingUnitPrice
}

func baseFare(rate Rate, size types.PackageSize) (int64, error) {
	if rate.BaseByPackage == nil {
		return rate.BaseFare, nil
	}
	v, ok := rate.BaseByPackage[size]
	if !ok {
		return 0, ErrUnknownPackageSize
	}
	return v, nil
}

// distanceSurcharge prorates PerKm over every metre beyond the free distance,
// rounding the partial unit up.
func distanceSurcharge(rate Rate, meters int64) int64 {
	excess := meters - rate.FreeDistanceM
	if excess <= 0 {
		return 0
	}
	return ceilDiv(excess*rate.PerKm, 1000)
}

func roundUp(v, step int64) int64 {
	return ceilDiv(v, step) * step
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
