package pricing

import (
	"testing"

	"diomy/internal/types"
)

func TestCalculator_Estimate(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		name     string
		req      FareRequest
		wantFare int64
	}{
		{
			name:     "transport within free distance",
			req:      FareRequest{ServiceType: types.ServiceTransport, DistanceMeters: 800},
			wantFare: 250,
		},
		{
			name:     "transport exactly at threshold (1.5km)",
			req:      FareRequest{ServiceType: types.ServiceTransport, DistanceMeters: 1500},
			wantFare: 250,
		},
		{
			name: "transport 1.8km -> 30 surcharge -> 280 -> 300",
			req:  FareRequest{ServiceType: types.ServiceTransport, DistanceMeters: 1800},
			// Excess 0.3km * 100 = 30. Raw 280, rounded up to 300.
			wantFare: 300,
		},
		{
			name: "estimate ignores waiting time",
			req: FareRequest{
				ServiceType:    types.ServiceTransport,
				DistanceMeters: 1500,
				WaitingSeconds: 600,
			},
			wantFare: 250,
		},
		{
			name:     "delivery small within free distance",
			req:      FareRequest{ServiceType: types.ServiceDelivery, PackageSize: types.PackageSmall, DistanceMeters: 2900},
			wantFare: 500,
		},
		{
			name:     "delivery large 5km",
			req:      FareRequest{ServiceType: types.ServiceDelivery, PackageSize: types.PackageLarge, DistanceMeters: 5000},
			wantFare: 1200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Estimate(tt.req)
			if err != nil {
				t.Fatalf("Estimate() error = %v", err)
			}
			if got.TotalAmount != tt.wantFare {
				t.Errorf("Estimate() = %v, want %v", got.TotalAmount, tt.wantFare)
			}
			if got.TotalAmount%50 != 0 || got.TotalAmount < 0 {
				t.Errorf("price %d is not a non-negative multiple of 50", got.TotalAmount)
			}
		})
	}
}

func TestCalculator_FinalizeTransportScenario(t *testing.T) {
	c := NewCalculator()

	got, err := c.Finalize(FareRequest{
		ServiceType:    types.ServiceTransport,
		DistanceMeters: 2500,
		WaitingSeconds: 90,
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if got.Breakdown["distance"] != 100 {
		t.Errorf("distance surcharge = %d, want 100", got.Breakdown["distance"])
	}
	if got.Breakdown["waiting"] != 50 {
		t.Errorf("waiting charge = %d, want 50", got.Breakdown["waiting"])
	}
	if got.TotalAmount != 400 {
		t.Fatalf("price = %d, want 400", got.TotalAmount)
	}

	commission, err := c.Commission(types.ServiceTransport, got.TotalAmount)
	if err != nil {
		t.Fatalf("Commission() error = %v", err)
	}
	if commission != 48 {
		t.Errorf("commission = %d, want 48", commission)
	}
}

func TestCalculator_FinalizeZeroDistanceIsBaseFare(t *testing.T) {
	got, err := NewCalculator().Finalize(FareRequest{ServiceType: types.ServiceTransport})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if got.TotalAmount != 250 {
		t.Errorf("price = %d, want 250", got.TotalAmount)
	}
}

func TestCalculator_FinalizeDeliveryScenario(t *testing.T) {
	c := NewCalculator()

	got, err := c.Finalize(FareRequest{
		ServiceType:    types.ServiceDelivery,
		PackageSize:    types.PackageMedium,
		DistanceMeters: 4000,
		// Delivery never charges waiting.
		WaitingSeconds: 300,
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if got.TotalAmount != 850 {
		t.Fatalf("price = %d, want 850", got.TotalAmount)
	}
	commission, _ := c.Commission(types.ServiceDelivery, got.TotalAmount)
	if commission != 128 {
		t.Errorf("commission = %d, want 128", commission)
	}
}

func TestWaitingCharge(t *testing.T) {
	cases := map[int64]int64{0: 0, 1: 25, 59: 25, 60: 25, 61: 50, 90: 50, 180: 75}
	for secs, want := range cases {
		if got := WaitingCharge(secs); got != want {
			t.Errorf("WaitingCharge(%d) = %d, want %d", secs, got, want)
		}
	}
}

func TestCalculator_Errors(t *testing.T) {
	c := NewCalculator()
	if _, err := c.Estimate(FareRequest{ServiceType: "boat"}); err != ErrUnknownServiceType {
		t.Errorf("expected ErrUnknownServiceType, got %v", err)
	}
	if _, err := c.Estimate(FareRequest{ServiceType: types.ServiceDelivery, PackageSize: "huge"}); err != ErrUnknownPackageSize {
		t.Errorf("expected ErrUnknownPackageSize, got %v", err)
	}
	if _, err := c.Finalize(FareRequest{ServiceType: types.ServiceTransport, DistanceMeters: -1}); err != ErrNegativeInput {
		t.Errorf("expected ErrNegativeInput, got %v", err)
	}
}

func TestCalculator_MinCommission(t *testing.T) {
	c := NewCalculator()
	if got, _ := c.MinCommission(types.ServiceTransport); got != 30 {
		t.Errorf("transport min commission = %d, want 30", got)
	}
	if got, _ := c.MinCommission(types.ServiceDelivery); got != 75 {
		t.Errorf("delivery min commission = %d, want 75", got)
	}
}

func TestCalculator_PricesAreMultiplesOf50(t *testing.T) {
	c := NewCalculator()
	for m := int64(0); m <= 20000; m += 37 {
		for _, w := range []int64{0, 45, 130} {
			got, err := c.Finalize(FareRequest{ServiceType: types.ServiceTransport, DistanceMeters: m, WaitingSeconds: w})
			if err != nil {
				t.Fatalf("Finalize(%d,%d): %v", m, w, err)
			}
			if got.TotalAmount%50 != 0 {
				t.Fatalf("Finalize(%d,%d) = %d, not a multiple of 50", m, w, got.TotalAmount)
			}
		}
	}
}
