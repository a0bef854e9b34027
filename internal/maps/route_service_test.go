package maps

import (
	"testing"

	"diomy/internal/types"
)

func TestLatLng(t *testing.T) {
	got := latLng(types.Point{Lat: 5.359952, Lng: -4.008256})
	if got != "5.359952,-4.008256" {
		t.Fatalf("latLng = %q", got)
	}
}

func TestNewRouteService_RequiresKey(t *testing.T) {
	if _, err := NewRouteService(""); err == nil {
		t.Fatal("expected error without API key")
	}
}
