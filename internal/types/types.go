// README: Shared identifiers, coordinates and service discriminants.
package types

import "math"

type ID string

// Currency is the platform currency (CFA franc). Amounts are whole units.
const Currency = "XOF"

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p is a usable WGS84 coordinate.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type ServiceType string

const (
	ServiceTransport ServiceType = "transport"
	ServiceDelivery  ServiceType = "delivery"
)

func (s ServiceType) Valid() bool {
	return s == ServiceTransport || s == ServiceDelivery
}

type PackageSize string

const (
	PackageSmall  PackageSize = "small"
	PackageMedium PackageSize = "medium"
	PackageLarge  PackageSize = "large"
)

func (p PackageSize) Valid() bool {
	switch p {
	case PackageSmall, PackageMedium, PackageLarge:
		return true
	}
	return false
}

type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
)
