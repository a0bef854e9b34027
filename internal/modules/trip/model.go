// README: Trip aggregate, status graph and state event log entries.
package trip

import (
	"time"

	"diomy/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusInProgress
}

// AllowedTransitions represents the trip state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusNone:       {StatusPending},
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Actor types recorded on state events and cancellations.
const (
	ByRequester = "requester"
	ByProvider  = "provider"
	BySystem    = "system"
)

type Trip struct {
	ID            types.ID          `json:"id"`
	ServiceType   types.ServiceType `json:"service_type"`
	Status        Status            `json:"status"`
	StatusVersion int               `json:"status_version"`

	RequesterID types.ID  `json:"requester_id"`
	ProviderID  *types.ID `json:"provider_id,omitempty"`
	// CandidateID is the provider currently offered a pending trip.
	CandidateID *types.ID `json:"candidate_id,omitempty"`

	Pickup           types.Point `json:"pickup"`
	Dropoff          types.Point `json:"dropoff"`
	DestinationLabel string      `json:"destination_label"`

	EstimatedPrice     int64  `json:"estimated_price"`
	EstimatedDistanceM int64  `json:"estimated_distance_m"`
	Price              *int64 `json:"price,omitempty"`
	CommissionAmount   *int64 `json:"commission_amount,omitempty"`
	Currency           string `json:"currency"`

	PackageSize      types.PackageSize `json:"package_size,omitempty"`
	VerificationCode string            `json:"verification_code,omitempty"`

	TraveledDistanceM int64      `json:"traveled_distance_m"`
	WaitingSeconds    int64      `json:"waiting_seconds"`
	PausedAt          *time.Time `json:"paused_at,omitempty"`

	ArrivedAt           *time.Time `json:"arrived_at,omitempty"`
	ProximityNotifiedAt *time.Time `json:"proximity_notified_at,omitempty"`

	RatingByRequester *int `json:"rating_by_requester,omitempty"`
	RatingByProvider  *int `json:"rating_by_provider,omitempty"`

	CancelledBy  *string `json:"cancelled_by,omitempty"`
	CancelReason *string `json:"cancel_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	OfferedAt   *time.Time `json:"offered_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// RoleOf reports which side of the trip id is on. A candidate that has not
// accepted yet is not a party.
func (t *Trip) RoleOf(id types.ID) (types.Role, bool) {
	switch {
	case id == "":
		return "", false
	case id == t.RequesterID:
		return types.RoleRequester, true
	case t.ProviderID != nil && *t.ProviderID == id:
		return types.RoleProvider, true
	}
	return "", false
}

func (t *Trip) IsCandidate(id types.ID) bool {
	return t.CandidateID != nil && *t.CandidateID == id
}

// CanView reports whether id may read the trip: either party or the current candidate.
func (t *Trip) CanView(id types.ID) bool {
	_, ok := t.RoleOf(id)
	return ok || t.IsCandidate(id)
}

// Partner returns the other party for id, if any.
func (t *Trip) Partner(id types.ID) (types.ID, bool) {
	role, ok := t.RoleOf(id)
	if !ok {
		return "", false
	}
	if role == types.RoleRequester {
		if t.ProviderID == nil {
			return "", false
		}
		return *t.ProviderID, true
	}
	return t.RequesterID, true
}

// ViewFor returns a copy safe to show to viewer. The delivery verification
// code is only ever shown to the requester.
func (t Trip) ViewFor(viewer types.ID) Trip {
	if viewer != t.RequesterID {
		t.VerificationCode = ""
	}
	return t
}

type Event struct {
	ID         int64
	TripID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// Quote is a pre-commit price estimate.
type Quote struct {
	ServiceType    types.ServiceType `json:"service_type"`
	PackageSize    types.PackageSize `json:"package_size,omitempty"`
	EstimatedPrice int64             `json:"estimated_price"`
	Currency       string            `json:"currency"`
	DistanceMeters int64             `json:"distance_meters"`
	Polyline       string            `json:"polyline,omitempty"`
	// Degraded is set when the route provider failed and the distance is a
	// straight-line estimate.
	Degraded  bool             `json:"degraded"`
	Breakdown map[string]int64 `json:"breakdown"`
}
