// README: Actor profiles (requesters and providers) with trust score and balance.
package actor

import (
	"time"

	"diomy/internal/types"
)

type Actor struct {
	ID               types.ID   `json:"id"`
	Role             types.Role `json:"role"`
	DisplayName      string     `json:"display_name"`
	Phone            string     `json:"phone,omitempty"`
	ReliabilityScore int        `json:"reliability_score"`
	Online           bool       `json:"online"`
	Validated        bool       `json:"validated"`
	PrepaidBalance   int64      `json:"prepaid_balance"`
	PushToken        string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Profile is what a trip partner is allowed to see.
type Profile struct {
	ID               types.ID   `json:"id"`
	Role             types.Role `json:"role"`
	DisplayName      string     `json:"display_name"`
	Phone            string     `json:"phone,omitempty"`
	ReliabilityScore int        `json:"reliability_score"`
}

func (a *Actor) Profile() Profile {
	return Profile{
		ID:               a.ID,
		Role:             a.Role,
		DisplayName:      a.DisplayName,
		Phone:            a.Phone,
		ReliabilityScore: a.ReliabilityScore,
	}
}

func (a *Actor) IsProvider() bool { return a.Role == types.RoleProvider }
