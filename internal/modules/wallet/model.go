// README: Prepaid provider wallet: manual top-ups and the commission ledger.
package wallet

import (
	"time"

	"diomy/internal/types"
)

type Kind string

const (
	KindRecharge   Kind = "recharge"
	KindCommission Kind = "commission"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// Mobile money operators accepted for manual top-ups.
const (
	MethodOrangeMoney = "orange_money"
	MethodMTNMoney    = "mtn_money"
	MethodMoovMoney   = "moov_money"
)

func validMethod(m string) bool {
	switch m {
	case MethodOrangeMoney, MethodMTNMoney, MethodMoovMoney:
		return true
	}
	return false
}

type Transaction struct {
	ID            types.ID  `json:"id"`
	ActorID       types.ID  `json:"actor_id"`
	Kind          Kind      `json:"kind"`
	Amount        int64     `json:"amount"`
	BalanceBefore *int64    `json:"balance_before,omitempty"`
	BalanceAfter  *int64    `json:"balance_after,omitempty"`
	TripID        *types.ID `json:"trip_id,omitempty"`
	Status        Status    `json:"status"`
	Method        string    `json:"method,omitempty"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

type Summary struct {
	Balance          int64  `json:"balance"`
	Currency         string `json:"currency"`
	CompletedTrips   int64  `json:"completed_trips"`
	GrossFares       int64  `json:"gross_fares"`
	TotalCommissions int64  `json:"total_commissions"`
	NetEarnings      int64  `json:"net_earnings"`
}
