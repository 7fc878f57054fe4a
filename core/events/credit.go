package events

import (
	"math/big"
	"strconv"

	"crediflow/core/types"
)

const (
	// TypeCreditStateUpdated is emitted whenever the registry refreshes or
	// deactivates an account's credit state.
	TypeCreditStateUpdated = "credit.stateUpdated"
)

// CreditStateUpdated captures the limit and rate assigned to an account after
// a registry refresh.
type CreditStateUpdated struct {
	Account     [20]byte
	Limit       *big.Int
	APRBps      uint64
	Utilization *big.Int
	Active      bool
	UpdatedAt   int64
}

// EventType satisfies the Event interface.
func (CreditStateUpdated) EventType() string { return TypeCreditStateUpdated }

// Event converts the structured payload into a broadcastable event.
func (e CreditStateUpdated) Event() *types.Event {
	attrs := map[string]string{
		"account":     formatAddress(e.Account),
		"limit":       formatAmount(e.Limit),
		"aprBps":      strconv.FormatUint(e.APRBps, 10),
		"utilization": formatAmount(e.Utilization),
		"active":      strconv.FormatBool(e.Active),
		"updatedAt":   strconv.FormatInt(e.UpdatedAt, 10),
	}
	return &types.Event{Type: TypeCreditStateUpdated, Attributes: attrs}
}
