package events

import (
	"math/big"

	"crediflow/core/types"
)

const (
	// TypePoolDeposit is emitted when a depositor supplies capital and
	// receives pool shares.
	TypePoolDeposit = "pool.deposit"
	// TypePoolWithdraw is emitted when shares are burned for assets.
	TypePoolWithdraw = "pool.withdraw"
	// TypePoolBorrow is emitted when an account draws on its credit line.
	TypePoolBorrow = "pool.borrow"
	// TypePoolRepay is emitted when outstanding borrow is paid back.
	TypePoolRepay = "pool.repay"
)

// PoolDeposit captures the share mint realised by a deposit.
type PoolDeposit struct {
	Depositor [20]byte
	Assets    *big.Int
	Shares    *big.Int
}

// EventType satisfies the Event interface.
func (PoolDeposit) EventType() string { return TypePoolDeposit }

// Event converts the structured payload into a broadcastable event.
func (e PoolDeposit) Event() *types.Event {
	return &types.Event{Type: TypePoolDeposit, Attributes: map[string]string{
		"depositor": formatAddress(e.Depositor),
		"assets":    formatAmount(e.Assets),
		"shares":    formatAmount(e.Shares),
	}}
}

// PoolWithdraw captures the share burn realised by a withdrawal.
type PoolWithdraw struct {
	Receiver [20]byte
	Assets   *big.Int
	Shares   *big.Int
}

// EventType satisfies the Event interface.
func (PoolWithdraw) EventType() string { return TypePoolWithdraw }

// Event converts the structured payload into a broadcastable event.
func (e PoolWithdraw) Event() *types.Event {
	return &types.Event{Type: TypePoolWithdraw, Attributes: map[string]string{
		"receiver": formatAddress(e.Receiver),
		"assets":   formatAmount(e.Assets),
		"shares":   formatAmount(e.Shares),
	}}
}

// PoolBorrow captures a draw against an account's credit line.
type PoolBorrow struct {
	Borrower [20]byte
	Amount   *big.Int
}

// EventType satisfies the Event interface.
func (PoolBorrow) EventType() string { return TypePoolBorrow }

// Event converts the structured payload into a broadcastable event.
func (e PoolBorrow) Event() *types.Event {
	return &types.Event{Type: TypePoolBorrow, Attributes: map[string]string{
		"borrower": formatAddress(e.Borrower),
		"amount":   formatAmount(e.Amount),
	}}
}

// PoolRepay captures a repayment against outstanding borrow.
type PoolRepay struct {
	Borrower [20]byte
	Amount   *big.Int
}

// EventType satisfies the Event interface.
func (PoolRepay) EventType() string { return TypePoolRepay }

// Event converts the structured payload into a broadcastable event.
func (e PoolRepay) Event() *types.Event {
	return &types.Event{Type: TypePoolRepay, Attributes: map[string]string{
		"borrower": formatAddress(e.Borrower),
		"amount":   formatAmount(e.Amount),
	}}
}
