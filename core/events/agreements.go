package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"crediflow/core/types"
)

const (
	// TypeAgreementCreated is emitted when the factory registers a new
	// installment agreement in the pending state.
	TypeAgreementCreated = "agreements.created"
	// TypeAgreementFunded is emitted when principal is released to the
	// counterparty and the agreement activates.
	TypeAgreementFunded = "agreements.funded"
	// TypeInstallmentPaid is emitted for every settled installment.
	TypeInstallmentPaid = "agreements.installmentPaid"
	// TypeAgreementCompleted is emitted when the final installment clears.
	TypeAgreementCompleted = "agreements.completed"
	// TypeAgreementDefaulted is emitted when the write-off window elapses
	// with an unpaid installment outstanding.
	TypeAgreementDefaulted = "agreements.defaulted"
	// TypeAgreementWrittenOff is emitted when an admin closes the loss out
	// of the pool's books.
	TypeAgreementWrittenOff = "agreements.writtenOff"
)

// AgreementCreated captures the immutable terms recorded at creation time.
type AgreementCreated struct {
	ID               [32]byte
	Borrower         [20]byte
	Counterparty     [20]byte
	Principal        *big.Int
	InstallmentCount uint32
	APRBps           uint64
}

// EventType satisfies the Event interface.
func (AgreementCreated) EventType() string { return TypeAgreementCreated }

// Event converts the structured payload into a broadcastable event.
func (e AgreementCreated) Event() *types.Event {
	return &types.Event{Type: TypeAgreementCreated, Attributes: map[string]string{
		"id":           hex.EncodeToString(e.ID[:]),
		"borrower":     formatAddress(e.Borrower),
		"counterparty": formatAddress(e.Counterparty),
		"principal":    formatAmount(e.Principal),
		"installments": strconv.FormatUint(uint64(e.InstallmentCount), 10),
		"aprBps":       strconv.FormatUint(e.APRBps, 10),
	}}
}

// AgreementFunded captures the principal transfer that activates an agreement.
type AgreementFunded struct {
	ID           [32]byte
	Counterparty [20]byte
	Principal    *big.Int
	FundedAt     int64
}

// EventType satisfies the Event interface.
func (AgreementFunded) EventType() string { return TypeAgreementFunded }

// Event converts the structured payload into a broadcastable event.
func (e AgreementFunded) Event() *types.Event {
	return &types.Event{Type: TypeAgreementFunded, Attributes: map[string]string{
		"id":           hex.EncodeToString(e.ID[:]),
		"counterparty": formatAddress(e.Counterparty),
		"principal":    formatAmount(e.Principal),
		"fundedAt":     strconv.FormatInt(e.FundedAt, 10),
	}}
}

// InstallmentPaid captures a settled installment including any penalty.
type InstallmentPaid struct {
	ID      [32]byte
	Index   uint32
	Amount  *big.Int
	Penalty *big.Int
	PaidAt  int64
}

// EventType satisfies the Event interface.
func (InstallmentPaid) EventType() string { return TypeInstallmentPaid }

// Event converts the structured payload into a broadcastable event.
func (e InstallmentPaid) Event() *types.Event {
	return &types.Event{Type: TypeInstallmentPaid, Attributes: map[string]string{
		"id":      hex.EncodeToString(e.ID[:]),
		"index":   strconv.FormatUint(uint64(e.Index), 10),
		"amount":  formatAmount(e.Amount),
		"penalty": formatAmount(e.Penalty),
		"paidAt":  strconv.FormatInt(e.PaidAt, 10),
	}}
}

// AgreementCompleted marks the terminal success state of an agreement.
type AgreementCompleted struct {
	ID          [32]byte
	CompletedAt int64
}

// EventType satisfies the Event interface.
func (AgreementCompleted) EventType() string { return TypeAgreementCompleted }

// Event converts the structured payload into a broadcastable event.
func (e AgreementCompleted) Event() *types.Event {
	return &types.Event{Type: TypeAgreementCompleted, Attributes: map[string]string{
		"id":          hex.EncodeToString(e.ID[:]),
		"completedAt": strconv.FormatInt(e.CompletedAt, 10),
	}}
}

// AgreementDefaulted marks the transition into the defaulted state.
type AgreementDefaulted struct {
	ID          [32]byte
	DefaultedAt int64
}

// EventType satisfies the Event interface.
func (AgreementDefaulted) EventType() string { return TypeAgreementDefaulted }

// Event converts the structured payload into a broadcastable event.
func (e AgreementDefaulted) Event() *types.Event {
	return &types.Event{Type: TypeAgreementDefaulted, Attributes: map[string]string{
		"id":          hex.EncodeToString(e.ID[:]),
		"defaultedAt": strconv.FormatInt(e.DefaultedAt, 10),
	}}
}

// AgreementWrittenOff marks the final write-off with the loss absorbed by the
// pool.
type AgreementWrittenOff struct {
	ID           [32]byte
	Loss         *big.Int
	WrittenOffAt int64
}

// EventType satisfies the Event interface.
func (AgreementWrittenOff) EventType() string { return TypeAgreementWrittenOff }

// Event converts the structured payload into a broadcastable event.
func (e AgreementWrittenOff) Event() *types.Event {
	return &types.Event{Type: TypeAgreementWrittenOff, Attributes: map[string]string{
		"id":           hex.EncodeToString(e.ID[:]),
		"loss":         formatAmount(e.Loss),
		"writtenOffAt": strconv.FormatInt(e.WrittenOffAt, 10),
	}}
}
