package agreements

import (
	"fmt"
	"math/big"
)

// Status represents the lifecycle states of an installment agreement. The
// graph only moves forward: Pending→Active→Completed, with side exits
// Active→Defaulted and {Active,Defaulted}→WrittenOff.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusCompleted
	StatusDefaulted
	StatusWrittenOff
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusDefaulted, StatusWrittenOff:
		return true
	default:
		return false
	}
}

// String renders the canonical lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusDefaulted:
		return "defaulted"
	case StatusWrittenOff:
		return "writtenOff"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// CanTransition reports whether moving from s to next follows the defined
// forward-only graph.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive
	case StatusActive:
		return next == StatusCompleted || next == StatusDefaulted || next == StatusWrittenOff
	case StatusDefaulted:
		return next == StatusWrittenOff
	default:
		return false
	}
}

// Installment is a single scheduled repayment. Each installment is paid at
// most once.
type Installment struct {
	Amount         *big.Int
	DueDate        int64
	Paid           bool
	PaidAt         int64
	PenaltyAccrued *big.Int
}

// Clone returns a deep copy of the installment.
func (i Installment) Clone() Installment {
	clone := i
	if i.Amount != nil {
		clone.Amount = new(big.Int).Set(i.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if i.PenaltyAccrued != nil {
		clone.PenaltyAccrued = new(big.Int).Set(i.PenaltyAccrued)
	} else {
		clone.PenaltyAccrued = big.NewInt(0)
	}
	return clone
}

// Agreement captures the immutable terms and runtime status of a single
// installment loan. Principal and schedule never change after creation;
// status transitions are the only mutation.
type Agreement struct {
	ID               [32]byte
	Borrower         [20]byte
	Counterparty     [20]byte
	Principal        *big.Int
	InstallmentCount uint32
	APRBps           uint64
	PenaltyRateBps   uint64
	PenaltyCapBps    uint64
	GracePeriod      int64
	WriteOffPeriod   int64
	Status           Status
	PaidInstallments uint32
	LastPaymentTime  int64
	CreatedAt        int64
	Installments     []Installment
}

// Clone returns a deep copy of the agreement so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Principal != nil {
		clone.Principal = new(big.Int).Set(a.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	clone.Installments = make([]Installment, len(a.Installments))
	for i, installment := range a.Installments {
		clone.Installments[i] = installment.Clone()
	}
	return &clone
}

// TotalDue is the principal plus simple interest across the full schedule.
func (a *Agreement) TotalDue() *big.Int {
	if a == nil || a.Principal == nil {
		return big.NewInt(0)
	}
	total := new(big.Int).Mul(a.Principal, new(big.Int).SetUint64(10_000+a.APRBps))
	return total.Quo(total, big.NewInt(10_000))
}

// installmentPrincipal is the slice of raw principal attributed to one
// installment, with the final installment absorbing the rounding remainder.
func (a *Agreement) installmentPrincipal(index uint32) *big.Int {
	if a == nil || a.Principal == nil || a.InstallmentCount == 0 {
		return big.NewInt(0)
	}
	count := new(big.Int).SetUint64(uint64(a.InstallmentCount))
	per := new(big.Int).Quo(a.Principal, count)
	if index < a.InstallmentCount-1 {
		return per
	}
	allocated := new(big.Int).Mul(per, new(big.Int).SetUint64(uint64(a.InstallmentCount-1)))
	return new(big.Int).Sub(a.Principal, allocated)
}

// OutstandingPrincipal sums the principal slices of unpaid installments.
func (a *Agreement) OutstandingPrincipal() *big.Int {
	outstanding := big.NewInt(0)
	if a == nil {
		return outstanding
	}
	for i := range a.Installments {
		if !a.Installments[i].Paid {
			outstanding.Add(outstanding, a.installmentPrincipal(uint32(i)))
		}
	}
	return outstanding
}
