package agreements

import (
	"encoding/binary"
	"errors"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crediflow/core/events"
	"crediflow/native/common"
)

var (
	// ErrInvalidAmount marks non-positive principal.
	ErrInvalidAmount = errors.New("agreement engine: invalid amount")
	// ErrInvalidInstallment marks counts outside the configured bounds or
	// out-of-range installment indices.
	ErrInvalidInstallment = errors.New("agreement engine: invalid installment")
	// ErrInvalidAPR marks rates above the configured ceiling.
	ErrInvalidAPR = errors.New("agreement engine: invalid apr")
	// ErrAlreadyFunded marks funding attempts on non-pending agreements.
	ErrAlreadyFunded = errors.New("agreement engine: already funded")
	// ErrInstallmentAlreadyPaid marks duplicate installment payments.
	ErrInstallmentAlreadyPaid = errors.New("agreement engine: installment already paid")
	// ErrAgreementNotFound marks unknown agreement identifiers.
	ErrAgreementNotFound = errors.New("agreement engine: agreement not found")
	// ErrNotActive marks lifecycle calls against agreements outside the
	// state the call requires.
	ErrNotActive = errors.New("agreement engine: agreement not active")

	errNilState = errors.New("agreement engine: state not configured")
	errNilPool  = errors.New("agreement engine: lending pool not configured")
)

const moduleName = "agreements"

const secondsPerDay = 86_400

// Limits groups the admin-controlled ceilings and timing defaults applied to
// every new agreement. Loan-lifecycle code paths never mutate them.
type Limits struct {
	// MaxInstallments bounds the schedule length so lifecycle iteration
	// stays deterministic.
	MaxInstallments uint32
	// MaxAPRBps is the rate ceiling accepted at creation.
	MaxAPRBps uint64
	// InstallmentInterval is the spacing between due dates in seconds.
	InstallmentInterval int64
	// GracePeriod is the window after a due date with no penalty accrual.
	GracePeriod int64
	// WriteOffPeriod is the silence window after the last payment before
	// an agreement may be marked defaulted.
	WriteOffPeriod int64
	// PenaltyRateBps is the per-overdue-day penalty rate.
	PenaltyRateBps uint64
	// PenaltyCapBps caps accrued penalty relative to the installment
	// amount to avoid runaway accrual.
	PenaltyCapBps uint64
}

type engineState interface {
	GetAgreement(id [32]byte) (*Agreement, bool, error)
	PutAgreement(agreement *Agreement) error
	AgreementCount() (uint64, error)
	PutAgreementCount(count uint64) error
	AgreementIDByIndex(index uint64) ([32]byte, bool, error)
	PutAgreementIndex(index uint64, id [32]byte) error
	AgreementsByBorrower(addr [20]byte) ([][32]byte, error)
	AppendBorrowerAgreement(addr [20]byte, id [32]byte) error
	AgreementsByCounterparty(addr [20]byte) ([][32]byte, error)
	AppendCounterpartyAgreement(addr [20]byte, id [32]byte) error
}

// lendingPool is the narrow funding interface the factory draws on. Funding
// and settlement run against the borrower's credit line inside the pool.
type lendingPool interface {
	FundAgreement(borrower, counterparty [20]byte, principal *big.Int) error
	CollectInstallment(borrower [20]byte, total, principalPortion *big.Int) error
	AbsorbLoss(borrower [20]byte, outstanding *big.Int) error
}

// Engine is the factory and lifecycle driver for installment agreements. It
// owns a flat store of agreements by opaque id with secondary borrower and
// counterparty indices, avoiding live back-pointers between factory, loan and
// pool.
type Engine struct {
	state   engineState
	pool    lendingPool
	roles   common.RoleView
	pauses  common.PauseView
	emitter events.Emitter
	limits  Limits
	nowFn   func() int64
}

// NewEngine constructs an agreement engine with the provided limits.
func NewEngine(limits Limits) *Engine {
	return &Engine{
		limits:  limits,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPool wires the lending pool used for funding and settlement.
func (e *Engine) SetPool(pool lendingPool) { e.pool = pool }

// SetRoles wires the role membership view used for capability checks.
func (e *Engine) SetRoles(roles common.RoleView) { e.roles = roles }

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetLimits replaces the agreement ceilings. Admin only.
func (e *Engine) SetLimits(caller [20]byte, limits Limits) error {
	if err := common.RequireRole(e.roles, common.RoleAdmin, caller); err != nil {
		return err
	}
	if limits.MaxInstallments == 0 || limits.InstallmentInterval <= 0 {
		return ErrInvalidInstallment
	}
	e.limits = limits
	return nil
}

// Limits returns the currently configured ceilings.
func (e *Engine) Limits() Limits {
	if e == nil {
		return Limits{}
	}
	return e.limits
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func agreementID(borrower, counterparty [20]byte, sequence uint64) [32]byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	digest := ethcrypto.Keccak256(borrower[:], counterparty[:], seq[:])
	var id [32]byte
	copy(id[:], digest)
	return id
}

// CreateAgreement validates the requested terms, lays out the even
// installment schedule and registers a pending agreement under the borrower
// and counterparty indices.
func (e *Engine) CreateAgreement(caller, borrower, counterparty [20]byte, principal *big.Int, installmentCount uint32, aprBps uint64) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := common.RequireRole(e.roles, common.RoleFactoryCreator, caller); err != nil {
		return nil, err
	}
	if principal == nil || principal.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if borrower == ([20]byte{}) || counterparty == ([20]byte{}) {
		return nil, ErrInvalidAmount
	}
	if installmentCount == 0 || installmentCount > e.limits.MaxInstallments {
		return nil, ErrInvalidInstallment
	}
	if aprBps > e.limits.MaxAPRBps {
		return nil, ErrInvalidAPR
	}

	sequence, err := e.state.AgreementCount()
	if err != nil {
		return nil, err
	}

	createdAt := e.now()
	total := new(big.Int).Mul(principal, new(big.Int).SetUint64(10_000+aprBps))
	total.Quo(total, big.NewInt(10_000))
	per := new(big.Int).Quo(total, new(big.Int).SetUint64(uint64(installmentCount)))
	if per.Sign() == 0 {
		return nil, ErrInvalidAmount
	}

	installments := make([]Installment, installmentCount)
	allocated := big.NewInt(0)
	for i := uint32(0); i < installmentCount; i++ {
		amount := new(big.Int).Set(per)
		if i == installmentCount-1 {
			// The final installment absorbs the rounding remainder so
			// the schedule sums to the exact total due.
			amount = new(big.Int).Sub(total, allocated)
		}
		allocated.Add(allocated, amount)
		installments[i] = Installment{
			Amount:         amount,
			DueDate:        createdAt + e.limits.InstallmentInterval*int64(i+1),
			PenaltyAccrued: big.NewInt(0),
		}
	}

	agreement := &Agreement{
		ID:               agreementID(borrower, counterparty, sequence),
		Borrower:         borrower,
		Counterparty:     counterparty,
		Principal:        new(big.Int).Set(principal),
		InstallmentCount: installmentCount,
		APRBps:           aprBps,
		PenaltyRateBps:   e.limits.PenaltyRateBps,
		PenaltyCapBps:    e.limits.PenaltyCapBps,
		GracePeriod:      e.limits.GracePeriod,
		WriteOffPeriod:   e.limits.WriteOffPeriod,
		Status:           StatusPending,
		CreatedAt:        createdAt,
		Installments:     installments,
	}

	if err := e.state.PutAgreement(agreement); err != nil {
		return nil, err
	}
	if err := e.state.PutAgreementIndex(sequence, agreement.ID); err != nil {
		return nil, err
	}
	if err := e.state.PutAgreementCount(sequence + 1); err != nil {
		return nil, err
	}
	if err := e.state.AppendBorrowerAgreement(borrower, agreement.ID); err != nil {
		return nil, err
	}
	if err := e.state.AppendCounterpartyAgreement(counterparty, agreement.ID); err != nil {
		return nil, err
	}

	e.emit(events.AgreementCreated{
		ID:               agreement.ID,
		Borrower:         borrower,
		Counterparty:     counterparty,
		Principal:        new(big.Int).Set(principal),
		InstallmentCount: installmentCount,
		APRBps:           aprBps,
	})
	return agreement.Clone(), nil
}

// Fund activates a pending agreement, drawing the principal from the pool
// against the borrower's credit line and paying it to the counterparty.
func (e *Engine) Fund(caller [20]byte, id [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.pool == nil {
		return errNilPool
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := common.RequireRole(e.roles, common.RoleFactoryCreator, caller); err != nil {
		return err
	}

	agreement, err := e.loadAgreement(id)
	if err != nil {
		return err
	}
	if agreement.Status != StatusPending {
		return ErrAlreadyFunded
	}

	if err := e.pool.FundAgreement(agreement.Borrower, agreement.Counterparty, agreement.Principal); err != nil {
		return err
	}

	fundedAt := e.now()
	agreement.Status = StatusActive
	agreement.LastPaymentTime = fundedAt
	if err := e.state.PutAgreement(agreement); err != nil {
		return err
	}

	e.emit(events.AgreementFunded{
		ID:           agreement.ID,
		Counterparty: agreement.Counterparty,
		Principal:    new(big.Int).Set(agreement.Principal),
		FundedAt:     fundedAt,
	})
	return nil
}

func penaltyAt(agreement *Agreement, index uint32, now int64) *big.Int {
	installment := agreement.Installments[index]
	deadline := installment.DueDate + agreement.GracePeriod
	if now <= deadline {
		return big.NewInt(0)
	}
	overdue := now - deadline
	days := (overdue + secondsPerDay - 1) / secondsPerDay
	penalty := new(big.Int).Mul(installment.Amount, new(big.Int).SetUint64(agreement.PenaltyRateBps))
	penalty.Mul(penalty, big.NewInt(days))
	penalty.Quo(penalty, big.NewInt(10_000))
	if agreement.PenaltyCapBps > 0 {
		ceiling := new(big.Int).Mul(installment.Amount, new(big.Int).SetUint64(agreement.PenaltyCapBps))
		ceiling.Quo(ceiling, big.NewInt(10_000))
		if penalty.Cmp(ceiling) > 0 {
			penalty = ceiling
		}
	}
	return penalty
}

// CalculatePenalty reports the penalty currently accrued on an installment.
// Zero within the grace window, non-decreasing afterwards, capped to avoid
// runaway accrual. Timing queries never fail.
func (e *Engine) CalculatePenalty(id [32]byte, index uint32) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if index >= agreement.InstallmentCount {
		return nil, ErrInvalidInstallment
	}
	if agreement.Installments[index].Paid {
		return new(big.Int).Set(agreement.Installments[index].PenaltyAccrued), nil
	}
	return penaltyAt(agreement, index, e.now()), nil
}

// PayInstallment settles one installment plus any accrued penalty. The
// borrower pays amount + penalty through the pool; the principal slice
// unwinds the borrower's utilization while interest and penalty accrue to the
// pool. Completing the final installment closes the agreement.
func (e *Engine) PayInstallment(payer [20]byte, id [32]byte, index uint32) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.pool == nil {
		return nil, errNilPool
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if agreement.Status != StatusActive {
		return nil, ErrNotActive
	}
	if payer != agreement.Borrower {
		return nil, common.ErrUnauthorized
	}
	if index >= agreement.InstallmentCount {
		return nil, ErrInvalidInstallment
	}
	if agreement.Installments[index].Paid {
		return nil, ErrInstallmentAlreadyPaid
	}

	paidAt := e.now()
	penalty := penaltyAt(agreement, index, paidAt)
	total := new(big.Int).Add(agreement.Installments[index].Amount, penalty)
	principalPortion := agreement.installmentPrincipal(index)

	if err := e.pool.CollectInstallment(agreement.Borrower, total, principalPortion); err != nil {
		return nil, err
	}

	agreement.Installments[index].Paid = true
	agreement.Installments[index].PaidAt = paidAt
	agreement.Installments[index].PenaltyAccrued = penalty
	agreement.PaidInstallments++
	agreement.LastPaymentTime = paidAt
	completed := agreement.PaidInstallments == agreement.InstallmentCount
	if completed {
		agreement.Status = StatusCompleted
	}
	if err := e.state.PutAgreement(agreement); err != nil {
		return nil, err
	}

	e.emit(events.InstallmentPaid{
		ID:      agreement.ID,
		Index:   index,
		Amount:  new(big.Int).Set(agreement.Installments[index].Amount),
		Penalty: new(big.Int).Set(penalty),
		PaidAt:  paidAt,
	})
	if completed {
		e.emit(events.AgreementCompleted{ID: agreement.ID, CompletedAt: paidAt})
	}
	return total, nil
}

// CheckDefault flips an active agreement to Defaulted once the write-off
// window has fully elapsed since the last payment with installments still
// outstanding. Callable by anyone; a defaulted agreement never flips back.
func (e *Engine) CheckDefault(id [32]byte) (Status, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return 0, err
	}
	if agreement.Status != StatusActive {
		return agreement.Status, nil
	}
	if agreement.PaidInstallments == agreement.InstallmentCount {
		return agreement.Status, nil
	}
	defaultedAt := e.now()
	if defaultedAt <= agreement.LastPaymentTime+agreement.WriteOffPeriod {
		return agreement.Status, nil
	}
	agreement.Status = StatusDefaulted
	if err := e.state.PutAgreement(agreement); err != nil {
		return 0, err
	}
	e.emit(events.AgreementDefaulted{ID: agreement.ID, DefaultedAt: defaultedAt})
	return StatusDefaulted, nil
}

// WriteOff forces a final, irreversible close of an active or defaulted
// agreement, absorbing the outstanding principal out of the pool's books.
// Admin only.
func (e *Engine) WriteOff(caller [20]byte, id [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.pool == nil {
		return errNilPool
	}
	if err := common.RequireRole(e.roles, common.RoleAdmin, caller); err != nil {
		return err
	}

	agreement, err := e.loadAgreement(id)
	if err != nil {
		return err
	}
	if !agreement.Status.CanTransition(StatusWrittenOff) {
		return ErrNotActive
	}

	outstanding := agreement.OutstandingPrincipal()
	if outstanding.Sign() > 0 {
		if err := e.pool.AbsorbLoss(agreement.Borrower, outstanding); err != nil {
			return err
		}
	}

	writtenOffAt := e.now()
	agreement.Status = StatusWrittenOff
	if err := e.state.PutAgreement(agreement); err != nil {
		return err
	}
	e.emit(events.AgreementWrittenOff{
		ID:           agreement.ID,
		Loss:         outstanding,
		WrittenOffAt: writtenOffAt,
	})
	return nil
}

func (e *Engine) loadAgreement(id [32]byte) (*Agreement, error) {
	agreement, ok, err := e.state.GetAgreement(id)
	if err != nil {
		return nil, err
	}
	if !ok || agreement == nil {
		return nil, ErrAgreementNotFound
	}
	return agreement, nil
}

// AgreementByID returns a defensive copy of the stored agreement.
func (e *Engine) AgreementByID(id [32]byte) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	return agreement.Clone(), nil
}

// AgreementByIndex returns the agreement registered at the given creation
// sequence number.
func (e *Engine) AgreementByIndex(index uint64) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	id, ok, err := e.state.AgreementIDByIndex(index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAgreementNotFound
	}
	return e.AgreementByID(id)
}

// Count reports the total number of agreements ever created.
func (e *Engine) Count() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.AgreementCount()
}

// AgreementsByBorrower lists the agreements indexed under a borrower.
func (e *Engine) AgreementsByBorrower(addr [20]byte) ([]*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.AgreementsByBorrower(addr)
	if err != nil {
		return nil, err
	}
	return e.collect(ids)
}

// AgreementsByCounterparty lists the agreements indexed under a counterparty.
func (e *Engine) AgreementsByCounterparty(addr [20]byte) ([]*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.AgreementsByCounterparty(addr)
	if err != nil {
		return nil, err
	}
	return e.collect(ids)
}

func (e *Engine) collect(ids [][32]byte) ([]*Agreement, error) {
	out := make([]*Agreement, 0, len(ids))
	for _, id := range ids {
		agreement, err := e.AgreementByID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, agreement)
	}
	return out, nil
}
