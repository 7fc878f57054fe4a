package credit

import (
	"errors"
	"math/big"
	"time"

	"crediflow/core/events"
	"crediflow/native/common"
	"crediflow/native/score"
)

var (
	// ErrInvalidScore marks scores outside the attestable range.
	ErrInvalidScore = errors.New("credit registry: score out of range")
	// ErrInvalidAPR marks default probabilities outside [0,10000] bps.
	ErrInvalidAPR = errors.New("credit registry: invalid apr input")
	// ErrInvalidUtilization marks utilization updates that would push an
	// account past its limit.
	ErrInvalidUtilization = errors.New("credit registry: utilization exceeds limit")
	// ErrInvalidAddress marks zero addresses in admin wiring calls.
	ErrInvalidAddress = errors.New("credit registry: invalid address")
	// ErrNoCreditState marks accounts without an active credit state.
	ErrNoCreditState = errors.New("credit registry: no active credit state")

	errNilState       = errors.New("credit registry: state not configured")
	errNilVerifier    = errors.New("credit registry: verifier not configured")
	errInvalidAmount  = errors.New("credit registry: amount must be positive")
	errNoTierSchedule = errors.New("credit registry: tier schedule not configured")
	errNotPool        = errors.New("credit registry: caller is not the bound lending pool")
)

const moduleName = "credit"

var basisPoints = big.NewInt(10_000)

type engineState interface {
	GetCreditState(addr [20]byte) (*CreditState, error)
	PutCreditState(addr [20]byte, state *CreditState) error
	GetTierSchedule() ([]Tier, error)
	PutTierSchedule(tiers []Tier) error
}

// ScoreSource abstracts the attestation verifier so the real signature scheme
// can be swapped or mocked without touching registry logic.
type ScoreSource interface {
	GetValidScore(subject [20]byte) (*score.Report, error)
}

// UtilizationSource reports pool-wide utilization in basis points; it feeds
// the rate surcharge applied on top of the tier base APR.
type UtilizationSource interface {
	UtilizationBps() (uint64, error)
}

// Engine maps attested scores to per-account limits and rates and tracks
// utilization against those limits.
type Engine struct {
	state    engineState
	verifier ScoreSource
	roles    common.RoleView
	pauses   common.PauseView
	emitter  events.Emitter
	params   RiskParams
	pool     UtilizationSource
	poolAddr [20]byte
	nowFn    func() int64
}

// NewEngine constructs a registry engine with the provided risk parameters.
func NewEngine(params RiskParams) *Engine {
	return &Engine{
		params:  params,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVerifier wires the score attestation source.
func (e *Engine) SetVerifier(verifier ScoreSource) { e.verifier = verifier }

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

// RiskParams returns the currently configured risk parameters.
func (e *Engine) RiskParams() RiskParams {
	if e == nil {
		return RiskParams{}
	}
	return e.params
}

// SetRiskParams replaces the risk parameters. Admin only.
func (e *Engine) SetRiskParams(caller [20]byte, params RiskParams) error {
	if err := common.RequireRole(e.roles, common.RoleAdmin, caller); err != nil {
		return err
	}
	if params.MinAPRBps > params.MaxAPRBps {
		return ErrInvalidAPR
	}
	e.params = params
	return nil
}

// SetLendingPool binds the pool allowed to move utilization counters and used
// as the utilization source for rate computation. Admin only.
func (e *Engine) SetLendingPool(caller, poolAddr [20]byte, pool UtilizationSource) error {
	if err := common.RequireRole(e.roles, common.RoleAdmin, caller); err != nil {
		return err
	}
	if poolAddr == ([20]byte{}) {
		return ErrInvalidAddress
	}
	e.poolAddr = poolAddr
	e.pool = pool
	return nil
}

// SetTierSchedule replaces the tier configuration. Admin only. The schedule is
// stored sorted by descending MinScore.
func (e *Engine) SetTierSchedule(caller [20]byte, tiers []Tier) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireRole(e.roles, common.RoleAdmin, caller); err != nil {
		return err
	}
	if len(tiers) == 0 {
		return errNoTierSchedule
	}
	sorted := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		if tier.BaseLimit == nil || tier.BaseLimit.Sign() < 0 {
			return errInvalidAmount
		}
		if tier.MaxUtilizationBps > 10_000 {
			return ErrInvalidUtilization
		}
		sorted = append(sorted, tier.Clone())
	}
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].MinScore > sorted[i].MinScore {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			} else if sorted[j].MinScore == sorted[i].MinScore {
				return errNoTierSchedule
			}
		}
	}
	return e.state.PutTierSchedule(sorted)
}

// TierSchedule returns the stored tier configuration.
func (e *Engine) TierSchedule() ([]Tier, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	tiers, err := e.state.GetTierSchedule()
	if err != nil {
		return nil, err
	}
	out := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, tier.Clone())
	}
	return out, nil
}

// tierFor selects the tier whose threshold is the highest value at or below
// the provided score.
func (e *Engine) tierFor(scoreValue uint16) (*Tier, error) {
	tiers, err := e.state.GetTierSchedule()
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return nil, errNoTierSchedule
	}
	for _, tier := range tiers {
		if tier.MinScore <= scoreValue {
			cloned := tier.Clone()
			return &cloned, nil
		}
	}
	return nil, errNoTierSchedule
}

// ComputeLimit derives the credit limit for a score and default probability.
// The tier base limit shrinks proportionally as the probability of default
// grows, clamped at zero.
func (e *Engine) ComputeLimit(scoreValue uint16, pdBps uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if scoreValue < score.MinScore || scoreValue > score.MaxScore {
		return nil, ErrInvalidScore
	}
	if pdBps > score.MaxPDBps {
		return nil, ErrInvalidAPR
	}
	tier, err := e.tierFor(scoreValue)
	if err != nil {
		return nil, err
	}
	// haircutBps = pdBps * riskFactorBps / 10000, capped at 10000.
	haircut := new(big.Int).SetUint64(pdBps)
	haircut.Mul(haircut, new(big.Int).SetUint64(e.params.RiskFactorBps))
	haircut.Quo(haircut, basisPoints)
	if haircut.Cmp(basisPoints) > 0 {
		haircut.Set(basisPoints)
	}
	remaining := new(big.Int).Sub(basisPoints, haircut)
	limit := new(big.Int).Mul(tier.BaseLimit, remaining)
	limit.Quo(limit, basisPoints)
	if limit.Sign() < 0 {
		limit.SetInt64(0)
	}
	return limit, nil
}

// ComputeAPR derives the annual rate from the tier base, the default
// probability and current pool utilization, clamped to the configured bounds.
func (e *Engine) ComputeAPR(baseAPRBps, pdBps, utilizationBps uint64) (uint64, error) {
	if e == nil {
		return 0, errNilState
	}
	if pdBps > score.MaxPDBps {
		return 0, ErrInvalidAPR
	}
	apr := baseAPRBps
	apr += pdBps * e.params.PDWeightBps / 10_000
	apr += utilizationBps * e.params.UtilizationWeightBps / 10_000
	if apr < e.params.MinAPRBps {
		apr = e.params.MinAPRBps
	}
	if e.params.MaxAPRBps > 0 && apr > e.params.MaxAPRBps {
		apr = e.params.MaxAPRBps
	}
	return apr, nil
}

// UpdateCreditState refreshes the account's limit and rate from its latest
// attested score. On a stale or missing attestation the existing state is
// deactivated rather than deleted and the verifier error is surfaced.
func (e *Engine) UpdateCreditState(caller, account [20]byte) (*CreditState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.verifier == nil {
		return nil, errNilVerifier
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireUpdater(caller); err != nil {
		return nil, err
	}

	report, err := e.verifier.GetValidScore(account)
	if err != nil {
		if errors.Is(err, score.ErrScoreExpired) || errors.Is(err, score.ErrScoreNotFound) {
			if deactivateErr := e.deactivate(account); deactivateErr != nil {
				return nil, deactivateErr
			}
		}
		return nil, err
	}

	tier, err := e.tierFor(report.Score)
	if err != nil {
		return nil, err
	}
	limit, err := e.ComputeLimit(report.Score, uint64(report.PDBps))
	if err != nil {
		return nil, err
	}
	utilizationBps := uint64(0)
	if e.pool != nil {
		utilizationBps, err = e.pool.UtilizationBps()
		if err != nil {
			return nil, err
		}
	}
	apr, err := e.ComputeAPR(tier.BaseAPRBps, uint64(report.PDBps), utilizationBps)
	if err != nil {
		return nil, err
	}

	state, err := e.state.GetCreditState(account)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &CreditState{Utilization: big.NewInt(0)}
	}
	state = state.Clone()
	state.Limit = limit
	state.APRBps = apr
	state.LastUpdate = e.now()
	state.Active = true

	if err := e.state.PutCreditState(account, state); err != nil {
		return nil, err
	}
	e.emit(events.CreditStateUpdated{
		Account:     account,
		Limit:       new(big.Int).Set(state.Limit),
		APRBps:      state.APRBps,
		Utilization: new(big.Int).Set(state.Utilization),
		Active:      true,
		UpdatedAt:   state.LastUpdate,
	})
	return state.Clone(), nil
}

func (e *Engine) deactivate(account [20]byte) error {
	state, err := e.state.GetCreditState(account)
	if err != nil {
		return err
	}
	if state == nil || !state.Active {
		return nil
	}
	state = state.Clone()
	state.Active = false
	state.LastUpdate = e.now()
	if err := e.state.PutCreditState(account, state); err != nil {
		return err
	}
	e.emit(events.CreditStateUpdated{
		Account:     account,
		Limit:       new(big.Int).Set(state.Limit),
		APRBps:      state.APRBps,
		Utilization: new(big.Int).Set(state.Utilization),
		Active:      false,
		UpdatedAt:   state.LastUpdate,
	})
	return nil
}

// UpdateUtilization moves the account's drawn amount. Only the bound lending
// pool may call it: borrows are rejected past the limit while repayments clamp
// at zero, since penalty-rounding overpayment must not block an operation the
// pool already approved.
func (e *Engine) UpdateUtilization(caller, account [20]byte, amount *big.Int, isBorrow bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if caller != e.poolAddr || caller == ([20]byte{}) {
		return errNotPool
	}
	if err := common.RequireRole(e.roles, common.RoleRegistryUpdater, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	state, err := e.state.GetCreditState(account)
	if err != nil {
		return err
	}
	if state == nil {
		return ErrNoCreditState
	}
	state = state.Clone()

	if isBorrow {
		if !state.Active {
			return ErrNoCreditState
		}
		next := new(big.Int).Add(state.Utilization, amount)
		if next.Cmp(state.Limit) > 0 {
			return ErrInvalidUtilization
		}
		state.Utilization = next
	} else {
		next := new(big.Int).Sub(state.Utilization, amount)
		if next.Sign() < 0 {
			next.SetInt64(0)
		}
		state.Utilization = next
	}
	state.LastUpdate = e.now()

	if err := e.state.PutCreditState(account, state); err != nil {
		return err
	}
	e.emit(events.CreditStateUpdated{
		Account:     account,
		Limit:       new(big.Int).Set(state.Limit),
		APRBps:      state.APRBps,
		Utilization: new(big.Int).Set(state.Utilization),
		Active:      state.Active,
		UpdatedAt:   state.LastUpdate,
	})
	return nil
}

// CreditStateOf returns a defensive copy of the stored state for account.
func (e *Engine) CreditStateOf(account [20]byte) (*CreditState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.state.GetCreditState(account)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNoCreditState
	}
	return state.Clone(), nil
}

// RemainingLimit reports the undrawn headroom for an active account.
func (e *Engine) RemainingLimit(account [20]byte) (*big.Int, error) {
	state, err := e.CreditStateOf(account)
	if err != nil {
		return nil, err
	}
	if !state.Active {
		return nil, ErrNoCreditState
	}
	remaining := new(big.Int).Sub(state.Limit, state.Utilization)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return remaining, nil
}

// APROf reports the rate assigned to an active account.
func (e *Engine) APROf(account [20]byte) (uint64, error) {
	state, err := e.CreditStateOf(account)
	if err != nil {
		return 0, err
	}
	if !state.Active {
		return 0, ErrNoCreditState
	}
	return state.APRBps, nil
}

func (e *Engine) requireUpdater(caller [20]byte) error {
	if e.roles == nil {
		return common.ErrUnauthorized
	}
	if e.roles.HasRole(common.RoleAdmin, caller[:]) || e.roles.HasRole(common.RoleRegistryUpdater, caller[:]) {
		return nil
	}
	return common.ErrUnauthorized
}
