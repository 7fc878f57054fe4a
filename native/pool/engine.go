package pool

import (
	"errors"
	"math/big"
	"time"

	"crediflow/core/events"
	"crediflow/core/types"
	"crediflow/native/common"
)

var (
	// ErrInvalidAmount marks zero, negative or otherwise malformed amounts,
	// including repayments beyond the outstanding borrow.
	ErrInvalidAmount = errors.New("lending pool: invalid amount")
	// ErrInsufficientLiquidity marks operations the free (unborrowed,
	// unreserved) capital cannot cover, or that would breach the pool
	// utilization ceiling.
	ErrInsufficientLiquidity = errors.New("lending pool: insufficient liquidity")
	// ErrInvalidTrancheRatio marks configuration outside sane tranche
	// bounds.
	ErrInvalidTrancheRatio = errors.New("lending pool: invalid tranche ratio")

	errNilState            = errors.New("lending pool: state not configured")
	errNilRegistry         = errors.New("lending pool: credit registry not configured")
	errInsufficientBalance = errors.New("lending pool: insufficient balance")
)

var basisPoints = big.NewInt(10_000)

const moduleName = "pool"

type engineState interface {
	GetPoolState() (*PoolState, error)
	PutPoolState(state *PoolState) error
	GetShares(addr [20]byte) (*big.Int, error)
	PutShares(addr [20]byte, shares *big.Int) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// creditRegistry is the narrow view of the registry the pool needs: limit
// enforcement happens inside UpdateUtilization so a borrow past the account
// limit fails before any pool state is written.
type creditRegistry interface {
	UpdateUtilization(caller, account [20]byte, amount *big.Int, isBorrow bool) error
}

// Engine orchestrates deposits, withdrawals and credit-gated borrowing
// against the pooled reserve.
type Engine struct {
	state          engineState
	registry       creditRegistry
	roles          common.RoleView
	pauses         common.PauseView
	emitter        events.Emitter
	moduleAddr     [20]byte
	seniorFloorBps uint64
	nowFn          func() int64
}

// NewEngine constructs a pool engine. moduleAddr is the treasury account that
// custodies pooled capital.
func NewEngine(moduleAddr [20]byte) *Engine {
	return &Engine{
		moduleAddr:     moduleAddr,
		seniorFloorBps: 2_000,
		emitter:        events.NoopEmitter{},
		nowFn:          func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry wires the credit registry consulted on borrow and repay.
func (e *Engine) SetRegistry(registry creditRegistry) { e.registry = registry }

// SetRoles wires the role membership view used for admin gating.
func (e *Engine) SetRoles(roles common.RoleView) { e.roles = roles }

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetSeniorFloor overrides the minimum senior tranche ratio accepted by
// SetConfig.
func (e *Engine) SetSeniorFloor(bps uint64) {
	if e == nil {
		return
	}
	e.seniorFloorBps = bps
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

// ModuleAddress returns the treasury account holding pooled capital.
func (e *Engine) ModuleAddress() [20]byte {
	if e == nil {
		return [20]byte{}
	}
	return e.moduleAddr
}

func (e *Engine) ensurePool() (*PoolState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.state.GetPoolState()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &PoolState{MaxUtilizationBps: 10_000}
	}
	if state.TotalAssets == nil {
		state.TotalAssets = big.NewInt(0)
	}
	if state.TotalShares == nil {
		state.TotalShares = big.NewInt(0)
	}
	if state.Reserve == nil {
		state.Reserve = big.NewInt(0)
	}
	if state.BorrowedTotal == nil {
		state.BorrowedTotal = big.NewInt(0)
	}
	return state, nil
}

func (e *Engine) loadAccount(addr [20]byte) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc, nil
}

func (e *Engine) loadShares(addr [20]byte) (*big.Int, error) {
	shares, err := e.state.GetShares(addr)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(shares), nil
}

// freeLiquidity is the capital available for withdrawals and new borrows:
// total assets minus outstanding borrow and the reserve buffer.
func freeLiquidity(state *PoolState) *big.Int {
	free := new(big.Int).Sub(state.TotalAssets, state.BorrowedTotal)
	free.Sub(free, state.Reserve)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return free
}

func sharesFor(state *PoolState, assets *big.Int) *big.Int {
	if state.TotalShares.Sign() == 0 || state.TotalAssets.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	shares := new(big.Int).Mul(assets, state.TotalShares)
	return shares.Quo(shares, state.TotalAssets)
}

func assetsFor(state *PoolState, shares *big.Int) *big.Int {
	if state.TotalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	assets := new(big.Int).Mul(shares, state.TotalAssets)
	return assets.Quo(assets, state.TotalShares)
}

// ConvertToShares reports the share amount a deposit of assets would mint at
// the current share price.
func (e *Engine) ConvertToShares(assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	state, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	return sharesFor(state, assets), nil
}

// ConvertToAssets reports the asset value of the provided share amount.
func (e *Engine) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	state, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	return assetsFor(state, shares), nil
}

// UtilizationBps reports pool-wide utilization in basis points.
func (e *Engine) UtilizationBps() (uint64, error) {
	state, err := e.ensurePool()
	if err != nil {
		return 0, err
	}
	if state.TotalAssets.Sign() == 0 {
		return 0, nil
	}
	util := new(big.Int).Mul(state.BorrowedTotal, basisPoints)
	util.Quo(util, state.TotalAssets)
	return util.Uint64(), nil
}

// Deposit pulls assets from the depositor and mints shares at the current
// share price. The minted share amount is returned.
func (e *Engine) Deposit(from [20]byte, assets *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 || from == ([20]byte{}) {
		return nil, ErrInvalidAmount
	}

	state, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	minted := sharesFor(state, assets)
	if minted.Sign() == 0 {
		return nil, ErrInvalidAmount
	}

	depositor, err := e.loadAccount(from)
	if err != nil {
		return nil, err
	}
	if depositor.Balance.Cmp(assets) < 0 {
		return nil, errInsufficientBalance
	}
	module, err := e.loadAccount(e.moduleAddr)
	if err != nil {
		return nil, err
	}
	holderShares, err := e.loadShares(from)
	if err != nil {
		return nil, err
	}

	state.TotalAssets = new(big.Int).Add(state.TotalAssets, assets)
	state.TotalShares = new(big.Int).Add(state.TotalShares, minted)
	holderShares = holderShares.Add(holderShares, minted)

	if err := e.state.PutPoolState(state); err != nil {
		return nil, err
	}
	if err := e.state.PutShares(from, holderShares); err != nil {
		return nil, err
	}

	depositor.Balance = new(big.Int).Sub(depositor.Balance, assets)
	module.Balance = new(big.Int).Add(module.Balance, assets)
	if err := e.state.PutAccount(from, depositor); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(e.moduleAddr, module); err != nil {
		return nil, err
	}

	e.emit(events.PoolDeposit{Depositor: from, Assets: new(big.Int).Set(assets), Shares: new(big.Int).Set(minted)})
	return minted, nil
}

// Withdraw burns shares and releases the corresponding assets to the
// receiver. Bookkeeping settles before the balance transfer so a re-entering
// counterparty can never observe stale totals.
func (e *Engine) Withdraw(to [20]byte, shares *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 || to == ([20]byte{}) {
		return nil, ErrInvalidAmount
	}

	state, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	holderShares, err := e.loadShares(to)
	if err != nil {
		return nil, err
	}
	if holderShares.Cmp(shares) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	assets := assetsFor(state, shares)
	if assets.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if assets.Cmp(freeLiquidity(state)) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	module, err := e.loadAccount(e.moduleAddr)
	if err != nil {
		return nil, err
	}
	if module.Balance.Cmp(assets) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	receiver, err := e.loadAccount(to)
	if err != nil {
		return nil, err
	}

	state.TotalAssets = new(big.Int).Sub(state.TotalAssets, assets)
	state.TotalShares = new(big.Int).Sub(state.TotalShares, shares)
	holderShares = holderShares.Sub(holderShares, shares)

	if err := e.state.PutPoolState(state); err != nil {
		return nil, err
	}
	if err := e.state.PutShares(to, holderShares); err != nil {
		return nil, err
	}

	module.Balance = new(big.Int).Sub(module.Balance, assets)
	receiver.Balance = new(big.Int).Add(receiver.Balance, assets)
	if err := e.state.PutAccount(e.moduleAddr, module); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(to, receiver); err != nil {
		return nil, err
	}

	e.emit(events.PoolWithdraw{Receiver: to, Assets: new(big.Int).Set(assets), Shares: new(big.Int).Set(shares)})
	return assets, nil
}

// Borrow draws on the caller's credit line and transfers the funds to the
// borrower. The registry enforces the per-account limit before any pool state
// is written.
func (e *Engine) Borrow(borrower [20]byte, amount *big.Int) error {
	return e.borrowTo(borrower, borrower, amount, events.PoolBorrow{Borrower: borrower, Amount: cloneAmount(amount)})
}

// FundAgreement draws on the borrower's credit line and pays the principal to
// the counterparty. Used by the agreement factory when activating a loan.
func (e *Engine) FundAgreement(borrower, counterparty [20]byte, principal *big.Int) error {
	return e.borrowTo(borrower, counterparty, principal, events.PoolBorrow{Borrower: borrower, Amount: cloneAmount(principal)})
}

func (e *Engine) borrowTo(borrower, recipient [20]byte, amount *big.Int, evt events.Event) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 || borrower == ([20]byte{}) || recipient == ([20]byte{}) {
		return ErrInvalidAmount
	}

	state, err := e.ensurePool()
	if err != nil {
		return err
	}
	if amount.Cmp(freeLiquidity(state)) > 0 {
		return ErrInsufficientLiquidity
	}
	projected := new(big.Int).Add(state.BorrowedTotal, amount)
	ceiling := new(big.Int).Mul(state.TotalAssets, new(big.Int).SetUint64(state.MaxUtilizationBps))
	if new(big.Int).Mul(projected, basisPoints).Cmp(ceiling) > 0 {
		return ErrInsufficientLiquidity
	}

	module, err := e.loadAccount(e.moduleAddr)
	if err != nil {
		return err
	}
	if module.Balance.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	target, err := e.loadAccount(recipient)
	if err != nil {
		return err
	}

	// The registry performs the limit check and moves the utilization
	// counter; any failure here aborts before the pool mutates.
	if err := e.registry.UpdateUtilization(e.moduleAddr, borrower, amount, true); err != nil {
		return err
	}

	state.BorrowedTotal = projected
	if err := e.state.PutPoolState(state); err != nil {
		return err
	}

	module.Balance = new(big.Int).Sub(module.Balance, amount)
	target.Balance = new(big.Int).Add(target.Balance, amount)
	if err := e.state.PutAccount(e.moduleAddr, module); err != nil {
		return err
	}
	if err := e.state.PutAccount(recipient, target); err != nil {
		return err
	}

	e.emit(evt)
	return nil
}

// Repay pulls a principal repayment from the borrower. Overpayment beyond the
// outstanding borrowed balance is rejected.
func (e *Engine) Repay(borrower [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	state, err := e.ensurePool()
	if err != nil {
		return err
	}
	if amount.Cmp(state.BorrowedTotal) > 0 {
		return ErrInvalidAmount
	}

	payer, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}
	if payer.Balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	module, err := e.loadAccount(e.moduleAddr)
	if err != nil {
		return err
	}

	if err := e.registry.UpdateUtilization(e.moduleAddr, borrower, amount, false); err != nil {
		return err
	}

	state.BorrowedTotal = new(big.Int).Sub(state.BorrowedTotal, amount)
	if state.BorrowedTotal.Sign() < 0 {
		state.BorrowedTotal.SetInt64(0)
	}
	if err := e.state.PutPoolState(state); err != nil {
		return err
	}

	payer.Balance = new(big.Int).Sub(payer.Balance, amount)
	module.Balance = new(big.Int).Add(module.Balance, amount)
	if err := e.state.PutAccount(borrower, payer); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddr, module); err != nil {
		return err
	}

	e.emit(events.PoolRepay{Borrower: borrower, Amount: new(big.Int).Set(amount)})
	return nil
}

// CollectInstallment settles an installment payment against the pool. The
// principal portion unwinds outstanding borrow while interest and penalty
// accrue to the pool, with the configured reserve slice routed to the loss
// buffer. The share price therefore only moves up on repayment.
func (e *Engine) CollectInstallment(borrower [20]byte, total, principalPortion *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if total == nil || total.Sign() <= 0 || principalPortion == nil || principalPortion.Sign() < 0 {
		return ErrInvalidAmount
	}
	if principalPortion.Cmp(total) > 0 {
		return ErrInvalidAmount
	}

	state, err := e.ensurePool()
	if err != nil {
		return err
	}

	payer, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}
	if payer.Balance.Cmp(total) < 0 {
		return errInsufficientBalance
	}
	module, err := e.loadAccount(e.moduleAddr)
	if err != nil {
		return err
	}

	if principalPortion.Sign() > 0 {
		if err := e.registry.UpdateUtilization(e.moduleAddr, borrower, principalPortion, false); err != nil {
			return err
		}
	}

	interest := new(big.Int).Sub(total, principalPortion)
	state.BorrowedTotal = new(big.Int).Sub(state.BorrowedTotal, principalPortion)
	if state.BorrowedTotal.Sign() < 0 {
		state.BorrowedTotal.SetInt64(0)
	}
	if interest.Sign() > 0 {
		state.TotalAssets = new(big.Int).Add(state.TotalAssets, interest)
		reserveShare := new(big.Int).Mul(interest, new(big.Int).SetUint64(state.ReserveRatioBps))
		reserveShare.Quo(reserveShare, basisPoints)
		state.Reserve = new(big.Int).Add(state.Reserve, reserveShare)
		state.LastAccrualTime = e.now()
	}
	if err := e.state.PutPoolState(state); err != nil {
		return err
	}

	payer.Balance = new(big.Int).Sub(payer.Balance, total)
	module.Balance = new(big.Int).Add(module.Balance, total)
	if err := e.state.PutAccount(borrower, payer); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddr, module); err != nil {
		return err
	}

	e.emit(events.PoolRepay{Borrower: borrower, Amount: new(big.Int).Set(total)})
	return nil
}

// AbsorbLoss closes a written-off exposure out of the pool's books. The
// reserve buffer shrinks first; the remainder dilutes the share price.
func (e *Engine) AbsorbLoss(borrower [20]byte, outstanding *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if outstanding == nil || outstanding.Sign() <= 0 {
		return ErrInvalidAmount
	}

	state, err := e.ensurePool()
	if err != nil {
		return err
	}

	if err := e.registry.UpdateUtilization(e.moduleAddr, borrower, outstanding, false); err != nil {
		return err
	}

	state.BorrowedTotal = new(big.Int).Sub(state.BorrowedTotal, outstanding)
	if state.BorrowedTotal.Sign() < 0 {
		state.BorrowedTotal.SetInt64(0)
	}
	state.TotalAssets = new(big.Int).Sub(state.TotalAssets, outstanding)
	if state.TotalAssets.Sign() < 0 {
		state.TotalAssets.SetInt64(0)
	}
	absorbed := new(big.Int).Set(outstanding)
	if absorbed.Cmp(state.Reserve) > 0 {
		absorbed.Set(state.Reserve)
	}
	state.Reserve = new(big.Int).Sub(state.Reserve, absorbed)

	return e.state.PutPoolState(state)
}

// SetConfig replaces the tranche ratios and utilization ceiling. Admin only.
func (e *Engine) SetConfig(caller [20]byte, seniorRatioBps, reserveRatioBps, maxUtilizationBps uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireRole(e.roles, common.RoleAdmin, caller); err != nil {
		return err
	}
	if seniorRatioBps < e.seniorFloorBps || seniorRatioBps > 10_000 {
		return ErrInvalidTrancheRatio
	}
	if reserveRatioBps > 10_000 || maxUtilizationBps == 0 || maxUtilizationBps > 10_000 {
		return ErrInvalidTrancheRatio
	}
	state, err := e.ensurePool()
	if err != nil {
		return err
	}
	state.SeniorRatioBps = seniorRatioBps
	state.ReserveRatioBps = reserveRatioBps
	state.MaxUtilizationBps = maxUtilizationBps
	return e.state.PutPoolState(state)
}

// State returns a defensive copy of the pool accounting.
func (e *Engine) State() (*PoolState, error) {
	state, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// SharesOf reports the share balance held by addr.
func (e *Engine) SharesOf(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadShares(addr)
}
