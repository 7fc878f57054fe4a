package agreements

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"crediflow/core/events"
	"crediflow/native/common"
)

type mockEngineState struct {
	agreements     map[[32]byte]*Agreement
	count          uint64
	index          map[uint64][32]byte
	byBorrower     map[[20]byte][][32]byte
	byCounterparty map[[20]byte][][32]byte
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		agreements:     make(map[[32]byte]*Agreement),
		index:          make(map[uint64][32]byte),
		byBorrower:     make(map[[20]byte][][32]byte),
		byCounterparty: make(map[[20]byte][][32]byte),
	}
}

func (m *mockEngineState) GetAgreement(id [32]byte) (*Agreement, bool, error) {
	if agreement, ok := m.agreements[id]; ok {
		return agreement.Clone(), true, nil
	}
	return nil, false, nil
}

func (m *mockEngineState) PutAgreement(agreement *Agreement) error {
	m.agreements[agreement.ID] = agreement.Clone()
	return nil
}

func (m *mockEngineState) AgreementCount() (uint64, error) { return m.count, nil }

func (m *mockEngineState) PutAgreementCount(count uint64) error {
	m.count = count
	return nil
}

func (m *mockEngineState) AgreementIDByIndex(index uint64) ([32]byte, bool, error) {
	id, ok := m.index[index]
	return id, ok, nil
}

func (m *mockEngineState) PutAgreementIndex(index uint64, id [32]byte) error {
	m.index[index] = id
	return nil
}

func (m *mockEngineState) AgreementsByBorrower(addr [20]byte) ([][32]byte, error) {
	return m.byBorrower[addr], nil
}

func (m *mockEngineState) AppendBorrowerAgreement(addr [20]byte, id [32]byte) error {
	m.byBorrower[addr] = append(m.byBorrower[addr], id)
	return nil
}

func (m *mockEngineState) AgreementsByCounterparty(addr [20]byte) ([][32]byte, error) {
	return m.byCounterparty[addr], nil
}

func (m *mockEngineState) AppendCounterpartyAgreement(addr [20]byte, id [32]byte) error {
	m.byCounterparty[addr] = append(m.byCounterparty[addr], id)
	return nil
}

type poolCall struct {
	kind      string
	borrower  [20]byte
	total     *big.Int
	principal *big.Int
}

type mockPool struct {
	calls []poolCall
	err   error
}

func (m *mockPool) FundAgreement(borrower, counterparty [20]byte, principal *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, poolCall{kind: "fund", borrower: borrower, principal: new(big.Int).Set(principal)})
	return nil
}

func (m *mockPool) CollectInstallment(borrower [20]byte, total, principalPortion *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, poolCall{
		kind:      "collect",
		borrower:  borrower,
		total:     new(big.Int).Set(total),
		principal: new(big.Int).Set(principalPortion),
	})
	return nil
}

func (m *mockPool) AbsorbLoss(borrower [20]byte, outstanding *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, poolCall{kind: "absorb", borrower: borrower, total: new(big.Int).Set(outstanding)})
	return nil
}

type mockRoles struct {
	grants map[string]map[string]bool
}

func newMockRoles() *mockRoles {
	return &mockRoles{grants: make(map[string]map[string]bool)}
}

func (m *mockRoles) grant(role string, addr [20]byte) {
	if m.grants[role] == nil {
		m.grants[role] = make(map[string]bool)
	}
	m.grants[role][string(addr[:])] = true
}

func (m *mockRoles) HasRole(role string, addr []byte) bool {
	return m.grants[role][string(addr)]
}

func addr(suffix byte) [20]byte {
	var a [20]byte
	a[len(a)-1] = suffix
	return a
}

func testLimits() Limits {
	return Limits{
		MaxInstallments:     12,
		MaxAPRBps:           6_000,
		InstallmentInterval: 1_000,
		GracePeriod:         500,
		WriteOffPeriod:      10_000,
		PenaltyRateBps:      50,
		PenaltyCapBps:       2_500,
	}
}

type testEnv struct {
	engine  *Engine
	state   *mockEngineState
	pool    *mockPool
	admin   [20]byte
	creator [20]byte
	now     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:   newMockEngineState(),
		pool:    &mockPool{},
		admin:   addr(0xad),
		creator: addr(0xcc),
		now:     1_000,
	}
	roles := newMockRoles()
	roles.grant(common.RoleAdmin, env.admin)
	roles.grant(common.RoleFactoryCreator, env.creator)

	engine := NewEngine(testLimits())
	engine.SetState(env.state)
	engine.SetPool(env.pool)
	engine.SetRoles(roles)
	engine.SetNowFunc(func() int64 { return env.now })
	env.engine = engine
	return env
}

func (env *testEnv) create(t *testing.T, principal int64, count uint32, aprBps uint64) *Agreement {
	t.Helper()
	agreement, err := env.engine.CreateAgreement(env.creator, addr(0x01), addr(0x02), big.NewInt(principal), count, aprBps)
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	return agreement
}

func (env *testEnv) createFunded(t *testing.T, principal int64, count uint32, aprBps uint64) *Agreement {
	t.Helper()
	agreement := env.create(t, principal, count, aprBps)
	if err := env.engine.Fund(env.creator, agreement.ID); err != nil {
		t.Fatalf("fund agreement: %v", err)
	}
	funded, err := env.engine.AgreementByID(agreement.ID)
	if err != nil {
		t.Fatalf("reload agreement: %v", err)
	}
	return funded
}

func TestCreateAgreementSchedule(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.create(t, 1_000, 6, 1_500)

	if agreement.Status != StatusPending {
		t.Fatalf("status %s, want pending", agreement.Status)
	}
	if len(agreement.Installments) != 6 {
		t.Fatalf("installments %d, want 6", len(agreement.Installments))
	}
	// total due 1150: five installments of 191, the last absorbs the
	// remainder of 195 so the schedule sums exactly.
	sum := big.NewInt(0)
	for i, installment := range agreement.Installments {
		want := int64(191)
		if i == 5 {
			want = 195
		}
		if installment.Amount.Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("installment %d amount %s, want %d", i, installment.Amount, want)
		}
		if installment.DueDate != 1_000+1_000*int64(i+1) {
			t.Fatalf("installment %d due %d, want %d", i, installment.DueDate, 1_000+1_000*int64(i+1))
		}
		sum.Add(sum, installment.Amount)
	}
	if sum.Cmp(agreement.TotalDue()) != 0 {
		t.Fatalf("schedule sum %s, want total due %s", sum, agreement.TotalDue())
	}
}

func TestCreateAgreementValidation(t *testing.T) {
	env := newTestEnv(t)
	borrower, counterparty := addr(0x01), addr(0x02)

	if _, err := env.engine.CreateAgreement(addr(0x99), borrower, counterparty, big.NewInt(1_000), 6, 1_500); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.CreateAgreement(env.creator, borrower, counterparty, big.NewInt(0), 6, 1_500); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected zero principal rejection, got %v", err)
	}
	if _, err := env.engine.CreateAgreement(env.creator, borrower, counterparty, big.NewInt(1_000), 0, 1_500); !errors.Is(err, ErrInvalidInstallment) {
		t.Fatalf("expected zero count rejection, got %v", err)
	}
	if _, err := env.engine.CreateAgreement(env.creator, borrower, counterparty, big.NewInt(1_000), 13, 1_500); !errors.Is(err, ErrInvalidInstallment) {
		t.Fatalf("expected count ceiling rejection, got %v", err)
	}
	if _, err := env.engine.CreateAgreement(env.creator, borrower, counterparty, big.NewInt(1_000), 6, 6_001); !errors.Is(err, ErrInvalidAPR) {
		t.Fatalf("expected rate ceiling rejection, got %v", err)
	}
}

func TestCreateAgreementSequenceIDs(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, 1_000, 6, 1_500)
	second := env.create(t, 1_000, 6, 1_500)
	if first.ID == second.ID {
		t.Fatalf("identical terms must still yield distinct ids")
	}

	count, err := env.engine.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count %d, want 2", count)
	}
	byIndex, err := env.engine.AgreementByIndex(1)
	if err != nil {
		t.Fatalf("by index: %v", err)
	}
	if byIndex.ID != second.ID {
		t.Fatalf("index 1 resolved to wrong agreement")
	}
	borrowed, err := env.engine.AgreementsByBorrower(addr(0x01))
	if err != nil {
		t.Fatalf("by borrower: %v", err)
	}
	if len(borrowed) != 2 {
		t.Fatalf("borrower index %d entries, want 2", len(borrowed))
	}
}

func TestFundActivates(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.create(t, 1_000, 6, 1_500)
	env.now = 1_200

	if err := env.engine.Fund(env.creator, agreement.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}
	funded, err := env.engine.AgreementByID(agreement.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if funded.Status != StatusActive {
		t.Fatalf("status %s, want active", funded.Status)
	}
	if funded.LastPaymentTime != 1_200 {
		t.Fatalf("last payment %d, want funding time", funded.LastPaymentTime)
	}
	if len(env.pool.calls) != 1 || env.pool.calls[0].kind != "fund" {
		t.Fatalf("unexpected pool calls %+v", env.pool.calls)
	}
	if env.pool.calls[0].principal.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("funded principal %s, want 1000", env.pool.calls[0].principal)
	}

	if err := env.engine.Fund(env.creator, agreement.ID); !errors.Is(err, ErrAlreadyFunded) {
		t.Fatalf("expected ErrAlreadyFunded, got %v", err)
	}
}

func TestFundPoolFailureKeepsPending(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.create(t, 1_000, 6, 1_500)

	env.pool.err = errors.New("limit exceeded")
	if err := env.engine.Fund(env.creator, agreement.ID); err == nil {
		t.Fatalf("expected pool failure to propagate")
	}
	reloaded, err := env.engine.AgreementByID(agreement.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != StatusPending {
		t.Fatalf("status %s, want pending after failed funding", reloaded.Status)
	}
}

func TestPayInstallmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.createFunded(t, 1_000, 6, 1_500)
	borrower := agreement.Borrower

	if _, err := env.engine.PayInstallment(addr(0x99), agreement.ID, 0); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected wrong payer rejection, got %v", err)
	}
	if _, err := env.engine.PayInstallment(borrower, agreement.ID, 6); !errors.Is(err, ErrInvalidInstallment) {
		t.Fatalf("expected out-of-range rejection, got %v", err)
	}

	env.now = 1_500 // within the first due date, no penalty
	total, err := env.engine.PayInstallment(borrower, agreement.ID, 0)
	if err != nil {
		t.Fatalf("pay installment: %v", err)
	}
	if total.Cmp(big.NewInt(191)) != 0 {
		t.Fatalf("total %s, want 191 with no penalty", total)
	}
	if _, err := env.engine.PayInstallment(borrower, agreement.ID, 0); !errors.Is(err, ErrInstallmentAlreadyPaid) {
		t.Fatalf("expected duplicate payment rejection, got %v", err)
	}

	collect := env.pool.calls[len(env.pool.calls)-1]
	if collect.kind != "collect" {
		t.Fatalf("expected collect call, got %s", collect.kind)
	}
	// principal slice of 1000 over 6 installments: 166 each, last 170.
	if collect.principal.Cmp(big.NewInt(166)) != 0 {
		t.Fatalf("principal portion %s, want 166", collect.principal)
	}

	for i := uint32(1); i < 6; i++ {
		if _, err := env.engine.PayInstallment(borrower, agreement.ID, i); err != nil {
			t.Fatalf("pay installment %d: %v", i, err)
		}
	}
	final := env.pool.calls[len(env.pool.calls)-1]
	if final.principal.Cmp(big.NewInt(170)) != 0 {
		t.Fatalf("final principal portion %s, want remainder 170", final.principal)
	}

	completed, err := env.engine.AgreementByID(agreement.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Fatalf("status %s, want completed", completed.Status)
	}
	if completed.OutstandingPrincipal().Sign() != 0 {
		t.Fatalf("outstanding %s, want 0", completed.OutstandingPrincipal())
	}
	if _, err := env.engine.PayInstallment(borrower, agreement.ID, 0); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected completed agreement rejection, got %v", err)
	}
}

func TestCalculatePenalty(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.createFunded(t, 100_000, 6, 1_500)

	// Installment 0: amount 19166, due 2000, grace until 2500.
	env.now = 2_500
	penalty, err := env.engine.CalculatePenalty(agreement.ID, 0)
	if err != nil {
		t.Fatalf("penalty at deadline: %v", err)
	}
	if penalty.Sign() != 0 {
		t.Fatalf("penalty %s inside grace, want 0", penalty)
	}

	// One second past grace rounds up to a full day: 19166*50/10000 = 95.
	env.now = 2_501
	penalty, err = env.engine.CalculatePenalty(agreement.ID, 0)
	if err != nil {
		t.Fatalf("penalty after grace: %v", err)
	}
	if penalty.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("penalty %s, want 95", penalty)
	}

	// Still one day at exactly 24h overdue, two days one second later.
	env.now = 2_500 + secondsPerDay
	penalty, err = env.engine.CalculatePenalty(agreement.ID, 0)
	if err != nil {
		t.Fatalf("penalty at day boundary: %v", err)
	}
	if penalty.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("penalty %s, want 95 at exactly one day", penalty)
	}
	env.now = 2_501 + secondsPerDay
	penalty, err = env.engine.CalculatePenalty(agreement.ID, 0)
	if err != nil {
		t.Fatalf("penalty second day: %v", err)
	}
	if penalty.Cmp(big.NewInt(190)) != 0 {
		t.Fatalf("penalty %s, want 190", penalty)
	}

	// Far past due the cap binds: 19166*2500/10000 = 4791.
	env.now = 2_500 + 365*secondsPerDay
	penalty, err = env.engine.CalculatePenalty(agreement.ID, 0)
	if err != nil {
		t.Fatalf("penalty at cap: %v", err)
	}
	if penalty.Cmp(big.NewInt(4_791)) != 0 {
		t.Fatalf("penalty %s, want cap 4791", penalty)
	}
}

func TestPayInstallmentChargesPenalty(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.createFunded(t, 100_000, 6, 1_500)
	borrower := agreement.Borrower

	env.now = 2_501 // one penalty day past grace
	total, err := env.engine.PayInstallment(borrower, agreement.ID, 0)
	if err != nil {
		t.Fatalf("pay installment: %v", err)
	}
	if total.Cmp(big.NewInt(19_261)) != 0 {
		t.Fatalf("total %s, want 19166+95", total)
	}
	paid, err := env.engine.AgreementByID(agreement.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if paid.Installments[0].PenaltyAccrued.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("recorded penalty %s, want 95", paid.Installments[0].PenaltyAccrued)
	}
	// The recorded penalty is frozen; later reads do not grow it.
	env.now = 9_999_999
	penalty, err := env.engine.CalculatePenalty(agreement.ID, 0)
	if err != nil {
		t.Fatalf("penalty after payment: %v", err)
	}
	if penalty.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("penalty %s, want frozen 95", penalty)
	}
}

func TestCheckDefault(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.createFunded(t, 1_000, 6, 1_500)

	// Funded at 1000; the write-off window runs 10000 seconds.
	env.now = 11_000
	status, err := env.engine.CheckDefault(agreement.ID)
	if err != nil {
		t.Fatalf("check default: %v", err)
	}
	if status != StatusActive {
		t.Fatalf("status %s at window edge, want active", status)
	}

	env.now = 11_001
	status, err = env.engine.CheckDefault(agreement.ID)
	if err != nil {
		t.Fatalf("check default: %v", err)
	}
	if status != StatusDefaulted {
		t.Fatalf("status %s, want defaulted", status)
	}

	// The flip never reverts and repeated checks are harmless.
	env.now = 12_000
	status, err = env.engine.CheckDefault(agreement.ID)
	if err != nil {
		t.Fatalf("repeat check: %v", err)
	}
	if status != StatusDefaulted {
		t.Fatalf("status %s, want defaulted to stick", status)
	}

	// A defaulted agreement rejects further payments.
	if _, err := env.engine.PayInstallment(agreement.Borrower, agreement.ID, 0); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestCheckDefaultResetByPayment(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.createFunded(t, 1_000, 6, 1_500)

	// A payment at 9000 restarts the silence window.
	env.now = 9_000
	if _, err := env.engine.PayInstallment(agreement.Borrower, agreement.ID, 0); err != nil {
		t.Fatalf("pay installment: %v", err)
	}
	env.now = 11_001
	status, err := env.engine.CheckDefault(agreement.ID)
	if err != nil {
		t.Fatalf("check default: %v", err)
	}
	if status != StatusActive {
		t.Fatalf("status %s, want active after recent payment", status)
	}
	env.now = 19_001
	status, err = env.engine.CheckDefault(agreement.ID)
	if err != nil {
		t.Fatalf("check default: %v", err)
	}
	if status != StatusDefaulted {
		t.Fatalf("status %s, want defaulted once the window lapses again", status)
	}
}

func TestWriteOff(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.createFunded(t, 1_000, 6, 1_500)
	borrower := agreement.Borrower

	// Pay two installments, then write off the rest.
	if _, err := env.engine.PayInstallment(borrower, agreement.ID, 0); err != nil {
		t.Fatalf("pay 0: %v", err)
	}
	if _, err := env.engine.PayInstallment(borrower, agreement.ID, 1); err != nil {
		t.Fatalf("pay 1: %v", err)
	}

	if err := env.engine.WriteOff(env.creator, agreement.ID); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected non-admin rejection, got %v", err)
	}
	if err := env.engine.WriteOff(env.admin, agreement.ID); err != nil {
		t.Fatalf("write off: %v", err)
	}

	absorb := env.pool.calls[len(env.pool.calls)-1]
	if absorb.kind != "absorb" {
		t.Fatalf("expected absorb call, got %s", absorb.kind)
	}
	// 1000 principal minus two paid slices of 166.
	if absorb.total.Cmp(big.NewInt(668)) != 0 {
		t.Fatalf("absorbed loss %s, want 668", absorb.total)
	}

	written, err := env.engine.AgreementByID(agreement.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if written.Status != StatusWrittenOff {
		t.Fatalf("status %s, want writtenOff", written.Status)
	}
	// Terminal: a second write-off is rejected.
	if err := env.engine.WriteOff(env.admin, agreement.ID); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected terminal state rejection, got %v", err)
	}
}

func TestWriteOffFromDefaulted(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.createFunded(t, 1_000, 6, 1_500)

	env.now = 20_000
	if _, err := env.engine.CheckDefault(agreement.ID); err != nil {
		t.Fatalf("check default: %v", err)
	}
	if err := env.engine.WriteOff(env.admin, agreement.ID); err != nil {
		t.Fatalf("write off defaulted: %v", err)
	}
	absorb := env.pool.calls[len(env.pool.calls)-1]
	if absorb.total.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("absorbed loss %s, want full principal", absorb.total)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusCompleted, false},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusDefaulted, true},
		{StatusActive, StatusWrittenOff, true},
		{StatusActive, StatusPending, false},
		{StatusDefaulted, StatusWrittenOff, true},
		{StatusDefaulted, StatusActive, false},
		{StatusCompleted, StatusWrittenOff, false},
		{StatusWrittenOff, StatusActive, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

type mockPauses struct {
	paused map[string]bool
}

func (m *mockPauses) IsPaused(module string) bool { return m.paused[module] }

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(ev events.Event) { c.events = append(c.events, ev) }

func TestLifecycleBlockedWhenPaused(t *testing.T) {
	env := newTestEnv(t)
	agreement := env.createFunded(t, 1_000, 6, 1_500)
	env.engine.SetPauses(&mockPauses{paused: map[string]bool{moduleName: true}})

	if _, err := env.engine.CreateAgreement(env.creator, addr(0x03), addr(0x04), big.NewInt(500), 3, 1_000); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("create while paused: %v", err)
	}
	if _, err := env.engine.PayInstallment(agreement.Borrower, agreement.ID, 0); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("pay while paused: %v", err)
	}

	env.engine.SetPauses(&mockPauses{})
	if _, err := env.engine.PayInstallment(agreement.Borrower, agreement.ID, 0); err != nil {
		t.Fatalf("pay after unpause: %v", err)
	}
}

func TestLifecycleEmitsEvents(t *testing.T) {
	env := newTestEnv(t)
	capture := &captureEmitter{}
	env.engine.SetEmitter(capture)
	agreement := env.createFunded(t, 1_000, 2, 1_500)

	for index := uint32(0); index < 2; index++ {
		if _, err := env.engine.PayInstallment(agreement.Borrower, agreement.ID, index); err != nil {
			t.Fatalf("pay installment %d: %v", index, err)
		}
	}

	wantTypes := []string{
		events.TypeAgreementCreated,
		events.TypeAgreementFunded,
		events.TypeInstallmentPaid,
		events.TypeInstallmentPaid,
		events.TypeAgreementCompleted,
	}
	if len(capture.events) != len(wantTypes) {
		t.Fatalf("captured %d events, want %d", len(capture.events), len(wantTypes))
	}
	for i, want := range wantTypes {
		if got := capture.events[i].EventType(); got != want {
			t.Fatalf("event %d type %q, want %q", i, got, want)
		}
	}

	created, ok := capture.events[0].(events.AgreementCreated)
	if !ok {
		t.Fatalf("first event %T, want AgreementCreated", capture.events[0])
	}
	record := created.Event()
	if record.Attributes["id"] != hex.EncodeToString(agreement.ID[:]) {
		t.Fatalf("created id attribute %q", record.Attributes["id"])
	}
	if record.Attributes["principal"] != "1000" || record.Attributes["installments"] != "2" {
		t.Fatalf("created attributes %v", record.Attributes)
	}

	paid, ok := capture.events[2].(events.InstallmentPaid)
	if !ok {
		t.Fatalf("third event %T, want InstallmentPaid", capture.events[2])
	}
	if paid.Event().Attributes["amount"] != "575" || paid.Event().Attributes["penalty"] != "0" {
		t.Fatalf("installment attributes %v", paid.Event().Attributes)
	}
}
