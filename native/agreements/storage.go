package agreements

import (
	"fmt"
	"math/big"
)

// kvStore abstracts the subset of state manager functionality required by the
// agreement engine.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	agreementPrefix    = []byte("agreements/record/")
	agreementCountKey  = []byte("agreements/count")
	agreementIdxPrefix = []byte("agreements/index/")
	borrowerPrefix     = []byte("agreements/borrower/")
	counterpartyPrefix = []byte("agreements/counterparty/")
)

func agreementKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", agreementPrefix, id))
}

func indexKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", agreementIdxPrefix, index))
}

func borrowerKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", borrowerPrefix, addr))
}

func counterpartyKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", counterpartyPrefix, addr))
}

type storedInstallment struct {
	Amount         string `json:"amount"`
	DueDate        int64  `json:"dueDate"`
	Paid           bool   `json:"paid"`
	PaidAt         int64  `json:"paidAt,omitempty"`
	PenaltyAccrued string `json:"penaltyAccrued,omitempty"`
}

type storedAgreement struct {
	ID               []byte              `json:"id"`
	Borrower         []byte              `json:"borrower"`
	Counterparty     []byte              `json:"counterparty"`
	Principal        string              `json:"principal"`
	InstallmentCount uint32              `json:"installmentCount"`
	APRBps           uint64              `json:"aprBps"`
	PenaltyRateBps   uint64              `json:"penaltyRateBps"`
	PenaltyCapBps    uint64              `json:"penaltyCapBps"`
	GracePeriod      int64               `json:"gracePeriod"`
	WriteOffPeriod   int64               `json:"writeOffPeriod"`
	Status           uint8               `json:"status"`
	PaidInstallments uint32              `json:"paidInstallments"`
	LastPaymentTime  int64               `json:"lastPaymentTime,omitempty"`
	CreatedAt        int64               `json:"createdAt"`
	Installments     []storedInstallment `json:"installments"`
}

// Store adapts the generic key-value state manager to the typed interface the
// agreement engine operates against.
type Store struct {
	kv kvStore
}

// NewStore constructs a store bound to the provided key-value backend.
func NewStore(kv kvStore) *Store {
	return &Store{kv: kv}
}

func parseAmount(encoded string) (*big.Int, error) {
	if encoded == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(encoded, 10)
	if !ok {
		return nil, fmt.Errorf("agreement store: invalid amount %q", encoded)
	}
	return value, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// GetAgreement loads an agreement by id.
func (s *Store) GetAgreement(id [32]byte) (*Agreement, bool, error) {
	var stored storedAgreement
	ok, err := s.kv.KVGet(agreementKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	agreement, err := stored.decode()
	if err != nil {
		return nil, false, err
	}
	return agreement, true, nil
}

// PutAgreement persists an agreement record.
func (s *Store) PutAgreement(agreement *Agreement) error {
	if agreement == nil {
		return fmt.Errorf("agreement store: agreement must not be nil")
	}
	stored := storedAgreement{
		ID:               append([]byte(nil), agreement.ID[:]...),
		Borrower:         append([]byte(nil), agreement.Borrower[:]...),
		Counterparty:     append([]byte(nil), agreement.Counterparty[:]...),
		Principal:        formatAmount(agreement.Principal),
		InstallmentCount: agreement.InstallmentCount,
		APRBps:           agreement.APRBps,
		PenaltyRateBps:   agreement.PenaltyRateBps,
		PenaltyCapBps:    agreement.PenaltyCapBps,
		GracePeriod:      agreement.GracePeriod,
		WriteOffPeriod:   agreement.WriteOffPeriod,
		Status:           uint8(agreement.Status),
		PaidInstallments: agreement.PaidInstallments,
		LastPaymentTime:  agreement.LastPaymentTime,
		CreatedAt:        agreement.CreatedAt,
		Installments:     make([]storedInstallment, len(agreement.Installments)),
	}
	for i, installment := range agreement.Installments {
		stored.Installments[i] = storedInstallment{
			Amount:         formatAmount(installment.Amount),
			DueDate:        installment.DueDate,
			Paid:           installment.Paid,
			PaidAt:         installment.PaidAt,
			PenaltyAccrued: formatAmount(installment.PenaltyAccrued),
		}
	}
	return s.kv.KVPut(agreementKey(agreement.ID), stored)
}

func (stored storedAgreement) decode() (*Agreement, error) {
	if len(stored.ID) != 32 {
		return nil, fmt.Errorf("agreement store: invalid id length %d", len(stored.ID))
	}
	if len(stored.Borrower) != 20 || len(stored.Counterparty) != 20 {
		return nil, fmt.Errorf("agreement store: invalid address length")
	}
	principal, err := parseAmount(stored.Principal)
	if err != nil {
		return nil, err
	}
	agreement := &Agreement{
		Principal:        principal,
		InstallmentCount: stored.InstallmentCount,
		APRBps:           stored.APRBps,
		PenaltyRateBps:   stored.PenaltyRateBps,
		PenaltyCapBps:    stored.PenaltyCapBps,
		GracePeriod:      stored.GracePeriod,
		WriteOffPeriod:   stored.WriteOffPeriod,
		Status:           Status(stored.Status),
		PaidInstallments: stored.PaidInstallments,
		LastPaymentTime:  stored.LastPaymentTime,
		CreatedAt:        stored.CreatedAt,
		Installments:     make([]Installment, len(stored.Installments)),
	}
	copy(agreement.ID[:], stored.ID)
	copy(agreement.Borrower[:], stored.Borrower)
	copy(agreement.Counterparty[:], stored.Counterparty)
	for i, installment := range stored.Installments {
		amount, err := parseAmount(installment.Amount)
		if err != nil {
			return nil, err
		}
		penalty, err := parseAmount(installment.PenaltyAccrued)
		if err != nil {
			return nil, err
		}
		agreement.Installments[i] = Installment{
			Amount:         amount,
			DueDate:        installment.DueDate,
			Paid:           installment.Paid,
			PaidAt:         installment.PaidAt,
			PenaltyAccrued: penalty,
		}
	}
	return agreement, nil
}

// AgreementCount reports the total number of agreements ever created.
func (s *Store) AgreementCount() (uint64, error) {
	var count uint64
	ok, err := s.kv.KVGet(agreementCountKey, &count)
	if err != nil || !ok {
		return 0, err
	}
	return count, nil
}

// PutAgreementCount persists the creation sequence counter.
func (s *Store) PutAgreementCount(count uint64) error {
	return s.kv.KVPut(agreementCountKey, count)
}

// AgreementIDByIndex resolves a creation sequence number to an id.
func (s *Store) AgreementIDByIndex(index uint64) ([32]byte, bool, error) {
	var encoded []byte
	ok, err := s.kv.KVGet(indexKey(index), &encoded)
	if err != nil || !ok {
		return [32]byte{}, false, err
	}
	if len(encoded) != 32 {
		return [32]byte{}, false, fmt.Errorf("agreement store: invalid id length %d", len(encoded))
	}
	var id [32]byte
	copy(id[:], encoded)
	return id, true, nil
}

// PutAgreementIndex records the id created at a sequence number.
func (s *Store) PutAgreementIndex(index uint64, id [32]byte) error {
	return s.kv.KVPut(indexKey(index), append([]byte(nil), id[:]...))
}

func (s *Store) idList(key []byte) ([][32]byte, error) {
	var encoded [][]byte
	ok, err := s.kv.KVGet(key, &encoded)
	if err != nil || !ok {
		return nil, err
	}
	ids := make([][32]byte, 0, len(encoded))
	for _, raw := range encoded {
		if len(raw) != 32 {
			return nil, fmt.Errorf("agreement store: invalid id length %d", len(raw))
		}
		var id [32]byte
		copy(id[:], raw)
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) appendID(key []byte, id [32]byte) error {
	var encoded [][]byte
	if _, err := s.kv.KVGet(key, &encoded); err != nil {
		return err
	}
	encoded = append(encoded, append([]byte(nil), id[:]...))
	return s.kv.KVPut(key, encoded)
}

// AgreementsByBorrower lists agreement ids indexed under a borrower.
func (s *Store) AgreementsByBorrower(addr [20]byte) ([][32]byte, error) {
	return s.idList(borrowerKey(addr))
}

// AppendBorrowerAgreement indexes an agreement under its borrower.
func (s *Store) AppendBorrowerAgreement(addr [20]byte, id [32]byte) error {
	return s.appendID(borrowerKey(addr), id)
}

// AgreementsByCounterparty lists agreement ids indexed under a counterparty.
func (s *Store) AgreementsByCounterparty(addr [20]byte) ([][32]byte, error) {
	return s.idList(counterpartyKey(addr))
}

// AppendCounterpartyAgreement indexes an agreement under its counterparty.
func (s *Store) AppendCounterpartyAgreement(addr [20]byte, id [32]byte) error {
	return s.appendID(counterpartyKey(addr), id)
}
