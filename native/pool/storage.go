package pool

import (
	"fmt"
	"math/big"

	"crediflow/core/types"
)

// kvStore abstracts the subset of state manager functionality required by the
// pool.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

var (
	poolStateKey = []byte("pool/state")
	sharesPrefix = []byte("pool/shares/")
)

func sharesKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", sharesPrefix, addr))
}

type storedPoolState struct {
	TotalAssets       string `json:"totalAssets"`
	TotalShares       string `json:"totalShares"`
	Reserve           string `json:"reserve"`
	BorrowedTotal     string `json:"borrowedTotal"`
	LastAccrualTime   int64  `json:"lastAccrualTime"`
	SeniorRatioBps    uint64 `json:"seniorRatioBps"`
	ReserveRatioBps   uint64 `json:"reserveRatioBps"`
	MaxUtilizationBps uint64 `json:"maxUtilizationBps"`
}

// Store adapts the generic key-value state manager to the typed interface the
// pool engine operates against.
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
		return nil, fmt.Errorf("pool store: invalid amount %q", encoded)
	}
	return value, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// GetPoolState loads the singleton pool record, returning nil when absent.
func (s *Store) GetPoolState() (*PoolState, error) {
	var stored storedPoolState
	ok, err := s.kv.KVGet(poolStateKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	totalAssets, err := parseAmount(stored.TotalAssets)
	if err != nil {
		return nil, err
	}
	totalShares, err := parseAmount(stored.TotalShares)
	if err != nil {
		return nil, err
	}
	reserve, err := parseAmount(stored.Reserve)
	if err != nil {
		return nil, err
	}
	borrowed, err := parseAmount(stored.BorrowedTotal)
	if err != nil {
		return nil, err
	}
	return &PoolState{
		TotalAssets:       totalAssets,
		TotalShares:       totalShares,
		Reserve:           reserve,
		BorrowedTotal:     borrowed,
		LastAccrualTime:   stored.LastAccrualTime,
		SeniorRatioBps:    stored.SeniorRatioBps,
		ReserveRatioBps:   stored.ReserveRatioBps,
		MaxUtilizationBps: stored.MaxUtilizationBps,
	}, nil
}

// PutPoolState persists the singleton pool record.
func (s *Store) PutPoolState(state *PoolState) error {
	if state == nil {
		return fmt.Errorf("pool store: state must not be nil")
	}
	stored := storedPoolState{
		TotalAssets:       formatAmount(state.TotalAssets),
		TotalShares:       formatAmount(state.TotalShares),
		Reserve:           formatAmount(state.Reserve),
		BorrowedTotal:     formatAmount(state.BorrowedTotal),
		LastAccrualTime:   state.LastAccrualTime,
		SeniorRatioBps:    state.SeniorRatioBps,
		ReserveRatioBps:   state.ReserveRatioBps,
		MaxUtilizationBps: state.MaxUtilizationBps,
	}
	return s.kv.KVPut(poolStateKey, stored)
}

// GetShares loads the share balance for addr, returning nil when absent.
func (s *Store) GetShares(addr [20]byte) (*big.Int, error) {
	var encoded string
	ok, err := s.kv.KVGet(sharesKey(addr), &encoded)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return parseAmount(encoded)
}

// PutShares persists the share balance for addr.
func (s *Store) PutShares(addr [20]byte, shares *big.Int) error {
	return s.kv.KVPut(sharesKey(addr), formatAmount(shares))
}

// GetAccount proxies balance reads through to the state manager.
func (s *Store) GetAccount(addr [20]byte) (*types.Account, error) {
	return s.kv.GetAccount(addr)
}

// PutAccount proxies balance writes through to the state manager.
func (s *Store) PutAccount(addr [20]byte, account *types.Account) error {
	return s.kv.PutAccount(addr, account)
}
