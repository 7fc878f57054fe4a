package credit

import (
	"fmt"
	"math/big"
)

// kvStore abstracts the subset of state manager functionality required by the
// registry.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	creditStatePrefix = []byte("credit/state/")
	tierScheduleKey   = []byte("credit/tiers")
)

func creditStateKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", creditStatePrefix, addr))
}

type storedCreditState struct {
	Limit       string `json:"limit"`
	APRBps      uint64 `json:"aprBps"`
	Utilization string `json:"utilization"`
	LastUpdate  int64  `json:"lastUpdate"`
	Active      bool   `json:"active"`
}

type storedTier struct {
	MinScore          uint16 `json:"minScore"`
	BaseLimit         string `json:"baseLimit"`
	BaseAPRBps        uint64 `json:"baseAprBps"`
	MaxUtilizationBps uint64 `json:"maxUtilizationBps"`
}

// Store adapts the generic key-value state manager to the typed interface the
// registry engine operates against.
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
		return nil, fmt.Errorf("credit store: invalid amount %q", encoded)
	}
	return value, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// GetCreditState loads the stored state for addr, returning nil when absent.
func (s *Store) GetCreditState(addr [20]byte) (*CreditState, error) {
	var stored storedCreditState
	ok, err := s.kv.KVGet(creditStateKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	limit, err := parseAmount(stored.Limit)
	if err != nil {
		return nil, err
	}
	utilization, err := parseAmount(stored.Utilization)
	if err != nil {
		return nil, err
	}
	return &CreditState{
		Limit:       limit,
		APRBps:      stored.APRBps,
		Utilization: utilization,
		LastUpdate:  stored.LastUpdate,
		Active:      stored.Active,
	}, nil
}

// PutCreditState persists the state for addr.
func (s *Store) PutCreditState(addr [20]byte, state *CreditState) error {
	if state == nil {
		return fmt.Errorf("credit store: state must not be nil")
	}
	stored := storedCreditState{
		Limit:       formatAmount(state.Limit),
		APRBps:      state.APRBps,
		Utilization: formatAmount(state.Utilization),
		LastUpdate:  state.LastUpdate,
		Active:      state.Active,
	}
	return s.kv.KVPut(creditStateKey(addr), stored)
}

// GetTierSchedule loads the stored tier configuration.
func (s *Store) GetTierSchedule() ([]Tier, error) {
	var stored []storedTier
	ok, err := s.kv.KVGet(tierScheduleKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	tiers := make([]Tier, 0, len(stored))
	for _, tier := range stored {
		baseLimit, err := parseAmount(tier.BaseLimit)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, Tier{
			MinScore:          tier.MinScore,
			BaseLimit:         baseLimit,
			BaseAPRBps:        tier.BaseAPRBps,
			MaxUtilizationBps: tier.MaxUtilizationBps,
		})
	}
	return tiers, nil
}

// PutTierSchedule persists the tier configuration.
func (s *Store) PutTierSchedule(tiers []Tier) error {
	stored := make([]storedTier, 0, len(tiers))
	for _, tier := range tiers {
		stored = append(stored, storedTier{
			MinScore:          tier.MinScore,
			BaseLimit:         formatAmount(tier.BaseLimit),
			BaseAPRBps:        tier.BaseAPRBps,
			MaxUtilizationBps: tier.MaxUtilizationBps,
		})
	}
	return s.kv.KVPut(tierScheduleKey, stored)
}
