package credit

import "math/big"

// Tier maps a minimum score threshold to the base terms offered to accounts
// falling into that bracket. Schedules are stored sorted by descending
// MinScore so selection walks from the strongest tier down.
type Tier struct {
	MinScore          uint16   `json:"minScore"`
	BaseLimit         *big.Int `json:"baseLimit"`
	BaseAPRBps        uint64   `json:"baseAprBps"`
	MaxUtilizationBps uint64   `json:"maxUtilizationBps"`
}

// Clone returns a deep copy of the tier.
func (t Tier) Clone() Tier {
	clone := t
	if t.BaseLimit != nil {
		clone.BaseLimit = new(big.Int).Set(t.BaseLimit)
	}
	return clone
}

// CreditState captures the per-account borrowing terms and current draw.
// States are never deleted, only deactivated, so utilization history survives
// stale attestations for audit purposes.
type CreditState struct {
	Limit       *big.Int `json:"limit"`
	APRBps      uint64   `json:"aprBps"`
	Utilization *big.Int `json:"utilization"`
	LastUpdate  int64    `json:"lastUpdate"`
	Active      bool     `json:"active"`
}

// Clone returns a deep copy of the credit state.
func (s *CreditState) Clone() *CreditState {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Limit != nil {
		clone.Limit = new(big.Int).Set(s.Limit)
	} else {
		clone.Limit = big.NewInt(0)
	}
	if s.Utilization != nil {
		clone.Utilization = new(big.Int).Set(s.Utilization)
	} else {
		clone.Utilization = big.NewInt(0)
	}
	return &clone
}

// RiskParams groups the admin-controlled knobs shaping limit and rate
// computation, all expressed in basis points.
type RiskParams struct {
	// RiskFactorBps scales how aggressively the probability of default
	// erodes the tier base limit.
	RiskFactorBps uint64 `json:"riskFactorBps"`
	// PDWeightBps converts default probability into an APR surcharge.
	PDWeightBps uint64 `json:"pdWeightBps"`
	// UtilizationWeightBps converts pool utilization into an APR surcharge.
	UtilizationWeightBps uint64 `json:"utilizationWeightBps"`
	// MinAPRBps and MaxAPRBps clamp every computed rate.
	MinAPRBps uint64 `json:"minAprBps"`
	MaxAPRBps uint64 `json:"maxAprBps"`
}
