package pool

import "math/big"

// PoolState captures the global accounting for the pooled lending reserve.
// Amounts are expressed as big integers for deterministic accounting; ratio
// fields are basis points.
type PoolState struct {
	// TotalAssets is the aggregate capital currently owned by the pool,
	// including the amount out on loan.
	TotalAssets *big.Int
	// TotalShares is the outstanding supply of depositor shares.
	TotalShares *big.Int
	// Reserve is the slice of assets set aside as the junior loss buffer.
	// Reserved capital is never lent out.
	Reserve *big.Int
	// BorrowedTotal tracks the principal currently drawn across all
	// accounts.
	BorrowedTotal *big.Int
	// LastAccrualTime records when interest last flowed into the pool.
	LastAccrualTime int64
	// SeniorRatioBps is the configured senior tranche share.
	SeniorRatioBps uint64
	// ReserveRatioBps is the slice of collected interest routed to the
	// reserve buffer.
	ReserveRatioBps uint64
	// MaxUtilizationBps bounds BorrowedTotal relative to TotalAssets.
	MaxUtilizationBps uint64
}

// Clone returns a deep copy of the pool state.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalAssets = cloneAmount(p.TotalAssets)
	clone.TotalShares = cloneAmount(p.TotalShares)
	clone.Reserve = cloneAmount(p.Reserve)
	clone.BorrowedTotal = cloneAmount(p.BorrowedTotal)
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
