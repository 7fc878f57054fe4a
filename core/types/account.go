package types

import "math/big"

// Account represents the balance-bearing state stored for every address that
// interacts with the lending engine. Balances are denominated in the smallest
// unit of the settlement asset and expressed as big integers for deterministic
// accounting.
type Account struct {
	Balance *big.Int `json:"balance"`
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
