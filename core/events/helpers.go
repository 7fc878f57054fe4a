package events

import (
	"math/big"

	"crediflow/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.CFLPrefix, addr[:]).String()
}
