package types

import "math/big"

// Account is the lamport-denominated ledger account for a participant. Token
// holdings live in per-mint token accounts, not here.
type Account struct {
	Nonce           uint64   `json:"nonce"`
	BalanceLamports *big.Int `json:"balanceLamports"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{BalanceLamports: big.NewInt(0)}
	}
	clone := *a
	if a.BalanceLamports != nil {
		clone.BalanceLamports = new(big.Int).Set(a.BalanceLamports)
	} else {
		clone.BalanceLamports = big.NewInt(0)
	}
	return &clone
}
