package types

import "math/big"

// Account tracks the spendable balance for a participant address. Balances are
// denominated in the smallest unit of the escrowed currency.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// Clone returns a deep copy of the account so callers can mutate the result
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
