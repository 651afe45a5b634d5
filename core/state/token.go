package state

import (
	"shopchain/native/token"
)

type storedMint struct {
	ID       [32]byte
	Decimals uint8
	Standard uint8
}

type storedTokenAccount struct {
	Mint            [32]byte
	Owner           [20]byte
	Balance         uint64
	DepositLamports uint64
}

func mintKey(id [32]byte) []byte {
	return storageKey(mintPrefix, id[:])
}

func tokenAccountKey(mint [32]byte, owner [20]byte) []byte {
	return storageKey(tokenAccountPrefix, mint[:], owner[:])
}

// MintPut registers or updates a mint descriptor.
func (m *Manager) MintPut(def *token.Mint) error {
	return m.put(mintKey(def.ID), &storedMint{ID: def.ID, Decimals: def.Decimals, Standard: uint8(def.Standard)})
}

// MintGet loads a mint descriptor.
func (m *Manager) MintGet(id [32]byte) (*token.Mint, bool, error) {
	stored := new(storedMint)
	ok, err := m.get(mintKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &token.Mint{ID: stored.ID, Decimals: stored.Decimals, Standard: token.Standard(stored.Standard)}, true, nil
}

// TokenAccountGet loads the custody account for (mint, owner).
func (m *Manager) TokenAccountGet(mint [32]byte, owner [20]byte) (*token.Account, bool, error) {
	stored := new(storedTokenAccount)
	ok, err := m.get(tokenAccountKey(mint, owner), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &token.Account{
		Mint:            stored.Mint,
		Owner:           stored.Owner,
		Balance:         stored.Balance,
		DepositLamports: stored.DepositLamports,
	}, true, nil
}

// TokenAccountPut stores the custody account for (mint, owner).
func (m *Manager) TokenAccountPut(account *token.Account) error {
	return m.put(tokenAccountKey(account.Mint, account.Owner), &storedTokenAccount{
		Mint:            account.Mint,
		Owner:           account.Owner,
		Balance:         account.Balance,
		DepositLamports: account.DepositLamports,
	})
}

// TokenAccountRemove deletes the custody account for (mint, owner). Deposit
// refunds are the token service's responsibility.
func (m *Manager) TokenAccountRemove(mint [32]byte, owner [20]byte) error {
	return m.kv.Delete(tokenAccountKey(mint, owner))
}
