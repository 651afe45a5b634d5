package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"shopchain/core/types"
	"shopchain/storage"
)

// Storage deposit schedule. Deposits are charged against the full padded
// record size and refunded in full when the record closes.
const (
	depositPerByte       uint64 = 6_960
	accountOverheadBytes        = 128
)

var (
	ErrRecordNotFound      = errors.New("state: record not found")
	ErrRecordExists        = errors.New("state: record already exists")
	ErrInsufficientDeposit = errors.New("state: payer cannot fund record deposit")
)

var (
	accountPrefix      = []byte("account/")
	listingPrefix      = []byte("market/listing/")
	countersPrefix     = []byte("market/counters/")
	mintPrefix         = []byte("token/mint/")
	tokenAccountPrefix = []byte("token/account/")
)

// KV is the key-value surface the manager writes through. Both a raw database
// and a commit overlay satisfy it.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Manager exposes typed access to the ledger state: lamport accounts, listing
// records, activity counters, mint descriptors and token accounts. Keys are
// keccak256 over a prefix plus the record identity; values are RLP-encoded.
type Manager struct {
	kv KV
}

// NewManager creates a manager bound to the given key-value store.
func NewManager(kv KV) *Manager {
	return &Manager{kv: kv}
}

// RecordDeposit returns the storage deposit for a record of the given size.
func RecordDeposit(size int) uint64 {
	return uint64(size+accountOverheadBytes) * depositPerByte
}

func storageKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.kv.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode record: %w", err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode record: %w", err)
	}
	return m.kv.Put(key, raw)
}

// --- Lamport accounts ---

type storedAccount struct {
	Nonce           uint64
	BalanceLamports *big.Int
}

// GetAccount loads the lamport account for addr, returning a fresh zero
// account when none is stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	key := storageKey(accountPrefix, addr)
	stored := new(storedAccount)
	ok, err := m.get(key, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{BalanceLamports: big.NewInt(0)}, nil
	}
	account := &types.Account{Nonce: stored.Nonce, BalanceLamports: big.NewInt(0)}
	if stored.BalanceLamports != nil {
		account.BalanceLamports = new(big.Int).Set(stored.BalanceLamports)
	}
	return account, nil
}

// PutAccount stores the lamport account for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	balance := big.NewInt(0)
	if account.BalanceLamports != nil {
		balance = new(big.Int).Set(account.BalanceLamports)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("state: negative lamport balance")
	}
	key := storageKey(accountPrefix, addr)
	return m.put(key, &storedAccount{Nonce: account.Nonce, BalanceLamports: balance})
}

func (m *Manager) debitLamports(addr [20]byte, amount uint64) error {
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	amt := new(big.Int).SetUint64(amount)
	if account.BalanceLamports.Cmp(amt) < 0 {
		return ErrInsufficientDeposit
	}
	account.BalanceLamports = new(big.Int).Sub(account.BalanceLamports, amt)
	return m.PutAccount(addr[:], account)
}

func (m *Manager) creditLamports(addr [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.BalanceLamports = new(big.Int).Add(account.BalanceLamports, new(big.Int).SetUint64(amount))
	return m.PutAccount(addr[:], account)
}
