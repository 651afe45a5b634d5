package token

import (
	"errors"
	"fmt"
	"math/big"

	"shopchain/core/types"
	"shopchain/crypto"
)

var (
	errNilState = errors.New("token service: state not configured")

	ErrMintNotFound        = errors.New("token: mint not registered")
	ErrWrongStandard       = errors.New("token: mint not owned by this token service")
	ErrDecimalsMismatch    = errors.New("token: decimals do not match mint")
	ErrInsufficientBalance = errors.New("token: insufficient token balance")
	ErrUnauthorized        = errors.New("token: authority does not control source account")
	ErrAccountNotFound     = errors.New("token: token account not found")
	ErrAccountNotEmpty     = errors.New("token: cannot close account holding a balance")
	ErrInsufficientDeposit = errors.New("token: payer cannot fund account deposit")
)

// State is the backend the token service operates against. Token accounts are
// keyed by (mint, owner); lamport accounts back the deposit bookkeeping.
type State interface {
	MintGet(id [32]byte) (*Mint, bool, error)
	TokenAccountGet(mint [32]byte, owner [20]byte) (*Account, bool, error)
	TokenAccountPut(account *Account) error
	TokenAccountRemove(mint [32]byte, owner [20]byte) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Service moves a fungible asset between custody accounts. When the custody
// authority is a derived address the caller must supply the derivation proof;
// the service re-derives and compares before permitting the move. When the
// proof is nil the host has already verified the authority's signature.
type Service interface {
	Standard() Standard
	Transfer(mint [32]byte, from, to, authority [20]byte, proof *crypto.AuthorityProof, payer [20]byte, amount uint64, decimals uint8) error
	Balance(mint [32]byte, owner [20]byte) (uint64, error)
	CloseAccount(mint [32]byte, owner, authority [20]byte, proof *crypto.AuthorityProof, refundTo [20]byte) error
}

// Registry resolves the token service responsible for a mint. Selection is a
// runtime branch on the standard recorded in the mint descriptor, never a
// static choice.
type Registry struct {
	state    State
	legacy   Service
	extended Service
}

// NewRegistry creates a registry with one engine per supported standard.
func NewRegistry(state State) *Registry {
	return &Registry{
		state:    state,
		legacy:   &engine{standard: StandardLegacy, state: state},
		extended: &engine{standard: StandardExtended, state: state},
	}
}

// ServiceFor returns the service owning the mint's type descriptor together
// with the descriptor itself.
func (r *Registry) ServiceFor(mint [32]byte) (Service, *Mint, error) {
	if r == nil || r.state == nil {
		return nil, nil, errNilState
	}
	def, ok, err := r.state.MintGet(mint)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrMintNotFound
	}
	switch def.Standard {
	case StandardLegacy:
		return r.legacy, def, nil
	case StandardExtended:
		return r.extended, def, nil
	default:
		return nil, nil, fmt.Errorf("token: mint %x has invalid standard %d", mint, def.Standard)
	}
}

type engine struct {
	standard Standard
	state    State
}

func (e *engine) Standard() Standard { return e.standard }

func (e *engine) mint(id [32]byte) (*Mint, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	def, ok, err := e.state.MintGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMintNotFound
	}
	if def.Standard != e.standard {
		return nil, ErrWrongStandard
	}
	return def, nil
}

func (e *engine) Balance(mint [32]byte, owner [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	account, ok, err := e.state.TokenAccountGet(mint, owner)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return account.Balance, nil
}

// Transfer moves amount units of mint from one custody account to another.
// A missing destination account is created funded by the payer within the
// same operation; creation and transfer succeed or fail together.
func (e *engine) Transfer(mint [32]byte, from, to, authority [20]byte, proof *crypto.AuthorityProof, payer [20]byte, amount uint64, decimals uint8) error {
	def, err := e.mint(mint)
	if err != nil {
		return err
	}
	if decimals != def.Decimals {
		return ErrDecimalsMismatch
	}
	if authority != from {
		return ErrUnauthorized
	}
	if proof != nil {
		if err := crypto.VerifyAuthority(authority, proof); err != nil {
			return err
		}
	}
	source, ok, err := e.state.TokenAccountGet(mint, from)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if source.Balance < amount {
		return ErrInsufficientBalance
	}
	// Source and destination load as independent copies, so a self-transfer
	// would write the credited copy over the debited one. It is a no-op
	// anyway once the checks above have passed.
	if from == to {
		return nil
	}
	dest, ok, err := e.state.TokenAccountGet(mint, to)
	if err != nil {
		return err
	}
	if !ok {
		dest, err = e.createAccount(mint, to, payer)
		if err != nil {
			return err
		}
	}
	source.Balance -= amount
	dest.Balance += amount
	if err := e.state.TokenAccountPut(source); err != nil {
		return err
	}
	return e.state.TokenAccountPut(dest)
}

// CloseAccount removes an empty token account and refunds its storage deposit.
func (e *engine) CloseAccount(mint [32]byte, owner, authority [20]byte, proof *crypto.AuthorityProof, refundTo [20]byte) error {
	if _, err := e.mint(mint); err != nil {
		return err
	}
	if authority != owner {
		return ErrUnauthorized
	}
	if proof != nil {
		if err := crypto.VerifyAuthority(authority, proof); err != nil {
			return err
		}
	}
	account, ok, err := e.state.TokenAccountGet(mint, owner)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if account.Balance != 0 {
		return ErrAccountNotEmpty
	}
	if err := e.state.TokenAccountRemove(mint, owner); err != nil {
		return err
	}
	return e.creditLamports(refundTo, account.DepositLamports)
}

func (e *engine) createAccount(mint [32]byte, owner, payer [20]byte) (*Account, error) {
	if err := e.debitLamports(payer, AccountDepositLamports); err != nil {
		return nil, err
	}
	account := &Account{
		Mint:            mint,
		Owner:           owner,
		DepositLamports: AccountDepositLamports,
	}
	return account, nil
}

func (e *engine) debitLamports(addr [20]byte, amount uint64) error {
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account = account.Clone()
	amt := new(big.Int).SetUint64(amount)
	if account.BalanceLamports.Cmp(amt) < 0 {
		return ErrInsufficientDeposit
	}
	account.BalanceLamports = new(big.Int).Sub(account.BalanceLamports, amt)
	return e.state.PutAccount(addr[:], account)
}

func (e *engine) creditLamports(addr [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account = account.Clone()
	account.BalanceLamports = new(big.Int).Add(account.BalanceLamports, new(big.Int).SetUint64(amount))
	return e.state.PutAccount(addr[:], account)
}
