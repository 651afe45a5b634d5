package marketplace

import (
	"errors"

	"shopchain/native/token"
)

var errNilTokens = errors.New("marketplace custody: token registry not configured")

// tokenRegistry resolves the transfer service owning a mint's type descriptor.
type tokenRegistry interface {
	ServiceFor(mint [32]byte) (token.Service, *token.Mint, error)
}

// Custody wraps the token service with the derived-authority signing pattern
// used for every movement into and out of escrow. The escrow account is owned
// by the mint-index authority, which exists only as a computed address; moves
// out of it always carry the derivation proof.
type Custody struct {
	tokens tokenRegistry
}

// NewCustody creates a custody adapter over the given token registry.
func NewCustody(tokens tokenRegistry) *Custody {
	return &Custody{tokens: tokens}
}

func (c *Custody) service(mint [32]byte) (token.Service, *token.Mint, error) {
	if c == nil || c.tokens == nil {
		return nil, nil, errNilTokens
	}
	return c.tokens.ServiceFor(mint)
}

// MoveIntoEscrow transfers amount units from the lister's account into the
// escrow account owned by the mint-index authority. The lister is the signing
// authority here and also funds creation of the escrow account.
func (c *Custody) MoveIntoEscrow(mint [32]byte, lister, escrowAuthority [20]byte, amount uint64) error {
	svc, def, err := c.service(mint)
	if err != nil {
		return err
	}
	return svc.Transfer(mint, lister, escrowAuthority, lister, nil, lister, amount, def.Decimals)
}

// ReleaseFromEscrow moves escrowed units to the recipient under the mint-index
// authority proof. A missing recipient account is created funded by payer,
// atomically with the transfer.
func (c *Custody) ReleaseFromEscrow(mint [32]byte, escrowAuthority [20]byte, bump uint8, recipient, payer [20]byte, amount uint64) error {
	svc, def, err := c.service(mint)
	if err != nil {
		return err
	}
	proof := EscrowAuthorityProof(mint, bump)
	return svc.Transfer(mint, escrowAuthority, recipient, escrowAuthority, proof, payer, amount, def.Decimals)
}

// EscrowBalance reports the units currently held in a listing's escrow
// account.
func (c *Custody) EscrowBalance(mint [32]byte, escrowAuthority [20]byte) (uint64, error) {
	svc, _, err := c.service(mint)
	if err != nil {
		return 0, err
	}
	return svc.Balance(mint, escrowAuthority)
}

// CloseEscrow removes the drained escrow account, refunding its storage
// deposit to refundTo. Requires the mint-index authority proof.
func (c *Custody) CloseEscrow(mint [32]byte, escrowAuthority [20]byte, bump uint8, refundTo [20]byte) error {
	svc, _, err := c.service(mint)
	if err != nil {
		return err
	}
	proof := EscrowAuthorityProof(mint, bump)
	return svc.CloseAccount(mint, escrowAuthority, escrowAuthority, proof, refundTo)
}
