package crypto

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// derivationMarker domain-separates derived authority addresses from every
// other keccak usage on the ledger, so no account keypair can ever hash to a
// derived address.
var derivationMarker = []byte("shopchain/derived/v1")

// ErrNoValidBump is returned when no bump in [0,255] yields a valid derived
// address for the given seeds. Vanishingly unlikely in practice.
var ErrNoValidBump = errors.New("crypto: no valid bump for seeds")

// ErrInvalidProof is returned when an authority proof does not reproduce the
// expected derived address.
var ErrInvalidProof = errors.New("crypto: authority proof mismatch")

// AuthorityProof carries the seed components and recorded bump that let anyone
// re-derive an authority address. Control of a derived address is proven by
// recomputation, never by signature; no private key exists for it.
type AuthorityProof struct {
	Seeds [][]byte
	Bump  uint8
}

func derivedDigest(seeds [][]byte, bump uint8) []byte {
	parts := make([]byte, 0, 64)
	for _, seed := range seeds {
		parts = append(parts, seed...)
	}
	parts = append(parts, bump)
	parts = append(parts, derivationMarker...)
	return ethcrypto.Keccak256(parts)
}

func digestValid(digest []byte) bool {
	return digest[0] != 0x00
}

func digestAddress(digest []byte) [20]byte {
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// Derive computes the canonical derived address for the given seed components,
// searching bumps downward from 255 until one produces a valid digest. The
// result is reproducible by any caller who knows the seeds.
func Derive(seeds ...[]byte) ([20]byte, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		digest := derivedDigest(seeds, uint8(bump))
		if digestValid(digest) {
			return digestAddress(digest), uint8(bump), nil
		}
	}
	return [20]byte{}, 0, ErrNoValidBump
}

// DeriveWithBump recomputes the derived address for a previously recorded
// bump. It fails if the bump does not produce a valid digest.
func DeriveWithBump(bump uint8, seeds ...[]byte) ([20]byte, error) {
	digest := derivedDigest(seeds, bump)
	if !digestValid(digest) {
		return [20]byte{}, ErrNoValidBump
	}
	return digestAddress(digest), nil
}

// VerifyAuthority checks that the supplied proof re-derives to the expected
// authority address. A mismatch is always an authorization failure.
func VerifyAuthority(authority [20]byte, proof *AuthorityProof) error {
	if proof == nil {
		return ErrInvalidProof
	}
	derived, err := DeriveWithBump(proof.Bump, proof.Seeds...)
	if err != nil {
		return err
	}
	if derived != authority {
		return ErrInvalidProof
	}
	return nil
}
