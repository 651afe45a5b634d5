package marketplace

import "shopchain/crypto"

// Seed prefixes for the marketplace derivation paths. Any caller who knows the
// seed components can reproduce these addresses, which is what lets Execute
// and Delist locate a listing's records without a lookup table.
var (
	seedMintIndex        = []byte("mint_index")
	seedListerIndex      = []byte("lister_index")
	seedActivityCounters = []byte("activity_counters")
)

// DeriveMintIndex computes the canonical address of the mint-keyed listing
// record. The returned bump is recorded on the listing so the escrow authority
// can be re-derived later.
func DeriveMintIndex(mint [32]byte) ([20]byte, uint8, error) {
	return crypto.Derive(seedMintIndex, mint[:])
}

// DeriveListerIndex computes the address of the lister-keyed listing record
// from the lister and the lister-chosen disambiguator.
func DeriveListerIndex(lister [20]byte, listerIndex uint8) ([20]byte, uint8, error) {
	return crypto.Derive(seedListerIndex, lister[:], []byte{listerIndex})
}

// DeriveActivityCounters computes the address of an actor's counters record.
func DeriveActivityCounters(actor [20]byte) ([20]byte, uint8, error) {
	return crypto.Derive(seedActivityCounters, actor[:])
}

// EscrowAuthorityProof builds the derivation proof for the mint-index
// authority that owns a listing's escrow account. The proof is the exact seed
// path plus the bump recorded at listing time; the token service re-derives
// and compares before permitting any move out of escrow.
func EscrowAuthorityProof(mint [32]byte, bump uint8) *crypto.AuthorityProof {
	return &crypto.AuthorityProof{
		Seeds: [][]byte{seedMintIndex, mint[:]},
		Bump:  bump,
	}
}
