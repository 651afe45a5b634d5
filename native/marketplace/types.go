package marketplace

import "fmt"

// Fixed protocol fees in lamports. The maker fee is collected from the lister
// up front and refunded out of the buyer's taker-fee payment when the item
// sells; the difference is the protocol's net taker-side revenue.
const (
	MakerFee uint64 = 2_000_000
	TakerFee uint64 = 5_000_000
)

// Stored record sizes in bytes, padding reserve included. Future fields can
// grow into the reserve without migrating deployed records, and the storage
// deposit is charged against the full padded size.
const (
	ListingIndexSize     = 32 + 20 + 8 + 8 + 8 + 1 + 1 + 100
	ActivityCountersSize = 20 + 5*8 + 100
)

// ListingIndex is one of the two synchronized records describing a live
// listing. Both physical copies carry identical field values; they differ only
// in derivation path (by mint, and by lister + lister-chosen index).
type ListingIndex struct {
	Mint            [32]byte
	Lister          [20]byte
	PriceInLamports uint64
	AmountToSell    uint64
	CreationTime    int64
	ListerIndex     uint8
	Bump            uint8
}

// Clone returns a copy of the listing record.
func (l *ListingIndex) Clone() *ListingIndex {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}

// SanitizeListing validates a listing record loaded from storage.
func SanitizeListing(l *ListingIndex) (*ListingIndex, error) {
	if l == nil {
		return nil, fmt.Errorf("marketplace: nil listing record")
	}
	if l.AmountToSell == 0 {
		return nil, fmt.Errorf("marketplace: listing amount must be positive")
	}
	return l.Clone(), nil
}

// ActivityCounters accumulates a participant's lifetime marketplace activity.
// Created lazily on first use and never destroyed.
type ActivityCounters struct {
	Actor             [20]byte
	ListingCount      uint64
	SoldCount         uint64
	PurchaseCount     uint64
	TotalAmountSold   uint64
	TotalAmountBought uint64
}

// Clone returns a copy of the counters record.
func (c *ActivityCounters) Clone() *ActivityCounters {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
