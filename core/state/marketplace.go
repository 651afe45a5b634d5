package state

import (
	"math/big"

	"shopchain/native/marketplace"
)

// storedListing is the persisted layout of a ListingIndex record plus the
// deposit charged when it was created. Signed values ride as big.Int for RLP.
type storedListing struct {
	Mint            [32]byte
	Lister          [20]byte
	PriceInLamports uint64
	AmountToSell    uint64
	CreationTime    *big.Int
	ListerIndex     uint8
	Bump            uint8
	DepositLamports uint64
}

func newStoredListing(l *marketplace.ListingIndex, deposit uint64) *storedListing {
	return &storedListing{
		Mint:            l.Mint,
		Lister:          l.Lister,
		PriceInLamports: l.PriceInLamports,
		AmountToSell:    l.AmountToSell,
		CreationTime:    big.NewInt(l.CreationTime),
		ListerIndex:     l.ListerIndex,
		Bump:            l.Bump,
		DepositLamports: deposit,
	}
}

func (s *storedListing) toListing() *marketplace.ListingIndex {
	out := &marketplace.ListingIndex{
		Mint:            s.Mint,
		Lister:          s.Lister,
		PriceInLamports: s.PriceInLamports,
		AmountToSell:    s.AmountToSell,
		ListerIndex:     s.ListerIndex,
		Bump:            s.Bump,
	}
	if s.CreationTime != nil {
		out.CreationTime = s.CreationTime.Int64()
	}
	return out
}

func listingKey(addr [20]byte) []byte {
	return storageKey(listingPrefix, addr[:])
}

// ListingGet loads the listing record stored at addr.
func (m *Manager) ListingGet(addr [20]byte) (*marketplace.ListingIndex, bool, error) {
	stored := new(storedListing)
	ok, err := m.get(listingKey(addr), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toListing(), true, nil
}

// ListingCreate stores a new listing record at addr, charging the payer the
// storage deposit for the full padded record size.
func (m *Manager) ListingCreate(addr [20]byte, l *marketplace.ListingIndex, payer [20]byte) error {
	if _, ok, err := m.ListingGet(addr); err != nil {
		return err
	} else if ok {
		return ErrRecordExists
	}
	deposit := RecordDeposit(marketplace.ListingIndexSize)
	if err := m.debitLamports(payer, deposit); err != nil {
		return err
	}
	return m.put(listingKey(addr), newStoredListing(l, deposit))
}

// ListingClose destroys the listing record at addr and refunds its deposit.
func (m *Manager) ListingClose(addr [20]byte, refundTo [20]byte) error {
	stored := new(storedListing)
	ok, err := m.get(listingKey(addr), stored)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordNotFound
	}
	if err := m.kv.Delete(listingKey(addr)); err != nil {
		return err
	}
	return m.creditLamports(refundTo, stored.DepositLamports)
}

// storedCounters is the persisted layout of an ActivityCounters record.
type storedCounters struct {
	Actor             [20]byte
	ListingCount      uint64
	SoldCount         uint64
	PurchaseCount     uint64
	TotalAmountSold   uint64
	TotalAmountBought uint64
	DepositLamports   uint64
}

func countersKey(addr [20]byte) []byte {
	return storageKey(countersPrefix, addr[:])
}

func (s *storedCounters) toCounters() *marketplace.ActivityCounters {
	return &marketplace.ActivityCounters{
		Actor:             s.Actor,
		ListingCount:      s.ListingCount,
		SoldCount:         s.SoldCount,
		PurchaseCount:     s.PurchaseCount,
		TotalAmountSold:   s.TotalAmountSold,
		TotalAmountBought: s.TotalAmountBought,
	}
}

// CountersGet loads the counters record stored at addr.
func (m *Manager) CountersGet(addr [20]byte) (*marketplace.ActivityCounters, bool, error) {
	stored := new(storedCounters)
	ok, err := m.get(countersKey(addr), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toCounters(), true, nil
}

// CountersCreate materializes a counters record, charging the payer the
// storage deposit. Counters records are never destroyed, so the deposit stays
// with the record for the life of the ledger.
func (m *Manager) CountersCreate(addr [20]byte, c *marketplace.ActivityCounters, payer [20]byte) error {
	if _, ok, err := m.CountersGet(addr); err != nil {
		return err
	} else if ok {
		return ErrRecordExists
	}
	deposit := RecordDeposit(marketplace.ActivityCountersSize)
	if err := m.debitLamports(payer, deposit); err != nil {
		return err
	}
	return m.put(countersKey(addr), &storedCounters{Actor: c.Actor, DepositLamports: deposit})
}

// CountersPut updates an existing counters record, preserving its deposit.
func (m *Manager) CountersPut(addr [20]byte, c *marketplace.ActivityCounters) error {
	stored := new(storedCounters)
	ok, err := m.get(countersKey(addr), stored)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordNotFound
	}
	stored.Actor = c.Actor
	stored.ListingCount = c.ListingCount
	stored.SoldCount = c.SoldCount
	stored.PurchaseCount = c.PurchaseCount
	stored.TotalAmountSold = c.TotalAmountSold
	stored.TotalAmountBought = c.TotalAmountBought
	return m.put(countersKey(addr), stored)
}

// ListingByMint resolves a listing through its mint derivation path. Used by
// queries; mint-index existence is the canonical liveness test.
func (m *Manager) ListingByMint(mint [32]byte) (*marketplace.ListingIndex, [20]byte, bool, error) {
	addr, _, err := marketplace.DeriveMintIndex(mint)
	if err != nil {
		return nil, [20]byte{}, false, err
	}
	listing, ok, err := m.ListingGet(addr)
	return listing, addr, ok, err
}

// CountersByActor resolves an actor's counters through their derivation path.
func (m *Manager) CountersByActor(actor [20]byte) (*marketplace.ActivityCounters, bool, error) {
	addr, _, err := marketplace.DeriveActivityCounters(actor)
	if err != nil {
		return nil, false, err
	}
	return m.CountersGet(addr)
}
