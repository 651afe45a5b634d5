package marketplace

import (
	"errors"
	"math/big"
	"time"

	"shopchain/core/events"
	"shopchain/core/types"
)

var (
	errNilState    = errors.New("marketplace engine: state not configured")
	errNilCustody  = errors.New("marketplace engine: custody adapter not configured")
	errNilTreasury = errors.New("marketplace engine: protocol fee account not configured")

	ErrListingNotFound    = errors.New("marketplace: listing not found")
	ErrListingExists      = errors.New("marketplace: listing already exists for mint")
	ErrListerIndexTaken   = errors.New("marketplace: lister index already in use")
	ErrMintMismatch       = errors.New("marketplace: lister index record does not match mint")
	ErrNotLister          = errors.New("marketplace: caller is not the recorded lister")
	ErrFeeAccountMismatch = errors.New("marketplace: protocol fee account mismatch")
	ErrAddressMismatch    = errors.New("marketplace: supplied address does not match derivation")
	ErrEscrowImbalance    = errors.New("marketplace: escrow balance does not match listing")
	ErrInsufficientFunds  = errors.New("marketplace: insufficient lamport balance")
	ErrInvalidAmount      = errors.New("marketplace: amount to sell must be positive")
	ErrCountersMissing    = errors.New("marketplace: activity counters record missing")
	ErrCounterUnderflow   = errors.New("marketplace: listing count underflow")
)

// engineState is the narrow backend contract the engine operates against. The
// host applies the whole effect set atomically; the engine only has to keep it
// internally consistent.
type engineState interface {
	ListingGet(addr [20]byte) (*ListingIndex, bool, error)
	ListingCreate(addr [20]byte, l *ListingIndex, payer [20]byte) error
	ListingClose(addr [20]byte, refundTo [20]byte) error
	CountersGet(addr [20]byte) (*ActivityCounters, bool, error)
	CountersCreate(addr [20]byte, c *ActivityCounters, payer [20]byte) error
	CountersPut(addr [20]byte, c *ActivityCounters) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type marketplaceEvent struct {
	evt *types.Event
}

func (e marketplaceEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketplaceEvent) Event() *types.Event { return e.evt }

// Engine wires the three marketplace operations with external state, the
// custody adapter and an event emitter.
type Engine struct {
	state       engineState
	custody     *Custody
	emitter     events.Emitter
	feeTreasury [20]byte
	nowFn       func() int64
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody configures the escrow custody adapter.
func (e *Engine) SetCustody(custody *Custody) { e.custody = custody }

// SetFeeTreasury configures the protocol fee account.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketplaceEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.custody == nil {
		return errNilCustody
	}
	if e.feeTreasury == ([20]byte{}) {
		return errNilTreasury
	}
	return nil
}

func (e *Engine) transferLamports(from, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Clone()
	toAcc = toAcc.Clone()
	amt := new(big.Int).SetUint64(amount)
	if fromAcc.BalanceLamports.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.BalanceLamports = new(big.Int).Sub(fromAcc.BalanceLamports, amt)
	toAcc.BalanceLamports = new(big.Int).Add(toAcc.BalanceLamports, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// bumpCounters loads, mutates and stores the counters record for actor,
// creating it first when absent and createIfMissing is set (the payer funds
// the record deposit).
func (e *Engine) bumpCounters(actor, payer [20]byte, createIfMissing bool, update func(*ActivityCounters) error) error {
	addr, _, err := DeriveActivityCounters(actor)
	if err != nil {
		return err
	}
	counters, ok, err := e.state.CountersGet(addr)
	if err != nil {
		return err
	}
	if !ok {
		if !createIfMissing {
			return ErrCountersMissing
		}
		counters = &ActivityCounters{Actor: actor}
		if err := e.state.CountersCreate(addr, counters, payer); err != nil {
			return err
		}
	}
	if err := update(counters); err != nil {
		return err
	}
	return e.state.CountersPut(addr, counters)
}

// ListParams carries the caller input for List. The record addresses arrive
// pre-derived from the caller and are verified by recomputation, never
// trusted.
type ListParams struct {
	Lister          [20]byte
	Mint            [32]byte
	AmountToSell    uint64
	PriceInLamports uint64
	ListerIndex     uint8

	MintIndexAddr   [20]byte
	ListerIndexAddr [20]byte
	FeeAccount      [20]byte
}

// List places the asset into escrow and opens the dual index records. It
// returns the mint-index address, which identifies the listing.
func (e *Engine) List(p ListParams) ([20]byte, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, err
	}
	if p.AmountToSell == 0 {
		return [20]byte{}, ErrInvalidAmount
	}
	if p.FeeAccount != e.feeTreasury {
		return [20]byte{}, ErrFeeAccountMismatch
	}
	mintIndexAddr, bump, err := DeriveMintIndex(p.Mint)
	if err != nil {
		return [20]byte{}, err
	}
	if p.MintIndexAddr != mintIndexAddr {
		return [20]byte{}, ErrAddressMismatch
	}
	listerIndexAddr, _, err := DeriveListerIndex(p.Lister, p.ListerIndex)
	if err != nil {
		return [20]byte{}, err
	}
	if p.ListerIndexAddr != listerIndexAddr {
		return [20]byte{}, ErrAddressMismatch
	}
	if _, ok, err := e.state.ListingGet(mintIndexAddr); err != nil {
		return [20]byte{}, err
	} else if ok {
		return [20]byte{}, ErrListingExists
	}
	if _, ok, err := e.state.ListingGet(listerIndexAddr); err != nil {
		return [20]byte{}, err
	} else if ok {
		return [20]byte{}, ErrListerIndexTaken
	}

	if err := e.bumpCounters(p.Lister, p.Lister, true, func(c *ActivityCounters) error {
		c.ListingCount++
		return nil
	}); err != nil {
		return [20]byte{}, err
	}

	// Upfront maker fee, refunded out of the buyer's payment if the item
	// sells. Forfeited on delist.
	if err := e.transferLamports(p.Lister, e.feeTreasury, MakerFee); err != nil {
		return [20]byte{}, err
	}

	listing := &ListingIndex{
		Mint:            p.Mint,
		Lister:          p.Lister,
		PriceInLamports: p.PriceInLamports,
		AmountToSell:    p.AmountToSell,
		CreationTime:    e.now(),
		ListerIndex:     p.ListerIndex,
		Bump:            bump,
	}
	if err := e.state.ListingCreate(mintIndexAddr, listing, p.Lister); err != nil {
		return [20]byte{}, err
	}
	if err := e.state.ListingCreate(listerIndexAddr, listing, p.Lister); err != nil {
		return [20]byte{}, err
	}

	// The mint index doubles as the escrow authority; easier to track.
	if err := e.custody.MoveIntoEscrow(p.Mint, p.Lister, mintIndexAddr, p.AmountToSell); err != nil {
		return [20]byte{}, err
	}

	e.emit(NewListedEvent(mintIndexAddr, listing))
	return mintIndexAddr, nil
}

// ExecuteParams carries the caller input for Execute. ListerIndexAddr locates
// the second index record; the engine verifies it belongs to the listing
// before closing it.
type ExecuteParams struct {
	Buyer [20]byte
	Mint  [32]byte

	ListerIndexAddr [20]byte
	FeeAccount      [20]byte
}

// Execute completes a purchase: asset to the buyer, price and fees settled
// between buyer, lister and protocol, records and escrow closed with deposits
// refunded to the lister.
func (e *Engine) Execute(p ExecuteParams) ([20]byte, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, err
	}
	if p.FeeAccount != e.feeTreasury {
		return [20]byte{}, ErrFeeAccountMismatch
	}
	listing, mintIndexAddr, err := e.loadListing(p.Mint)
	if err != nil {
		return [20]byte{}, err
	}
	if err := e.verifyListerIndex(listing, p.Mint, p.ListerIndexAddr); err != nil {
		return [20]byte{}, err
	}
	held, err := e.custody.EscrowBalance(p.Mint, mintIndexAddr)
	if err != nil {
		return [20]byte{}, err
	}
	if held != listing.AmountToSell {
		return [20]byte{}, ErrEscrowImbalance
	}

	if err := e.bumpCounters(listing.Lister, p.Buyer, false, func(c *ActivityCounters) error {
		c.SoldCount++
		c.TotalAmountSold += listing.PriceInLamports
		return nil
	}); err != nil {
		return [20]byte{}, err
	}
	if err := e.bumpCounters(p.Buyer, p.Buyer, true, func(c *ActivityCounters) error {
		c.PurchaseCount++
		c.TotalAmountBought += listing.PriceInLamports
		return nil
	}); err != nil {
		return [20]byte{}, err
	}

	if err := e.custody.ReleaseFromEscrow(p.Mint, mintIndexAddr, listing.Bump, p.Buyer, p.Buyer, listing.AmountToSell); err != nil {
		return [20]byte{}, err
	}
	if err := e.transferLamports(p.Buyer, listing.Lister, listing.PriceInLamports); err != nil {
		return [20]byte{}, err
	}
	// Net taker fee to the protocol.
	if err := e.transferLamports(p.Buyer, e.feeTreasury, TakerFee-MakerFee); err != nil {
		return [20]byte{}, err
	}
	// The remainder refunds the maker fee the lister prepaid at listing time.
	if err := e.transferLamports(p.Buyer, listing.Lister, MakerFee); err != nil {
		return [20]byte{}, err
	}

	if err := e.closeListing(mintIndexAddr, p.ListerIndexAddr, listing); err != nil {
		return [20]byte{}, err
	}

	e.emit(NewExecutedEvent(mintIndexAddr, listing, p.Buyer))
	return mintIndexAddr, nil
}

// DelistParams carries the caller input for Delist.
type DelistParams struct {
	Caller [20]byte
	Mint   [32]byte

	ListerIndexAddr [20]byte
}

// Delist cancels a listing: the asset returns to the lister, both records and
// the escrow account close with deposits refunded. The maker fee paid at
// listing time is not refunded on this path.
func (e *Engine) Delist(p DelistParams) ([20]byte, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, err
	}
	listing, mintIndexAddr, err := e.loadListing(p.Mint)
	if err != nil {
		return [20]byte{}, err
	}
	if listing.Lister != p.Caller {
		return [20]byte{}, ErrNotLister
	}
	if err := e.verifyListerIndex(listing, p.Mint, p.ListerIndexAddr); err != nil {
		return [20]byte{}, err
	}

	// Every live listing accounts for one ListingCount increment; a zero
	// count here means the records are out of sync.
	if err := e.bumpCounters(listing.Lister, listing.Lister, false, func(c *ActivityCounters) error {
		if c.ListingCount == 0 {
			return ErrCounterUnderflow
		}
		c.ListingCount--
		return nil
	}); err != nil {
		return [20]byte{}, err
	}

	if err := e.custody.ReleaseFromEscrow(p.Mint, mintIndexAddr, listing.Bump, listing.Lister, listing.Lister, listing.AmountToSell); err != nil {
		return [20]byte{}, err
	}

	if err := e.closeListing(mintIndexAddr, p.ListerIndexAddr, listing); err != nil {
		return [20]byte{}, err
	}

	e.emit(NewDelistedEvent(mintIndexAddr, listing))
	return mintIndexAddr, nil
}

// loadListing resolves the mint index record; its existence is the canonical
// liveness test for a listing.
func (e *Engine) loadListing(mint [32]byte) (*ListingIndex, [20]byte, error) {
	mintIndexAddr, bump, err := DeriveMintIndex(mint)
	if err != nil {
		return nil, [20]byte{}, err
	}
	listing, ok, err := e.state.ListingGet(mintIndexAddr)
	if err != nil {
		return nil, [20]byte{}, err
	}
	if !ok {
		return nil, [20]byte{}, ErrListingNotFound
	}
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return nil, [20]byte{}, err
	}
	if sanitized.Bump != bump {
		return nil, [20]byte{}, ErrAddressMismatch
	}
	return sanitized, mintIndexAddr, nil
}

// verifyListerIndex proves that the supplied lister-index address belongs to
// this listing. Without the explicit mint check a caller could feed in an
// unrelated mint and close someone else's lister-indexed record.
func (e *Engine) verifyListerIndex(listing *ListingIndex, mint [32]byte, supplied [20]byte) error {
	record, ok, err := e.state.ListingGet(supplied)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if record.Mint != mint {
		return ErrMintMismatch
	}
	if record.Lister != listing.Lister || record.ListerIndex != listing.ListerIndex {
		return ErrMintMismatch
	}
	derived, _, err := DeriveListerIndex(record.Lister, record.ListerIndex)
	if err != nil {
		return err
	}
	if derived != supplied {
		return ErrAddressMismatch
	}
	return nil
}

// closeListing destroys both index records and the escrow account together,
// refunding every storage deposit to the lister. No path may close one record
// without the other.
func (e *Engine) closeListing(mintIndexAddr, listerIndexAddr [20]byte, listing *ListingIndex) error {
	if err := e.state.ListingClose(mintIndexAddr, listing.Lister); err != nil {
		return err
	}
	if err := e.state.ListingClose(listerIndexAddr, listing.Lister); err != nil {
		return err
	}
	return e.custody.CloseEscrow(listing.Mint, mintIndexAddr, listing.Bump, listing.Lister)
}
