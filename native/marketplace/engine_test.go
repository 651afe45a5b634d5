package marketplace

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"shopchain/core/events"
	"shopchain/core/types"
	"shopchain/native/token"
)

const (
	mockListingDeposit  uint64 = 1_000_000
	mockCountersDeposit uint64 = 500_000
)

type tokenKey struct {
	mint  [32]byte
	owner [20]byte
}

type mockState struct {
	listings      map[[20]byte]*ListingIndex
	counters      map[[20]byte]*ActivityCounters
	accounts      map[[20]byte]*types.Account
	mints         map[[32]byte]*token.Mint
	tokenAccounts map[tokenKey]*token.Account
}

func newMockState() *mockState {
	return &mockState{
		listings:      make(map[[20]byte]*ListingIndex),
		counters:      make(map[[20]byte]*ActivityCounters),
		accounts:      make(map[[20]byte]*types.Account),
		mints:         make(map[[32]byte]*token.Mint),
		tokenAccounts: make(map[tokenKey]*token.Account),
	}
}

func (m *mockState) ListingGet(addr [20]byte) (*ListingIndex, bool, error) {
	listing, ok := m.listings[addr]
	if !ok {
		return nil, false, nil
	}
	return listing.Clone(), true, nil
}

func (m *mockState) ListingCreate(addr [20]byte, l *ListingIndex, payer [20]byte) error {
	if _, ok := m.listings[addr]; ok {
		return fmt.Errorf("record exists at %x", addr)
	}
	if err := m.debit(payer, mockListingDeposit); err != nil {
		return err
	}
	m.listings[addr] = l.Clone()
	return nil
}

func (m *mockState) ListingClose(addr [20]byte, refundTo [20]byte) error {
	if _, ok := m.listings[addr]; !ok {
		return fmt.Errorf("no record at %x", addr)
	}
	delete(m.listings, addr)
	m.credit(refundTo, mockListingDeposit)
	return nil
}

func (m *mockState) CountersGet(addr [20]byte) (*ActivityCounters, bool, error) {
	counters, ok := m.counters[addr]
	if !ok {
		return nil, false, nil
	}
	return counters.Clone(), true, nil
}

func (m *mockState) CountersCreate(addr [20]byte, c *ActivityCounters, payer [20]byte) error {
	if _, ok := m.counters[addr]; ok {
		return fmt.Errorf("record exists at %x", addr)
	}
	if err := m.debit(payer, mockCountersDeposit); err != nil {
		return err
	}
	m.counters[addr] = c.Clone()
	return nil
}

func (m *mockState) CountersPut(addr [20]byte, c *ActivityCounters) error {
	if _, ok := m.counters[addr]; !ok {
		return fmt.Errorf("no record at %x", addr)
	}
	m.counters[addr] = c.Clone()
	return nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	account, ok := m.accounts[key]
	if !ok {
		return &types.Account{BalanceLamports: big.NewInt(0)}, nil
	}
	return account.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) MintGet(id [32]byte) (*token.Mint, bool, error) {
	def, ok := m.mints[id]
	if !ok {
		return nil, false, nil
	}
	return def.Clone(), true, nil
}

func (m *mockState) TokenAccountGet(mint [32]byte, owner [20]byte) (*token.Account, bool, error) {
	account, ok := m.tokenAccounts[tokenKey{mint: mint, owner: owner}]
	if !ok {
		return nil, false, nil
	}
	return account.Clone(), true, nil
}

func (m *mockState) TokenAccountPut(account *token.Account) error {
	if account == nil {
		return fmt.Errorf("nil token account")
	}
	m.tokenAccounts[tokenKey{mint: account.Mint, owner: account.Owner}] = account.Clone()
	return nil
}

func (m *mockState) TokenAccountRemove(mint [32]byte, owner [20]byte) error {
	key := tokenKey{mint: mint, owner: owner}
	if _, ok := m.tokenAccounts[key]; !ok {
		return fmt.Errorf("no token account for %x/%x", mint, owner)
	}
	delete(m.tokenAccounts, key)
	return nil
}

func (m *mockState) debit(addr [20]byte, amount uint64) error {
	account, _ := m.GetAccount(addr[:])
	amt := new(big.Int).SetUint64(amount)
	if account.BalanceLamports.Cmp(amt) < 0 {
		return fmt.Errorf("insufficient deposit funds for %x", addr)
	}
	account.BalanceLamports = new(big.Int).Sub(account.BalanceLamports, amt)
	m.accounts[addr] = account
	return nil
}

func (m *mockState) credit(addr [20]byte, amount uint64) {
	account, _ := m.GetAccount(addr[:])
	account.BalanceLamports = new(big.Int).Add(account.BalanceLamports, new(big.Int).SetUint64(amount))
	m.accounts[addr] = account
}

func (m *mockState) fund(addr [20]byte, lamports uint64) {
	m.accounts[addr] = &types.Account{BalanceLamports: new(big.Int).SetUint64(lamports)}
}

func (m *mockState) registerMint(id [32]byte, standard token.Standard) {
	m.mints[id] = &token.Mint{ID: id, Decimals: 0, Standard: standard}
}

func (m *mockState) setTokenBalance(mint [32]byte, owner [20]byte, amount uint64) {
	m.tokenAccounts[tokenKey{mint: mint, owner: owner}] = &token.Account{Mint: mint, Owner: owner, Balance: amount}
}

func (m *mockState) lamports(t *testing.T, addr [20]byte) uint64 {
	t.Helper()
	account, err := m.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !account.BalanceLamports.IsUint64() {
		t.Fatalf("balance out of range for %x", addr)
	}
	return account.BalanceLamports.Uint64()
}

func (m *mockState) tokenBalance(mint [32]byte, owner [20]byte) uint64 {
	account, ok := m.tokenAccounts[tokenKey{mint: mint, owner: owner}]
	if !ok {
		return 0
	}
	return account.Balance
}

func (m *mockState) countersFor(t *testing.T, actor [20]byte) *ActivityCounters {
	t.Helper()
	addr, _, err := DeriveActivityCounters(actor)
	if err != nil {
		t.Fatalf("derive counters: %v", err)
	}
	counters, ok, err := m.CountersGet(addr)
	if err != nil {
		t.Fatalf("counters get: %v", err)
	}
	if !ok {
		t.Fatalf("counters missing for %x", actor)
	}
	return counters
}

type marketEnv struct {
	state    *mockState
	engine   *Engine
	buffer   *events.Buffer
	treasury [20]byte
}

func newMarketEnv(t *testing.T) *marketEnv {
	t.Helper()
	state := newMockState()
	buffer := &events.Buffer{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetCustody(NewCustody(token.NewRegistry(state)))
	engine.SetEmitter(buffer)
	treasury := testAddr(0xEE)
	engine.SetFeeTreasury(treasury)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return &marketEnv{state: state, engine: engine, buffer: buffer, treasury: treasury}
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = b
	}
	return addr
}

func testMint(b byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = b
	}
	return id
}

func (env *marketEnv) listParams(t *testing.T, lister [20]byte, mint [32]byte, amount, price uint64, listerIndex uint8) ListParams {
	t.Helper()
	mintIndexAddr, _, err := DeriveMintIndex(mint)
	if err != nil {
		t.Fatalf("derive mint index: %v", err)
	}
	listerIndexAddr, _, err := DeriveListerIndex(lister, listerIndex)
	if err != nil {
		t.Fatalf("derive lister index: %v", err)
	}
	return ListParams{
		Lister:          lister,
		Mint:            mint,
		AmountToSell:    amount,
		PriceInLamports: price,
		ListerIndex:     listerIndex,
		MintIndexAddr:   mintIndexAddr,
		ListerIndexAddr: listerIndexAddr,
		FeeAccount:      env.treasury,
	}
}

func (env *marketEnv) mustList(t *testing.T, lister [20]byte, mint [32]byte, amount, price uint64, listerIndex uint8) [20]byte {
	t.Helper()
	addr, err := env.engine.List(env.listParams(t, lister, mint, amount, price, listerIndex))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return addr
}

func TestListCreatesDualRecordsAndEscrow(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x01)
	mint := testMint(0xA1)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(lister, 1_000_000_000)
	env.state.setTokenBalance(mint, lister, 5)

	params := env.listParams(t, lister, mint, 5, 750_000_000, 3)
	mintIndexAddr, err := env.engine.List(params)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if mintIndexAddr != params.MintIndexAddr {
		t.Fatalf("unexpected listing address: %x", mintIndexAddr)
	}

	byMint, ok, err := env.state.ListingGet(params.MintIndexAddr)
	if err != nil || !ok {
		t.Fatalf("mint index record missing: ok=%v err=%v", ok, err)
	}
	byLister, ok, err := env.state.ListingGet(params.ListerIndexAddr)
	if err != nil || !ok {
		t.Fatalf("lister index record missing: ok=%v err=%v", ok, err)
	}
	if *byMint != *byLister {
		t.Fatalf("records differ: %+v vs %+v", byMint, byLister)
	}
	if byMint.Mint != mint || byMint.Lister != lister {
		t.Fatalf("record identity wrong: %+v", byMint)
	}
	if byMint.AmountToSell != 5 || byMint.PriceInLamports != 750_000_000 || byMint.ListerIndex != 3 {
		t.Fatalf("record terms wrong: %+v", byMint)
	}
	if byMint.CreationTime != 1_700_000_000 {
		t.Fatalf("creation time not from clock: %d", byMint.CreationTime)
	}

	if got := env.state.tokenBalance(mint, lister); got != 0 {
		t.Fatalf("lister still holds %d units", got)
	}
	if got := env.state.tokenBalance(mint, mintIndexAddr); got != 5 {
		t.Fatalf("escrow holds %d units, want 5", got)
	}

	if got := env.state.lamports(t, env.treasury); got != MakerFee {
		t.Fatalf("treasury holds %d, want maker fee %d", got, MakerFee)
	}
	spent := MakerFee + 2*mockListingDeposit + mockCountersDeposit + token.AccountDepositLamports
	if got := env.state.lamports(t, lister); got != 1_000_000_000-spent {
		t.Fatalf("lister balance %d, want %d", got, 1_000_000_000-spent)
	}

	counters := env.state.countersFor(t, lister)
	if counters.Actor != lister || counters.ListingCount != 1 {
		t.Fatalf("counters wrong after list: %+v", counters)
	}

	evts := env.buffer.Events()
	if len(evts) != 1 || evts[0].EventType() != EventTypeListed {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestListRejectsInvalidInput(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x02)
	mint := testMint(0xA2)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(lister, 1_000_000_000)
	env.state.setTokenBalance(mint, lister, 10)

	params := env.listParams(t, lister, mint, 0, 100, 0)
	if _, err := env.engine.List(params); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}

	params = env.listParams(t, lister, mint, 1, 100, 0)
	params.FeeAccount = testAddr(0x99)
	if _, err := env.engine.List(params); !errors.Is(err, ErrFeeAccountMismatch) {
		t.Fatalf("wrong fee account: got %v", err)
	}

	params = env.listParams(t, lister, mint, 1, 100, 0)
	params.MintIndexAddr = testAddr(0x98)
	if _, err := env.engine.List(params); !errors.Is(err, ErrAddressMismatch) {
		t.Fatalf("wrong mint index address: got %v", err)
	}

	params = env.listParams(t, lister, mint, 1, 100, 0)
	params.ListerIndexAddr = testAddr(0x97)
	if _, err := env.engine.List(params); !errors.Is(err, ErrAddressMismatch) {
		t.Fatalf("wrong lister index address: got %v", err)
	}
}

func TestListRejectsDuplicates(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x03)
	mintA := testMint(0xA3)
	mintB := testMint(0xB3)
	env.state.registerMint(mintA, token.StandardLegacy)
	env.state.registerMint(mintB, token.StandardLegacy)
	env.state.fund(lister, 10_000_000_000)
	env.state.setTokenBalance(mintA, lister, 2)
	env.state.setTokenBalance(mintB, lister, 2)

	env.mustList(t, lister, mintA, 1, 100, 0)

	if _, err := env.engine.List(env.listParams(t, lister, mintA, 1, 100, 1)); !errors.Is(err, ErrListingExists) {
		t.Fatalf("same mint twice: got %v", err)
	}
	if _, err := env.engine.List(env.listParams(t, lister, mintB, 1, 100, 0)); !errors.Is(err, ErrListerIndexTaken) {
		t.Fatalf("reused lister index: got %v", err)
	}

	// A fresh index for the second mint works.
	env.mustList(t, lister, mintB, 1, 100, 1)
}

func TestListInsufficientTokenBalance(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x04)
	mint := testMint(0xA4)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(lister, 10_000_000_000)
	env.state.setTokenBalance(mint, lister, 3)

	if _, err := env.engine.List(env.listParams(t, lister, mint, 4, 100, 0)); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("overdrawn listing: got %v", err)
	}
}

func TestListUnregisteredMint(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x05)
	mint := testMint(0xA5)
	env.state.fund(lister, 10_000_000_000)

	if _, err := env.engine.List(env.listParams(t, lister, mint, 1, 100, 0)); !errors.Is(err, token.ErrMintNotFound) {
		t.Fatalf("unregistered mint: got %v", err)
	}
}

func TestExecuteSettlesAllLegs(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x10)
	buyer := testAddr(0x20)
	mint := testMint(0xC1)
	env.state.registerMint(mint, token.StandardLegacy)

	const price uint64 = 1_000_000_000
	const startBalance uint64 = 10_000_000_000
	env.state.fund(lister, startBalance)
	env.state.fund(buyer, startBalance)
	env.state.setTokenBalance(mint, lister, 1)

	params := env.listParams(t, lister, mint, 1, price, 0)
	mintIndexAddr := env.mustList(t, lister, mint, 1, price, 0)

	if _, err := env.engine.Execute(ExecuteParams{
		Buyer:           buyer,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
		FeeAccount:      env.treasury,
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Asset delivered, escrow drained and closed.
	if got := env.state.tokenBalance(mint, buyer); got != 1 {
		t.Fatalf("buyer holds %d units, want 1", got)
	}
	if _, ok, _ := env.state.TokenAccountGet(mint, mintIndexAddr); ok {
		t.Fatalf("escrow account survived execution")
	}

	// Lister nets the price; the prepaid maker fee comes back out of the
	// buyer's payment and every storage deposit except the counters record
	// is refunded.
	wantLister := startBalance + price - mockCountersDeposit
	if got := env.state.lamports(t, lister); got != wantLister {
		t.Fatalf("lister balance %d, want %d", got, wantLister)
	}

	// Buyer pays price plus the full taker fee, plus the deposits for the
	// newly created counters record and token account.
	wantBuyer := startBalance - price - TakerFee - mockCountersDeposit - token.AccountDepositLamports
	if got := env.state.lamports(t, buyer); got != wantBuyer {
		t.Fatalf("buyer balance %d, want %d", got, wantBuyer)
	}

	// Protocol keeps the maker fee from listing plus the net taker fee.
	if got := env.state.lamports(t, env.treasury); got != TakerFee {
		t.Fatalf("treasury balance %d, want %d", got, TakerFee)
	}

	// Both index records are gone.
	if _, ok, _ := env.state.ListingGet(params.MintIndexAddr); ok {
		t.Fatalf("mint index record survived execution")
	}
	if _, ok, _ := env.state.ListingGet(params.ListerIndexAddr); ok {
		t.Fatalf("lister index record survived execution")
	}

	listerCounters := env.state.countersFor(t, lister)
	if listerCounters.SoldCount != 1 || listerCounters.TotalAmountSold != price {
		t.Fatalf("lister counters wrong: %+v", listerCounters)
	}
	if listerCounters.ListingCount != 1 {
		t.Fatalf("listing count should stay at %d after sale, got %d", 1, listerCounters.ListingCount)
	}
	buyerCounters := env.state.countersFor(t, buyer)
	if buyerCounters.PurchaseCount != 1 || buyerCounters.TotalAmountBought != price {
		t.Fatalf("buyer counters wrong: %+v", buyerCounters)
	}

	evts := env.buffer.Events()
	if len(evts) != 2 || evts[1].EventType() != EventTypeExecuted {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestExecuteListingNotFound(t *testing.T) {
	env := newMarketEnv(t)
	buyer := testAddr(0x21)
	mint := testMint(0xC2)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(buyer, 10_000_000_000)

	listerIndexAddr, _, err := DeriveListerIndex(testAddr(0x11), 0)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	_, err = env.engine.Execute(ExecuteParams{
		Buyer:           buyer,
		Mint:            mint,
		ListerIndexAddr: listerIndexAddr,
		FeeAccount:      env.treasury,
	})
	if !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestExecuteRejectsForeignListerIndex(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x12)
	buyer := testAddr(0x22)
	mintA := testMint(0xC3)
	mintB := testMint(0xD3)
	env.state.registerMint(mintA, token.StandardLegacy)
	env.state.registerMint(mintB, token.StandardLegacy)
	env.state.fund(lister, 20_000_000_000)
	env.state.fund(buyer, 20_000_000_000)
	env.state.setTokenBalance(mintA, lister, 1)
	env.state.setTokenBalance(mintB, lister, 1)

	paramsB := env.listParams(t, lister, mintB, 1, 200, 1)
	env.mustList(t, lister, mintA, 1, 100, 0)
	env.mustList(t, lister, mintB, 1, 200, 1)

	// Supplying listing B's lister-index record while executing against
	// mint A must be rejected before anything closes.
	_, err := env.engine.Execute(ExecuteParams{
		Buyer:           buyer,
		Mint:            mintA,
		ListerIndexAddr: paramsB.ListerIndexAddr,
		FeeAccount:      env.treasury,
	})
	if !errors.Is(err, ErrMintMismatch) {
		t.Fatalf("expected ErrMintMismatch, got %v", err)
	}
	if _, ok, _ := env.state.ListingGet(paramsB.ListerIndexAddr); !ok {
		t.Fatalf("unrelated record was closed")
	}
}

func TestExecuteEscrowImbalance(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x13)
	buyer := testAddr(0x23)
	mint := testMint(0xC4)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(lister, 10_000_000_000)
	env.state.fund(buyer, 10_000_000_000)
	env.state.setTokenBalance(mint, lister, 2)

	params := env.listParams(t, lister, mint, 2, 100, 0)
	mintIndexAddr := env.mustList(t, lister, mint, 2, 100, 0)

	// Tamper with the escrow balance behind the engine's back.
	env.state.setTokenBalance(mint, mintIndexAddr, 1)

	_, err := env.engine.Execute(ExecuteParams{
		Buyer:           buyer,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
		FeeAccount:      env.treasury,
	})
	if !errors.Is(err, ErrEscrowImbalance) {
		t.Fatalf("expected ErrEscrowImbalance, got %v", err)
	}
}

func TestExecuteInsufficientBuyerFunds(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x14)
	buyer := testAddr(0x24)
	mint := testMint(0xC5)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(lister, 10_000_000_000)
	// Enough for the deposits but not for the price.
	env.state.fund(buyer, mockCountersDeposit+token.AccountDepositLamports+1_000)
	env.state.setTokenBalance(mint, lister, 1)

	params := env.listParams(t, lister, mint, 1, 1_000_000_000, 0)
	env.mustList(t, lister, mint, 1, 1_000_000_000, 0)

	_, err := env.engine.Execute(ExecuteParams{
		Buyer:           buyer,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
		FeeAccount:      env.treasury,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestDelistReturnsAssetWithoutFeeRefund(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x15)
	mint := testMint(0xC6)
	env.state.registerMint(mint, token.StandardLegacy)

	const startBalance uint64 = 10_000_000_000
	env.state.fund(lister, startBalance)
	env.state.setTokenBalance(mint, lister, 7)

	params := env.listParams(t, lister, mint, 7, 100, 2)
	mintIndexAddr := env.mustList(t, lister, mint, 7, 100, 2)

	if _, err := env.engine.Delist(DelistParams{
		Caller:          lister,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
	}); err != nil {
		t.Fatalf("delist: %v", err)
	}

	if got := env.state.tokenBalance(mint, lister); got != 7 {
		t.Fatalf("lister holds %d units after delist, want 7", got)
	}
	if _, ok, _ := env.state.TokenAccountGet(mint, mintIndexAddr); ok {
		t.Fatalf("escrow account survived delist")
	}
	if _, ok, _ := env.state.ListingGet(params.MintIndexAddr); ok {
		t.Fatalf("mint index record survived delist")
	}
	if _, ok, _ := env.state.ListingGet(params.ListerIndexAddr); ok {
		t.Fatalf("lister index record survived delist")
	}

	// Deposits come back but the maker fee is forfeited.
	wantLister := startBalance - MakerFee - mockCountersDeposit
	if got := env.state.lamports(t, lister); got != wantLister {
		t.Fatalf("lister balance %d, want %d", got, wantLister)
	}
	if got := env.state.lamports(t, env.treasury); got != MakerFee {
		t.Fatalf("treasury balance %d, want %d", got, MakerFee)
	}

	counters := env.state.countersFor(t, lister)
	if counters.ListingCount != 0 {
		t.Fatalf("listing count %d after delist, want 0", counters.ListingCount)
	}

	evts := env.buffer.Events()
	if len(evts) != 2 || evts[1].EventType() != EventTypeDelisted {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestDelistRejectsNonLister(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x16)
	stranger := testAddr(0x26)
	mint := testMint(0xC7)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(lister, 10_000_000_000)
	env.state.setTokenBalance(mint, lister, 1)

	params := env.listParams(t, lister, mint, 1, 100, 0)
	env.mustList(t, lister, mint, 1, 100, 0)

	_, err := env.engine.Delist(DelistParams{
		Caller:          stranger,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
	})
	if !errors.Is(err, ErrNotLister) {
		t.Fatalf("expected ErrNotLister, got %v", err)
	}
	if _, ok, _ := env.state.ListingGet(params.MintIndexAddr); !ok {
		t.Fatalf("listing vanished after rejected delist")
	}
}

func TestDelistRejectsCounterUnderflow(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x1A)
	mint := testMint(0xCB)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(lister, 10_000_000_000)
	env.state.setTokenBalance(mint, lister, 1)

	params := env.listParams(t, lister, mint, 1, 100, 0)
	env.mustList(t, lister, mint, 1, 100, 0)

	// Zero the count behind the engine's back: the live listing no longer
	// has a matching increment.
	countersAddr, _, err := DeriveActivityCounters(lister)
	if err != nil {
		t.Fatalf("derive counters: %v", err)
	}
	env.state.counters[countersAddr].ListingCount = 0

	_, err = env.engine.Delist(DelistParams{
		Caller:          lister,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
	})
	if !errors.Is(err, ErrCounterUnderflow) {
		t.Fatalf("expected ErrCounterUnderflow, got %v", err)
	}
	if _, ok, _ := env.state.ListingGet(params.MintIndexAddr); !ok {
		t.Fatalf("listing closed despite rejected delist")
	}
}

func TestClosedListingCannotBeReused(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x17)
	buyer := testAddr(0x27)
	mint := testMint(0xC8)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(lister, 10_000_000_000)
	env.state.fund(buyer, 10_000_000_000)
	env.state.setTokenBalance(mint, lister, 1)

	params := env.listParams(t, lister, mint, 1, 100, 0)
	env.mustList(t, lister, mint, 1, 100, 0)

	if _, err := env.engine.Execute(ExecuteParams{
		Buyer:           buyer,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
		FeeAccount:      env.treasury,
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Executed listings are gone for both paths.
	if _, err := env.engine.Delist(DelistParams{
		Caller:          lister,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
	}); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("delist after execute: got %v", err)
	}
	if _, err := env.engine.Execute(ExecuteParams{
		Buyer:           buyer,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
		FeeAccount:      env.treasury,
	}); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("double execute: got %v", err)
	}

	// The freed indexes can back a brand-new listing.
	env.state.setTokenBalance(mint, lister, 1)
	env.mustList(t, lister, mint, 1, 200, 0)
}

func TestCrossListingIsolation(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x18)
	buyer := testAddr(0x28)
	mintA := testMint(0xC9)
	mintB := testMint(0xD9)
	env.state.registerMint(mintA, token.StandardLegacy)
	env.state.registerMint(mintB, token.StandardExtended)
	env.state.fund(lister, 20_000_000_000)
	env.state.fund(buyer, 20_000_000_000)
	env.state.setTokenBalance(mintA, lister, 1)
	env.state.setTokenBalance(mintB, lister, 4)

	paramsA := env.listParams(t, lister, mintA, 1, 100, 0)
	paramsB := env.listParams(t, lister, mintB, 4, 200, 1)
	env.mustList(t, lister, mintA, 1, 100, 0)
	mintIndexB := env.mustList(t, lister, mintB, 4, 200, 1)

	if _, err := env.engine.Execute(ExecuteParams{
		Buyer:           buyer,
		Mint:            mintA,
		ListerIndexAddr: paramsA.ListerIndexAddr,
		FeeAccount:      env.treasury,
	}); err != nil {
		t.Fatalf("execute A: %v", err)
	}

	// Listing B (an extended-standard mint) is untouched by A's lifecycle.
	if _, ok, _ := env.state.ListingGet(paramsB.MintIndexAddr); !ok {
		t.Fatalf("listing B mint index record gone")
	}
	if _, ok, _ := env.state.ListingGet(paramsB.ListerIndexAddr); !ok {
		t.Fatalf("listing B lister index record gone")
	}
	if got := env.state.tokenBalance(mintB, mintIndexB); got != 4 {
		t.Fatalf("listing B escrow holds %d, want 4", got)
	}
}

func TestExecuteRejectsTamperedBump(t *testing.T) {
	env := newMarketEnv(t)
	lister := testAddr(0x19)
	buyer := testAddr(0x29)
	mint := testMint(0xCA)
	env.state.registerMint(mint, token.StandardLegacy)
	env.state.fund(lister, 10_000_000_000)
	env.state.fund(buyer, 10_000_000_000)
	env.state.setTokenBalance(mint, lister, 1)

	params := env.listParams(t, lister, mint, 1, 100, 0)
	env.mustList(t, lister, mint, 1, 100, 0)

	stored := env.state.listings[params.MintIndexAddr]
	stored.Bump--
	env.state.listings[params.ListerIndexAddr].Bump--

	_, err := env.engine.Execute(ExecuteParams{
		Buyer:           buyer,
		Mint:            mint,
		ListerIndexAddr: params.ListerIndexAddr,
		FeeAccount:      env.treasury,
	})
	if !errors.Is(err, ErrAddressMismatch) {
		t.Fatalf("expected ErrAddressMismatch, got %v", err)
	}
}
