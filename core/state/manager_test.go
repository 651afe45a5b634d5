package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"shopchain/core/types"
	"shopchain/native/marketplace"
	"shopchain/native/token"
	"shopchain/storage"
)

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

func fund(t *testing.T, mgr *Manager, addr [20]byte, lamports uint64) {
	t.Helper()
	require.NoError(t, mgr.PutAccount(addr[:], &types.Account{
		BalanceLamports: new(big.Int).SetUint64(lamports),
	}))
}

func balance(t *testing.T, mgr *Manager, addr [20]byte) uint64 {
	t.Helper()
	account, err := mgr.GetAccount(addr[:])
	require.NoError(t, err)
	require.True(t, account.BalanceLamports.IsUint64())
	return account.BalanceLamports.Uint64()
}

func TestAccountRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	addr := testAddr(0x01)

	// Absent accounts read as zero.
	account, err := mgr.GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, uint64(0), account.BalanceLamports.Uint64())

	account.Nonce = 7
	account.BalanceLamports = big.NewInt(123_456)
	require.NoError(t, mgr.PutAccount(addr[:], account))

	loaded, err := mgr.GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, uint64(7), loaded.Nonce)
	require.Equal(t, int64(123_456), loaded.BalanceLamports.Int64())

	loaded.BalanceLamports = big.NewInt(-1)
	require.Error(t, mgr.PutAccount(addr[:], loaded))
}

func TestListingLifecycleAndDeposit(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	payer := testAddr(0x01)
	refundTo := testAddr(0x02)
	recordAddr := testAddr(0xA0)

	deposit := RecordDeposit(marketplace.ListingIndexSize)
	fund(t, mgr, payer, deposit)

	listing := &marketplace.ListingIndex{
		Mint:            testMint(0x11),
		Lister:          payer,
		PriceInLamports: 500,
		AmountToSell:    3,
		CreationTime:    1_700_000_000,
		ListerIndex:     2,
		Bump:            254,
	}
	require.NoError(t, mgr.ListingCreate(recordAddr, listing, payer))
	require.Equal(t, uint64(0), balance(t, mgr, payer))

	loaded, ok, err := mgr.ListingGet(recordAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, listing, loaded)

	// Creating over an existing record fails and charges nothing.
	fund(t, mgr, payer, deposit)
	require.ErrorIs(t, mgr.ListingCreate(recordAddr, listing, payer), ErrRecordExists)
	require.Equal(t, deposit, balance(t, mgr, payer))

	require.NoError(t, mgr.ListingClose(recordAddr, refundTo))
	_, ok, err = mgr.ListingGet(recordAddr)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, deposit, balance(t, mgr, refundTo))

	require.ErrorIs(t, mgr.ListingClose(recordAddr, refundTo), ErrRecordNotFound)
}

func TestListingCreateRequiresDeposit(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	payer := testAddr(0x01)
	fund(t, mgr, payer, RecordDeposit(marketplace.ListingIndexSize)-1)

	listing := &marketplace.ListingIndex{Mint: testMint(0x11), Lister: payer, AmountToSell: 1}
	err := mgr.ListingCreate(testAddr(0xA0), listing, payer)
	require.ErrorIs(t, err, ErrInsufficientDeposit)

	_, ok, err := mgr.ListingGet(testAddr(0xA0))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCountersLifecycle(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	actor := testAddr(0x01)
	recordAddr := testAddr(0xB0)

	require.ErrorIs(t, mgr.CountersPut(recordAddr, &marketplace.ActivityCounters{Actor: actor}), ErrRecordNotFound)

	deposit := RecordDeposit(marketplace.ActivityCountersSize)
	fund(t, mgr, actor, deposit)
	require.NoError(t, mgr.CountersCreate(recordAddr, &marketplace.ActivityCounters{Actor: actor}, actor))
	require.Equal(t, uint64(0), balance(t, mgr, actor))

	counters, ok, err := mgr.CountersGet(recordAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, actor, counters.Actor)
	require.Equal(t, uint64(0), counters.ListingCount)

	counters.ListingCount = 3
	counters.TotalAmountSold = 900
	require.NoError(t, mgr.CountersPut(recordAddr, counters))

	loaded, ok, err := mgr.CountersGet(recordAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), loaded.ListingCount)
	require.Equal(t, uint64(900), loaded.TotalAmountSold)
}

func TestMintAndTokenAccountRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	id := testMint(0x21)
	owner := testAddr(0x01)

	_, ok, err := mgr.MintGet(id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.MintPut(&token.Mint{ID: id, Decimals: 9, Standard: token.StandardExtended}))
	def, ok, err := mgr.MintGet(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint8(9), def.Decimals)
	require.Equal(t, token.StandardExtended, def.Standard)

	require.NoError(t, mgr.TokenAccountPut(&token.Account{
		Mint: id, Owner: owner, Balance: 42, DepositLamports: token.AccountDepositLamports,
	}))
	account, ok, err := mgr.TokenAccountGet(id, owner)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), account.Balance)
	require.Equal(t, token.AccountDepositLamports, account.DepositLamports)

	require.NoError(t, mgr.TokenAccountRemove(id, owner))
	_, ok, err = mgr.TokenAccountGet(id, owner)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDerivedLookups(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	mint := testMint(0x31)
	lister := testAddr(0x01)

	_, _, ok, err := mgr.ListingByMint(mint)
	require.NoError(t, err)
	require.False(t, ok)

	mintIndexAddr, bump, err := marketplace.DeriveMintIndex(mint)
	require.NoError(t, err)
	fund(t, mgr, lister, RecordDeposit(marketplace.ListingIndexSize))
	listing := &marketplace.ListingIndex{Mint: mint, Lister: lister, AmountToSell: 1, Bump: bump}
	require.NoError(t, mgr.ListingCreate(mintIndexAddr, listing, lister))

	loaded, addr, ok, err := mgr.ListingByMint(mint)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, mintIndexAddr, addr)
	require.Equal(t, mint, loaded.Mint)

	countersAddr, _, err := marketplace.DeriveActivityCounters(lister)
	require.NoError(t, err)
	fund(t, mgr, lister, RecordDeposit(marketplace.ActivityCountersSize))
	require.NoError(t, mgr.CountersCreate(countersAddr, &marketplace.ActivityCounters{Actor: lister}, lister))

	counters, ok, err := mgr.CountersByActor(lister)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lister, counters.Actor)
}
