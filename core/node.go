package core

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"shopchain/core/events"
	"shopchain/core/state"
	"shopchain/native/marketplace"
	"shopchain/native/token"
	"shopchain/observability/metrics"
	"shopchain/storage"
)

var errNilDatabase = errors.New("node: database not configured")

// Node is the central controller. Every marketplace operation runs against a
// write overlay and commits only on success, so a failed operation leaves the
// database exactly as it was — there is no partial-application window.
type Node struct {
	db          storage.Database
	feeTreasury [20]byte
	logger      *slog.Logger
	emitter     events.Emitter
	nowFn       func() int64

	stateMu sync.Mutex
}

// NewNode creates a node over the given database. The fee treasury is the
// protocol fee account every operation settles fees against.
func NewNode(db storage.Database, feeTreasury [20]byte, logger *slog.Logger) (*Node, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		db:          db,
		feeTreasury: feeTreasury,
		logger:      logger,
		emitter:     events.NoopEmitter{},
	}, nil
}

// FeeTreasury returns the configured protocol fee account.
func (n *Node) FeeTreasury() [20]byte { return n.feeTreasury }

// SetEmitter configures the emitter that receives events after a successful
// commit. Passing nil resets it to a no-op implementation.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		n.emitter = events.NoopEmitter{}
		return
	}
	n.emitter = emitter
}

// SetNowFunc overrides the time source threaded into the engine. Primarily
// intended for tests.
func (n *Node) SetNowFunc(now func() int64) { n.nowFn = now }

func (n *Node) newEngine(mgr *state.Manager, buf *events.Buffer) *marketplace.Engine {
	engine := marketplace.NewEngine()
	engine.SetState(mgr)
	engine.SetCustody(marketplace.NewCustody(token.NewRegistry(mgr)))
	engine.SetFeeTreasury(n.feeTreasury)
	engine.SetEmitter(buf)
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}
	return engine
}

// withCommit runs fn against an overlay-backed engine and commits the staged
// writes only when fn succeeds. Buffered events are published after commit and
// dropped on abort.
func (n *Node) withCommit(op string, fn func(engine *marketplace.Engine) ([20]byte, error)) ([20]byte, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	overlay := storage.NewOverlay(n.db)
	buf := &events.Buffer{}
	engine := n.newEngine(state.NewManager(overlay), buf)

	id, err := fn(engine)
	if err != nil {
		metrics.Marketplace().RecordFailure(op)
		n.logger.Warn("marketplace operation rejected", slog.String("op", op), slog.Any("error", err))
		return [20]byte{}, err
	}
	if err := overlay.Commit(); err != nil {
		return [20]byte{}, err
	}
	for _, evt := range buf.Events() {
		n.emitter.Emit(evt)
	}
	n.logger.Info("marketplace operation committed", slog.String("op", op))
	return id, nil
}

// MarketplaceList creates a listing and returns its identifier (the
// mint-index address).
func (n *Node) MarketplaceList(p marketplace.ListParams) ([20]byte, error) {
	id, err := n.withCommit("list", func(engine *marketplace.Engine) ([20]byte, error) {
		return engine.List(p)
	})
	if err != nil {
		return [20]byte{}, err
	}
	metrics.Marketplace().RecordList()
	return id, nil
}

// MarketplaceExecute completes a purchase of the listing named by the mint.
func (n *Node) MarketplaceExecute(p marketplace.ExecuteParams) ([20]byte, error) {
	var price uint64
	id, err := n.withCommit("execute", func(engine *marketplace.Engine) ([20]byte, error) {
		listing, _, ok, lookupErr := state.NewManager(n.db).ListingByMint(p.Mint)
		if lookupErr == nil && ok {
			price = listing.PriceInLamports
		}
		return engine.Execute(p)
	})
	if err != nil {
		return [20]byte{}, err
	}
	metrics.Marketplace().RecordExecute(price, marketplace.TakerFee-marketplace.MakerFee)
	return id, nil
}

// MarketplaceDelist cancels the listing named by the mint.
func (n *Node) MarketplaceDelist(p marketplace.DelistParams) ([20]byte, error) {
	id, err := n.withCommit("delist", func(engine *marketplace.Engine) ([20]byte, error) {
		return engine.Delist(p)
	})
	if err != nil {
		return [20]byte{}, err
	}
	metrics.Marketplace().RecordDelist()
	return id, nil
}

// --- Read-only queries ---

// MarketplaceGetListing resolves a live listing by mint.
func (n *Node) MarketplaceGetListing(mint [32]byte) (*marketplace.ListingIndex, [20]byte, bool, error) {
	return state.NewManager(n.db).ListingByMint(mint)
}

// MarketplaceGetCounters resolves an actor's activity counters.
func (n *Node) MarketplaceGetCounters(actor [20]byte) (*marketplace.ActivityCounters, bool, error) {
	return state.NewManager(n.db).CountersByActor(actor)
}

// TokenBalance reports the units of mint held by owner.
func (n *Node) TokenBalance(mint [32]byte, owner [20]byte) (uint64, error) {
	mgr := state.NewManager(n.db)
	svc, _, err := token.NewRegistry(mgr).ServiceFor(mint)
	if err != nil {
		return 0, err
	}
	return svc.Balance(mint, owner)
}

// LamportBalance reports the lamport balance of an account.
func (n *Node) LamportBalance(addr [20]byte) (*big.Int, error) {
	account, err := state.NewManager(n.db).GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.BalanceLamports, nil
}

// --- Genesis / dev seeding ---

// RegisterMint records a mint descriptor. Idempotent for identical
// definitions.
func (n *Node) RegisterMint(def *token.Mint) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.db).MintPut(def)
}

// FundAccount credits lamports to an account. Genesis use only.
func (n *Node) FundAccount(addr [20]byte, lamports *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	mgr := state.NewManager(n.db)
	account, err := mgr.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.BalanceLamports = new(big.Int).Add(account.BalanceLamports, lamports)
	return mgr.PutAccount(addr[:], account)
}

// MintTo credits token units directly to an owner, creating the account with
// no deposit on the books. Genesis use only.
func (n *Node) MintTo(mint [32]byte, owner [20]byte, amount uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	mgr := state.NewManager(n.db)
	if _, ok, err := mgr.MintGet(mint); err != nil {
		return err
	} else if !ok {
		return token.ErrMintNotFound
	}
	account, ok, err := mgr.TokenAccountGet(mint, owner)
	if err != nil {
		return err
	}
	if !ok {
		account = &token.Account{Mint: mint, Owner: owner}
	}
	account.Balance += amount
	return mgr.TokenAccountPut(account)
}
