package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"shopchain/core/state"
	"shopchain/crypto"
	"shopchain/native/marketplace"
	"shopchain/native/token"
)

const (
	codeMarketInvalidParams = -32031
	codeMarketNotFound      = -32032
	codeMarketForbidden     = -32033
	codeMarketConflict      = -32034
	codeMarketInternal      = -32035
)

type marketListParams struct {
	Lister             string `json:"lister"`
	Mint               string `json:"mint"`
	AmountToSell       uint64 `json:"amountToSell"`
	PriceInLamports    uint64 `json:"priceInLamports"`
	ListerIndex        uint8  `json:"listerIndex"`
	MintIndex          string `json:"mintIndex"`
	ListerIndexAddress string `json:"listerIndexAddress"`
	ProtocolFeeAccount string `json:"protocolFeeAccount"`
}

type marketExecuteParams struct {
	Buyer              string `json:"buyer"`
	Mint               string `json:"mint"`
	ListerIndexAddress string `json:"listerIndexAddress"`
	ProtocolFeeAccount string `json:"protocolFeeAccount"`
}

type marketDelistParams struct {
	Caller             string `json:"caller"`
	Mint               string `json:"mint"`
	ListerIndexAddress string `json:"listerIndexAddress"`
}

type marketMintParams struct {
	Mint string `json:"mint"`
}

type marketActorParams struct {
	Actor string `json:"actor"`
}

type marketIDResult struct {
	ID string `json:"id"`
}

type listingJSON struct {
	ID              string `json:"id"`
	Mint            string `json:"mint"`
	Lister          string `json:"lister"`
	PriceInLamports uint64 `json:"priceInLamports"`
	AmountToSell    uint64 `json:"amountToSell"`
	CreationTime    int64  `json:"creationTime"`
	ListerIndex     uint8  `json:"listerIndex"`
}

type countersJSON struct {
	Actor             string `json:"actor"`
	ListingCount      uint64 `json:"listingCount"`
	SoldCount         uint64 `json:"soldCount"`
	PurchaseCount     uint64 `json:"purchaseCount"`
	TotalAmountSold   uint64 `json:"totalAmountSold"`
	TotalAmountBought uint64 `json:"totalAmountBought"`
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseHexAddress(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return addr, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes, got %d", len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseHexMint(value string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return id, fmt.Errorf("invalid mint hex: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("mint must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func formatAddress(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, marketplace.ErrListingNotFound),
		errors.Is(err, token.ErrMintNotFound):
		writeError(w, http.StatusNotFound, id, codeMarketNotFound, "not_found", err.Error())
	case errors.Is(err, marketplace.ErrNotLister),
		errors.Is(err, marketplace.ErrAddressMismatch),
		errors.Is(err, marketplace.ErrFeeAccountMismatch),
		errors.Is(err, marketplace.ErrMintMismatch),
		errors.Is(err, token.ErrUnauthorized),
		errors.Is(err, crypto.ErrInvalidProof):
		writeError(w, http.StatusForbidden, id, codeMarketForbidden, "forbidden", err.Error())
	case errors.Is(err, marketplace.ErrListingExists),
		errors.Is(err, marketplace.ErrListerIndexTaken),
		errors.Is(err, marketplace.ErrEscrowImbalance),
		errors.Is(err, marketplace.ErrInvalidAmount),
		errors.Is(err, marketplace.ErrInsufficientFunds),
		errors.Is(err, marketplace.ErrCountersMissing),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientDeposit),
		errors.Is(err, state.ErrInsufficientDeposit):
		writeError(w, http.StatusConflict, id, codeMarketConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeMarketInternal, "internal_error", err.Error())
	}
}

func (s *Server) handleMarketList(w http.ResponseWriter, req *RPCRequest) {
	var params marketListParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	lister, err := parseHexAddress(params.Lister)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseHexMint(params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	mintIndexAddr, err := parseHexAddress(params.MintIndex)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listerIndexAddr, err := parseHexAddress(params.ListerIndexAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	feeAccount, err := parseHexAddress(params.ProtocolFeeAccount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.AmountToSell == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", "amountToSell must be > 0")
		return
	}
	id, err := s.node.MarketplaceList(marketplace.ListParams{
		Lister:          lister,
		Mint:            mint,
		AmountToSell:    params.AmountToSell,
		PriceInLamports: params.PriceInLamports,
		ListerIndex:     params.ListerIndex,
		MintIndexAddr:   mintIndexAddr,
		ListerIndexAddr: listerIndexAddr,
		FeeAccount:      feeAccount,
	})
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marketIDResult{ID: formatAddress(id)})
}

func (s *Server) handleMarketExecute(w http.ResponseWriter, req *RPCRequest) {
	var params marketExecuteParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseHexAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseHexMint(params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listerIndexAddr, err := parseHexAddress(params.ListerIndexAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	feeAccount, err := parseHexAddress(params.ProtocolFeeAccount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.node.MarketplaceExecute(marketplace.ExecuteParams{
		Buyer:           buyer,
		Mint:            mint,
		ListerIndexAddr: listerIndexAddr,
		FeeAccount:      feeAccount,
	})
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marketIDResult{ID: formatAddress(id)})
}

func (s *Server) handleMarketDelist(w http.ResponseWriter, req *RPCRequest) {
	var params marketDelistParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseHexMint(params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listerIndexAddr, err := parseHexAddress(params.ListerIndexAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.node.MarketplaceDelist(marketplace.DelistParams{
		Caller:          caller,
		Mint:            mint,
		ListerIndexAddr: listerIndexAddr,
	})
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marketIDResult{ID: formatAddress(id)})
}

func (s *Server) handleMarketGetListing(w http.ResponseWriter, req *RPCRequest) {
	var params marketMintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseHexMint(params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, addr, ok, err := s.node.MarketplaceGetListing(mint)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMarketNotFound, "not_found", "no live listing for mint")
		return
	}
	writeResult(w, req.ID, listingJSON{
		ID:              formatAddress(addr),
		Mint:            hex.EncodeToString(listing.Mint[:]),
		Lister:          formatAddress(listing.Lister),
		PriceInLamports: listing.PriceInLamports,
		AmountToSell:    listing.AmountToSell,
		CreationTime:    listing.CreationTime,
		ListerIndex:     listing.ListerIndex,
	})
}

func (s *Server) handleMarketGetCounters(w http.ResponseWriter, req *RPCRequest) {
	var params marketActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	actor, err := parseHexAddress(params.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	counters, ok, err := s.node.MarketplaceGetCounters(actor)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMarketNotFound, "not_found", "no activity recorded for actor")
		return
	}
	writeResult(w, req.ID, countersJSON{
		Actor:             formatAddress(counters.Actor),
		ListingCount:      counters.ListingCount,
		SoldCount:         counters.SoldCount,
		PurchaseCount:     counters.PurchaseCount,
		TotalAmountSold:   counters.TotalAmountSold,
		TotalAmountBought: counters.TotalAmountBought,
	})
}
