package marketplace

import (
	"encoding/hex"
	"strconv"

	"shopchain/core/types"
)

const (
	EventTypeListed   = "marketplace.listed"
	EventTypeExecuted = "marketplace.executed"
	EventTypeDelisted = "marketplace.delisted"
)

// NewListedEvent returns the canonical event payload for a new listing. The id
// attribute is the mint-index record's address.
func NewListedEvent(id [20]byte, l *ListingIndex) *types.Event {
	return newListingEvent(EventTypeListed, id, l)
}

// NewExecutedEvent returns the canonical event payload for a completed
// purchase.
func NewExecutedEvent(id [20]byte, l *ListingIndex, buyer [20]byte) *types.Event {
	evt := newListingEvent(EventTypeExecuted, id, l)
	evt.Attributes["buyer"] = hex.EncodeToString(buyer[:])
	return evt
}

// NewDelistedEvent returns the canonical event payload for a cancelled
// listing.
func NewDelistedEvent(id [20]byte, l *ListingIndex) *types.Event {
	return newListingEvent(EventTypeDelisted, id, l)
}

func newListingEvent(eventType string, id [20]byte, l *ListingIndex) *types.Event {
	attrs := make(map[string]string)
	attrs["id"] = hex.EncodeToString(id[:])
	if l != nil {
		attrs["mint"] = hex.EncodeToString(l.Mint[:])
		attrs["lister"] = hex.EncodeToString(l.Lister[:])
		attrs["priceInLamports"] = strconv.FormatUint(l.PriceInLamports, 10)
		attrs["amount"] = strconv.FormatUint(l.AmountToSell, 10)
		attrs["listerIndex"] = strconv.FormatUint(uint64(l.ListerIndex), 10)
		attrs["creationTime"] = strconv.FormatInt(l.CreationTime, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
