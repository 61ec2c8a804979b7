package domain

import (
	"fmt"
	"math/big"
	"time"
)

// EventKind tags the ChainEvent variant.
type EventKind string

const (
	EventKindItemListed   EventKind = "ItemListed"
	EventKindItemCanceled EventKind = "ItemCanceled"
)

// AllEventKinds lists every kind the marketplace contract emits.
var AllEventKinds = []EventKind{EventKindItemListed, EventKindItemCanceled}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventKindItemListed, EventKindItemCanceled:
		return true
	}
	return false
}

// Payload is the kind-specific body of a ChainEvent.
type Payload interface {
	Kind() EventKind
}

// Identity uniquely identifies one on-chain log.
type Identity struct {
	ChainID  ChainID
	TxHash   string
	LogIndex uint
}

func (id Identity) String() string {
	return fmt.Sprintf("%s:%s:%d", id.ChainID, id.TxHash, id.LogIndex)
}

// ChainEvent is a decoded marketplace event together with its on-chain origin.
// Events are immutable once stored.
type ChainEvent struct {
	ChainID     ChainID
	BlockNumber uint64
	BlockHash   string
	TxHash      string
	LogIndex    uint
	Contract    string
	Payload     Payload
	ObservedAt  time.Time
}

// Kind returns the variant tag of the event payload.
func (e *ChainEvent) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Identity returns the natural key of the event.
func (e *ChainEvent) Identity() Identity {
	return Identity{ChainID: e.ChainID, TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// Before orders events by (BlockNumber, LogIndex).
func (e *ChainEvent) Before(other *ChainEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	if e.LogIndex != other.LogIndex {
		return e.LogIndex < other.LogIndex
	}
	if e.ChainID != other.ChainID {
		return e.ChainID < other.ChainID
	}
	return e.TxHash < other.TxHash
}

// Listing is the sale terms attached to an ItemListed event.
type Listing struct {
	Price             *big.Int
	ERC20TokenAddress string
	ERC20TokenName    string
}

// ItemListed is emitted when a seller lists an NFT.
type ItemListed struct {
	Seller     string
	NFTAddress string
	TokenID    *big.Int
	Listing    Listing
}

func (ItemListed) Kind() EventKind { return EventKindItemListed }

// ItemCanceled is emitted when a seller withdraws a listing.
type ItemCanceled struct {
	Seller     string
	NFTAddress string
	TokenID    *big.Int
}

func (ItemCanceled) Kind() EventKind { return EventKindItemCanceled }

// AppendResult reports the outcome of an idempotent append.
type AppendResult int

const (
	AppendInserted AppendResult = iota
	AppendAlreadyExists
)

func (r AppendResult) String() string {
	switch r {
	case AppendInserted:
		return "inserted"
	case AppendAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}
