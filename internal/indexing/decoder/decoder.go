package decoder

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// indexedTopicCount is topic0 plus seller, nftAddress and tokenId.
const indexedTopicCount = 4

// Decoder turns raw marketplace logs into ChainEvents for one chain.
type Decoder struct {
	chainID domain.ChainID
	kinds   map[common.Hash]domain.EventKind
	events  map[domain.EventKind]abi.Event
	topics  []common.Hash
}

// New builds a decoder for the given event kinds.
func New(chainID domain.ChainID, kinds []domain.EventKind) (*Decoder, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no event kinds to decode")
	}

	d := &Decoder{
		chainID: chainID,
		kinds:   make(map[common.Hash]domain.EventKind, len(kinds)),
		events:  make(map[domain.EventKind]abi.Event, len(kinds)),
	}
	for _, kind := range kinds {
		name, ok := EventName(kind)
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", kind)
		}
		if _, dup := d.events[kind]; dup {
			continue
		}
		ev := marketplaceABI.Events[name]
		d.kinds[ev.ID] = kind
		d.events[kind] = ev
		d.topics = append(d.topics, ev.ID)
	}
	return d, nil
}

// Topics returns the topic0 values the decoder understands, for log filters.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, len(d.topics))
	copy(out, d.topics)
	return out
}

// Decode decodes lg. Malformed payloads yield a *domain.DecodeError.
func (d *Decoder) Decode(lg types.Log) (*domain.ChainEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, d.fail(lg, "log has no topics")
	}

	kind, ok := d.kinds[lg.Topics[0]]
	if !ok {
		return nil, d.fail(lg, "unknown event signature")
	}
	if len(lg.Topics) != indexedTopicCount {
		return nil, d.fail(lg, fmt.Sprintf("expected %d topics, got %d", indexedTopicCount, len(lg.Topics)))
	}

	ev := d.events[kind]

	var indexed indexedTopics
	if err := abi.ParseTopics(&indexed, indexedArgs(ev), lg.Topics[1:]); err != nil {
		return nil, d.fail(lg, "parse indexed topics: "+err.Error())
	}

	event := &domain.ChainEvent{
		ChainID:     d.chainID,
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash.Hex(),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		Contract:    lg.Address.Hex(),
		ObservedAt:  time.Now(),
	}

	switch kind {
	case domain.EventKindItemListed:
		var data itemListedData
		if err := marketplaceABI.UnpackIntoInterface(&data, ev.Name, lg.Data); err != nil {
			return nil, d.fail(lg, "unpack listing: "+err.Error())
		}
		if data.Listing.Price == nil {
			return nil, d.fail(lg, "listing price missing")
		}
		event.Payload = domain.ItemListed{
			Seller:     indexed.Seller.Hex(),
			NFTAddress: indexed.NftAddress.Hex(),
			TokenID:    indexed.TokenId,
			Listing: domain.Listing{
				Price:             data.Listing.Price,
				ERC20TokenAddress: data.Listing.Erc20TokenAddress.Hex(),
				ERC20TokenName:    data.Listing.Erc20TokenName,
			},
		}
	case domain.EventKindItemCanceled:
		if len(lg.Data) != 0 {
			return nil, d.fail(lg, fmt.Sprintf("unexpected %d bytes of data", len(lg.Data)))
		}
		event.Payload = domain.ItemCanceled{
			Seller:     indexed.Seller.Hex(),
			NFTAddress: indexed.NftAddress.Hex(),
			TokenID:    indexed.TokenId,
		}
	}

	return event, nil
}

func (d *Decoder) fail(lg types.Log, reason string) *domain.DecodeError {
	topic0 := ""
	if len(lg.Topics) > 0 {
		topic0 = lg.Topics[0].Hex()
	}
	return &domain.DecodeError{
		ChainID:     d.chainID,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		Topic0:      topic0,
		Reason:      reason,
	}
}

func indexedArgs(ev abi.Event) abi.Arguments {
	var out abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}
