// Package decodertest builds ABI-encoded marketplace logs for tests.
package decodertest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketmonitor/internal/indexing/decoder"
)

// Origin positions a log on chain.
type Origin struct {
	Contract    common.Address
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// ItemListedLog encodes an NftMarketplace__ItemListed log.
func ItemListedLog(
	o Origin,
	seller, nft common.Address,
	tokenID, price *big.Int,
	erc20 common.Address,
	erc20Name string,
) types.Log {
	ev := decoder.MarketplaceABI().Events[decoder.EventItemListed]
	data, err := ev.Inputs.NonIndexed().Pack(decoder.ListingTuple{
		Price:             price,
		Erc20TokenAddress: erc20,
		Erc20TokenName:    erc20Name,
	})
	if err != nil {
		panic(err)
	}
	return build(o, ev.ID, seller, nft, tokenID, data)
}

// ItemCanceledLog encodes an NftMarketplace__ItemCanceled log.
func ItemCanceledLog(o Origin, seller, nft common.Address, tokenID *big.Int) types.Log {
	ev := decoder.MarketplaceABI().Events[decoder.EventItemCanceled]
	return build(o, ev.ID, seller, nft, tokenID, nil)
}

// MalformedLog carries the ItemListed signature with a truncated payload.
func MalformedLog(o Origin) types.Log {
	lg := ItemListedLog(o, common.Address{}, common.Address{}, big.NewInt(1), big.NewInt(1), common.Address{}, "X")
	lg.Data = lg.Data[:16]
	return lg
}

func build(o Origin, topic0 common.Hash, seller, nft common.Address, tokenID *big.Int, data []byte) types.Log {
	blockHash := common.BigToHash(new(big.Int).SetUint64(o.BlockNumber))
	return types.Log{
		Address: o.Contract,
		Topics: []common.Hash{
			topic0,
			common.BytesToHash(seller.Bytes()),
			common.BytesToHash(nft.Bytes()),
			common.BigToHash(tokenID),
		},
		Data:        data,
		BlockNumber: o.BlockNumber,
		BlockHash:   blockHash,
		TxHash:      o.TxHash,
		Index:       o.LogIndex,
	}
}
