package decoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// Event names as declared by the marketplace contract.
const (
	EventItemListed   = "NftMarketplace__ItemListed"
	EventItemCanceled = "NftMarketplace__ItemCanceled"
)

const marketplaceABIJSON = `[
  {
    "anonymous": false,
    "type": "event",
    "name": "NftMarketplace__ItemListed",
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "seller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "nftAddress", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {
        "indexed": false,
        "internalType": "struct NftMarketplace.Listing",
        "name": "listing",
        "type": "tuple",
        "components": [
          {"internalType": "uint256", "name": "price", "type": "uint256"},
          {"internalType": "address", "name": "erc20TokenAddress", "type": "address"},
          {"internalType": "string", "name": "erc20TokenName", "type": "string"}
        ]
      }
    ]
  },
  {
    "anonymous": false,
    "type": "event",
    "name": "NftMarketplace__ItemCanceled",
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "seller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "nftAddress", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"}
    ]
  }
]`

var marketplaceABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(marketplaceABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parse marketplace abi: %v", err))
	}
	marketplaceABI = parsed
}

// MarketplaceABI returns the parsed event ABI of the marketplace contract.
func MarketplaceABI() abi.ABI {
	return marketplaceABI
}

// eventNames maps a domain kind to its ABI event name.
var eventNames = map[domain.EventKind]string{
	domain.EventKindItemListed:   EventItemListed,
	domain.EventKindItemCanceled: EventItemCanceled,
}

// EventName returns the ABI event name of a kind.
func EventName(kind domain.EventKind) (string, bool) {
	name, ok := eventNames[kind]
	return name, ok
}

// ListingTuple mirrors the listing struct carried in ItemListed data.
type ListingTuple struct {
	Price             *big.Int
	Erc20TokenAddress common.Address
	Erc20TokenName    string
}

// itemListedData is the non-indexed part of ItemListed.
type itemListedData struct {
	Listing ListingTuple
}

// indexedTopics holds the three indexed arguments shared by both events.
type indexedTopics struct {
	Seller     common.Address
	NftAddress common.Address
	TokenId    *big.Int
}
