package domain

import (
	"strconv"
	"time"
)

// ChainID is the EIP-155 chain identifier.
type ChainID uint64

type ChainName string

const (
	// Chain IDs
	ChainIDEthereum ChainID = 1
	ChainIDSepolia  ChainID = 11155111
	ChainIDPolygon  ChainID = 137
	ChainIDHardhat  ChainID = 31337

	// Chain Names (Internal Codes)
	ChainNameEthereum ChainName = "ETHEREUM_MAINNET"
	ChainNameSepolia  ChainName = "ETHEREUM_SEPOLIA"
	ChainNamePolygon  ChainName = "POLYGON_MAINNET"
	ChainNameHardhat  ChainName = "HARDHAT_LOCAL"
)

// ChainIDToName maps ChainID to its human-readable InternalCode/Name.
var ChainIDToName = map[ChainID]ChainName{
	ChainIDEthereum: ChainNameEthereum,
	ChainIDSepolia:  ChainNameSepolia,
	ChainIDPolygon:  ChainNamePolygon,
	ChainIDHardhat:  ChainNameHardhat,
}

// chainBlockTimes holds the nominal block interval of known chains.
var chainBlockTimes = map[ChainID]time.Duration{
	ChainIDEthereum: 12 * time.Second,
	ChainIDSepolia:  12 * time.Second,
	ChainIDPolygon:  2 * time.Second,
	ChainIDHardhat:  time.Second,
}

// DefaultBlockTime is assumed for chains without a known block interval.
const DefaultBlockTime = 2 * time.Second

// BlockTime returns the nominal block interval of the chain.
func (id ChainID) BlockTime() time.Duration {
	if d, ok := chainBlockTimes[id]; ok {
		return d
	}
	return DefaultBlockTime
}

// String returns the decimal form used in logs and metric labels.
func (id ChainID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Name returns the known internal code for the chain, or the decimal ID.
func (id ChainID) Name() string {
	if name, ok := ChainIDToName[id]; ok {
		return string(name)
	}
	return id.String()
}

// ParseChainID parses a decimal chain ID.
func ParseChainID(s string) (ChainID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ChainID(v), nil
}
