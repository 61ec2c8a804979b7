package config

import (
	"time"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	redisclient "github.com/vietddude/marketmonitor/internal/infra/redis"
	"github.com/vietddude/marketmonitor/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Chains   []ChainConfig      `yaml:"chains"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 disables the gRPC health service
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChainConfig holds settings for a specific blockchain.
type ChainConfig struct {
	ChainID       domain.ChainID   `yaml:"id"`
	Name          string           `yaml:"name"`
	Providers     []ProviderConfig `yaml:"providers"` // HTTP RPC, tried in order
	WSURL         string           `yaml:"ws_url"`    // live subscriptions
	ChunkSize     uint64           `yaml:"chunk_size"`
	MaxAttempts   int              `yaml:"max_attempts"`
	SweepInterval time.Duration    `yaml:"sweep_interval"`
	BlockTime     time.Duration    `yaml:"block_time"`    // nominal block interval, used for health thresholds
	RescanRanges  bool             `yaml:"rescan_ranges"` // Enable rescan worker
	Contracts     []ContractConfig `yaml:"contracts"`
}

// ProviderConfig holds settings for an RPC provider.
type ProviderConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ContractConfig names one marketplace deployment to monitor.
type ContractConfig struct {
	Address    string             `yaml:"address"`
	StartBlock uint64             `yaml:"start_block"` // deployment block, used when no checkpoint exists
	Events     []domain.EventKind `yaml:"events"`
}

// DisplayName returns the configured name or the known chain name.
func (c ChainConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ChainID.Name()
}
