package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

const (
	DefaultPort          = 8080
	DefaultGRPCPort      = 9090
	DefaultChunkSize     = 500
	DefaultMaxAttempts   = 5
	DefaultSweepInterval = 30 * time.Second
	DefaultLeaseTTL      = 30 * time.Second
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expanding ${ENV} references, applies defaults and
// validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Redis.LeaseTTL == 0 {
		cfg.Redis.LeaseTTL = DefaultLeaseTTL
	}

	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		if c.ChunkSize == 0 {
			c.ChunkSize = DefaultChunkSize
		}
		if c.MaxAttempts == 0 {
			c.MaxAttempts = DefaultMaxAttempts
		}
		if c.SweepInterval == 0 {
			c.SweepInterval = DefaultSweepInterval
		}
		if c.BlockTime == 0 {
			c.BlockTime = c.ChainID.BlockTime()
		}
		for j := range c.Providers {
			if c.Providers[j].Name == "" {
				c.Providers[j].Name = fmt.Sprintf("provider-%d", j)
			}
		}
		for j := range c.Contracts {
			if len(c.Contracts[j].Events) == 0 {
				c.Contracts[j].Events = append([]domain.EventKind(nil), domain.AllEventKinds...)
			}
		}
	}
}

// Validate reports every configuration problem at once.
func (cfg *AppConfig) Validate() error {
	var errs []error

	if len(cfg.Chains) == 0 {
		errs = append(errs, errors.New("at least one chain must be configured"))
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}

	seenChains := make(map[domain.ChainID]bool)
	seenStreams := make(map[domain.StreamKey]bool)

	for i, c := range cfg.Chains {
		prefix := fmt.Sprintf("chains[%d]", i)
		if c.ChainID == 0 {
			errs = append(errs, fmt.Errorf("%s: id is required", prefix))
		}
		if seenChains[c.ChainID] {
			errs = append(errs, fmt.Errorf("%s: duplicate chain id %s", prefix, c.ChainID))
		}
		seenChains[c.ChainID] = true

		if len(c.Providers) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one provider is required", prefix))
		}
		for j, p := range c.Providers {
			if p.URL == "" {
				errs = append(errs, fmt.Errorf("%s.providers[%d]: url is required", prefix, j))
			}
		}
		if c.WSURL == "" {
			errs = append(errs, fmt.Errorf("%s: ws_url is required for live subscriptions", prefix))
		}
		if c.BlockTime < 0 {
			errs = append(errs, fmt.Errorf("%s: block_time must be positive", prefix))
		}
		if c.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("%s: max_attempts must be positive", prefix))
		}
		if len(c.Contracts) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one contract is required", prefix))
		}

		for j, ct := range c.Contracts {
			cprefix := fmt.Sprintf("%s.contracts[%d]", prefix, j)
			if !common.IsHexAddress(ct.Address) {
				errs = append(errs, fmt.Errorf("%s: %q is not a valid address", cprefix, ct.Address))
				continue
			}
			key := domain.NewStreamKey(c.ChainID, ct.Address)
			if seenStreams[key] {
				errs = append(errs, fmt.Errorf("%s: duplicate contract %s", cprefix, ct.Address))
			}
			seenStreams[key] = true

			for _, k := range ct.Events {
				if !k.Valid() {
					errs = append(errs, fmt.Errorf("%s: unknown event %q", cprefix, k))
				}
			}
		}
	}

	return errors.Join(errs...)
}
