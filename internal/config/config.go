// Package config loads the YAML configuration, .env file and environment
// overrides shared by every command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"dex-gocopy/internal/copyplan"
	"dex-gocopy/internal/ethutil"
	"dex-gocopy/internal/logging"
	"dex-gocopy/internal/pricefeed"
)

type Config struct {
	Log     logging.Config   `yaml:"log"`
	Chains  []Chain          `yaml:"chains"`
	Tracker Tracker          `yaml:"tracker"`
	Planner Planner          `yaml:"planner"`
	Prices  pricefeed.Config `yaml:"prices"`
	Store   Store            `yaml:"store"`
	Watch   Watch            `yaml:"watch"`
}

type Chain struct {
	ID               uint64 `yaml:"id"`
	RPCURL           string `yaml:"rpc_url"`
	WSURL            string `yaml:"ws_url"`
	PoolSize         int    `yaml:"pool_size"`
	RouterHex        string `yaml:"router"`
	WrappedNativeHex string `yaml:"wrapped_native"`

	Router        common.Address `yaml:"-"`
	WrappedNative common.Address `yaml:"-"`
}

type Tracker struct {
	Confirmations  uint64        `yaml:"confirmations"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	MaxRetries     int           `yaml:"max_retries"`
	ReadRetries    int           `yaml:"read_retries"`
	ReadRetryDelay time.Duration `yaml:"read_retry_delay"`
}

type Planner struct {
	// MinRatioDelta of zero selects the planner default.
	MinRatioDelta decimal.Decimal `yaml:"min_ratio_delta"`
}

type Store struct {
	RoutesDB string `yaml:"routes_db"`
	// OutcomeCacheDir holds the confirmed-outcome cache; blank keeps it in
	// memory.
	OutcomeCacheDir string `yaml:"outcome_cache_dir"`
}

type Watch struct {
	ChainID          uint64        `yaml:"chain_id"`
	DonorsRaw        string        `yaml:"donors"`
	StartBlock       uint64        `yaml:"start_block"`
	CheckpointFile   string        `yaml:"checkpoint_file"`
	OutFile          string        `yaml:"out_file"`
	Interval         time.Duration `yaml:"interval"`
	MaxBlocksPerPoll uint64        `yaml:"max_blocks_per_poll"`

	Donors []common.Address `yaml:"-"`
}

// Default returns a configuration with every optional field filled in and
// no chains.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	for i := range c.Chains {
		if c.Chains[i].PoolSize <= 0 {
			c.Chains[i].PoolSize = 4
		}
	}
	t := &c.Tracker
	if t.Confirmations == 0 {
		t.Confirmations = 2
	}
	if t.PollInterval == 0 {
		t.PollInterval = 2 * time.Second
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = 90
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}
	if t.ReadRetries == 0 {
		t.ReadRetries = 2
	}
	if t.ReadRetryDelay == 0 {
		t.ReadRetryDelay = 250 * time.Millisecond
	}
	if c.Planner.MinRatioDelta.IsZero() {
		c.Planner.MinRatioDelta = copyplan.DefaultMinRatioDelta
	}
	if c.Prices.BaseURL == "" {
		c.Prices.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if c.Prices.Platform == "" {
		c.Prices.Platform = "ethereum"
	}
	if c.Prices.Timeout == 0 {
		c.Prices.Timeout = 15 * time.Second
	}
	if c.Store.RoutesDB == "" {
		c.Store.RoutesDB = "./out/routes.db"
	}
	w := &c.Watch
	if w.CheckpointFile == "" {
		w.CheckpointFile = "./out/watch.checkpoint.json"
	}
	if w.OutFile == "" {
		w.OutFile = "./out/swaps.jsonl"
	}
	if w.Interval == 0 {
		w.Interval = 4 * time.Second
	}
}

// Load reads .env (if present), the YAML file at path (if path is set),
// applies environment overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values. RPC_URL and WS_URL target the first chain;
// RPC_URL creates a mainnet entry when the file names none.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("RPC_URL")); v != "" {
		if len(c.Chains) == 0 {
			c.Chains = append(c.Chains, Chain{ID: 1})
		}
		c.Chains[0].RPCURL = v
	}
	if v := strings.TrimSpace(getenv("WS_URL")); v != "" && len(c.Chains) > 0 {
		c.Chains[0].WSURL = v
	}
	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(getenv("PRICE_API_KEY")); v != "" {
		c.Prices.APIKey = v
	}
	if v := strings.TrimSpace(getenv("DONOR_ADDRESSES")); v != "" {
		c.Watch.DonorsRaw = v
	}
}

// Validate checks the configuration and resolves address fields.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[uint64]struct{}, len(c.Chains))
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.ID == 0 {
			errs = append(errs, fmt.Errorf("chains[%d]: id is required", i))
		}
		if _, dup := seen[ch.ID]; dup {
			errs = append(errs, fmt.Errorf("chains[%d]: duplicate chain id %d", i, ch.ID))
		}
		seen[ch.ID] = struct{}{}
		if strings.TrimSpace(ch.RPCURL) == "" {
			errs = append(errs, fmt.Errorf("chains[%d]: rpc_url is required", i))
		}
		var err error
		if ch.Router, err = optionalAddress(ch.RouterHex); err != nil {
			errs = append(errs, fmt.Errorf("chains[%d].router: %w", i, err))
		}
		if ch.WrappedNative, err = optionalAddress(ch.WrappedNativeHex); err != nil {
			errs = append(errs, fmt.Errorf("chains[%d].wrapped_native: %w", i, err))
		}
	}

	if c.Tracker.PollInterval < 0 || c.Tracker.ReadRetryDelay < 0 {
		errs = append(errs, errors.New("tracker: intervals must be positive"))
	}
	if c.Tracker.MaxAttempts < 0 || c.Tracker.MaxRetries < 0 || c.Tracker.ReadRetries < 0 {
		errs = append(errs, errors.New("tracker: attempt budgets must not be negative"))
	}
	if c.Planner.MinRatioDelta.IsNegative() {
		errs = append(errs, errors.New("planner: min_ratio_delta must not be negative"))
	}
	if c.Watch.Interval < 0 {
		errs = append(errs, errors.New("watch: interval must be positive"))
	}

	donors, err := ethutil.ParseAddressList(c.Watch.DonorsRaw)
	if err != nil {
		errs = append(errs, fmt.Errorf("watch.donors: %w", err))
	}
	c.Watch.Donors = donors
	if c.Watch.ChainID != 0 {
		if _, ok := seen[c.Watch.ChainID]; !ok {
			errs = append(errs, fmt.Errorf("watch.chain_id %d is not configured", c.Watch.ChainID))
		}
	}
	return errors.Join(errs...)
}

func optionalAddress(s string) (common.Address, error) {
	if strings.TrimSpace(s) == "" {
		return common.Address{}, nil
	}
	return ethutil.ParseAddress(s)
}

// Chain returns the chain with the given id. An id of zero selects the only
// configured chain.
func (c *Config) Chain(id uint64) (Chain, error) {
	if id == 0 {
		if len(c.Chains) == 1 {
			return c.Chains[0], nil
		}
		return Chain{}, fmt.Errorf("%d chains configured; pick one by id", len(c.Chains))
	}
	for _, ch := range c.Chains {
		if ch.ID == id {
			return ch, nil
		}
	}
	return Chain{}, fmt.Errorf("chain %d is not configured", id)
}
