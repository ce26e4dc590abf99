package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tolelom/tolarena/crypto"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID   string            `json:"chain_id"`
	Timestamp int64             `json:"timestamp"` // unix seconds stamped on block #0
	Alloc     map[string]uint64 `json:"alloc"`     // address hex → initial balance
}

// Config holds all node configuration.
type Config struct {
	NodeID          string        `json:"node_id"`
	DataDir         string        `json:"data_dir"`
	RPCAddr         string        `json:"rpc_addr"`
	RPCAuthToken    string        `json:"rpc_auth_token"`    // empty disables bearer auth
	RPCRateLimit    float64       `json:"rpc_rate_limit"`    // sendTx requests per second
	RPCBurst        int           `json:"rpc_burst"`         // sendTx burst size
	BlockIntervalMS int           `json:"block_interval_ms"` // time between produced blocks
	MaxBlockTxs     int           `json:"max_block_txs"`     // max transactions per block; 0 → 500
	Validators      []string      `json:"validators"`        // authorised proposer pubkey hexes
	ArchiveDSN      string        `json:"archive_dsn"`       // postgres; empty disables the archive
	Metrics         bool          `json:"metrics"`           // serve /metrics on the RPC listener
	Genesis         GenesisConfig `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:          "node0",
		DataDir:         "./data",
		RPCAddr:         ":8545",
		RPCRateLimit:    20,
		RPCBurst:        40,
		BlockIntervalMS: 2000,
		MaxBlockTxs:     500,
		Metrics:         true,
		Genesis: GenesisConfig{
			ChainID: "tolarena-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// Load reads a JSON config file from path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// BlockInterval returns the production interval as a duration.
func (c *Config) BlockInterval() time.Duration {
	return time.Duration(c.BlockIntervalMS) * time.Millisecond
}

// ApplyEnv overrides fields from TOL_* variables. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("TOL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := getenv("TOL_RPC_ADDR"); v != "" {
		c.RPCAddr = v
	}
	if v := getenv("TOL_RPC_AUTH_TOKEN"); v != "" {
		c.RPCAuthToken = v
	}
	if v := getenv("TOL_ARCHIVE_DSN"); v != "" {
		c.ArchiveDSN = v
	}
	if v := getenv("TOL_CHAIN_ID"); v != "" {
		c.Genesis.ChainID = v
	}
	if v := getenv("TOL_BLOCK_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TOL_BLOCK_INTERVAL_MS: %w", err)
		}
		c.BlockIntervalMS = ms
	}
	return nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Genesis.ChainID == "" {
		errs = append(errs, errors.New("genesis.chain_id is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.BlockIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("block_interval_ms must be > 0, got %d", c.BlockIntervalMS))
	}
	if c.MaxBlockTxs < 0 {
		errs = append(errs, fmt.Errorf("max_block_txs must be >= 0, got %d", c.MaxBlockTxs))
	}
	if c.RPCRateLimit < 0 || c.RPCBurst < 0 {
		errs = append(errs, errors.New("rpc rate limit and burst must be >= 0"))
	}
	if len(c.Validators) == 0 {
		errs = append(errs, errors.New("at least one validator is required"))
	}
	for _, v := range c.Validators {
		if _, err := crypto.PubKeyFromHex(v); err != nil {
			errs = append(errs, fmt.Errorf("validator %q: %w", v, err))
		}
	}
	for addr := range c.Genesis.Alloc {
		if b, err := hex.DecodeString(addr); err != nil || len(b) != 32 {
			errs = append(errs, fmt.Errorf("genesis alloc address %q is not 32-byte hex", addr))
		}
	}
	return errors.Join(errs...)
}
