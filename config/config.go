package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// ValidatorEntry is one member of the validator_set config field: a
// pubkey and its voting weight.
type ValidatorEntry struct {
	PubKey string `json:"pubkey"`
	Weight uint64 `json:"weight"`
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `json:"chain_id"`
	Alloc   map[string]uint64 `json:"alloc"` // pubkey hex → initial balance
}

// TimeoutConfig holds the per-phase timeout bases and shared growth
// factor, in milliseconds on the wire (spec §4.3: timeout(round) =
// base + delta*round).
type TimeoutConfig struct {
	ProposeBaseMS int64 `json:"propose_timeout_base_ms"`
	PrevoteBaseMS int64 `json:"prevote_timeout_base_ms"`
	CommitBaseMS  int64 `json:"commit_timeout_base_ms"`
	DeltaMS       int64 `json:"timeout_delta_ms"`
}

// ProposeBase returns the configured Propose-phase base as a Duration.
func (t TimeoutConfig) ProposeBase() time.Duration { return time.Duration(t.ProposeBaseMS) * time.Millisecond }

// PrevoteBase returns the configured Prevote-phase base as a Duration.
func (t TimeoutConfig) PrevoteBase() time.Duration { return time.Duration(t.PrevoteBaseMS) * time.Millisecond }

// CommitBase returns the configured Commit-phase base as a Duration.
func (t TimeoutConfig) CommitBase() time.Duration { return time.Duration(t.CommitBaseMS) * time.Millisecond }

// Delta returns the configured linear growth factor as a Duration.
func (t TimeoutConfig) Delta() time.Duration { return time.Duration(t.DeltaMS) * time.Millisecond }

// Config holds all node configuration.
type Config struct {
	NodeID           string           `json:"node_id"`
	DataDir          string           `json:"data_dir"`
	RPCPort          int              `json:"rpc_port"`
	P2PPort          int              `json:"p2p_port"`
	MaxTxsPerBlock   int              `json:"max_txs_per_block"`  // max transactions per block; 500 when omitted
	SnapshotInterval uint64           `json:"snapshot_interval"`  // blocks between state snapshots; 100 when omitted, store.New treats 0 as 1
	ValidatorSet     []ValidatorEntry `json:"validator_set"`      // ordered validator pubkeys + weights
	ProducerKeyFile  string           `json:"producer_key"`       // path to this node's encrypted keystore
	Timeouts         TimeoutConfig    `json:"timeouts"`
	Genesis          GenesisConfig    `json:"genesis"`
	SeedPeers        []SeedPeer       `json:"seed_peers,omitempty"`     // initial peers to connect to
	TLS              *TLSConfig       `json:"tls,omitempty"`            // nil → plain TCP
	RPCAuthToken     string           `json:"rpc_auth_token,omitempty"` // empty → no auth
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:           "node0",
		DataDir:          "./data",
		RPCPort:          8545,
		P2PPort:          30303,
		MaxTxsPerBlock:   500,
		SnapshotInterval: 100,
		Timeouts: TimeoutConfig{
			ProposeBaseMS: 2000,
			PrevoteBaseMS: 2000,
			CommitBaseMS:  2000,
			DeltaMS:       500,
		},
		Genesis: GenesisConfig{
			ChainID: "quorumchain-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if len(c.ValidatorSet) == 0 {
		return fmt.Errorf("validator_set must not be empty")
	}
	for i, v := range c.ValidatorSet {
		b, err := hex.DecodeString(v.PubKey)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("validator_set[%d]: pubkey must be 64-char hex (32 bytes ed25519), got %q", i, v.PubKey)
		}
		if v.Weight == 0 {
			return fmt.Errorf("validator_set[%d]: weight must be > 0", i)
		}
	}
	if c.ProducerKeyFile == "" {
		return fmt.Errorf("producer_key must not be empty")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
