package config

import (
	"encoding/hex"
	"fmt"

	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/crypto"
)

// InitGenesisState credits every account in cfg.Genesis.Alloc into state
// and commits it, the one-time setup a fresh chain needs before height 1
// can be proposed. It returns a hex-encoded genesis hash (SHA-256 over
// the chain id and the resulting state root) for ChainMeta identity —
// this chain has no genesis block of its own, since consensus starts
// directly at height 1 per spec §4.3's round-based model.
func InitGenesisState(cfg *Config, state core.State) (string, error) {
	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		pub, err := crypto.PubKeyFromHex(pubkeyHex)
		if err != nil {
			return "", fmt.Errorf("genesis alloc entry %q: %w", pubkeyHex, err)
		}
		state.SetAccount(core.Account{Address: pub.Array(), Balance: balance})
	}

	root := state.ComputeRoot()
	state.Commit()

	h := crypto.HashBytes32(append([]byte(cfg.Genesis.ChainID), root[:]...))
	return hex.EncodeToString(h[:]), nil
}

// BuildValidatorSet builds the core.ValidatorSet described by
// cfg.ValidatorSet.
func (c *Config) BuildValidatorSet() (*core.ValidatorSet, error) {
	weights := make(map[core.ValidatorId]uint64, len(c.ValidatorSet))
	for _, v := range c.ValidatorSet {
		pub, err := crypto.PubKeyFromHex(v.PubKey)
		if err != nil {
			return nil, fmt.Errorf("validator_set entry %q: %w", v.PubKey, err)
		}
		weights[pub.Array()] = v.Weight
	}
	return core.NewValidatorSet(weights), nil
}
