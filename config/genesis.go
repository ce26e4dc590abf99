package config

import (
	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock credits the Alloc balances, commits them and returns the
// signed block #0.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	for addr, balance := range cfg.Genesis.Alloc {
		if err := state.SetAccount(&core.Account{Address: addr, Balance: balance}); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	ts := cfg.Genesis.Timestamp * 1_000_000_000
	block := core.NewBlock(cfg.Genesis.ChainID, 0, GenesisHash, proposerPriv.Public().Hex(), ts, nil)
	block.Header.StateRoot = stateRoot
	block.Sign(proposerPriv)
	return block, nil
}
