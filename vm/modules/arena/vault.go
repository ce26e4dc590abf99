package arena

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/vm/modules/economy"
)

// programOwner scopes every derived address of this module.
var programOwner = crypto.HashBytes([]byte("arena"))

const (
	seedConfig   = "config"
	seedBuybackA = "buyback_a"
	seedBuybackB = "buyback_b"
	seedMatch    = "match"
	seedVault    = "vault"
)

// vault is the capability to move funds out of a derived address. It holds
// the seeds and bump and re-derives the address before every debit.
type vault struct {
	addr  string
	bump  uint8
	seeds [][]byte
}

func findVault(seeds ...[]byte) (vault, error) {
	addr, bump, err := crypto.FindDerivedAddress(programOwner, seeds...)
	if err != nil {
		return vault{}, err
	}
	return vault{addr: addr, bump: bump, seeds: seeds}, nil
}

func openVault(addr string, bump uint8, seeds ...[]byte) vault {
	return vault{addr: addr, bump: bump, seeds: seeds}
}

// pay moves amount to dst. A zero amount is a no-op.
func (v vault) pay(state core.State, dst string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	addr, err := crypto.CreateDerivedAddress(programOwner, v.bump, v.seeds...)
	if err != nil {
		return fmt.Errorf("derive vault: %w", err)
	}
	if addr != v.addr {
		return fmt.Errorf("%w: %s", ErrVaultMismatch, crypto.ShortID(v.addr))
	}
	if err := economy.Move(state, v.addr, dst, amount); err != nil {
		return fmt.Errorf("vault %s: %w", crypto.ShortID(v.addr), err)
	}
	return nil
}

func dayBytes(dayID int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(dayID))
	return b
}

func addrBytes(addr string) []byte {
	b, err := hex.DecodeString(addr)
	if err != nil {
		return []byte(addr)
	}
	return b
}

// ConfigAddress is the derived identity of the configuration record.
func ConfigAddress() (string, error) {
	addr, _, err := crypto.FindDerivedAddress(programOwner, []byte(seedConfig))
	return addr, err
}

func buybackVaults() (a, b vault, err error) {
	cfgAddr, err := ConfigAddress()
	if err != nil {
		return vault{}, vault{}, err
	}
	key := addrBytes(cfgAddr)
	if a, err = findVault([]byte(seedBuybackA), key); err != nil {
		return vault{}, vault{}, err
	}
	if b, err = findVault([]byte(seedBuybackB), key); err != nil {
		return vault{}, vault{}, err
	}
	return a, b, nil
}

// RoundAddress is the derived identity of the round record for dayID.
func RoundAddress(dayID int64) (string, error) {
	addr, _, err := crypto.FindDerivedAddress(programOwner, []byte(seedMatch), dayBytes(dayID))
	return addr, err
}

func roundVaultSeeds(dayID int64) ([][]byte, error) {
	roundAddr, err := RoundAddress(dayID)
	if err != nil {
		return nil, err
	}
	return [][]byte{[]byte(seedVault), addrBytes(roundAddr)}, nil
}

func findRoundVault(dayID int64) (vault, error) {
	seeds, err := roundVaultSeeds(dayID)
	if err != nil {
		return vault{}, err
	}
	return findVault(seeds...)
}

func roundVault(r *core.Round) (vault, error) {
	seeds, err := roundVaultSeeds(r.DayID)
	if err != nil {
		return vault{}, err
	}
	return openVault(r.Vault, r.VaultBump, seeds...), nil
}

// Vaults lists the derived addresses clients need, mirroring what the
// handlers derive.
type Vaults struct {
	Config     string `json:"config"`
	BuybackA   string `json:"buyback_a"`
	BuybackB   string `json:"buyback_b"`
	Round      string `json:"round,omitempty"`
	RoundVault string `json:"round_vault,omitempty"`
}

// DeriveVaults returns the config-scoped vaults and, when withRound is set,
// the round record and vault addresses for dayID.
func DeriveVaults(dayID int64, withRound bool) (Vaults, error) {
	var out Vaults
	var err error
	if out.Config, err = ConfigAddress(); err != nil {
		return Vaults{}, err
	}
	a, b, err := buybackVaults()
	if err != nil {
		return Vaults{}, err
	}
	out.BuybackA, out.BuybackB = a.addr, b.addr
	if withRound {
		if out.Round, err = RoundAddress(dayID); err != nil {
			return Vaults{}, err
		}
		rv, err := findRoundVault(dayID)
		if err != nil {
			return Vaults{}, err
		}
		out.RoundVault = rv.addr
	}
	return out, nil
}
