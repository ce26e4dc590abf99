package arena

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/vm"
)

func handleInitializeConfig(ctx *vm.Context, payload json.RawMessage) error {
	var p core.InitializeConfigPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if p.PriceFeedID == "" {
		return fmt.Errorf("%w: price feed is required", ErrInvalidConfig)
	}
	if _, err := crypto.PubKeyFromHex(p.RevenueWallet); err != nil {
		return fmt.Errorf("%w: revenue wallet: %v", ErrInvalidConfig, err)
	}
	if _, err := crypto.PubKeyFromHex(p.PricePublisher); err != nil {
		return fmt.Errorf("%w: price publisher: %v", ErrInvalidConfig, err)
	}

	a, b, err := buybackVaults()
	if err != nil {
		return err
	}
	cfg := &core.ArenaConfig{
		Authority:      ctx.Signer(),
		RevenueWallet:  p.RevenueWallet,
		PricePublisher: p.PricePublisher,
		PriceFeedID:    p.PriceFeedID,
		MinTicketUnits: p.MinTicketUnits,
		BuybackAVault:  a.addr,
		BuybackABump:   a.bump,
		BuybackBVault:  b.addr,
		BuybackBBump:   b.bump,
		CreatedAt:      ctx.Now(),
	}
	if err := ctx.State.CreateConfig(cfg); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return ErrAlreadyInitialized
		}
		return err
	}
	if err := ctx.State.SetStats(&core.Stats{}); err != nil {
		return err
	}

	ctx.Emit(events.EventConfigInitialized, map[string]any{
		"authority":       cfg.Authority,
		"revenue_wallet":  cfg.RevenueWallet,
		"price_publisher": cfg.PricePublisher,
		"price_feed_id":   cfg.PriceFeedID,
		"buyback_a":       cfg.BuybackAVault,
		"buyback_b":       cfg.BuybackBVault,
	})
	return nil
}

// handleRecordBurned folds off-ledger buyback results into Stats. It never
// fails on overflow.
func handleRecordBurned(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RecordBurnedPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	if err := e.requireAuthority(); err != nil {
		return err
	}

	st := e.stats
	st.BuybackABurnedAtoms, _ = statsPolicy.Add128(st.BuybackABurnedAtoms, p.BuybackAAtoms)
	st.BuybackBBurnedAtoms, _ = statsPolicy.Add128(st.BuybackBBurnedAtoms, p.BuybackBAtoms)
	st.BuybackASpent, _ = statsPolicy.Add64(st.BuybackASpent, p.BuybackASpent)
	st.BuybackBSpent, _ = statsPolicy.Add64(st.BuybackBSpent, p.BuybackBSpent)
	if err := ctx.State.SetStats(st); err != nil {
		return err
	}

	ctx.Emit(events.EventBurnReported, map[string]any{
		"buyback_a_atoms": p.BuybackAAtoms.String(),
		"buyback_b_atoms": p.BuybackBAtoms.String(),
		"buyback_a_spent": p.BuybackASpent,
		"buyback_b_spent": p.BuybackBSpent,
	})
	return nil
}
