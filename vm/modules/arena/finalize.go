package arena

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/fixedpoint"
	"github.com/tolelom/tolarena/payout"
	"github.com/tolelom/tolarena/vm"
)

func handleFinalizeMatch(ctx *vm.Context, payload json.RawMessage) error {
	var p core.FinalizeMatchPayload
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
	return finalize(e, p.DayID)
}

func finalize(e *env, dayID int64) error {
	if today := core.DayID(e.now); dayID >= today {
		return fmt.Errorf("%w: day %d ends after today %d begins", ErrTooEarlyToFinalize, dayID, today)
	}
	round, err := e.loadRound(dayID)
	if err != nil {
		return err
	}
	if round.Status != core.RoundOpen {
		return fmt.Errorf("%w: day %d", ErrMatchAlreadyFinalized, dayID)
	}
	if round.PotUnits == 0 {
		return ErrEmptyPot
	}

	buckets, err := payout.SplitPot(round.PotUnits)
	if err != nil {
		return err
	}
	v, err := roundVault(round)
	if err != nil {
		return err
	}
	transfers := []struct {
		dst    string
		amount uint64
	}{
		{e.cfg.RevenueWallet, buckets.Revenue},
		{e.cfg.BuybackAVault, buckets.BuybackA},
		{e.cfg.BuybackBVault, buckets.BuybackB},
	}
	for _, t := range transfers {
		if err := v.pay(e.State, t.dst, t.amount); err != nil {
			return err
		}
	}

	sizing, err := payout.SizeGroups(round.TicketCount)
	if err != nil {
		return err
	}
	plan, err := payout.NewPlan(buckets.PrizePool, sizing)
	if err != nil {
		return err
	}

	round.Status = core.RoundFinalized
	round.Winners = sizing.Winners
	round.Group2 = sizing.Group2
	round.Group3 = sizing.Group3
	round.PrizePool = buckets.PrizePool
	round.Remainder = plan.Remainder
	round.Revenue = buckets.Revenue
	round.BuybackA = buckets.BuybackA
	round.BuybackB = buckets.BuybackB
	round.FinalizedAt = e.now
	if err := e.State.SetRound(round); err != nil {
		return err
	}

	st := e.stats
	st.TotalRounds, _ = statsPolicy.Add64(st.TotalRounds, 1)
	st.TotalParticipants, _ = statsPolicy.Add64(st.TotalParticipants, uint64(round.TicketCount))
	st.TotalPrizeDistributed, _ = statsPolicy.Add128(st.TotalPrizeDistributed, fixedpoint.From64(buckets.PrizePool))
	st.TotalBuybackAEarmarked, _ = statsPolicy.Add128(st.TotalBuybackAEarmarked, fixedpoint.From64(buckets.BuybackA))
	st.TotalBuybackBEarmarked, _ = statsPolicy.Add128(st.TotalBuybackBEarmarked, fixedpoint.From64(buckets.BuybackB))
	st.TotalRevenueEarmarked, _ = statsPolicy.Add128(st.TotalRevenueEarmarked, fixedpoint.From64(buckets.Revenue))
	if err := e.State.SetStats(st); err != nil {
		return err
	}

	e.Emit(events.EventRoundFinalized, map[string]any{
		"day_id":       dayID,
		"ticket_count": round.TicketCount,
		"pot":          round.PotUnits,
		"prize_pool":   round.PrizePool,
		"revenue":      buckets.Revenue,
		"buyback_a":    buckets.BuybackA,
		"buyback_b":    buckets.BuybackB,
		"winners":      sizing.Winners,
		"group2":       sizing.Group2,
		"group3":       sizing.Group3,
		"remainder":    plan.Remainder,
		"finalized_at": e.now,
	})
	return nil
}

// planFor rebuilds the prize plan of a finalized round from its stored sizing
// and remainder.
func planFor(r *core.Round) (payout.Plan, error) {
	plan, err := payout.NewPlan(r.PrizePool, payout.Sizing{Winners: r.Winners, Group2: r.Group2, Group3: r.Group3})
	if err != nil {
		return payout.Plan{}, err
	}
	plan.Remainder = r.Remainder
	return plan, nil
}
