package arena

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/fixedpoint"
	"github.com/tolelom/tolarena/vm"
)

func handleRecordAllocation(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RecordAllocationPayload
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
	return recordAllocation(e, p.DayID, p.Rank, p.Winner)
}

func recordAllocation(e *env, dayID int64, rank uint32, winner string) error {
	if _, err := crypto.PubKeyFromHex(winner); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWinner, err)
	}
	round, err := e.loadRound(dayID)
	if err != nil {
		return err
	}
	if round.Status != core.RoundFinalized {
		return fmt.Errorf("%w: day %d", ErrMatchNotFinalized, dayID)
	}
	plan, err := planFor(round)
	if err != nil {
		return err
	}
	amount, err := plan.RankAmount(rank)
	if err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: rank %d", ErrZeroAllocation, rank)
	}

	allocated, err := allocatedUnitsPolicy.Add64(round.AllocatedUnits, amount)
	if err != nil {
		return err
	}
	if allocated > round.PrizePool {
		return fmt.Errorf("%w: %d of %d allocated, rank %d needs %d",
			ErrAllocationExceedsPrize, round.AllocatedUnits, round.PrizePool, rank, amount)
	}

	alloc := &core.Allocation{DayID: dayID, Winner: winner, Rank: rank, Amount: amount}
	if err := e.State.CreateAllocation(alloc); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return fmt.Errorf("%w: day %d", ErrAllocationExists, dayID)
		}
		return err
	}

	round.AllocatedUnits = allocated
	round.AllocationsRecorded, _ = allocationsRecordedPolicy.Add32(round.AllocationsRecorded, 1)
	if err := e.State.SetRound(round); err != nil {
		return err
	}

	e.Emit(events.EventAllocationRecord, map[string]any{
		"day_id": dayID,
		"winner": winner,
		"rank":   rank,
		"amount": amount,
	})
	return nil
}

func handleClaim(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ClaimPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	return claim(e, p.DayID)
}

func claim(e *env, dayID int64) error {
	alloc, err := e.State.GetAllocation(dayID, e.signer)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: day %d", ErrAllocationNotFound, dayID)
	}
	if err != nil {
		return err
	}
	if alloc.Claimed {
		return ErrAlreadyClaimed
	}
	if alloc.Amount == 0 {
		return ErrZeroAllocation
	}
	if alloc.Winner != e.signer {
		return ErrInvalidAllocationOwner
	}

	round, err := e.loadRound(dayID)
	if err != nil {
		return err
	}
	v, err := roundVault(round)
	if err != nil {
		return err
	}
	if err := v.pay(e.State, e.signer, alloc.Amount); err != nil {
		return err
	}

	alloc.Claimed = true
	alloc.ClaimedAt = e.now
	if err := e.State.SetAllocation(alloc); err != nil {
		return err
	}

	e.Emit(events.EventPrizeClaimed, map[string]any{
		"day_id":     dayID,
		"winner":     e.signer,
		"rank":       alloc.Rank,
		"amount":     alloc.Amount,
		"claimed_at": e.now,
	})
	return nil
}

// Unallocated returns how much of a finalized round's prize pool has not been
// assigned to a rank yet.
func Unallocated(r *core.Round) uint64 {
	return fixedpoint.SaturatingSub64(r.PrizePool, r.AllocatedUnits)
}
