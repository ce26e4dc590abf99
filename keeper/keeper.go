// Package keeper drives the daily arena lifecycle from outside the ledger:
// it finalizes rounds whose day has ended, records the off-ledger ranking as
// allocations and keeps the oracle feed fresh.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/metrics"
	"github.com/tolelom/tolarena/payout"
	"github.com/tolelom/tolarena/vm/modules/arena"
)

// Keeper settles finished rounds as the arena authority.
type Keeper struct {
	client   *Client
	sub      *Submitter
	selector WinnerSelector
	log      *slog.Logger
}

// New returns a Keeper that signs through sub, which must hold the authority key.
func New(client *Client, sub *Submitter, selector WinnerSelector, log *slog.Logger) *Keeper {
	return &Keeper{client: client, sub: sub, selector: selector, log: log}
}

// RunOnce settles every known round older than the chain's current day,
// oldest first, so days missed while the keeper was down are caught up.
// One day failing does not stop the others. Running it again after success
// is a no-op.
func (k *Keeper) RunOnce(ctx context.Context) (err error) {
	defer func() { metrics.RecordKeeperRun(err) }()

	ct, err := k.client.ChainTime(ctx)
	if err != nil {
		return err
	}
	days, err := k.client.ListRounds(ctx)
	if err != nil {
		return err
	}

	// yesterday is always checked, even before the index has caught up
	pending := []int64{ct.DayID - 1}
	for _, d := range days {
		if d < ct.DayID-1 {
			pending = append(pending, d)
		}
	}
	slices.Sort(pending)
	pending = slices.Compact(pending)

	var errs []error
	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := k.Settle(ctx, d); err != nil {
			k.log.Error("settle failed", "day_id", d, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Settle finalizes dayID's round if still open, then records every ranked
// allocation not yet on the ledger.
func (k *Keeper) Settle(ctx context.Context, dayID int64) error {
	log := k.log.With("day_id", dayID)

	round, err := k.client.Round(ctx, dayID)
	if IsNotFound(err) {
		log.Info("no round to settle")
		return nil
	}
	if err != nil {
		return err
	}

	if round.Status == core.RoundOpen {
		done, err := k.finalize(ctx, dayID)
		if err != nil || !done {
			return err
		}
		if round, err = k.client.Round(ctx, dayID); err != nil {
			return err
		}
		log.Info("round finalized", "prize_pool", round.PrizePool, "winners", round.Winners)
	}
	return k.allocate(ctx, round)
}

// finalize reports false when the round cannot be finalized and there is
// nothing further to do for it.
func (k *Keeper) finalize(ctx context.Context, dayID int64) (bool, error) {
	_, err := k.sub.Submit(ctx, func(n uint64) (*core.Transaction, error) {
		return k.sub.Wallet().FinalizeMatch(dayID, n)
	})
	switch {
	case err == nil, rejectedWith(err, arena.ErrMatchAlreadyFinalized):
		return true, nil
	case rejectedWith(err, arena.ErrEmptyPot), rejectedWith(err, arena.ErrRoundNotFound):
		k.log.Warn("round not finalizable", "day_id", dayID, "error", err)
		return false, nil
	default:
		return false, fmt.Errorf("finalize day %d: %w", dayID, err)
	}
}

func (k *Keeper) allocate(ctx context.Context, round *core.Round) error {
	log := k.log.With("day_id", round.DayID)
	if round.AllocationsRecorded >= round.Winners {
		log.Debug("allocations complete", "recorded", round.AllocationsRecorded)
		return nil
	}

	winners, err := k.selector.Winners(ctx, round)
	if errors.Is(err, ErrNoResults) {
		log.Info("ranking not available yet")
		return nil
	}
	if err != nil {
		return err
	}

	plan, err := payout.NewPlan(round.PrizePool, payout.Sizing{Winners: round.Winners, Group2: round.Group2, Group3: round.Group3})
	if err != nil {
		return err
	}

	var recorded int
	for _, w := range winners {
		amount, err := plan.RankAmount(w.Rank)
		if err != nil {
			return err
		}
		if amount == 0 {
			log.Debug("rank pays nothing", "rank", w.Rank)
			continue
		}

		_, err = k.client.Allocation(ctx, round.DayID, w.Address)
		if err == nil {
			continue
		}
		if !IsNotFound(err) {
			return err
		}

		_, err = k.sub.Submit(ctx, func(n uint64) (*core.Transaction, error) {
			return k.sub.Wallet().RecordAllocation(round.DayID, w.Rank, w.Address, n)
		})
		if rejectedWith(err, arena.ErrAllocationExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("allocate rank %d: %w", w.Rank, err)
		}
		recorded++
		log.Info("allocation recorded", "rank", w.Rank, "winner", w.Address, "amount", amount)
	}
	if recorded > 0 {
		log.Info("allocations recorded", "count", recorded)
	}
	return nil
}

// rejectedWith matches a ledger rejection by its error text; receipts carry
// only the message.
func rejectedWith(err, target error) bool {
	var failed *TxFailedError
	return errors.As(err, &failed) && strings.Contains(failed.Reason, target.Error())
}
