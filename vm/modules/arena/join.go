package arena

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/pricing"
	"github.com/tolelom/tolarena/vm"
	"github.com/tolelom/tolarena/vm/modules/economy"
)

func handleJoin(ctx *vm.Context, payload json.RawMessage) error {
	var p core.JoinPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	return join(e, p.Amount)
}

func join(e *env, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	minimum, err := e.minimumTicket()
	if err != nil {
		return err
	}
	if amount < minimum {
		return fmt.Errorf("%w: paid %d, minimum %d", ErrTicketTooCheap, amount, minimum)
	}

	day := core.DayID(e.now)
	round, err := e.openRound(day)
	if err != nil {
		return err
	}

	entry := &core.Entry{DayID: day, Player: e.signer, Paid: amount, JoinedAt: e.now}
	if err := e.State.CreateEntry(entry); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return fmt.Errorf("%w: day %d", ErrEntryExists, day)
		}
		return err
	}
	if err := economy.Move(e.State, e.signer, round.Vault, amount); err != nil {
		return err
	}

	if round.TicketCount, err = ticketCountPolicy.Add32(round.TicketCount, 1); err != nil {
		return fmt.Errorf("ticket count: %w", err)
	}
	if round.PotUnits, err = potPolicy.Add64(round.PotUnits, amount); err != nil {
		return fmt.Errorf("pot: %w", err)
	}
	if err := e.State.SetRound(round); err != nil {
		return err
	}

	e.Emit(events.EventTicketBought, map[string]any{
		"day_id":       day,
		"player":       e.signer,
		"amount":       amount,
		"ticket_count": round.TicketCount,
		"pot":          round.PotUnits,
	})
	return nil
}

// minimumTicket reads the configured feed and returns the required payment.
func (e *env) minimumTicket() (uint64, error) {
	return minimumFor(e.State, e.cfg, e.now)
}

// MinimumTicket returns what a join would have to pay at unix time now.
func MinimumTicket(state core.State, now int64) (uint64, error) {
	cfg, err := state.GetConfig()
	if errors.Is(err, core.ErrNotFound) {
		return 0, ErrNotInitialized
	}
	if err != nil {
		return 0, err
	}
	return minimumFor(state, cfg, now)
}

func minimumFor(state core.State, cfg *core.ArenaConfig, now int64) (uint64, error) {
	feed, err := state.GetPriceFeed(cfg.PriceFeedID)
	if errors.Is(err, core.ErrNotFound) {
		return 0, fmt.Errorf("%w: feed %q missing", pricing.ErrPriceFeed, cfg.PriceFeedID)
	}
	if err != nil {
		return 0, err
	}
	if feed.Publisher != cfg.PricePublisher {
		return 0, fmt.Errorf("%w: feed %q published by %s, not the configured publisher", pricing.ErrPriceFeed, cfg.PriceFeedID, feed.Publisher)
	}
	q := pricing.Quote{Price: feed.Price, Conf: feed.Conf, Expo: feed.Expo, PublishTime: feed.PublishTime}
	return pricing.MinimumTicket(q, now, cfg.MinTicketUnits)
}

// openRound returns the round for day, creating it on first use.
func (e *env) openRound(day int64) (*core.Round, error) {
	round, err := e.State.GetRound(day)
	if errors.Is(err, core.ErrNotFound) {
		v, err := findRoundVault(day)
		if err != nil {
			return nil, err
		}
		round = &core.Round{
			DayID:     day,
			Status:    core.RoundOpen,
			Vault:     v.addr,
			VaultBump: v.bump,
			CreatedAt: e.now,
		}
		if err := e.State.CreateRound(round); err != nil {
			return nil, err
		}
		e.Emit(events.EventRoundOpened, map[string]any{"day_id": day, "vault": v.addr})
		return round, nil
	}
	if err != nil {
		return nil, err
	}
	if round.DayID != day {
		return nil, fmt.Errorf("%w: want %d got %d", ErrWrongMatchForDay, day, round.DayID)
	}
	if round.Status != core.RoundOpen {
		return nil, fmt.Errorf("%w: day %d", ErrMatchClosed, day)
	}
	return round, nil
}
