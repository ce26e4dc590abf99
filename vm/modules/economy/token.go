// Package economy implements native-unit transfers between accounts.
package economy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/fixedpoint"
	"github.com/tolelom/tolarena/vm"
)

var (
	ErrInvalidAmount       = errors.New("transfer amount must be > 0")
	ErrMissingRecipient    = errors.New("transfer to address required")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := vm.DecodePayload(payload, &p); err != nil {
		return err
	}
	if p.Amount == 0 {
		return ErrInvalidAmount
	}
	if p.To == "" {
		return ErrMissingRecipient
	}
	if err := Move(ctx.State, ctx.Signer(), p.To, p.Amount); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Signer(),
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}

// Move debits from and credits to. Moving to self is a no-op after the
// balance check.
func Move(state core.State, from, to string, amount uint64) error {
	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sender.Balance, amount)
	}
	if from == to {
		return nil
	}
	sender.Balance -= amount
	if err := state.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.Balance, err = fixedpoint.Add64(recipient.Balance, amount); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return state.SetAccount(recipient)
}
