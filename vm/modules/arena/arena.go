// Package arena implements the daily prize round: configuration, ticket
// intake, finalization with the bucket split, rank allocation and claims.
//
// Every handler builds an env from the executing transaction and passes it
// down explicitly; the package keeps no mutable state of its own.
package arena

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/metrics"
	"github.com/tolelom/tolarena/vm"
)

func init() {
	vm.Register(core.TxInitializeConfig, observed(core.TxInitializeConfig, handleInitializeConfig))
	vm.Register(core.TxJoin, observed(core.TxJoin, handleJoin))
	vm.Register(core.TxFinalizeMatch, observed(core.TxFinalizeMatch, handleFinalizeMatch))
	vm.Register(core.TxRecordAllocation, observed(core.TxRecordAllocation, handleRecordAllocation))
	vm.Register(core.TxClaim, observed(core.TxClaim, handleClaim))
	vm.Register(core.TxRecordBurned, observed(core.TxRecordBurned, handleRecordBurned))
}

// observed counts failures of op by Kind.
func observed(op core.TxType, h vm.Handler) vm.Handler {
	return func(ctx *vm.Context, payload json.RawMessage) error {
		err := h(ctx, payload)
		if err != nil {
			metrics.ArenaErrorsTotal.WithLabelValues(string(op), Classify(err).String()).Inc()
		}
		return err
	}
}

// env is the per-transaction view handlers operate on.
type env struct {
	*vm.Context
	cfg    *core.ArenaConfig
	stats  *core.Stats
	now    int64
	signer string
}

func loadEnv(ctx *vm.Context) (*env, error) {
	cfg, err := ctx.State.GetConfig()
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	stats, err := ctx.State.GetStats()
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return &env{Context: ctx, cfg: cfg, stats: stats, now: ctx.Now(), signer: ctx.Signer()}, nil
}

func (e *env) requireAuthority() error {
	if e.signer != e.cfg.Authority {
		return ErrUnauthorized
	}
	return nil
}

func (e *env) loadRound(dayID int64) (*core.Round, error) {
	r, err := e.State.GetRound(dayID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: day %d", ErrRoundNotFound, dayID)
	}
	if err != nil {
		return nil, err
	}
	if r.DayID != dayID {
		return nil, fmt.Errorf("%w: want %d got %d", ErrWrongMatchForDay, dayID, r.DayID)
	}
	return r, nil
}

func decode(payload json.RawMessage, v any) error {
	if err := vm.DecodePayload(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
