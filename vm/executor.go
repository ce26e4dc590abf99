package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/metrics"
)

var (
	ErrInvalidNonce    = errors.New("invalid nonce")
	ErrInsufficientFee = errors.New("insufficient balance for fee")
	ErrWrongChain      = errors.New("wrong chain id")
)

// Context is passed to every Handler and provides access to the ledger state,
// the current block, the triggering transaction, and the event buffer.
type Context struct {
	State core.State
	Block *core.Block
	Tx    *core.Transaction

	events []events.Event
}

// Now returns the executing block's time in unix seconds. Handlers never read
// the wall clock.
func (c *Context) Now() int64 { return c.Block.Header.UnixSeconds() }

// Signer returns the transaction sender.
func (c *Context) Signer() string { return c.Tx.From }

// Emit queues an event. Queued events are dropped if the transaction fails
// and are only published once the block is stored.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.events = append(c.events, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	pending []events.Event
}

// NewExecutor creates an Executor with the given state and event emitter.
func NewExecutor(state core.State, emitter *events.Emitter) *Executor {
	return &Executor{state: state, emitter: emitter}
}

// ApplyBlock executes every transaction of block independently. Failed
// transactions are reverted and left out of the returned list; every
// transaction gets a receipt either way.
func (e *Executor) ApplyBlock(block *core.Block) ([]*core.Transaction, []*core.Receipt) {
	included := make([]*core.Transaction, 0, len(block.Transactions))
	receipts := make([]*core.Receipt, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		r := &core.Receipt{TxID: tx.ID, Type: tx.Type, BlockHeight: block.Header.Height, Status: core.ReceiptSuccess}
		if err := e.ExecuteTx(block, tx); err != nil {
			r.Status = core.ReceiptFailed
			r.Error = err.Error()
		} else {
			included = append(included, tx)
		}
		receipts = append(receipts, r)
	}
	return included, receipts
}

// ExecuteBlock re-applies a stored block. Stored blocks only hold
// transactions that succeeded, so any failure means state and chain have
// diverged.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(block, tx); err != nil {
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
	}
	return nil
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (err error) {
	defer func() { metrics.RecordTx(string(tx.Type), err) }()

	if tx.ChainID != block.Header.ChainID {
		return fmt.Errorf("%w: %q", ErrWrongChain, tx.ChainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{State: e.state, Block: block, Tx: tx}
	if err := e.applyTx(ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	e.pending = append(e.pending, ctx.events...)
	e.pending = append(e.pending, events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
	})
	return nil
}

// Publish emits the events queued by successful transactions. Call it after
// the block and state are durably stored.
func (e *Executor) Publish() {
	pending := e.pending
	e.pending = nil
	if e.emitter == nil {
		return
	}
	for _, ev := range pending {
		e.emitter.Emit(ev)
	}
}

// Discard drops queued events, e.g. when the block could not be stored.
func (e *Executor) Discard() { e.pending = nil }

// applyTx deducts the fee, increments the nonce, then dispatches to the handler.
func (e *Executor) applyTx(ctx *Context) error {
	tx := ctx.Tx
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("%w: expected %d got %d", ErrInvalidNonce, acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("%w: have %d need %d", ErrInsufficientFee, acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	if err := globalRegistry.Execute(tx.Type, ctx, tx.Payload); err != nil {
		return fmt.Errorf("%s: %w", tx.Type, err)
	}
	return nil
}
