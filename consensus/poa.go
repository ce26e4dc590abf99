// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/tolelom/tolarena/config"
	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/metrics"
	"github.com/tolelom/tolarena/vm"
)

var (
	ErrNotProposer = errors.New("not the proposer for this round")
	// ErrStateCommit means the block is stored but its state could not be
	// flushed. The node must stop.
	ErrStateCommit = errors.New("state commit failed after block was stored")
	// ErrStateMismatch means the stored state cannot be brought to the tip's
	// state root.
	ErrStateMismatch = errors.New("state does not match chain tip")
)

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	clock   clockwork.Clock
	log     *slog.Logger
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	clock clockwork.Clock,
	log *slog.Logger,
) *PoA {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		clock:   clock,
		log:     log.With("component", "consensus"),
	}
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	idx := int((p.bc.Height() + 1) % int64(len(p.cfg.Validators)))
	return p.cfg.Validators[idx] == p.pubKey.Hex()
}

// ProduceBlock executes pending transactions and commits the next block.
// Transactions that fail are left out of the block, get a failed receipt and
// are dropped from the mempool.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, ErrNotProposer
	}

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	pending := p.mempool.Pending(limit)

	prevHash, height, ts := config.GenesisHash, int64(1), p.clock.Now().UnixNano()
	if tip := p.bc.Tip(); tip != nil {
		prevHash = tip.Hash
		height = tip.Header.Height + 1
		// Block time never runs backwards, even if the local clock does.
		if ts < tip.Header.Timestamp {
			ts = tip.Header.Timestamp
		}
	}

	block := core.NewBlock(p.cfg.Genesis.ChainID, height, prevHash, p.pubKey.Hex(), ts, pending)
	included, receipts := p.exec.ApplyBlock(block)
	block.Transactions = included
	block.Header.TxRoot = core.ComputeTxRoot(included)

	// Compute root from the write buffer before flushing so that a failed
	// AddBlock leaves nothing persisted.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block, receipts); err != nil {
		p.state.Discard()
		p.exec.Discard()
		return nil, fmt.Errorf("add block: %w", err)
	}
	if err := p.state.Commit(); err != nil {
		p.exec.Discard()
		return nil, fmt.Errorf("%w: block %d: %v", ErrStateCommit, height, err)
	}

	ids := make([]string, len(pending))
	for i, tx := range pending {
		ids[i] = tx.ID
	}
	p.mempool.Remove(ids)

	p.exec.Publish()
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(included), "failed": len(pending) - len(included)},
	})
	metrics.BlocksProducedTotal.Inc()

	if len(pending) > 0 {
		p.log.Info("block produced", "height", height, "txs", len(included), "failed", len(pending)-len(included))
	}
	return block, nil
}

// Reconcile brings state up to the tip after a restart. A block is stored
// before its state is flushed, so a crash in between leaves state one block
// behind; the tip is then replayed and committed.
func (p *PoA) Reconcile() error {
	tip := p.bc.Tip()
	if tip == nil || p.state.ComputeRoot() == tip.Header.StateRoot {
		return nil
	}
	if tip.Header.Height == 0 {
		return fmt.Errorf("%w: genesis state root differs", ErrStateMismatch)
	}

	if err := p.exec.ExecuteBlock(tip); err != nil {
		p.state.Discard()
		p.exec.Discard()
		return fmt.Errorf("%w: replay block %d: %v", ErrStateMismatch, tip.Header.Height, err)
	}
	if root := p.state.ComputeRoot(); root != tip.Header.StateRoot {
		p.state.Discard()
		p.exec.Discard()
		return fmt.Errorf("%w: block %d replays to root %s, want %s", ErrStateMismatch, tip.Header.Height, root, tip.Header.StateRoot)
	}
	if err := p.state.Commit(); err != nil {
		p.exec.Discard()
		return fmt.Errorf("%w: block %d: %v", ErrStateCommit, tip.Header.Height, err)
	}
	p.exec.Publish()
	p.log.Warn("replayed tip onto state", "height", tip.Header.Height, "txs", len(tip.Transactions))
	return nil
}

// Run produces blocks on every tick of the configured interval until ctx is
// done. It only returns an error when the node can no longer continue.
func (p *PoA) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.BlockInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if !p.IsProposer() {
				continue
			}
			if _, err := p.ProduceBlock(); err != nil {
				if errors.Is(err, ErrStateCommit) {
					return err
				}
				p.log.Error("produce block", "error", err)
			}
		}
	}
}
