package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/wallet"
)

// TxFailedError is a transaction the ledger processed and rejected.
type TxFailedError struct {
	Type   core.TxType
	TxID   string
	Reason string
}

func (e *TxFailedError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Type, e.TxID, e.Reason)
}

// Submitter signs and sends transactions for one wallet, one at a time.
// A failed transaction does not advance the nonce, so each send waits for
// the previous receipt before reading the next nonce.
type Submitter struct {
	client *Client
	wallet *wallet.Wallet
	clock  clockwork.Clock
	log    *slog.Logger

	pollInterval   time.Duration
	receiptTimeout time.Duration

	mu sync.Mutex
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithClock sets the clock used for receipt polling.
func WithClock(c clockwork.Clock) SubmitterOption {
	return func(s *Submitter) { s.clock = c }
}

// WithPolling sets how often and how long to wait for a receipt.
func WithPolling(interval, timeout time.Duration) SubmitterOption {
	return func(s *Submitter) {
		s.pollInterval = interval
		s.receiptTimeout = timeout
	}
}

// NewSubmitter returns a Submitter signing with w. Receipts are polled every
// 500ms for up to 30s unless WithPolling says otherwise.
func NewSubmitter(client *Client, w *wallet.Wallet, log *slog.Logger, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		client:         client,
		wallet:         w,
		clock:          clockwork.NewRealClock(),
		log:            log,
		pollInterval:   500 * time.Millisecond,
		receiptTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Address is the signer's public key.
func (s *Submitter) Address() string { return s.wallet.PubKey() }

// Wallet returns the signing wallet.
func (s *Submitter) Wallet() *wallet.Wallet { return s.wallet }

// Submit builds a transaction at the signer's current nonce, sends it and
// waits for its receipt. A rejected transaction returns *TxFailedError.
func (s *Submitter) Submit(ctx context.Context, build func(nonce uint64) (*core.Transaction, error)) (*core.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.client.Account(ctx, s.wallet.PubKey())
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	tx, err := build(acc.Nonce)
	if err != nil {
		return nil, fmt.Errorf("build tx: %w", err)
	}
	txID, err := s.client.SendTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.log.Debug("tx sent", "type", tx.Type, "tx_id", txID, "nonce", tx.Nonce)

	receipt, err := s.waitReceipt(ctx, txID)
	if err != nil {
		return nil, err
	}
	if receipt.Status != core.ReceiptSuccess {
		return receipt, &TxFailedError{Type: tx.Type, TxID: txID, Reason: receipt.Error}
	}
	return receipt, nil
}

func (s *Submitter) waitReceipt(ctx context.Context, txID string) (*core.Receipt, error) {
	deadline := s.clock.Now().Add(s.receiptTimeout)
	for {
		receipt, err := s.client.Receipt(ctx, txID)
		if err == nil {
			return receipt, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
		if !s.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("no receipt for %s after %s", txID, s.receiptTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(s.pollInterval):
		}
	}
}
