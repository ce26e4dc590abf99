package core

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned when a requested object does not exist in storage.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by create-if-absent writes when the key is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// ReceiptStatus is the outcome of a transaction.
type ReceiptStatus string

const (
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailed  ReceiptStatus = "failed"
)

// Receipt records what happened to a transaction. Failed transactions are
// not included in a block but still get a receipt so clients can learn why.
type Receipt struct {
	TxID        string        `json:"tx_id"`
	Type        TxType        `json:"type"`
	BlockHeight int64         `json:"block_height"`
	Status      ReceiptStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
}

// BlockStore is the persistence interface used by Blockchain.
// Implementations live in the storage package.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	GetBlockByHeight(height int64) (*Block, error)
	// GetTip returns the current tip hash, or ("", nil) for a fresh chain.
	GetTip() (string, error)
	// CommitBlock atomically writes the block, its height index entry, the
	// receipts and the new tip pointer in a single batch.
	CommitBlock(block *Block, receipts []*Receipt) error
	GetReceipt(txID string) (*Receipt, error)
}

// Blockchain manages the canonical chain: stores blocks and tracks the tip.
type Blockchain struct {
	mu     sync.RWMutex
	store  BlockStore
	tip    *Block
	height int64
}

// NewBlockchain returns a Blockchain backed by store.
// Call Init() to load an existing chain tip from storage.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

// Init loads the persisted tip from the block store.
func (bc *Blockchain) Init() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tipHash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipHash == "" {
		return nil // fresh chain
	}
	tip, err := bc.store.GetBlock(tipHash)
	if err != nil {
		return fmt.Errorf("load tip block: %w", err)
	}
	bc.tip = tip
	bc.height = tip.Header.Height
	return nil
}

// AddBlock validates height continuity, PrevHash linkage and timestamp order,
// then persists the block with its receipts and advances the tip.
func (bc *Blockchain) AddBlock(block *Block, receipts []*Receipt) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.tip != nil {
		if block.Header.Height != bc.height+1 {
			return fmt.Errorf("block height %d does not follow tip %d", block.Header.Height, bc.height)
		}
		if block.Header.PrevHash != bc.tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, bc.tip.Hash)
		}
		if block.Header.Timestamp < bc.tip.Header.Timestamp {
			return fmt.Errorf("block timestamp %d before tip %d", block.Header.Timestamp, bc.tip.Header.Timestamp)
		}
	}

	if err := bc.store.CommitBlock(block, receipts); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}
	bc.tip = block
	bc.height = block.Header.Height
	return nil
}

// GetBlock returns a block by its hash.
func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.store.GetBlock(hash)
}

// GetBlockByHeight returns the block at the given height.
func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.store.GetBlockByHeight(height)
}

// GetReceipt returns the receipt of a processed transaction.
func (bc *Blockchain) GetReceipt(txID string) (*Receipt, error) {
	return bc.store.GetReceipt(txID)
}

// Tip returns the current chain tip, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height returns the height of the current tip (0 for a fresh chain).
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height
}
