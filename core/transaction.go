package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/fixedpoint"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer         TxType = "transfer"
	TxInitializeConfig TxType = "initialize_config"
	TxJoin             TxType = "join"
	TxFinalizeMatch    TxType = "finalize_match"
	TxRecordAllocation TxType = "record_allocation"
	TxClaim            TxType = "claim"
	TxRecordBurned     TxType = "record_burned"
	TxPublishPrice     TxType = "publish_price"
)

// Transaction is the atomic unit of work on the ledger.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature, that From is a valid public key and that ID
// matches the signed body.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	hash := tx.Hash()
	if tx.ID != hash {
		return errors.New("tx id does not match body")
	}
	return crypto.Verify(pub, []byte(hash), tx.Signature)
}

// NewTransaction creates an unsigned transaction. ts is unix nanoseconds.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, ts int64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: ts,
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native units.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// InitializeConfigPayload creates the arena configuration. The signer
// becomes the authority.
type InitializeConfigPayload struct {
	RevenueWallet  string `json:"revenue_wallet"`
	PricePublisher string `json:"price_publisher"`
	PriceFeedID    string `json:"price_feed_id"`
	MinTicketUnits uint64 `json:"min_ticket_units"`
}

// JoinPayload buys a ticket into the current day's round.
type JoinPayload struct {
	Amount uint64 `json:"amount"`
}

// FinalizeMatchPayload settles a past day's round.
type FinalizeMatchPayload struct {
	DayID int64 `json:"day_id"`
}

// RecordAllocationPayload assigns a rank in a finalized round to a winner.
type RecordAllocationPayload struct {
	DayID  int64  `json:"day_id"`
	Rank   uint32 `json:"rank"`
	Winner string `json:"winner"`
}

// ClaimPayload withdraws the signer's allocation for a round.
type ClaimPayload struct {
	DayID int64 `json:"day_id"`
}

// RecordBurnedPayload reports off-ledger buyback results.
type RecordBurnedPayload struct {
	BuybackAAtoms fixedpoint.U128 `json:"buyback_a_atoms"`
	BuybackBAtoms fixedpoint.U128 `json:"buyback_b_atoms"`
	BuybackASpent uint64          `json:"buyback_a_spent"`
	BuybackBSpent uint64          `json:"buyback_b_spent"`
}

// PublishPricePayload writes an oracle reading.
type PublishPricePayload struct {
	FeedID      string `json:"feed_id"`
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}
