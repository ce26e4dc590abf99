package wallet

import (
	"github.com/jonboulle/clockwork"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/fixedpoint"
)

// Wallet holds a key pair and builds signed transactions for one chain.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
	clock   clockwork.Clock
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithClock sets the clock used for transaction timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(w *Wallet) { w.clock = c }
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey, chainID string, opts ...Option) *Wallet {
	w := &Wallet{priv: priv, pub: priv.Public(), chainID: chainID, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string, opts ...Option) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv, chainID, opts...), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), nonce, fee, w.clock.Now().UnixNano(), payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed transfer transaction.
func (w *Wallet) Transfer(to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, fee, core.TransferPayload{To: to, Amount: amount})
}

// InitializeConfig makes the wallet the arena authority. Only publisher's
// readings of feedID are accepted for ticket pricing.
func (w *Wallet) InitializeConfig(revenueWallet, publisher, feedID string, minTicket, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxInitializeConfig, nonce, 0, core.InitializeConfigPayload{
		RevenueWallet:  revenueWallet,
		PricePublisher: publisher,
		PriceFeedID:    feedID,
		MinTicketUnits: minTicket,
	})
}

// Join buys a ticket into today's round.
func (w *Wallet) Join(amount, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxJoin, nonce, 0, core.JoinPayload{Amount: amount})
}

// FinalizeMatch settles the round of dayID.
func (w *Wallet) FinalizeMatch(dayID int64, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxFinalizeMatch, nonce, 0, core.FinalizeMatchPayload{DayID: dayID})
}

// RecordAllocation assigns rank of dayID to winner.
func (w *Wallet) RecordAllocation(dayID int64, rank uint32, winner string, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRecordAllocation, nonce, 0, core.RecordAllocationPayload{
		DayID:  dayID,
		Rank:   rank,
		Winner: winner,
	})
}

// Claim withdraws the wallet's allocation for dayID.
func (w *Wallet) Claim(dayID int64, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxClaim, nonce, 0, core.ClaimPayload{DayID: dayID})
}

// RecordBurned reports buyback results.
func (w *Wallet) RecordBurned(aAtoms, bAtoms fixedpoint.U128, aSpent, bSpent, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRecordBurned, nonce, 0, core.RecordBurnedPayload{
		BuybackAAtoms: aAtoms,
		BuybackBAtoms: bAtoms,
		BuybackASpent: aSpent,
		BuybackBSpent: bSpent,
	})
}

// PublishPrice writes a price reading to feedID.
func (w *Wallet) PublishPrice(feedID string, price int64, conf uint64, expo int32, publishTime int64, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxPublishPrice, nonce, 0, core.PublishPricePayload{
		FeedID:      feedID,
		Price:       price,
		Conf:        conf,
		Expo:        expo,
		PublishTime: publishTime,
	})
}
