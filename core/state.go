package core

import "github.com/tolelom/tolarena/fixedpoint"

// Account holds a balance and replay-protection nonce. Address is either the
// hex-encoded ed25519 public key of a participant or a derived vault address.
type Account struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// ArenaConfig is the singleton operator configuration. It is written once by
// initialize_config and never changes afterwards.
type ArenaConfig struct {
	Authority      string `json:"authority"`
	RevenueWallet  string `json:"revenue_wallet"`
	PricePublisher string `json:"price_publisher"`
	PriceFeedID    string `json:"price_feed_id"`
	MinTicketUnits uint64 `json:"min_ticket_units"`
	BuybackAVault  string `json:"buyback_a_vault"`
	BuybackABump   uint8  `json:"buyback_a_bump"`
	BuybackBVault  string `json:"buyback_b_vault"`
	BuybackBBump   uint8  `json:"buyback_b_bump"`
	CreatedAt      int64  `json:"created_at"`
}

// Stats are running totals. Every field only grows, saturating at its ceiling.
type Stats struct {
	TotalRounds            uint64          `json:"total_rounds"`
	TotalParticipants      uint64          `json:"total_participants"`
	TotalPrizeDistributed  fixedpoint.U128 `json:"total_prize_distributed"`
	TotalBuybackAEarmarked fixedpoint.U128 `json:"total_buyback_a_earmarked"`
	TotalBuybackBEarmarked fixedpoint.U128 `json:"total_buyback_b_earmarked"`
	TotalRevenueEarmarked  fixedpoint.U128 `json:"total_revenue_earmarked"`
	BuybackABurnedAtoms    fixedpoint.U128 `json:"buyback_a_burned_atoms"`
	BuybackBBurnedAtoms    fixedpoint.U128 `json:"buyback_b_burned_atoms"`
	BuybackASpent          uint64          `json:"buyback_a_spent"`
	BuybackBSpent          uint64          `json:"buyback_b_spent"`
}

// SecondsPerDay is the length of one round.
const SecondsPerDay = 86400

// DayID maps a unix timestamp in seconds to its round index, using floor
// division so pre-epoch times land on negative days.
func DayID(unixSeconds int64) int64 {
	d := unixSeconds / SecondsPerDay
	if unixSeconds%SecondsPerDay < 0 {
		d--
	}
	return d
}

// RoundStatus is the lifecycle state of a Round.
type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundFinalized RoundStatus = "finalized"
)

// Round is one day's competition, keyed by DayID (unix seconds div 86400).
// Sizing and bucket fields are zero until the round is finalized.
type Round struct {
	DayID       int64       `json:"day_id"`
	TicketCount uint32      `json:"ticket_count"`
	PotUnits    uint64      `json:"pot_units"`
	Status      RoundStatus `json:"status"`
	Vault       string      `json:"vault"`
	VaultBump   uint8       `json:"vault_bump"`
	CreatedAt   int64       `json:"created_at"`

	Winners   uint32 `json:"winners_count"`
	Group2    uint32 `json:"group2_count"`
	Group3    uint32 `json:"group3_count"`
	PrizePool uint64 `json:"prize_pool"`
	Remainder uint64 `json:"remainder"`
	Revenue   uint64 `json:"revenue"`
	BuybackA  uint64 `json:"buyback_a"`
	BuybackB  uint64 `json:"buyback_b"`

	AllocationsRecorded uint32 `json:"allocations_recorded"`
	AllocatedUnits      uint64 `json:"allocated_units"`
	FinalizedAt         int64  `json:"finalized_at,omitempty"`
}

// Entry is one participant's ticket in a round.
type Entry struct {
	DayID    int64  `json:"day_id"`
	Player   string `json:"player"`
	Paid     uint64 `json:"paid"`
	JoinedAt int64  `json:"joined_at"`
}

// Allocation is what a ranked winner is owed from a finalized round.
type Allocation struct {
	DayID     int64  `json:"day_id"`
	Winner    string `json:"winner"`
	Rank      uint32 `json:"rank"`
	Amount    uint64 `json:"amount"`
	Claimed   bool   `json:"claimed"`
	ClaimedAt int64  `json:"claimed_at,omitempty"`
}

// PriceFeed is the latest on-ledger oracle reading for a feed id.
type PriceFeed struct {
	ID          string `json:"id"`
	Publisher   string `json:"publisher"`
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
//
// Create* methods fail with ErrAlreadyExists when the key is present; Get*
// methods return ErrNotFound when it is absent.
type State interface {
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	GetConfig() (*ArenaConfig, error)
	CreateConfig(cfg *ArenaConfig) error

	GetStats() (*Stats, error)
	SetStats(s *Stats) error

	GetRound(dayID int64) (*Round, error)
	CreateRound(r *Round) error
	SetRound(r *Round) error

	GetEntry(dayID int64, player string) (*Entry, error)
	CreateEntry(e *Entry) error

	GetAllocation(dayID int64, winner string) (*Allocation, error)
	CreateAllocation(a *Allocation) error
	SetAllocation(a *Allocation) error

	GetPriceFeed(id string) (*PriceFeed, error)
	SetPriceFeed(f *PriceFeed) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
	// Discard drops the write buffer without flushing.
	Discard()
}
