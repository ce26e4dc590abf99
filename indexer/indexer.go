// Package indexer maintains secondary indexes over committed blocks so
// clients can list a player's rounds or a winner's allocations without
// scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/storage"
)

const (
	prefixPlayerRounds = "idx:player:round:"
	prefixWinnerAllocs = "idx:winner:alloc:"
	keyRounds          = "idx:rounds"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db  storage.DB
	log *slog.Logger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	idx := &Indexer{db: db, log: log.With("component", "indexer")}
	emitter.Subscribe(events.EventRoundOpened, idx.onRoundOpened)
	emitter.Subscribe(events.EventTicketBought, idx.onTicketBought)
	emitter.Subscribe(events.EventAllocationRecord, idx.onAllocationRecorded)
	return idx
}

// GetRoundsByPlayer returns the day ids of every round the player joined.
func (idx *Indexer) GetRoundsByPlayer(player string) ([]int64, error) {
	return idx.getList(prefixPlayerRounds + player)
}

// GetAllocationsByWinner returns the day ids of rounds where the address was
// allocated a prize.
func (idx *Indexer) GetAllocationsByWinner(winner string) ([]int64, error) {
	return idx.getList(prefixWinnerAllocs + winner)
}

// ListRounds returns every opened round's day id, oldest first.
func (idx *Indexer) ListRounds() ([]int64, error) {
	return idx.getList(keyRounds)
}

// ---- event handlers ----

func (idx *Indexer) onRoundOpened(ev events.Event) {
	day, ok := ev.Data["day_id"].(int64)
	if !ok {
		return
	}
	idx.add(keyRounds, day)
}

func (idx *Indexer) onTicketBought(ev events.Event) {
	day, ok := ev.Data["day_id"].(int64)
	player, _ := ev.Data["player"].(string)
	if !ok || player == "" {
		return
	}
	idx.add(prefixPlayerRounds+player, day)
}

func (idx *Indexer) onAllocationRecorded(ev events.Event) {
	day, ok := ev.Data["day_id"].(int64)
	winner, _ := ev.Data["winner"].(string)
	if !ok || winner == "" {
		return
	}
	idx.add(prefixWinnerAllocs+winner, day)
}

// ---- list helpers ----

func (idx *Indexer) add(key string, day int64) {
	if err := idx.addToList(key, day); err != nil {
		idx.log.Error("update index", "key", key, "day_id", day, "error", err)
	}
}

func (idx *Indexer) getList(key string) ([]int64, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var days []int64
	if err := json.Unmarshal(data, &days); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return days, nil
}

// addToList appends day unless it is already present.
func (idx *Indexer) addToList(key string, day int64) error {
	days, err := idx.getList(key)
	if err != nil {
		return err
	}
	if slices.Contains(days, day) {
		return nil
	}
	data, err := json.Marshal(append(days, day))
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
