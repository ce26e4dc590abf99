package events

import (
	"log/slog"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit       EventType = "block_commit"
	EventTxExecuted        EventType = "tx_executed"
	EventTokenTransfer     EventType = "token_transfer"
	EventConfigInitialized EventType = "config_initialized"
	EventRoundOpened       EventType = "round_opened"
	EventTicketBought      EventType = "ticket_bought"
	EventRoundFinalized    EventType = "round_finalized"
	EventAllocationRecord  EventType = "allocation_recorded"
	EventPrizeClaimed      EventType = "prize_claimed"
	EventBurnReported      EventType = "burn_reported"
	EventPricePublished    EventType = "price_published"
)

// Event carries a typed payload emitted after a state change. Data values are
// the Go values the handler stored (int64 day ids, uint64 amounts), not
// JSON-decoded numbers.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	log      *slog.Logger
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter(log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{log: log, handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("events: handler panicked", "type", ev.Type, "tx", ev.TxID, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
