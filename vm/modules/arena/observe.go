package arena

import (
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/metrics"
)

// ObserveEvents feeds committed arena events into the Prometheus gauges and
// counters. Events only reach the emitter after their block is stored.
func ObserveEvents(em *events.Emitter) {
	em.Subscribe(events.EventTicketBought, func(ev events.Event) {
		if pot, ok := ev.Data["pot"].(uint64); ok {
			metrics.RoundPotUnits.Set(float64(pot))
		}
	})
	em.Subscribe(events.EventRoundFinalized, func(events.Event) {
		metrics.RoundsFinalizedTotal.Inc()
	})
	em.Subscribe(events.EventPrizeClaimed, func(ev events.Event) {
		if amt, ok := ev.Data["amount"].(uint64); ok {
			metrics.PrizeClaimedUnitsTotal.Add(float64(amt))
		}
	})
}
