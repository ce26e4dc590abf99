package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tolarena_tx_total",
			Help: "Total number of executed transactions",
		},
		[]string{"type", "result"},
	)

	ArenaErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tolarena_arena_errors_total",
			Help: "Total number of rejected arena operations",
		},
		[]string{"op", "kind"},
	)

	BlocksProducedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tolarena_blocks_produced_total",
			Help: "Total number of blocks produced by this node",
		},
	)

	RoundsFinalizedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tolarena_rounds_finalized_total",
			Help: "Total number of finalized rounds",
		},
	)

	PrizeClaimedUnitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tolarena_prize_claimed_units_total",
			Help: "Total native units paid out through claims",
		},
	)

	RoundPotUnits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tolarena_round_pot_units",
			Help: "Pot of the most recently joined round",
		},
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tolarena_rpc_requests_total",
			Help: "Total number of JSON-RPC requests",
		},
		[]string{"method", "code"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tolarena_rpc_request_duration_seconds",
			Help:    "Duration of JSON-RPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tolarena_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	KeeperRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tolarena_keeper_runs_total",
			Help: "Total number of keeper settlement runs",
		},
		[]string{"result"},
	)

	ArchiveWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tolarena_archive_writes_total",
			Help: "Total number of archive writes",
		},
		[]string{"table", "status"},
	)

	ArchiveDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tolarena_archive_dropped_total",
			Help: "Events dropped because the archive queue was full",
		},
	)
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordTx records the outcome of one transaction.
func RecordTx(txType string, err error) {
	TxTotal.WithLabelValues(txType, resultLabel(err)).Inc()
}

// RecordRPC records a JSON-RPC call. code is 0 on success.
func RecordRPC(method string, code int, duration time.Duration) {
	RPCRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordKeeperRun records one keeper pass.
func RecordKeeperRun(err error) {
	KeeperRunsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordArchiveWrite records one archive insert.
func RecordArchiveWrite(table string, err error) {
	ArchiveWritesTotal.WithLabelValues(table, resultLabel(err)).Inc()
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
	})
}
