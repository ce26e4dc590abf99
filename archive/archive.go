// Package archive copies finalized rounds, allocations and claims into
// Postgres for analytics. The ledger stays the source of truth; the archive
// only follows committed events and tolerates replays.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"

	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/internal/retry"
	"github.com/tolelom/tolarena/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	defaultQueueSize     = 1024
	pgErrUniqueViolation = "23505"
)

// Migrate applies the embedded schema migrations.
func Migrate(dsn string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Store writes arena events to Postgres from a buffered queue.
type Store struct {
	pool  *pgxpool.Pool
	log   *slog.Logger
	queue chan events.Event
	retry retry.Config
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newStore(pool, log, defaultQueueSize), nil
}

func newStore(pool *pgxpool.Pool, log *slog.Logger, queueSize int) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:  pool,
		log:   log.With("component", "archive"),
		queue: make(chan events.Event, queueSize),
		retry: retry.DefaultConfig(),
	}
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Subscribe queues the events the archive records. Emit never blocks on the
// database: a full queue drops the event and counts it.
func (s *Store) Subscribe(emitter *events.Emitter) {
	for _, typ := range []events.EventType{
		events.EventRoundFinalized,
		events.EventAllocationRecord,
		events.EventPrizeClaimed,
	} {
		emitter.Subscribe(typ, s.enqueue)
	}
}

func (s *Store) enqueue(ev events.Event) {
	select {
	case s.queue <- ev:
	default:
		metrics.ArchiveDroppedTotal.Inc()
		s.log.Warn("archive queue full, dropping event", "type", ev.Type, "tx", ev.TxID)
	}
}

// Run drains the queue until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.queue:
			err := retry.Do(ctx, s.retry, func() error { return s.Write(ctx, ev) })
			if err != nil && ctx.Err() == nil {
				s.log.Error("archive write failed", "type", ev.Type, "tx", ev.TxID, "error", err)
			}
		}
	}
}

// Write records one event. Rows that already exist are left as they are.
func (s *Store) Write(ctx context.Context, ev events.Event) error {
	var (
		table string
		err   error
	)
	switch ev.Type {
	case events.EventRoundFinalized:
		table = "rounds"
		_, err = s.pool.Exec(ctx, `
			INSERT INTO rounds (day_id, ticket_count, pot, prize_pool, revenue, buyback_a, buyback_b,
				winners, group2, group3, remainder, finalized_at, block_height, tx_id)
			VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6::text::numeric,
				$7::text::numeric, $8, $9, $10, $11::text::numeric, $12, $13, $14)`,
			i64(ev, "day_id"), u32(ev, "ticket_count"), u64(ev, "pot"), u64(ev, "prize_pool"),
			u64(ev, "revenue"), u64(ev, "buyback_a"), u64(ev, "buyback_b"),
			u32(ev, "winners"), u32(ev, "group2"), u32(ev, "group3"), u64(ev, "remainder"),
			unixTime(ev, "finalized_at"), ev.BlockHeight, ev.TxID)
	case events.EventAllocationRecord:
		table = "allocations"
		_, err = s.pool.Exec(ctx, `
			INSERT INTO allocations (day_id, winner, rank, amount, block_height, tx_id)
			VALUES ($1, $2, $3, $4::text::numeric, $5, $6)`,
			i64(ev, "day_id"), str(ev, "winner"), u32(ev, "rank"), u64(ev, "amount"), ev.BlockHeight, ev.TxID)
	case events.EventPrizeClaimed:
		table = "claims"
		_, err = s.pool.Exec(ctx, `
			INSERT INTO claims (day_id, winner, rank, amount, claimed_at, block_height, tx_id)
			VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7)`,
			i64(ev, "day_id"), str(ev, "winner"), u32(ev, "rank"), u64(ev, "amount"),
			unixTime(ev, "claimed_at"), ev.BlockHeight, ev.TxID)
	default:
		return nil
	}
	if isDuplicateKeyError(err) {
		err = nil
	}
	metrics.RecordArchiveWrite(table, err)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

// Event data holds the handler's Go values, so plain assertions suffice.

func i64(ev events.Event, key string) int64 {
	v, _ := ev.Data[key].(int64)
	return v
}

func u32(ev events.Event, key string) int64 {
	v, _ := ev.Data[key].(uint32)
	return int64(v)
}

func u64(ev events.Event, key string) string {
	v, _ := ev.Data[key].(uint64)
	return strconv.FormatUint(v, 10)
}

func str(ev events.Event, key string) string {
	v, _ := ev.Data[key].(string)
	return v
}

func unixTime(ev events.Event, key string) time.Time {
	return time.Unix(i64(ev, key), 0).UTC()
}
