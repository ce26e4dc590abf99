package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/internal/testutil"
)

func TestQueueDropsWhenFull(t *testing.T) {
	s := newStore(nil, testutil.NewLogger(), 1)
	emitter := events.NewEmitter(testutil.NewLogger())
	s.Subscribe(emitter)

	emitter.Emit(events.Event{Type: events.EventPrizeClaimed, TxID: "a"})
	emitter.Emit(events.Event{Type: events.EventPrizeClaimed, TxID: "b"})
	emitter.Emit(events.Event{Type: events.EventTicketBought, TxID: "c"})

	require.Len(t, s.queue, 1)
	assert.Equal(t, "a", (<-s.queue).TxID)
}

func TestEventValueHelpers(t *testing.T) {
	ev := events.Event{Data: map[string]any{
		"day_id": int64(20513), "rank": uint32(2), "amount": uint64(18_446_744_073_709_551_615),
		"winner": "ab", "claimed_at": int64(1_772_359_200),
	}}
	assert.Equal(t, int64(20513), i64(ev, "day_id"))
	assert.Equal(t, int64(2), u32(ev, "rank"))
	assert.Equal(t, "18446744073709551615", u64(ev, "amount"))
	assert.Equal(t, "ab", str(ev, "winner"))
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), unixTime(ev, "claimed_at"))
	assert.Equal(t, "0", u64(ev, "missing"))
}

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("arena"),
		postgres.WithUsername("arena"),
		postgres.WithPassword("arena"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, Migrate(dsn))

	s, err := Open(ctx, dsn, testutil.NewLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestWriteIsIdempotent(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	finalized := events.Event{Type: events.EventRoundFinalized, TxID: "tx1", BlockHeight: 9, Data: map[string]any{
		"day_id": int64(20513), "ticket_count": uint32(10), "pot": uint64(1_000_000),
		"prize_pool": uint64(850_000), "revenue": uint64(50_000), "buyback_a": uint64(50_000),
		"buyback_b": uint64(50_000), "winners": uint32(4), "group2": uint32(1), "group3": uint32(2),
		"remainder": uint64(0), "finalized_at": int64(1_772_409_600),
	}}
	claimed := events.Event{Type: events.EventPrizeClaimed, TxID: "tx2", BlockHeight: 11, Data: map[string]any{
		"day_id": int64(20513), "winner": "ab", "rank": uint32(1), "amount": uint64(425_000),
		"claimed_at": int64(1_772_413_200),
	}}

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Write(ctx, finalized))
		require.NoError(t, s.Write(ctx, claimed))
	}

	var prize string
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT prize_pool::text FROM rounds WHERE day_id = 20513`).Scan(&prize))
	assert.Equal(t, "850000", prize)

	var n int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT count(*) FROM claims`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRunDrainsQueue(t *testing.T) {
	s := setupPostgres(t)
	emitter := events.NewEmitter(testutil.NewLogger())
	s.Subscribe(emitter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	emitter.Emit(events.Event{Type: events.EventAllocationRecord, TxID: "tx3", BlockHeight: 10, Data: map[string]any{
		"day_id": int64(20513), "winner": "cd", "rank": uint32(2), "amount": uint64(297_500),
	}})

	require.Eventually(t, func() bool {
		var n int
		err := s.pool.QueryRow(context.Background(), `SELECT count(*) FROM allocations WHERE winner = 'cd'`).Scan(&n)
		return err == nil && n == 1
	}, 10*time.Second, 50*time.Millisecond)
}
