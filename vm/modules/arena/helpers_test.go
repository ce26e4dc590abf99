package arena_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/internal/testutil"
	"github.com/tolelom/tolarena/storage"
	"github.com/tolelom/tolarena/vm"
	"github.com/tolelom/tolarena/wallet"

	_ "github.com/tolelom/tolarena/vm/modules/arena"
	_ "github.com/tolelom/tolarena/vm/modules/economy"
	_ "github.com/tolelom/tolarena/vm/modules/oracle"
)

const (
	chainID = "arena-test"
	feedID  = "SOL/USD"
)

type harness struct {
	t         *testing.T
	clock     *clockwork.FakeClock
	state     *storage.StateDB
	exec      *vm.Executor
	emitter   *events.Emitter
	authority *wallet.Wallet
	feeder    *wallet.Wallet
	revenue   *wallet.Wallet
	height    int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	state := testutil.NewStateDB()
	emitter := events.NewEmitter(testutil.NewLogger())
	h := &harness{
		t:         t,
		clock:     clock,
		state:     state,
		emitter:   emitter,
		exec:      vm.NewExecutor(state, emitter),
		authority: newWallet(t, clock),
		feeder:    newWallet(t, clock),
		revenue:   newWallet(t, clock),
	}
	return h
}

func newWallet(t *testing.T, clock clockwork.Clock) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate(chainID, wallet.WithClock(clock))
	require.NoError(t, err)
	return w
}

// setup initializes the config with floor and publishes price at expo 0.
func (h *harness) setup(price int64, floor uint64) {
	h.t.Helper()
	require.NoError(h.t, h.run(h.authority, func(n uint64) (*core.Transaction, error) {
		return h.authority.InitializeConfig(h.revenue.PubKey(), h.feeder.PubKey(), feedID, floor, n)
	}))
	h.publish(price, 0)
}

func (h *harness) publish(price int64, conf uint64) {
	h.t.Helper()
	now := h.clock.Now().Unix()
	require.NoError(h.t, h.run(h.feeder, func(n uint64) (*core.Transaction, error) {
		return h.feeder.PublishPrice(feedID, price, conf, 0, now, n)
	}))
}

func (h *harness) player(balance uint64) *wallet.Wallet {
	h.t.Helper()
	w := newWallet(h.t, h.clock)
	h.fund(w.PubKey(), balance)
	return w
}

func (h *harness) fund(addr string, amount uint64) {
	h.t.Helper()
	acc, err := h.state.GetAccount(addr)
	require.NoError(h.t, err)
	acc.Balance += amount
	require.NoError(h.t, h.state.SetAccount(acc))
}

func (h *harness) balance(addr string) uint64 {
	h.t.Helper()
	acc, err := h.state.GetAccount(addr)
	require.NoError(h.t, err)
	return acc.Balance
}

// run signs a tx with w's current nonce and executes it in its own block
// stamped with the fake clock.
func (h *harness) run(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) error {
	h.t.Helper()
	acc, err := h.state.GetAccount(w.PubKey())
	require.NoError(h.t, err)
	tx, err := build(acc.Nonce)
	require.NoError(h.t, err)

	block := core.NewBlock(chainID, h.height, "", h.authority.PubKey(), h.clock.Now().UnixNano(), []*core.Transaction{tx})
	h.height++
	return h.exec.ExecuteTx(block, tx)
}

func (h *harness) join(w *wallet.Wallet, amount uint64) error {
	return h.run(w, func(n uint64) (*core.Transaction, error) { return w.Join(amount, n) })
}

func (h *harness) finalize(w *wallet.Wallet, day int64) error {
	return h.run(w, func(n uint64) (*core.Transaction, error) { return w.FinalizeMatch(day, n) })
}

func (h *harness) allocate(day int64, rank uint32, winner string) error {
	return h.run(h.authority, func(n uint64) (*core.Transaction, error) {
		return h.authority.RecordAllocation(day, rank, winner, n)
	})
}

func (h *harness) claim(w *wallet.Wallet, day int64) error {
	return h.run(w, func(n uint64) (*core.Transaction, error) { return w.Claim(day, n) })
}

func (h *harness) today() int64 {
	return core.DayID(h.clock.Now().Unix())
}

func (h *harness) round(day int64) *core.Round {
	h.t.Helper()
	r, err := h.state.GetRound(day)
	require.NoError(h.t, err)
	return r
}
