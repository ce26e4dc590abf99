package oracle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/internal/testutil"
	"github.com/tolelom/tolarena/vm"
	"github.com/tolelom/tolarena/vm/modules/oracle"
	"github.com/tolelom/tolarena/wallet"
)

var blockTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func publish(t *testing.T, exec *vm.Executor, state core.State, w *wallet.Wallet, feed string, price, publishTime int64) error {
	t.Helper()
	acc, err := state.GetAccount(w.PubKey())
	require.NoError(t, err)
	tx, err := w.PublishPrice(feed, price, 1, -8, publishTime, acc.Nonce)
	require.NoError(t, err)
	block := core.NewBlock("c", 1, "", "p", blockTime.UnixNano(), []*core.Transaction{tx})
	return exec.ExecuteTx(block, tx)
}

func TestPublishPriceOwnership(t *testing.T) {
	state := testutil.NewStateDB()
	exec := vm.NewExecutor(state, events.NewEmitter(testutil.NewLogger()))
	owner, err := wallet.Generate("c")
	require.NoError(t, err)
	other, err := wallet.Generate("c")
	require.NoError(t, err)

	require.NoError(t, publish(t, exec, state, owner, "SOL/USD", 150, 1000))
	require.NoError(t, publish(t, exec, state, owner, "SOL/USD", 151, 1000))
	require.ErrorIs(t, publish(t, exec, state, owner, "SOL/USD", 152, 999), oracle.ErrPublishBackward)
	require.ErrorIs(t, publish(t, exec, state, other, "SOL/USD", 1, 2000), oracle.ErrNotPublisher)
	require.ErrorIs(t, publish(t, exec, state, owner, "", 1, 2000), oracle.ErrInvalidFeed)

	feed, err := state.GetPriceFeed("SOL/USD")
	require.NoError(t, err)
	assert.Equal(t, int64(151), feed.Price)
	assert.Equal(t, int32(-8), feed.Expo)
	assert.Equal(t, owner.PubKey(), feed.Publisher)

	// a different feed id can be claimed by someone else
	require.NoError(t, publish(t, exec, state, other, "ETH/USD", 3000, 1))
}

func TestPublishTimeBoundedByBlockTime(t *testing.T) {
	state := testutil.NewStateDB()
	exec := vm.NewExecutor(state, events.NewEmitter(testutil.NewLogger()))
	w, err := wallet.Generate("c")
	require.NoError(t, err)

	now := blockTime.Unix()
	require.ErrorIs(t, publish(t, exec, state, w, "SOL/USD", 150, now+oracle.MaxFutureSkew+1), oracle.ErrPublishFuture)
	_, err = state.GetPriceFeed("SOL/USD")
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, publish(t, exec, state, w, "SOL/USD", 150, now+oracle.MaxFutureSkew))
}

func TestConfiguredFeedBelongsToConfiguredPublisher(t *testing.T) {
	state := testutil.NewStateDB()
	exec := vm.NewExecutor(state, events.NewEmitter(testutil.NewLogger()))
	publisher, err := wallet.Generate("c")
	require.NoError(t, err)
	squatter, err := wallet.Generate("c")
	require.NoError(t, err)

	now := blockTime.Unix()
	require.NoError(t, publish(t, exec, state, squatter, "SOL/USD", 1, now))
	require.NoError(t, state.CreateConfig(&core.ArenaConfig{PriceFeedID: "SOL/USD", PricePublisher: publisher.PubKey()}))

	// takeover ignores the squatter's later stamp
	require.NoError(t, publish(t, exec, state, publisher, "SOL/USD", 150, now-60))
	require.ErrorIs(t, publish(t, exec, state, squatter, "SOL/USD", 1, now), oracle.ErrNotPublisher)

	feed, err := state.GetPriceFeed("SOL/USD")
	require.NoError(t, err)
	assert.Equal(t, publisher.PubKey(), feed.Publisher)
	assert.Equal(t, int64(150), feed.Price)

	// feeds the arena does not use keep first-publisher ownership
	require.NoError(t, publish(t, exec, state, squatter, "ETH/USD", 3000, now))
	require.ErrorIs(t, publish(t, exec, state, publisher, "ETH/USD", 3001, now), oracle.ErrNotPublisher)
}
