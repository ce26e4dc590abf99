package keeper

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolarena/config"
	"github.com/tolelom/tolarena/consensus"
	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/indexer"
	"github.com/tolelom/tolarena/internal/testutil"
	"github.com/tolelom/tolarena/rpc"
	"github.com/tolelom/tolarena/storage"
	"github.com/tolelom/tolarena/vm"
	"github.com/tolelom/tolarena/wallet"

	_ "github.com/tolelom/tolarena/vm/modules/arena"
	_ "github.com/tolelom/tolarena/vm/modules/economy"
	_ "github.com/tolelom/tolarena/vm/modules/oracle"
)

const (
	chainID = "keeper-test"
	feedID  = "SOL/USD"
)

// testNode is a single-validator ledger served over httptest.
type testNode struct {
	t         *testing.T
	clock     *clockwork.FakeClock
	poa       *consensus.PoA
	state     *storage.StateDB
	mempool   *core.Mempool
	url       string
	authority *wallet.Wallet
	players   []*wallet.Wallet
}

// newTestNode starts a node whose genesis funds players fresh wallets.
func newTestNode(t *testing.T, players int) *testNode {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	authority, err := wallet.Generate(chainID, wallet.WithClock(clock))
	require.NoError(t, err)
	alloc := map[string]uint64{authority.PubKey(): 1_000_000_000}
	funded := make([]*wallet.Wallet, players)
	for i := range funded {
		funded[i], err = wallet.Generate(chainID, wallet.WithClock(clock))
		require.NoError(t, err)
		alloc[funded[i].PubKey()] = 1_000_000_000
	}

	cfg := config.DefaultConfig()
	cfg.Validators = []string{pub.Hex()}
	cfg.Genesis.ChainID = chainID
	cfg.Genesis.Timestamp = clock.Now().Unix()
	cfg.Genesis.Alloc = alloc

	state := testutil.NewStateDB()
	bc := core.NewBlockchain(testutil.NewBlockStore())
	require.NoError(t, bc.Init())
	genesis, err := config.CreateGenesisBlock(cfg, state, priv)
	require.NoError(t, err)
	require.NoError(t, bc.AddBlock(genesis, nil))

	log := testutil.NewLogger()
	emitter := events.NewEmitter(log)
	idx := indexer.New(testutil.NewMemDB(), emitter, log)
	mempool := core.NewMempool(chainID, clock)
	exec := vm.NewExecutor(state, emitter)

	handler := rpc.NewHandler(bc, mempool, state.Committed(), idx, chainID, clock)
	srv := httptest.NewServer(rpc.NewServer("", handler, rpc.Options{}, log).Router())
	t.Cleanup(srv.Close)

	return &testNode{
		t:         t,
		clock:     clock,
		poa:       consensus.New(cfg, bc, state, mempool, exec, emitter, priv, clock, log),
		state:     state,
		mempool:   mempool,
		url:       srv.URL,
		authority: authority,
		players:   funded,
	}
}

func (n *testNode) newWallet() *wallet.Wallet {
	n.t.Helper()
	w, err := wallet.Generate(chainID, wallet.WithClock(n.clock))
	require.NoError(n.t, err)
	return w
}

// block adds txs to the mempool and produces one block.
func (n *testNode) block(txs ...*core.Transaction) {
	n.t.Helper()
	for _, tx := range txs {
		require.NoError(n.t, n.mempool.Add(tx))
	}
	_, err := n.poa.ProduceBlock()
	require.NoError(n.t, err)
}

// advance moves time forward and produces a block so chain time follows.
func (n *testNode) advance(d time.Duration) {
	n.t.Helper()
	n.clock.Advance(d)
	n.block()
}

// produce keeps producing blocks in the background until the test ends.
func (n *testNode) produce() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	n.t.Cleanup(func() {
		cancel()
		<-done
	})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = n.poa.ProduceBlock()
			}
		}
	}()
}

// committed reads state the same way the RPC server does.
func (n *testNode) committed() *storage.StateDB {
	return n.state.Committed()
}

func (n *testNode) submitter(w *wallet.Wallet) *Submitter {
	return NewSubmitter(NewClient(n.url, ""), w, testutil.NewLogger(), WithPolling(5*time.Millisecond, 5*time.Second))
}

// openRound initializes the arena with n's authority, publishes a price and
// has every player join today's round.
func (n *testNode) openRound() int64 {
	n.t.Helper()
	revenue := n.newWallet()
	initTx, err := n.authority.InitializeConfig(revenue.PubKey(), n.authority.PubKey(), feedID, 1000, 0)
	require.NoError(n.t, err)
	priceTx, err := n.authority.PublishPrice(feedID, 50_000, 0, 0, n.clock.Now().Unix(), 1)
	require.NoError(n.t, err)

	txs := []*core.Transaction{initTx, priceTx}
	for _, p := range n.players {
		tx, err := p.Join(1_000_000, 0)
		require.NoError(n.t, err)
		txs = append(txs, tx)
	}
	n.block(txs...)
	return core.DayID(n.clock.Now().Unix())
}
