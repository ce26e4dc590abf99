package vm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/internal/testutil"
	"github.com/tolelom/tolarena/storage"
	"github.com/tolelom/tolarena/vm"
	"github.com/tolelom/tolarena/vm/modules/economy"
	"github.com/tolelom/tolarena/wallet"
)

const chainID = "vm-test"

func setup(t *testing.T) (*storage.StateDB, *vm.Executor, *events.Emitter) {
	t.Helper()
	state := testutil.NewStateDB()
	emitter := events.NewEmitter(testutil.NewLogger())
	return state, vm.NewExecutor(state, emitter), emitter
}

func newBlock(txs ...*core.Transaction) *core.Block {
	return core.NewBlock(chainID, 1, "0000", "proposer", time.Now().UnixNano(), txs)
}

func TestTokenTransfer(t *testing.T) {
	state, exec, _ := setup(t)
	sender, err := wallet.Generate(chainID)
	require.NoError(t, err)
	receiver, err := wallet.Generate(chainID)
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: sender.PubKey(), Balance: 1000}))

	tx, err := sender.Transfer(receiver.PubKey(), 300, 0, 10)
	require.NoError(t, err)
	require.NoError(t, exec.ExecuteTx(newBlock(tx), tx))

	from, err := state.GetAccount(sender.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(690), from.Balance)
	assert.Equal(t, uint64(1), from.Nonce)

	to, err := state.GetAccount(receiver.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(300), to.Balance)
}

func TestFailedTxRevertsFeeAndNonce(t *testing.T) {
	state, exec, _ := setup(t)
	sender, err := wallet.Generate(chainID)
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: sender.PubKey(), Balance: 100}))

	tx, err := sender.Transfer("someone", 500, 0, 10)
	require.NoError(t, err)
	require.ErrorIs(t, exec.ExecuteTx(newBlock(tx), tx), economy.ErrInsufficientBalance)

	acc, err := state.GetAccount(sender.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acc.Balance)
	assert.Equal(t, uint64(0), acc.Nonce)
}

func TestExecuteTxRejects(t *testing.T) {
	state, exec, _ := setup(t)
	sender, err := wallet.Generate(chainID)
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: sender.PubKey(), Balance: 100}))

	stale, err := sender.Transfer("x", 1, 7, 0)
	require.NoError(t, err)
	require.ErrorIs(t, exec.ExecuteTx(newBlock(stale), stale), vm.ErrInvalidNonce)

	foreign, err := wallet.New(sender.PrivKey(), "other-chain").Transfer("x", 1, 0, 0)
	require.NoError(t, err)
	require.ErrorIs(t, exec.ExecuteTx(newBlock(foreign), foreign), vm.ErrWrongChain)

	unknown, err := sender.NewTx("bogus", 0, 0, struct{}{})
	require.NoError(t, err)
	require.ErrorIs(t, exec.ExecuteTx(newBlock(unknown), unknown), vm.ErrUnknownTxType)

	tooRich, err := sender.Transfer("x", 1, 0, 1000)
	require.NoError(t, err)
	require.ErrorIs(t, exec.ExecuteTx(newBlock(tooRich), tooRich), vm.ErrInsufficientFee)

	tampered, err := sender.Transfer("x", 1, 0, 0)
	require.NoError(t, err)
	tampered.Payload = []byte(`{"to":"x","amount":99}`)
	require.Error(t, exec.ExecuteTx(newBlock(tampered), tampered))
}

func TestApplyBlockKeepsGoingPastFailures(t *testing.T) {
	state, exec, emitter := setup(t)
	var transfers int
	emitter.Subscribe(events.EventTokenTransfer, func(events.Event) { transfers++ })

	a, err := wallet.Generate(chainID)
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: a.PubKey(), Balance: 50}))

	ok1, err := a.Transfer("b", 20, 0, 0)
	require.NoError(t, err)
	bad, err := a.Transfer("b", 1000, 1, 0)
	require.NoError(t, err)
	ok2, err := a.Transfer("b", 20, 1, 0)
	require.NoError(t, err)

	included, receipts := exec.ApplyBlock(newBlock(ok1, bad, ok2))
	require.Len(t, receipts, 3)
	assert.Equal(t, []*core.Transaction{ok1, ok2}, included)
	assert.Equal(t, core.ReceiptSuccess, receipts[0].Status)
	assert.Equal(t, core.ReceiptFailed, receipts[1].Status)
	assert.Contains(t, receipts[1].Error, "insufficient balance")
	assert.Equal(t, core.ReceiptSuccess, receipts[2].Status)

	acc, err := state.GetAccount("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), acc.Balance)

	assert.Zero(t, transfers)
	exec.Publish()
	assert.Equal(t, 2, transfers)
	exec.Publish()
	assert.Equal(t, 2, transfers)
}

func TestDecodePayloadRejectsUnknownFields(t *testing.T) {
	var p core.TransferPayload
	require.Error(t, vm.DecodePayload([]byte(`{"to":"x","amount":1,"extra":true}`), &p))
	require.NoError(t, vm.DecodePayload([]byte(`{"to":"x","amount":1}`), &p))
	assert.Equal(t, uint64(1), p.Amount)
}
