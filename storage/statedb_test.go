package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/internal/testutil"
	"github.com/tolelom/tolarena/storage"
)

func TestAccountDefaultsToZero(t *testing.T) {
	s := testutil.NewStateDB()
	acc, err := s.GetAccount("abc")
	require.NoError(t, err)
	assert.Equal(t, &core.Account{Address: "abc"}, acc)
}

func TestCreateIsStructurallyUnique(t *testing.T) {
	s := testutil.NewStateDB()
	e := &core.Entry{DayID: 20000, Player: "p1", Paid: 10}
	require.NoError(t, s.CreateEntry(e))
	require.ErrorIs(t, s.CreateEntry(e), core.ErrAlreadyExists)

	// still unique after the write reaches the DB
	require.NoError(t, s.Commit())
	require.ErrorIs(t, s.CreateEntry(e), core.ErrAlreadyExists)

	// different round, same player
	require.NoError(t, s.CreateEntry(&core.Entry{DayID: 20001, Player: "p1", Paid: 10}))

	require.NoError(t, s.CreateConfig(&core.ArenaConfig{Authority: "a"}))
	require.ErrorIs(t, s.CreateConfig(&core.ArenaConfig{Authority: "b"}), core.ErrAlreadyExists)
	cfg, err := s.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.Authority)
}

func TestGetMissingRecords(t *testing.T) {
	s := testutil.NewStateDB()
	_, err := s.GetRound(1)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetAllocation(1, "w")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetPriceFeed("f")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetConfig()
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 100}))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 5}))
	require.NoError(t, s.CreateRound(&core.Round{DayID: 7, Status: core.RoundOpen}))

	require.NoError(t, s.RevertToSnapshot(snap))

	acc, err := s.GetAccount("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acc.Balance)
	_, err = s.GetRound(7)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.Error(t, s.RevertToSnapshot(42))
}

func TestComputeRootCoversBufferAndDB(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	empty := s.ComputeRoot()

	require.NoError(t, s.SetStats(&core.Stats{TotalRounds: 1}))
	buffered := s.ComputeRoot()
	assert.NotEqual(t, empty, buffered)

	require.NoError(t, s.Commit())
	assert.Equal(t, buffered, s.ComputeRoot())

	// a second view over the same DB agrees
	assert.Equal(t, buffered, storage.NewStateDB(db).ComputeRoot())
}

func TestDiscard(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 1}))
	s.Discard()
	acc, err := s.GetAccount("a")
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)
}

func TestCommittedViewHidesBuffer(t *testing.T) {
	s := testutil.NewStateDB()
	view := s.Committed()
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 5}))

	acc, err := view.GetAccount("a")
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)

	require.NoError(t, s.Commit())
	acc, err = view.GetAccount("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), acc.Balance)
}

func TestLevelDBStateAndBlocks(t *testing.T) {
	db, err := storage.NewLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := storage.NewStateDB(db)
	require.NoError(t, s.CreateRound(&core.Round{DayID: 3, PotUnits: 9, Status: core.RoundOpen}))
	require.NoError(t, s.Commit())

	r, err := storage.NewStateDB(db).GetRound(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), r.PotUnits)

	bs := storage.NewLevelBlockStore(db)
	tip, err := bs.GetTip()
	require.NoError(t, err)
	assert.Empty(t, tip)

	b := core.NewBlock("test", 0, "", "p", 1, nil)
	b.Hash = b.ComputeHash()
	receipts := []*core.Receipt{{TxID: "tx1", Status: core.ReceiptFailed, Error: "boom"}}
	require.NoError(t, bs.CommitBlock(b, receipts))

	tip, err = bs.GetTip()
	require.NoError(t, err)
	assert.Equal(t, b.Hash, tip)

	got, err := bs.GetBlockByHeight(0)
	require.NoError(t, err)
	assert.Equal(t, b.Hash, got.Hash)

	rc, err := bs.GetReceipt("tx1")
	require.NoError(t, err)
	assert.Equal(t, "boom", rc.Error)

	_, err = bs.GetReceipt("nope")
	require.ErrorIs(t, err, core.ErrNotFound)
}
