package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolarena/config"
	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/indexer"
	"github.com/tolelom/tolarena/internal/testutil"
	"github.com/tolelom/tolarena/vm/modules/arena"
	"github.com/tolelom/tolarena/wallet"
)

const chainID = "rpc-test"

type fixture struct {
	handler *Handler
	mempool *core.Mempool
	emitter *events.Emitter
	clock   *clockwork.FakeClock
	player  *wallet.Wallet
	day     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	db := testutil.NewMemDB()
	state := testutil.NewStateDB()
	player, err := wallet.Generate(chainID, wallet.WithClock(clock))
	require.NoError(t, err)
	now := clock.Now().Unix()
	day := core.DayID(now)

	require.NoError(t, state.SetAccount(&core.Account{Address: player.PubKey(), Balance: 500, Nonce: 2}))
	require.NoError(t, state.CreateConfig(&core.ArenaConfig{Authority: player.PubKey(), PricePublisher: player.PubKey(), PriceFeedID: "SOL/USD", MinTicketUnits: 10}))
	require.NoError(t, state.SetStats(&core.Stats{TotalRounds: 1}))
	require.NoError(t, state.SetPriceFeed(&core.PriceFeed{ID: "SOL/USD", Publisher: player.PubKey(), Price: 50_000, PublishTime: now}))
	require.NoError(t, state.CreateRound(&core.Round{DayID: day, Status: core.RoundFinalized, PrizePool: 100, AllocatedUnits: 40}))

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Genesis.ChainID = chainID
	cfg.Genesis.Timestamp = now
	genesis, err := config.CreateGenesisBlock(cfg, state, priv)
	require.NoError(t, err)
	bc := core.NewBlockchain(testutil.NewBlockStore())
	require.NoError(t, bc.AddBlock(genesis, nil))

	emitter := events.NewEmitter(testutil.NewLogger())
	idx := indexer.New(db, emitter, testutil.NewLogger())
	mempool := core.NewMempool(chainID, clock)
	return &fixture{
		handler: NewHandler(bc, mempool, state.Committed(), idx, chainID, clock),
		mempool: mempool,
		emitter: emitter,
		clock:   clock,
		player:  player,
		day:     day,
	}
}

func call(t *testing.T, h *Handler, method string, params any) (json.RawMessage, *Error) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
	if resp.Error != nil {
		return nil, resp.Error
	}
	out, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	return out, nil
}

func TestReadMethods(t *testing.T) {
	f := newFixture(t)

	out, rpcErr := call(t, f.handler, "getBlockHeight", nil)
	require.Nil(t, rpcErr)
	assert.JSONEq(t, `0`, string(out))

	out, rpcErr = call(t, f.handler, "getChainTime", nil)
	require.Nil(t, rpcErr)
	var ct ChainTime
	require.NoError(t, json.Unmarshal(out, &ct))
	assert.Equal(t, f.day, ct.DayID)

	out, rpcErr = call(t, f.handler, "getAccount", map[string]string{"address": f.player.PubKey()})
	require.Nil(t, rpcErr)
	var acc core.Account
	require.NoError(t, json.Unmarshal(out, &acc))
	assert.Equal(t, uint64(500), acc.Balance)
	assert.Equal(t, uint64(2), acc.Nonce)

	out, rpcErr = call(t, f.handler, "getRound", map[string]int64{"day_id": f.day})
	require.Nil(t, rpcErr)
	var round struct {
		Status      core.RoundStatus `json:"status"`
		Unallocated uint64           `json:"unallocated"`
	}
	require.NoError(t, json.Unmarshal(out, &round))
	assert.Equal(t, core.RoundFinalized, round.Status)
	assert.Equal(t, uint64(60), round.Unallocated)

	out, rpcErr = call(t, f.handler, "getStats", nil)
	require.Nil(t, rpcErr)
	assert.Contains(t, string(out), `"total_rounds":1`)

	out, rpcErr = call(t, f.handler, "getTicketPrice", nil)
	require.Nil(t, rpcErr)
	assert.JSONEq(t, `{"min_ticket_units":100000}`, string(out))
}

func TestMissingRecordsAreNotFound(t *testing.T) {
	f := newFixture(t)

	_, rpcErr := call(t, f.handler, "getRound", map[string]int64{"day_id": f.day + 1})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)

	_, rpcErr = call(t, f.handler, "getAllocation", map[string]any{"day_id": f.day, "winner": "nobody"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)

	_, rpcErr = call(t, f.handler, "getEntry", map[string]any{"day_id": f.day})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)

	_, rpcErr = call(t, f.handler, "getRound", map[string]any{"day": 1})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)

	_, rpcErr = call(t, f.handler, "nope", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)

	f.clock.Advance(time.Hour)
	_, rpcErr = call(t, f.handler, "getTicketPrice", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)
}

func TestGetVaultsMatchesDerivation(t *testing.T) {
	f := newFixture(t)
	out, rpcErr := call(t, f.handler, "getVaults", map[string]int64{"day_id": f.day})
	require.Nil(t, rpcErr)

	var view VaultsView
	require.NoError(t, json.Unmarshal(out, &view))
	want, err := arena.DeriveVaults(f.day, true)
	require.NoError(t, err)
	assert.Equal(t, want, view.Vaults)
	assert.Len(t, view.Labels, 5)
	assert.Equal(t, crypto.ShortID(want.RoundVault), view.Labels[want.RoundVault])

	out, rpcErr = call(t, f.handler, "getVaults", nil)
	require.Nil(t, rpcErr)
	var global VaultsView
	require.NoError(t, json.Unmarshal(out, &global))
	assert.Empty(t, global.Vaults.RoundVault)
	assert.Equal(t, want.BuybackA, global.Vaults.BuybackA)
	assert.NotContains(t, global.Labels, want.RoundVault)
}

func TestIndexerMethods(t *testing.T) {
	f := newFixture(t)
	f.emitter.Emit(events.Event{Type: events.EventRoundOpened, Data: map[string]any{"day_id": f.day}})
	f.emitter.Emit(events.Event{Type: events.EventTicketBought, Data: map[string]any{"day_id": f.day, "player": "p1"}})

	out, rpcErr := call(t, f.handler, "getRoundsByPlayer", map[string]string{"player": "p1"})
	require.Nil(t, rpcErr)
	var days []int64
	require.NoError(t, json.Unmarshal(out, &days))
	assert.Equal(t, []int64{f.day}, days)

	out, rpcErr = call(t, f.handler, "getAllocationsByWinner", map[string]string{"winner": "p1"})
	require.Nil(t, rpcErr)
	assert.JSONEq(t, `[]`, string(out))

	out, rpcErr = call(t, f.handler, "listRounds", nil)
	require.Nil(t, rpcErr)
	assert.JSONEq(t, `[`+jsonInt(f.day)+`]`, string(out))
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestSendTx(t *testing.T) {
	f := newFixture(t)
	tx, err := f.player.Join(100_000, 2)
	require.NoError(t, err)

	out, rpcErr := call(t, f.handler, "sendTx", tx)
	require.Nil(t, rpcErr)
	assert.JSONEq(t, `{"tx_id":"`+tx.ID+`"}`, string(out))
	assert.Equal(t, 1, f.mempool.Size())

	_, rpcErr = call(t, f.handler, "sendTx", tx)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeTxRejected, rpcErr.Code)

	foreign, err := wallet.New(f.player.PrivKey(), "other").Join(1, 2)
	require.NoError(t, err)
	_, rpcErr = call(t, f.handler, "sendTx", foreign)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func post(t *testing.T, url, token, body string) (*http.Response, Response) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out Response
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp, out
}

func TestServerAuthAndRateLimit(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(":0", f.handler, Options{AuthToken: "s3cret", RateLimit: 1, Burst: 1, Metrics: true}, testutil.NewLogger())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, out := post(t, ts.URL, "", `{"jsonrpc":"2.0","id":1,"method":"getBlockHeight"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeUnauthorized, out.Error.Code)

	resp, out = post(t, ts.URL, "s3cret", `{"jsonrpc":"2.0","id":1,"method":"getBlockHeight"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, out.Error)

	_, out = post(t, ts.URL, "s3cret", `{"jsonrpc":"1.0","id":1,"method":"getBlockHeight"}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeInvalidRequest, out.Error.Code)

	_, out = post(t, ts.URL, "s3cret", `{not json`)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeParseError, out.Error.Code)

	// The first sendTx spends the only token; the bad payload is still
	// rejected by the handler, not the limiter.
	_, out = post(t, ts.URL, "s3cret", `{"jsonrpc":"2.0","id":1,"method":"sendTx","params":{}}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeInvalidParams, out.Error.Code)

	resp, out = post(t, ts.URL, "s3cret", `{"jsonrpc":"2.0","id":2,"method":"sendTx","params":{}}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeRateLimited, out.Error.Code)

	f.clock.Advance(2 * time.Second)
	resp, _ = post(t, ts.URL, "s3cret", `{"jsonrpc":"2.0","id":3,"method":"sendTx","params":{}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(NewServer(":0", f.handler, Options{Metrics: true}, testutil.NewLogger()).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","height":0}`, string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "tolarena_http_requests_total")
}

func TestRateLimiterPerIP(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(1, 2, clock)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	clock.Advance(time.Second)
	assert.True(t, rl.Allow("a"))

	unlimited := NewRateLimiter(0, 0, clock)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("a"))
	}
}
