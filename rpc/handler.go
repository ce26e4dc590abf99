package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/indexer"
	"github.com/tolelom/tolarena/vm/modules/arena"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State // committed view; never written
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
	clock   clockwork.Clock
	methods map[string]func(Request) Response
}

// NewHandler creates an RPC Handler. state must be a read-only view of
// committed state.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string, clock clockwork.Clock) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID, clock: clock}
	h.methods = map[string]func(Request) Response{
		"getBlockHeight":         func(req Request) Response { return okResponse(req.ID, h.bc.Height()) },
		"getChainTime":           h.getChainTime,
		"getBlock":               h.getBlock,
		"getReceipt":             h.getReceipt,
		"getBalance":             h.getBalance,
		"getAccount":             h.getAccount,
		"getConfig":              h.getConfig,
		"getStats":               h.getStats,
		"getRound":               h.getRound,
		"getEntry":               h.getEntry,
		"getAllocation":          h.getAllocation,
		"getPriceFeed":           h.getPriceFeed,
		"getTicketPrice":         h.getTicketPrice,
		"getVaults":              h.getVaults,
		"getRoundsByPlayer":      h.getRoundsByPlayer,
		"getAllocationsByWinner": h.getAllocationsByWinner,
		"listRounds":             h.listRounds,
		"sendTx":                 h.sendTx,
		"getMempoolSize":         func(req Request) Response { return okResponse(req.ID, h.mempool.Size()) },
	}
	return h
}

// Has reports whether method is served.
func (h *Handler) Has(method string) bool {
	_, ok := h.methods[method]
	return ok
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	fn, ok := h.methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	return fn(req)
}

// bind decodes params into v. Missing params decode as an empty object.
func bind(req Request, v any) error {
	raw := bytes.TrimSpace(req.Params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}

// result turns a lookup into a response, mapping missing records to
// CodeNotFound.
func result(req Request, v any, err error) Response {
	switch {
	case err == nil:
		return okResponse(req.ID, v)
	case errors.Is(err, core.ErrNotFound), errors.Is(err, arena.ErrNotInitialized):
		return errResponse(req.ID, CodeNotFound, err.Error())
	default:
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
}

func invalid(req Request, err error) Response {
	return errResponse(req.ID, CodeInvalidParams, err.Error())
}

func (h *Handler) getChainTime(req Request) Response {
	tip := h.bc.Tip()
	if tip == nil {
		return errResponse(req.ID, CodeNotFound, "chain has no blocks")
	}
	unix := tip.Header.UnixSeconds()
	return okResponse(req.ID, ChainTime{Height: tip.Header.Height, Unix: unix, DayID: core.DayID(unix)})
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}

	var block *core.Block
	var err error
	switch {
	case params.Hash != "":
		block, err = h.bc.GetBlock(params.Hash)
	case params.Height != nil:
		block, err = h.bc.GetBlockByHeight(*params.Height)
	default:
		block = h.bc.Tip()
		if block == nil {
			err = core.ErrNotFound
		}
	}
	return result(req, block, err)
}

func (h *Handler) getReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	if params.TxID == "" {
		return invalid(req, errors.New("tx_id is required"))
	}
	r, err := h.bc.GetReceipt(params.TxID)
	return result(req, r, err)
}

type addressParams struct {
	Address string `json:"address"`
}

func (h *Handler) getBalance(req Request) Response {
	var params addressParams
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	if params.Address == "" {
		return invalid(req, errors.New("address is required"))
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return result(req, nil, err)
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance})
}

func (h *Handler) getAccount(req Request) Response {
	var params addressParams
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	if params.Address == "" {
		return invalid(req, errors.New("address is required"))
	}
	acc, err := h.state.GetAccount(params.Address)
	return result(req, acc, err)
}

func (h *Handler) getConfig(req Request) Response {
	cfg, err := h.state.GetConfig()
	if errors.Is(err, core.ErrNotFound) {
		err = arena.ErrNotInitialized
	}
	return result(req, cfg, err)
}

func (h *Handler) getStats(req Request) Response {
	st, err := h.state.GetStats()
	return result(req, st, err)
}

type dayParams struct {
	DayID int64 `json:"day_id"`
}

func (h *Handler) getRound(req Request) Response {
	var params dayParams
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	r, err := h.state.GetRound(params.DayID)
	if err != nil {
		return result(req, nil, err)
	}
	return okResponse(req.ID, RoundView{Round: r, Unallocated: arena.Unallocated(r)})
}

func (h *Handler) getEntry(req Request) Response {
	var params struct {
		DayID  int64  `json:"day_id"`
		Player string `json:"player"`
	}
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	if params.Player == "" {
		return invalid(req, errors.New("player is required"))
	}
	e, err := h.state.GetEntry(params.DayID, params.Player)
	return result(req, e, err)
}

func (h *Handler) getAllocation(req Request) Response {
	var params struct {
		DayID  int64  `json:"day_id"`
		Winner string `json:"winner"`
	}
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	if params.Winner == "" {
		return invalid(req, errors.New("winner is required"))
	}
	a, err := h.state.GetAllocation(params.DayID, params.Winner)
	return result(req, a, err)
}

func (h *Handler) getPriceFeed(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	if params.ID == "" {
		return invalid(req, errors.New("id is required"))
	}
	f, err := h.state.GetPriceFeed(params.ID)
	return result(req, f, err)
}

// getTicketPrice quotes the minimum join payment against the node's clock.
func (h *Handler) getTicketPrice(req Request) Response {
	units, err := arena.MinimumTicket(h.state, h.clock.Now().Unix())
	if err != nil && arena.Classify(err) == arena.KindExternal {
		return errResponse(req.ID, CodeNotFound, err.Error())
	}
	return result(req, map[string]uint64{"min_ticket_units": units}, err)
}

func (h *Handler) getVaults(req Request) Response {
	var params struct {
		DayID *int64 `json:"day_id"`
	}
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	var day int64
	if params.DayID != nil {
		day = *params.DayID
	}
	v, err := arena.DeriveVaults(day, params.DayID != nil)
	if err != nil {
		return result(req, nil, err)
	}
	labels := map[string]string{}
	for _, addr := range []string{v.Config, v.BuybackA, v.BuybackB, v.Round, v.RoundVault} {
		if addr != "" {
			labels[addr] = crypto.ShortID(addr)
		}
	}
	return okResponse(req.ID, VaultsView{Vaults: v, Labels: labels})
}

func (h *Handler) getRoundsByPlayer(req Request) Response {
	var params struct {
		Player string `json:"player"`
	}
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	if params.Player == "" {
		return invalid(req, errors.New("player is required"))
	}
	days, err := h.indexer.GetRoundsByPlayer(params.Player)
	return result(req, nonNil(days), err)
}

func (h *Handler) getAllocationsByWinner(req Request) Response {
	var params struct {
		Winner string `json:"winner"`
	}
	if err := bind(req, &params); err != nil {
		return invalid(req, err)
	}
	if params.Winner == "" {
		return invalid(req, errors.New("winner is required"))
	}
	days, err := h.indexer.GetAllocationsByWinner(params.Winner)
	return result(req, nonNil(days), err)
}

func (h *Handler) listRounds(req Request) Response {
	days, err := h.indexer.ListRounds()
	return result(req, nonNil(days), err)
}

func nonNil(days []int64) []int64 {
	if days == nil {
		return []int64{}
	}
	return days
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return invalid(req, err)
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay.
	if tx.ChainID != h.chainID {
		return invalid(req, fmt.Errorf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeTxRejected, err.Error())
	}
	return okResponse(req.ID, SendTxResult{TxID: tx.ID})
}
