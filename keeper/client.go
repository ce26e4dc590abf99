package keeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/internal/retry"
	"github.com/tolelom/tolarena/rpc"
)

// Client calls a node's JSON-RPC endpoint.
type Client struct {
	url   string
	token string
	http  *http.Client
	retry retry.Config
}

// NewClient returns a client for the node at url. token may be empty.
func NewClient(url, token string) *Client {
	return &Client{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
		retry: retry.DefaultConfig(),
	}
}

// IsNotFound reports whether err is the node saying a record does not exist.
func IsNotFound(err error) bool {
	var rpcErr *rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeNotFound
}

// Call invokes method and decodes the result into out. Transport failures
// are retried; JSON-RPC errors are returned as *rpc.Error.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	return retry.Do(ctx, c.retry, func() error { return c.call(ctx, method, params, out) })
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: raw})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: %w", method, &retry.StatusError{Code: resp.StatusCode})
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.Error      `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// ChainTime returns the tip height and block time.
func (c *Client) ChainTime(ctx context.Context) (rpc.ChainTime, error) {
	var ct rpc.ChainTime
	err := c.Call(ctx, "getChainTime", nil, &ct)
	return ct, err
}

// Account returns the committed account state for addr.
func (c *Client) Account(ctx context.Context, addr string) (*core.Account, error) {
	var acc core.Account
	if err := c.Call(ctx, "getAccount", map[string]string{"address": addr}, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// Config returns the arena configuration.
func (c *Client) Config(ctx context.Context) (*core.ArenaConfig, error) {
	var cfg core.ArenaConfig
	if err := c.Call(ctx, "getConfig", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Round returns the round for dayID.
func (c *Client) Round(ctx context.Context, dayID int64) (*core.Round, error) {
	var r core.Round
	if err := c.Call(ctx, "getRound", map[string]int64{"day_id": dayID}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRounds returns every day a round was opened on.
func (c *Client) ListRounds(ctx context.Context) ([]int64, error) {
	var days []int64
	err := c.Call(ctx, "listRounds", nil, &days)
	return days, err
}

// Allocation returns winner's allocation in dayID's round.
func (c *Client) Allocation(ctx context.Context, dayID int64, winner string) (*core.Allocation, error) {
	var a core.Allocation
	params := map[string]any{"day_id": dayID, "winner": winner}
	if err := c.Call(ctx, "getAllocation", params, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Receipt returns the receipt of a processed transaction.
func (c *Client) Receipt(ctx context.Context, txID string) (*core.Receipt, error) {
	var r core.Receipt
	if err := c.Call(ctx, "getReceipt", map[string]string{"tx_id": txID}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SendTx submits a signed transaction and returns its id.
func (c *Client) SendTx(ctx context.Context, tx *core.Transaction) (string, error) {
	var res rpc.SendTxResult
	if err := c.Call(ctx, "sendTx", tx, &res); err != nil {
		return "", err
	}
	return res.TxID, nil
}
