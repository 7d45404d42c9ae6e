// Package chain is the validator's only contact with the chain client
// (§6 "Chain interface (external)"): metagraph snapshots and weight
// submission, both over the node's JSON-RPC endpoint. Request/retry
// shape is grounded on archive/explorer/indexer/internal/rpc/client.go's
// Client: a plain *http.Client, a fixed retry policy, typed JSON
// envelopes, no connection pooling beyond the default transport.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cosmossdk.io/log"

	"github.com/foresightnet/voldy/internal/domain"
	"github.com/foresightnet/voldy/internal/retry"
)

// RateLimitMessage is the chain's known non-fatal rejection string for
// weight submissions sent too soon after the last one (§6, §7 item 6).
const RateLimitMessage = "Perhaps it is too soon to commit weights"

// Client talks to the chain node's JSON-RPC endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     log.Logger
	policy     retry.Policy
	hotkey     string
}

// New builds a chain Client bound to a node RPC endpoint.
func New(endpoint, hotkey string, logger log.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		policy:     retry.DefaultChainPolicy(),
		hotkey:     hotkey,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type metagraphResult struct {
	UIDs []domain.MetagraphSnapshot `json:"uids"`
}

type snapshotResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  metagraphResult `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Snapshot calls metagraph.snapshot() and returns one row per registered
// uid (§2 component B, §3 MetagraphHistory).
func (c *Client) Snapshot(ctx context.Context) ([]domain.MetagraphSnapshot, error) {
	var out []domain.MetagraphSnapshot
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		resp, err := c.call(ctx, "metagraph.snapshot", nil)
		if err != nil {
			return err
		}
		var parsed snapshotResponse
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return retry.Permanent{Err: fmt.Errorf("decode metagraph.snapshot response: %w", err)}
		}
		if parsed.Error != nil {
			return fmt.Errorf("metagraph.snapshot: %s", parsed.Error.Message)
		}
		out = parsed.Result.UIDs
		return nil
	})
	return out, err
}

type setWeightsParams struct {
	UIDs    []uint64 `json:"uids"`
	Weights []uint64 `json:"weights"`
}

type setWeightsResult struct {
	OK      bool     `json:"ok"`
	Message string   `json:"msg"`
	UIDs    []uint64 `json:"uint_uids"`
	Weights []uint64 `json:"uint_weights"`
}

type setWeightsResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int              `json:"id"`
	Result  setWeightsResult `json:"result"`
	Error   *rpcError        `json:"error"`
}

// SetWeights calls set_weights(uids, weights) and returns the chain's
// normalized uid/weight pair alongside its ok/message verdict. A
// rate-limit rejection is returned as a normal (ok=false) result, not an
// error — callers should check IsRateLimit(msg) before escalating (§6,
// §7 item 6).
func (c *Client) SetWeights(ctx context.Context, uids, weights []uint64) (ok bool, msg string, normUIDs, normWeights []uint64, err error) {
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		resp, callErr := c.call(ctx, "set_weights", setWeightsParams{UIDs: uids, Weights: weights})
		if callErr != nil {
			return callErr
		}
		var parsed setWeightsResponse
		if decodeErr := json.Unmarshal(resp, &parsed); decodeErr != nil {
			return retry.Permanent{Err: fmt.Errorf("decode set_weights response: %w", decodeErr)}
		}
		if parsed.Error != nil {
			return fmt.Errorf("set_weights: %s", parsed.Error.Message)
		}
		ok, msg, normUIDs, normWeights = parsed.Result.OK, parsed.Result.Message, parsed.Result.UIDs, parsed.Result.Weights
		return nil
	})
	return ok, msg, normUIDs, normWeights, err
}

// IsRateLimit reports whether a set_weights message is the chain's known
// non-fatal rate-limit rejection (§6, §7 item 6).
func IsRateLimit(msg string) bool {
	return strings.Contains(msg, RateLimitMessage)
}

func (c *Client) call(ctx context.Context, method string, params interface{}) ([]byte, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, retry.Permanent{Err: fmt.Errorf("marshal rpc request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent{Err: fmt.Errorf("build rpc request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read rpc response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("rpc call %s: status %d", method, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, retry.Permanent{Err: fmt.Errorf("rpc call %s: status %d", method, resp.StatusCode)}
	}
	return buf.Bytes(), nil
}
