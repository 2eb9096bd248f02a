package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// defaultCallTimeout bounds a single RPC call when the config leaves the
// timeout unset.
const defaultCallTimeout = 10 * time.Second

// RPCClient talks to one chain RPC endpoint over JSON HTTP.
type RPCClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRPCClient creates a client for a single endpoint with a bounded
// per-call timeout.
func NewRPCClient(baseURL string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &RPCClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the endpoint this client is bound to.
func (c *RPCClient) BaseURL() string {
	return c.baseURL
}

type balanceResponse struct {
	Balance struct {
		ID      string `json:"id"`
		Balance string `json:"balance"`
	} `json:"balance"`
}

// GetBalance returns the on-chain balance of an address in qu.
func (c *RPCClient) GetBalance(ctx context.Context, address string) (int64, error) {
	body, err := c.doGet(ctx, "/v1/balances/"+url.PathEscape(address))
	if err != nil {
		return 0, fmt.Errorf("chain: get balance %s: %w", address, err)
	}

	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("chain: decode balance: %w", err)
	}

	amount, err := strconv.ParseInt(resp.Balance.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chain: parse balance %q: %w", resp.Balance.Balance, err)
	}
	return amount, nil
}

type tickInfoResponse struct {
	TickInfo TickInfo `json:"tickInfo"`
}

// GetTickInfo returns the chain's current tick and epoch.
func (c *RPCClient) GetTickInfo(ctx context.Context) (TickInfo, error) {
	body, err := c.doGet(ctx, "/v1/tick-info")
	if err != nil {
		return TickInfo{}, fmt.Errorf("chain: get tick info: %w", err)
	}

	var resp tickInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TickInfo{}, fmt.Errorf("chain: decode tick info: %w", err)
	}
	return resp.TickInfo, nil
}

type submitResponse struct {
	TxID string `json:"txId"`
}

// SubmitJoinBet submits the join-bet transaction and returns its id.
func (c *RPCClient) SubmitJoinBet(ctx context.Context, req JoinBetRequest) (string, error) {
	body, err := c.doPost(ctx, "/v1/transactions/join-bet", req)
	if err != nil {
		return "", fmt.Errorf("chain: submit join bet %s: %w", req.EscrowAddress, err)
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("chain: decode join bet response: %w", err)
	}
	if resp.TxID == "" {
		return "", fmt.Errorf("chain: join bet returned empty tx id")
	}
	return resp.TxID, nil
}

// SubmitPayout submits a payout transaction and returns its id.
func (c *RPCClient) SubmitPayout(ctx context.Context, req PayoutRequest) (string, error) {
	body, err := c.doPost(ctx, "/v1/transactions/payout", req)
	if err != nil {
		return "", fmt.Errorf("chain: submit payout to %s: %w", req.DestAddress, err)
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("chain: decode payout response: %w", err)
	}
	if resp.TxID == "" {
		return "", fmt.Errorf("chain: payout returned empty tx id")
	}
	return resp.TxID, nil
}

// GetTransactionStatus returns the confirmation state of a transaction.
func (c *RPCClient) GetTransactionStatus(ctx context.Context, txID string) (TxStatus, error) {
	body, err := c.doGet(ctx, "/v1/transactions/"+url.PathEscape(txID)+"/status")
	if err != nil {
		return TxStatus{}, fmt.Errorf("chain: get tx status %s: %w", txID, err)
	}

	var resp TxStatus
	if err := json.Unmarshal(body, &resp); err != nil {
		return TxStatus{}, fmt.Errorf("chain: decode tx status: %w", err)
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *RPCClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *RPCClient) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *RPCClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(body)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}

	return body, nil
}
