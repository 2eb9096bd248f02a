package chain

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/qubex-labs/qupool/internal/domain"
)

// Pool fans calls out over an ordered list of RPC endpoints. Each call
// starts at the current endpoint and falls through the list on failure;
// a successful call advances the round-robin pointer so load spreads over
// healthy endpoints.
type Pool struct {
	clients []*RPCClient
	cursor  atomic.Uint32
}

// NewPool builds a failover pool over the given endpoint URLs, each bound
// by the per-call timeout.
func NewPool(endpoints []string, timeout time.Duration) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain: at least one rpc endpoint is required")
	}

	clients := make([]*RPCClient, 0, len(endpoints))
	for _, ep := range endpoints {
		clients = append(clients, NewRPCClient(ep, timeout))
	}
	return &Pool{clients: clients}, nil
}

// Endpoints returns the configured endpoint URLs in order.
func (p *Pool) Endpoints() []string {
	out := make([]string, len(p.clients))
	for i, c := range p.clients {
		out[i] = c.BaseURL()
	}
	return out
}

// do runs fn against endpoints starting at the cursor, falling through on
// failure. When every endpoint fails, the last error is wrapped in
// domain.ErrUpstreamUnavailable.
func (p *Pool) do(ctx context.Context, fn func(c *RPCClient) error) error {
	n := len(p.clients)
	start := int(p.cursor.Load()) % n

	var lastErr error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx := (start + i) % n
		if err := fn(p.clients[idx]); err != nil {
			lastErr = err
			continue
		}

		p.cursor.Store(uint32((idx + 1) % n))
		return nil
	}

	return fmt.Errorf("chain: all %d endpoints failed: %w: %w", n, domain.ErrUpstreamUnavailable, lastErr)
}

// GetBalance implements Client over the pool.
func (p *Pool) GetBalance(ctx context.Context, address string) (int64, error) {
	var out int64
	err := p.do(ctx, func(c *RPCClient) error {
		v, err := c.GetBalance(ctx, address)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// GetTickInfo implements Client over the pool.
func (p *Pool) GetTickInfo(ctx context.Context) (TickInfo, error) {
	var out TickInfo
	err := p.do(ctx, func(c *RPCClient) error {
		v, err := c.GetTickInfo(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// SubmitJoinBet implements Client over the pool.
func (p *Pool) SubmitJoinBet(ctx context.Context, req JoinBetRequest) (string, error) {
	var out string
	err := p.do(ctx, func(c *RPCClient) error {
		v, err := c.SubmitJoinBet(ctx, req)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// SubmitPayout implements Client over the pool.
func (p *Pool) SubmitPayout(ctx context.Context, req PayoutRequest) (string, error) {
	var out string
	err := p.do(ctx, func(c *RPCClient) error {
		v, err := c.SubmitPayout(ctx, req)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// GetTransactionStatus implements Client over the pool.
func (p *Pool) GetTransactionStatus(ctx context.Context, txID string) (TxStatus, error) {
	var out TxStatus
	err := p.do(ctx, func(c *RPCClient) error {
		v, err := c.GetTransactionStatus(ctx, txID)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Compile-time interface check.
var _ Client = (*Pool)(nil)
