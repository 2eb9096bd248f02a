// Package chain provides resilient access to the settlement chain's RPC
// service: a JSON HTTP client, an ordered multi-endpoint failover pool, and
// a circuit breaker guarding all calls.
package chain

import "context"

// TickInfo is the chain's current tick and epoch.
type TickInfo struct {
	Tick  uint64 `json:"tick"`
	Epoch uint32 `json:"epoch"`
}

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus struct {
	TxID      string `json:"txId"`
	Confirmed bool   `json:"confirmed"`
	Tick      uint64 `json:"tick"`
}

// JoinBetRequest asks the smart contract to join a bet from an escrow
// address into the market's pool.
type JoinBetRequest struct {
	MarketID      string `json:"marketId"`
	EscrowAddress string `json:"escrowAddress"`
	Option        int    `json:"option"`
	Slots         int    `json:"slots"`
	AmountQu      int64  `json:"amountQu"`
}

// PayoutRequest asks the RPC service to pay amountQu from custody to the
// destination address. It covers winner sweeps and deposit refunds alike.
type PayoutRequest struct {
	SourceAddress string `json:"sourceAddress"`
	DestAddress   string `json:"destAddress"`
	AmountQu      int64  `json:"amountQu"`
	Reference     string `json:"reference"`
}

// Client is the chain access surface the rest of the system depends on.
// The smart contract itself is opaque; these five calls are its interface.
type Client interface {
	GetBalance(ctx context.Context, address string) (int64, error)
	GetTickInfo(ctx context.Context) (TickInfo, error)
	SubmitJoinBet(ctx context.Context, req JoinBetRequest) (txID string, err error)
	SubmitPayout(ctx context.Context, req PayoutRequest) (txID string, err error)
	GetTransactionStatus(ctx context.Context, txID string) (TxStatus, error)
}
