package chain

import "context"

// Resilient composes the circuit breaker over the failover pool. Every
// chain call in the system goes through this wrapper.
type Resilient struct {
	pool    *Pool
	breaker *Breaker
}

// NewResilient wraps the pool with the breaker.
func NewResilient(pool *Pool, breaker *Breaker) *Resilient {
	return &Resilient{pool: pool, breaker: breaker}
}

// Breaker exposes the breaker for health snapshots.
func (r *Resilient) Breaker() *Breaker {
	return r.breaker
}

// Endpoints exposes the configured endpoint list for health snapshots.
func (r *Resilient) Endpoints() []string {
	return r.pool.Endpoints()
}

func (r *Resilient) GetBalance(ctx context.Context, address string) (int64, error) {
	var out int64
	err := r.breaker.Do(func() error {
		v, err := r.pool.GetBalance(ctx, address)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Resilient) GetTickInfo(ctx context.Context) (TickInfo, error) {
	var out TickInfo
	err := r.breaker.Do(func() error {
		v, err := r.pool.GetTickInfo(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Resilient) SubmitJoinBet(ctx context.Context, req JoinBetRequest) (string, error) {
	var out string
	err := r.breaker.Do(func() error {
		v, err := r.pool.SubmitJoinBet(ctx, req)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Resilient) SubmitPayout(ctx context.Context, req PayoutRequest) (string, error) {
	var out string
	err := r.breaker.Do(func() error {
		v, err := r.pool.SubmitPayout(ctx, req)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Resilient) GetTransactionStatus(ctx context.Context, txID string) (TxStatus, error) {
	var out TxStatus
	err := r.breaker.Do(func() error {
		v, err := r.pool.GetTransactionStatus(ctx, txID)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Compile-time interface check.
var _ Client = (*Resilient)(nil)
