package domain

import "time"

// Attestation is one oracle reading captured at market resolution time,
// bound to the chain's tick/epoch and signed by the server key. Recomputing
// the hash and HMAC from the stored fields detects any post-hoc edit.
type Attestation struct {
	ID              string
	MarketID        string
	OracleSource    string
	Pair            string
	Price           float64
	Tick            uint64
	Epoch           uint32
	SourceTimestamp time.Time
	AttestationHash string
	ServerSignature string
	CreatedAt       time.Time
}

// SolvencyProof is an append-only snapshot proving on-chain reserves cover
// all recorded user liabilities at a given chain tick.
type SolvencyProof struct {
	ID               string
	MerkleRoot       string
	TotalUserBalance int64
	OnChainBalance   int64
	IsSolvent        bool
	AccountCount     int
	Tick             uint64
	Epoch            uint32
	CreatedAt        time.Time
}

// ProofLeaf is one (address, balance) pair snapshotted into a solvency
// proof's merkle tree. Leaves are retained so inclusion proofs can be
// served against the stored root after balances move on.
type ProofLeaf struct {
	Address   string `json:"address"`
	BalanceQu int64  `json:"balanceQu"`
}

// InclusionProof is the merkle path from one user's leaf to a stored root.
// A user can verify membership offline without trusting the server.
type InclusionProof struct {
	Address    string
	BalanceQu  int64
	LeafHash   string
	MerkleRoot string
	ProofID    string
	Path       []ProofStep
}

// ProofStep is one sibling hash on the way to the root. Left reports
// whether the sibling sits on the left of the running hash.
type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// IdempotencyRecord caches the response of a mutating request so a retried
// key within its TTL replays the original response instead of re-executing.
type IdempotencyRecord struct {
	Key        string
	StatusCode int
	Response   string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// NonceRecord is the replay guard for signed requests: a nonce is unique
// per (address, purpose).
type NonceRecord struct {
	Address   string
	Purpose   string
	Nonce     string
	CreatedAt time.Time
}
