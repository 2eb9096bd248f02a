package ledger

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/sha3"

	"github.com/qubex-labs/qupool/internal/domain"
)

// GenesisPrevHash is the fixed prevHash of the first ledger entry.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// PayloadHash hashes a canonical payload encoding.
func PayloadHash(canonical []byte) string {
	sum := sha3.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// ChainHash links an entry to its predecessor:
// H(prevHash || payloadHash || sequenceNum).
func ChainHash(prevHash, payloadHash string, seq int64) string {
	h := sha3.New256()
	h.Write([]byte(prevHash))
	h.Write([]byte(payloadHash))
	h.Write([]byte(strconv.FormatInt(seq, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyResult reports the outcome of a full-chain replay. When the chain
// is intact Valid is true and BrokenAt is zero; otherwise BrokenAt is the
// first sequence number whose recomputed hashes mismatch the stored ones.
type VerifyResult struct {
	Valid    bool  `json:"valid"`
	BrokenAt int64 `json:"brokenAt,omitempty"`
	Entries  int   `json:"entries"`
}

// VerifyChain replays entries from genesis, recomputing every payload and
// chain hash. Entries must be ordered by ascending sequence number and
// start at the genesis entry. A gap in sequence numbers, an altered
// payload, or a rewritten hash all break the chain at that entry.
func VerifyChain(entries []domain.LedgerEntry) VerifyResult {
	prevHash := GenesisPrevHash
	prevSeq := int64(0)

	for _, e := range entries {
		if e.SequenceNum != prevSeq+1 {
			return VerifyResult{Valid: false, BrokenAt: e.SequenceNum, Entries: len(entries)}
		}

		canonical, err := CanonicalizeJSON([]byte(e.PayloadJSON))
		if err != nil {
			return VerifyResult{Valid: false, BrokenAt: e.SequenceNum, Entries: len(entries)}
		}

		payloadHash := PayloadHash(canonical)
		chainHash := ChainHash(prevHash, payloadHash, e.SequenceNum)

		if payloadHash != e.PayloadHash || e.PrevHash != prevHash || chainHash != e.ChainHash {
			return VerifyResult{Valid: false, BrokenAt: e.SequenceNum, Entries: len(entries)}
		}

		prevHash = chainHash
		prevSeq = e.SequenceNum
	}

	return VerifyResult{Valid: true, Entries: len(entries)}
}
