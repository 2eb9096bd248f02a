package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubex-labs/qupool/internal/domain"
)

func TestCanonicalize_SortsKeys(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"zulu":  1,
		"alpha": "x",
		"mike":  true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"x","mike":true,"zulu":1}`, string(got))
}

func TestCanonicalize_StableAcrossKeyOrder(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	b, err := CanonicalizeJSON([]byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalize_PreservesNumbersVerbatim(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`{"amount":12345678901234567}`))
	require.NoError(t, err)
	assert.Equal(t, `{"amount":12345678901234567}`, string(got))
}

func TestCanonicalize_NestedStructures(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`{"outer": {"z": [3, 2], "a": null}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"outer":{"a":null,"z":[3,2]}}`, string(got))
}

// buildChain constructs a valid chain from the given payloads.
func buildChain(t *testing.T, payloads []string) []domain.LedgerEntry {
	t.Helper()
	entries := make([]domain.LedgerEntry, 0, len(payloads))
	prevHash := GenesisPrevHash
	for i, p := range payloads {
		seq := int64(i + 1)
		canonical, err := CanonicalizeJSON([]byte(p))
		require.NoError(t, err)
		payloadHash := PayloadHash(canonical)
		chainHash := ChainHash(prevHash, payloadHash, seq)
		entries = append(entries, domain.LedgerEntry{
			SequenceNum: seq,
			PayloadHash: payloadHash,
			PrevHash:    prevHash,
			ChainHash:   chainHash,
			PayloadJSON: p,
		})
		prevHash = chainHash
	}
	return entries
}

func chainPayloads(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(`{"seq": %d, "event": "bet_placed"}`, i+1)
	}
	return out
}

func TestVerifyChain_Intact(t *testing.T) {
	entries := buildChain(t, chainPayloads(5))
	res := VerifyChain(entries)
	assert.True(t, res.Valid)
	assert.Zero(t, res.BrokenAt)
	assert.Equal(t, 5, res.Entries)
}

func TestVerifyChain_Empty(t *testing.T) {
	res := VerifyChain(nil)
	assert.True(t, res.Valid)
	assert.Equal(t, 0, res.Entries)
}

func TestVerifyChain_TamperedPayload(t *testing.T) {
	entries := buildChain(t, chainPayloads(5))
	entries[2].PayloadJSON = `{"seq": 3, "event": "bet_placed", "amount": 999}`

	res := VerifyChain(entries)
	assert.False(t, res.Valid)
	assert.Equal(t, int64(3), res.BrokenAt)
}

func TestVerifyChain_RewrittenHash(t *testing.T) {
	entries := buildChain(t, chainPayloads(4))
	// A rewritten chain hash on entry 2 invalidates entry 2 itself; the
	// stored hash no longer matches the recomputed link.
	entries[1].ChainHash = PayloadHash([]byte("forged"))

	res := VerifyChain(entries)
	assert.False(t, res.Valid)
	assert.Equal(t, int64(2), res.BrokenAt)
}

func TestVerifyChain_SequenceGap(t *testing.T) {
	entries := buildChain(t, chainPayloads(4))
	entries = append(entries[:1], entries[2:]...)

	res := VerifyChain(entries)
	assert.False(t, res.Valid)
	assert.Equal(t, int64(3), res.BrokenAt)
}

func TestVerifyChain_KeyOrderIrrelevant(t *testing.T) {
	entries := buildChain(t, []string{`{"b": 2, "a": 1}`})
	// Reordering keys in the stored JSON is not tampering; the canonical
	// form is what got hashed.
	entries[0].PayloadJSON = `{"a": 1, "b": 2}`

	res := VerifyChain(entries)
	assert.True(t, res.Valid)
}

func TestCommitment_RoundTrip(t *testing.T) {
	h := CommitmentHash("mkt-1", 0, 5, 50_000, "nonce-abc")
	assert.Len(t, h, 64)
	assert.True(t, VerifyCommitment(h, "mkt-1", 0, 5, 50_000, "nonce-abc"))
}

func TestCommitment_DetectsChangedTerms(t *testing.T) {
	h := CommitmentHash("mkt-1", 0, 5, 50_000, "nonce-abc")
	assert.False(t, VerifyCommitment(h, "mkt-1", 1, 5, 50_000, "nonce-abc"))
	assert.False(t, VerifyCommitment(h, "mkt-1", 0, 6, 50_000, "nonce-abc"))
	assert.False(t, VerifyCommitment(h, "mkt-1", 0, 5, 50_001, "nonce-abc"))
	assert.False(t, VerifyCommitment(h, "mkt-1", 0, 5, 50_000, "other"))
}

func TestCommitment_FieldBoundariesAreUnambiguous(t *testing.T) {
	// "1|23" and "12|3" style collisions must not produce equal hashes.
	a := CommitmentHash("m", 1, 23, 100, "n")
	b := CommitmentHash("m", 12, 3, 100, "n")
	assert.NotEqual(t, a, b)
}
