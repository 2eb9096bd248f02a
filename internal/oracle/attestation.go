package oracle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/qubex-labs/qupool/internal/domain"
)

// Signer produces and verifies HMAC-signed attestations with the server
// key. The key never leaves the process; verification recomputes both the
// hash and the signature from stored fields.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer with the given server key.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// AttestationHash hashes the canonical concatenation of an attestation's
// fields. Any post-hoc edit to a stored field changes the hash.
func AttestationHash(source, pair string, price float64, tick uint64, epoch uint32, sourceTimestamp time.Time) string {
	h := sha3.New256()
	h.Write([]byte(source))
	h.Write([]byte{'|'})
	h.Write([]byte(pair))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatFloat(price, 'f', -1, 64)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatUint(tick, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatUint(uint64(epoch), 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(sourceTimestamp.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign computes the server signature over an attestation hash:
// base64(HMAC-SHA256(key, hash)).
func (s *Signer) Sign(attestationHash string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(attestationHash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Attest builds a signed attestation from a reading and the chain
// position it was taken at.
func (s *Signer) Attest(id, marketID string, reading Reading, tick uint64, epoch uint32) domain.Attestation {
	hash := AttestationHash(reading.Source, reading.Pair, reading.Price, tick, epoch, reading.Timestamp)
	return domain.Attestation{
		ID:              id,
		MarketID:        marketID,
		OracleSource:    reading.Source,
		Pair:            reading.Pair,
		Price:           reading.Price,
		Tick:            tick,
		Epoch:           epoch,
		SourceTimestamp: reading.Timestamp,
		AttestationHash: hash,
		ServerSignature: s.Sign(hash),
	}
}

// VerifyResult reports which parts of a stored attestation still match
// what its fields produce.
type VerifyResult struct {
	HashValid bool `json:"hashValid"`
	SigValid  bool `json:"sigValid"`
}

// Verify recomputes the hash from stored fields and the HMAC from the
// recomputed hash, comparing both against the stored values.
func (s *Signer) Verify(a domain.Attestation) VerifyResult {
	hash := AttestationHash(a.OracleSource, a.Pair, a.Price, a.Tick, a.Epoch, a.SourceTimestamp)
	hashValid := hash == a.AttestationHash

	expected := s.Sign(hash)
	sigValid := hmac.Equal([]byte(expected), []byte(a.ServerSignature))

	return VerifyResult{HashValid: hashValid, SigValid: sigValid && hashValid}
}
