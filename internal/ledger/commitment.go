package ledger

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// CommitmentHash binds a bet's terms to a secret nonce before the market
// outcome is known: H(marketId || option || slots || amountQu || nonce).
// Revealing the nonce later lets any third party recompute the hash and
// confirm the terms were fixed prior to resolution.
func CommitmentHash(marketID string, option, slots int, amountQu int64, nonce string) string {
	h := sha3.New256()
	h.Write([]byte(marketID))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(option)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(slots)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(amountQu, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(nonce))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyCommitment recomputes the commitment from revealed terms and
// compares it against the stored hash.
func VerifyCommitment(stored, marketID string, option, slots int, amountQu int64, nonce string) bool {
	return stored == CommitmentHash(marketID, option, slots, amountQu, nonce)
}
