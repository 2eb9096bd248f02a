package domain

import "fmt"

// AddressLen is the fixed length of a chain address.
const AddressLen = 60

// ValidAddress reports whether addr is a well-formed chain address:
// exactly 60 uppercase ASCII letters.
func ValidAddress(addr string) bool {
	if len(addr) != AddressLen {
		return false
	}
	for i := 0; i < len(addr); i++ {
		if addr[i] < 'A' || addr[i] > 'Z' {
			return false
		}
	}
	return true
}

// CheckAddress returns a validation error for a malformed address. It is
// called before any state is touched.
func CheckAddress(addr string) error {
	if !ValidAddress(addr) {
		return fmt.Errorf("%w: address must be %d uppercase letters", ErrValidation, AddressLen)
	}
	return nil
}

// CheckNonce validates a client-supplied nonce for signed requests.
// Nonces must be 8-128 characters.
func CheckNonce(nonce string) error {
	if len(nonce) < 8 || len(nonce) > 128 {
		return fmt.Errorf("%w: nonce must be 8-128 characters", ErrValidation)
	}
	return nil
}
