// Package trust provides the verification primitives for webverify: key
// identifiers, authors, verification outcomes, operator decisions, key
// resolution and detached OpenPGP signature checking.
package trust

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeyIDLength is the number of hex characters in a short key identifier.
const KeyIDLength = 16

var (
	// ErrMalformedKeyID is returned for identifiers that are not 16 hex characters.
	ErrMalformedKeyID = errors.New("malformed key id")
	// ErrNoSignature means the document declares no detached signature.
	ErrNoSignature = errors.New("no signature declared")
	// ErrSignatureFetch wraps transport failures while fetching a signature.
	ErrSignatureFetch = errors.New("signature fetch failed")
	// ErrKeyLookup wraps failures resolving key material for a key id.
	ErrKeyLookup = errors.New("key lookup failed")
	// ErrVerification wraps malformed signatures and cryptographic mismatches.
	ErrVerification = errors.New("verification failed")
)

// KeyID is a 16 character uppercase hex OpenPGP key identifier.
type KeyID string

// ParseKeyID validates s as a key identifier and normalizes it to uppercase.
// Values of any other length are rejected, never truncated or padded.
func ParseKeyID(s string) (KeyID, error) {
	if len(s) != KeyIDLength {
		return "", fmt.Errorf("%w: %q has length %d, want %d", ErrMalformedKeyID, s, len(s), KeyIDLength)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %q is not hex", ErrMalformedKeyID, s)
	}
	return KeyID(strings.ToUpper(s)), nil
}

// KeyIDFromUint64 formats a numeric OpenPGP key id.
func KeyIDFromUint64(id uint64) KeyID {
	return KeyID(fmt.Sprintf("%016X", id))
}

// String returns the identifier as a string.
func (k KeyID) String() string { return string(k) }

// Author identifies the holder of the key that produced a valid signature.
type Author struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Fingerprint string `json:"fingerprint"`
	KeyID       KeyID  `json:"key_id"`
}

// Decision is an operator's standing verdict on a key.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// ParseDecision parses a decision name. Matching is case-insensitive.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToUpper(s) {
	case string(DecisionApproved):
		return DecisionApproved, nil
	case string(DecisionRejected):
		return DecisionRejected, nil
	default:
		return "", fmt.Errorf("unknown decision: %q", s)
	}
}
