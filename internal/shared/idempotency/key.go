package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidOrderID is returned for empty or malformed order identifiers.
var ErrInvalidOrderID = errors.New("idempotency: invalid order id")

const keyNamespace = "capture"

const maxOrderIDLength = 128

// KeyForOrder derives the idempotency key for a logical capture operation.
// It is a pure function of the order identifier: equal inputs always yield
// equal keys, within and across process lifetimes, so a retried or
// duplicated request maps to the same key no matter which attempt or
// process handles it. Nothing attempt-scoped (request ids, nonces,
// timestamps) may ever feed this derivation.
func KeyForOrder(orderID string) (string, error) {
	if err := ValidateOrderID(orderID); err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(orderID))
	return keyNamespace + ":" + hex.EncodeToString(sum[:]), nil
}

// ValidateOrderID rejects empty, padded, oversized, or non-printable
// identifiers with ErrInvalidOrderID.
func ValidateOrderID(orderID string) error {
	if orderID == "" || strings.TrimSpace(orderID) != orderID {
		return ErrInvalidOrderID
	}

	if len(orderID) > maxOrderIDLength {
		return ErrInvalidOrderID
	}

	for _, r := range orderID {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ErrInvalidOrderID
		}
	}

	return nil
}
