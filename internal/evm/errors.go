package evm

import (
	"errors"
	"strings"
)

// IsNonceConflict reports whether a provider error means the transaction
// collided with another one from the same sender.
func IsNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce") || strings.Contains(msg, "underpriced")
}

// IsInsufficientNativeFunds reports whether the provider rejected a
// transaction because the sender cannot pay for value plus gas.
func IsInsufficientNativeFunds(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient funds")
}

// errClosed is returned by Networks lookups after Close.
var errClosed = errors.New("evm: networks closed")
