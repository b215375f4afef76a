package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation failed")
	ErrConfiguration      = errors.New("configuration error")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNotImplemented     = errors.New("not implemented")
	ErrTransientChain     = errors.New("transient chain error")
	ErrIntegrityFailure   = errors.New("integrity failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInternal           = errors.New("internal error")
	ErrTxReverted         = errors.New("transaction reverted")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
)

// InsufficientFundsError reports how much is missing, in human-readable units.
type InsufficientFundsError struct {
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

// Shortfall is Required minus Available.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s short by %s", e.Asset, e.Shortfall().String())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// IntegrityError carries the on-chain context of a state the off-chain system
// could not reconcile.
type IntegrityError struct {
	ChainID int64
	TxHash  string
	Detail  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure on chain %d (tx %s): %s", e.ChainID, e.TxHash, e.Detail)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityFailure }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsRetryable reports whether the failure may succeed if attempted later
// without any change of input.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientChain) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrLockHeld)
}
