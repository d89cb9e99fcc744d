// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Run lifecycle
	ErrRunNotFound     = errors.New("run not found")
	ErrRunInProgress   = errors.New("a run is already in progress")
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrShuttingDown    = errors.New("service is shutting down")

	// Provisioning
	ErrProvisioningFailed = errors.New("wallet provisioning failed")
	ErrFaucetUnavailable  = errors.New("faucet unavailable")

	// Ledger
	ErrTransactionRejected = errors.New("transaction rejected by network")
	ErrBatchRejected       = errors.New("batch transaction rejected")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrNotValidated        = errors.New("transaction not validated before expiry")
	ErrConnectionClosed    = errors.New("ledger connection closed")

	// Authorization composition
	ErrCosignFailed     = errors.New("co-signature composition failed")
	ErrSelfDelegation   = errors.New("signer must differ from transaction account")
	ErrMissingPrecursor = errors.New("required ledger object id not yet assigned")
)

// TxError reports a transaction whose final result code was not tesSUCCESS.
type TxError struct {
	TxType string
	Code   string
	Hash   string
}

func (e *TxError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("%s failed with %s (tx %s)", e.TxType, e.Code, e.Hash)
	}
	return fmt.Sprintf("%s failed with %s", e.TxType, e.Code)
}

// Is lets errors.Is(err, ErrTransactionRejected) match any TxError.
func (e *TxError) Is(target error) bool {
	return target == ErrTransactionRejected
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func New(message string) error {
	return errors.New(message)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
