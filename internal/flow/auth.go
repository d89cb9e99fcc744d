package flow

import (
	"context"
	"fmt"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"
)

// Authorizer turns an autofilled transaction into a submittable one.
// Authorize must leave signatures already present on tx untouched, so
// running it twice on its own output changes nothing.
type Authorizer interface {
	Describe() string
	// ExtraSigners is how many signatures beyond one the fee must pay for.
	ExtraSigners() int
	Authorize(ctx context.Context, c ledger.Client, tx ledger.Transaction) (*ledger.Signed, error)
}

// Single is a plain signature by the transaction account.
type Single struct {
	Wallet *ledger.Wallet
}

func (a Single) Describe() string  { return "single signature" }
func (a Single) ExtraSigners() int { return 0 }

func (a Single) Authorize(ctx context.Context, c ledger.Client, tx ledger.Transaction) (*ledger.Signed, error) {
	if a.Wallet == nil {
		return nil, errors.New("no signing wallet")
	}
	if tx.Account() != a.Wallet.Address {
		return nil, fmt.Errorf("wallet %s cannot sign for %s", a.Wallet.Address, tx.Account())
	}
	if hasPrimarySignature(tx) {
		return asSigned(tx), nil
	}
	return c.Sign(ctx, tx, a.Wallet)
}

// CounterpartyCosign has the account sign first and the counterparty add
// CounterpartySignature over the signed payload.
type CounterpartyCosign struct {
	Initiator    *ledger.Wallet
	Counterparty *ledger.Wallet
}

func (a CounterpartyCosign) Describe() string  { return "counterparty co-signature" }
func (a CounterpartyCosign) ExtraSigners() int { return 1 }

func (a CounterpartyCosign) Authorize(ctx context.Context, c ledger.Client, tx ledger.Transaction) (*ledger.Signed, error) {
	if a.Initiator == nil || a.Counterparty == nil {
		return nil, cosignError("initiator and counterparty wallets are required")
	}
	if tx.Account() != a.Initiator.Address {
		return nil, cosignError("initiator %s is not the transaction account %s", a.Initiator.Address, tx.Account())
	}
	if err := checkCounterparty(tx, a.Counterparty); err != nil {
		return nil, err
	}

	signed := asSigned(tx)
	if !hasPrimarySignature(tx) {
		var err error
		signed, err = c.Sign(ctx, tx, a.Initiator)
		if err != nil {
			return nil, fmt.Errorf("%w: initiator signature: %w", errors.ErrCosignFailed, err)
		}
	}
	return addCounterparty(ctx, c, signed, a.Counterparty)
}

// DelegatedCosign authorizes through the account's signer list: a delegate
// multi-signs, then the counterparty co-signs the assembled payload.
type DelegatedCosign struct {
	Delegate     *ledger.Wallet
	Counterparty *ledger.Wallet
}

func (a DelegatedCosign) Describe() string {
	return "delegated multi-signature + counterparty co-signature"
}

// ExtraSigners counts the delegate and the counterparty: LoanSet charges one
// base fee per counterparty signature on top of the multi-signature scaling.
func (a DelegatedCosign) ExtraSigners() int { return 2 }

func (a DelegatedCosign) Authorize(ctx context.Context, c ledger.Client, tx ledger.Transaction) (*ledger.Signed, error) {
	if a.Delegate == nil || a.Counterparty == nil {
		return nil, cosignError("delegate and counterparty wallets are required")
	}
	if a.Delegate.Address == tx.Account() {
		return nil, fmt.Errorf("%w: delegate %s: %w", errors.ErrCosignFailed, a.Delegate.Address, errors.ErrSelfDelegation)
	}
	if a.Delegate.Address == a.Counterparty.Address {
		return nil, cosignError("delegate and counterparty are the same account %s", a.Delegate.Address)
	}
	if err := checkCounterparty(tx, a.Counterparty); err != nil {
		return nil, err
	}
	if hasPrimarySignature(tx) {
		return nil, cosignError("%s already carries a single signature", tx.Type())
	}

	signed := asSigned(tx)
	if len(ledger.Signers(tx)) == 0 {
		unsigned := tx.Clone()
		unsigned["SigningPubKey"] = ""
		multi, err := c.SignFor(ctx, unsigned, a.Delegate)
		if err != nil {
			return nil, fmt.Errorf("%w: delegate signature: %w", errors.ErrCosignFailed, err)
		}
		combined, err := ledger.CombineSigners(unsigned, multi.Tx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrCosignFailed, err)
		}
		signed = &ledger.Signed{Tx: combined, Hash: multi.Hash}
	}
	return addCounterparty(ctx, c, signed, a.Counterparty)
}

func addCounterparty(ctx context.Context, c ledger.Client, s *ledger.Signed, w *ledger.Wallet) (*ledger.Signed, error) {
	if _, ok := ledger.CounterpartySigner(s.Tx); ok {
		return s, nil
	}
	out, err := c.SignCounterparty(ctx, s.Tx, w)
	if err != nil {
		return nil, fmt.Errorf("%w: counterparty signature: %w", errors.ErrCosignFailed, err)
	}
	return out, nil
}

func checkCounterparty(tx ledger.Transaction, w *ledger.Wallet) error {
	if w.Address == tx.Account() {
		return fmt.Errorf("%w: counterparty %s: %w", errors.ErrCosignFailed, w.Address, errors.ErrSelfDelegation)
	}
	if named := tx.Field("Counterparty"); named != "" && named != w.Address {
		return cosignError("transaction names counterparty %s, not %s", named, w.Address)
	}
	return nil
}

func hasPrimarySignature(tx ledger.Transaction) bool {
	return tx.Field("TxnSignature") != ""
}

func asSigned(tx ledger.Transaction) *ledger.Signed {
	return &ledger.Signed{Tx: tx, Hash: tx.Field("hash")}
}

func cosignError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errors.ErrCosignFailed, fmt.Sprintf(format, args...))
}
