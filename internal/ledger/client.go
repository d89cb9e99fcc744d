// Package ledger defines how the lending flow talks to an XRP Ledger network.
// Signing, encoding and consensus stay on the server side; this package only
// describes the calls and the shapes that come back.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// ResultSuccess is the only transaction result treated as success.
const ResultSuccess = "tesSUCCESS"

// Wallet is a funded identity. Seed is the signing secret.
type Wallet struct {
	Address   string `json:"address"`
	Seed      string `json:"-"`
	PublicKey string `json:"public_key,omitempty"`
}

// FundedWallet is what a faucet hands back.
type FundedWallet struct {
	Wallet
	Balance decimal.Decimal `json:"balance"`
}

// AutofillOptions tunes fee calculation. Signers is the number of signatures
// beyond a single primary signature (multi-signers, counterparty signatures).
type AutofillOptions struct {
	Signers int
}

// Signed is a transaction after one or more signing passes.
type Signed struct {
	Tx   Transaction
	Blob string
	Hash string
}

// TxResult is the validated outcome of a submission.
type TxResult struct {
	Hash          string
	Code          string
	Validated     bool
	LedgerIndex   uint32
	Fee           string
	AffectedNodes []AffectedNode
	Tx            Transaction
}

func (r *TxResult) Succeeded() bool {
	return r != nil && r.Code == ResultSuccess
}

// AccountInfo is the subset of account_info the flow displays.
type AccountInfo struct {
	Address    string
	Balance    decimal.Decimal
	Sequence   uint32
	OwnerCount uint32
	Flags      uint32
}

// XRP converts the drops balance to XRP.
func (a *AccountInfo) XRP() decimal.Decimal {
	return DropsToXRP(a.Balance)
}

// TrustLine is one account_lines entry seen from the queried account.
type TrustLine struct {
	Peer     string
	Currency string
	Balance  decimal.Decimal
	Limit    decimal.Decimal
}

// Client is the external ledger collaborator.
type Client interface {
	Autofill(ctx context.Context, tx Transaction, opts AutofillOptions) (Transaction, error)
	Sign(ctx context.Context, tx Transaction, w *Wallet) (*Signed, error)
	SignFor(ctx context.Context, tx Transaction, w *Wallet) (*Signed, error)
	SignCounterparty(ctx context.Context, tx Transaction, w *Wallet) (*Signed, error)
	Submit(ctx context.Context, signed *Signed) (*TxResult, error)
	LedgerEntry(ctx context.Context, index string) (Entry, error)
	AccountInfo(ctx context.Context, address string) (*AccountInfo, error)
	AccountLines(ctx context.Context, address string) ([]TrustLine, error)
	Close() error
}

// Faucet hands out funded test identities.
type Faucet interface {
	Fund(ctx context.Context) (*FundedWallet, error)
}
