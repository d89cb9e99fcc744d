package lending

import (
	"loanflow/internal/ledger"

	"github.com/shopspring/decimal"
)

// trustLimit is the limit every holder sets on the issuer's token.
var trustLimit = decimal.NewFromInt(1_000_000_000)

// Builder produces unsigned transactions in the run's token.
type Builder struct {
	params Params
	issuer string
}

func NewBuilder(p Params, issuer string) *Builder {
	return &Builder{params: p, issuer: issuer}
}

func (b *Builder) Params() Params {
	return b.params
}

func (b *Builder) Amount(v decimal.Decimal) map[string]interface{} {
	return ledger.IssuedAmount(b.params.Currency, b.issuer, v)
}

func (b *Builder) Asset() map[string]interface{} {
	return ledger.IssuedAsset(b.params.Currency, b.issuer)
}

func (b *Builder) EnableRippling() ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxAccountSet,
		"Account":         b.issuer,
		"SetFlag":         ledger.AsfDefaultRipple,
	}
}

func (b *Builder) TrustLine(holder string) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxTrustSet,
		"Account":         holder,
		"LimitAmount":     b.Amount(trustLimit),
	}
}

// Issue is a payment of newly issued tokens from the issuer.
func (b *Builder) Issue(to string, v decimal.Decimal) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxPayment,
		"Account":         b.issuer,
		"Destination":     to,
		"Amount":          b.Amount(v),
	}
}

// Batch wraps payments from one account into an all-or-nothing Batch. Inner
// transactions carry no fee or signature of their own.
func (b *Builder) Batch(inner ...ledger.Transaction) ledger.Transaction {
	raw := make([]interface{}, 0, len(inner))
	account := ""
	for _, tx := range inner {
		in := tx.Clone()
		in["Flags"] = in.Flags() | ledger.TfInnerBatchTxn
		in["Fee"] = "0"
		in["SigningPubKey"] = ""
		raw = append(raw, map[string]interface{}{"RawTransaction": map[string]interface{}(in)})
		if account == "" {
			account = in.Account()
		}
	}
	return ledger.Transaction{
		"TransactionType": ledger.TxBatch,
		"Account":         account,
		"Flags":           ledger.TfAllOrNothing,
		"RawTransactions": raw,
	}
}

func (b *Builder) VaultCreate(owner string) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxVaultCreate,
		"Account":         owner,
		"Asset":           b.Asset(),
	}
}

func (b *Builder) VaultDeposit(depositor, vaultID string, v decimal.Decimal) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxVaultDeposit,
		"Account":         depositor,
		"VaultID":         vaultID,
		"Amount":          b.Amount(v),
	}
}

func (b *Builder) VaultWithdraw(holder, vaultID string, v decimal.Decimal) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxVaultWithdraw,
		"Account":         holder,
		"VaultID":         vaultID,
		"Amount":          b.Amount(v),
	}
}

func (b *Builder) VaultDelete(owner, vaultID string) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxVaultDelete,
		"Account":         owner,
		"VaultID":         vaultID,
	}
}

func (b *Builder) LoanBrokerSet(owner, vaultID string) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType":      ledger.TxLoanBrokerSet,
		"Account":              owner,
		"VaultID":              vaultID,
		"CoverRateMinimum":     uint32(b.params.CoverRateMinimum),
		"CoverRateLiquidation": uint32(b.params.CoverRateMinimum),
		"ManagementFeeRate":    uint32(0),
	}
}

func (b *Builder) CoverDeposit(owner, brokerID string, v decimal.Decimal) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxLoanBrokerCoverDeposit,
		"Account":         owner,
		"LoanBrokerID":    brokerID,
		"Amount":          b.Amount(v),
	}
}

func (b *Builder) CoverWithdraw(owner, brokerID string, v decimal.Decimal) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxLoanBrokerCoverWithdraw,
		"Account":         owner,
		"LoanBrokerID":    brokerID,
		"Amount":          b.Amount(v),
	}
}

func (b *Builder) LoanBrokerDelete(owner, brokerID string) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxLoanBrokerDelete,
		"Account":         owner,
		"LoanBrokerID":    brokerID,
	}
}

// LoanSet is submitted by the broker and must also be signed by borrower.
func (b *Builder) LoanSet(broker, brokerID, borrower string) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType":    ledger.TxLoanSet,
		"Account":            broker,
		"LoanBrokerID":       brokerID,
		"Counterparty":       borrower,
		"PrincipalRequested": b.params.Principal.String(),
		"InterestRate":       b.params.InterestRate(),
		"PaymentTotal":       uint32(b.params.PaymentTotal),
		"PaymentInterval":    uint32(b.params.PaymentInterval),
		"GracePeriod":        uint32(b.params.GracePeriod),
	}
}

func (b *Builder) LoanPay(borrower, loanID string, v decimal.Decimal, flags uint32) ledger.Transaction {
	tx := ledger.Transaction{
		"TransactionType": ledger.TxLoanPay,
		"Account":         borrower,
		"LoanID":          loanID,
		"Amount":          b.Amount(v),
	}
	if flags != 0 {
		tx["Flags"] = flags
	}
	return tx
}

func (b *Builder) LoanManage(broker, loanID string, flag uint32) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxLoanManage,
		"Account":         broker,
		"LoanID":          loanID,
		"Flags":           flag,
	}
}

func (b *Builder) LoanDelete(account, loanID string) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxLoanDelete,
		"Account":         account,
		"LoanID":          loanID,
	}
}

// SignerList installs delegates as multi-signers of account, each with
// weight one.
func (b *Builder) SignerList(account string, quorum uint32, delegates ...string) ledger.Transaction {
	entries := make([]interface{}, 0, len(delegates))
	for _, d := range delegates {
		entries = append(entries, map[string]interface{}{
			"SignerEntry": map[string]interface{}{"Account": d, "SignerWeight": uint32(1)},
		})
	}
	return ledger.Transaction{
		"TransactionType": ledger.TxSignerListSet,
		"Account":         account,
		"SignerQuorum":    quorum,
		"SignerEntries":   entries,
	}
}
