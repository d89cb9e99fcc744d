package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Transaction is tx_json: the JSON form rippled accepts and returns.
type Transaction map[string]interface{}

// Transaction types used by the lending flow.
const (
	TxAccountSet              = "AccountSet"
	TxTrustSet                = "TrustSet"
	TxPayment                 = "Payment"
	TxBatch                   = "Batch"
	TxSignerListSet           = "SignerListSet"
	TxVaultCreate             = "VaultCreate"
	TxVaultDeposit            = "VaultDeposit"
	TxVaultWithdraw           = "VaultWithdraw"
	TxVaultDelete             = "VaultDelete"
	TxLoanBrokerSet           = "LoanBrokerSet"
	TxLoanBrokerDelete        = "LoanBrokerDelete"
	TxLoanBrokerCoverDeposit  = "LoanBrokerCoverDeposit"
	TxLoanBrokerCoverWithdraw = "LoanBrokerCoverWithdraw"
	TxLoanSet                 = "LoanSet"
	TxLoanPay                 = "LoanPay"
	TxLoanManage              = "LoanManage"
	TxLoanDelete              = "LoanDelete"
)

// Ledger entry types whose ids the flow extracts.
const (
	EntryVault      = "Vault"
	EntryLoanBroker = "LoanBroker"
	EntryLoan       = "Loan"
	EntryAccount    = "AccountRoot"
	EntrySignerList = "SignerList"
	EntryTrustLine  = "RippleState"
)

// Flags.
const (
	AsfDefaultRipple uint32 = 8

	TfSetNoRipple   uint32 = 0x00020000
	TfAllOrNothing  uint32 = 0x00010000
	TfInnerBatchTxn uint32 = 0x40000000

	TfLoanDefault  uint32 = 0x00010000
	TfLoanImpair   uint32 = 0x00020000
	TfLoanUnimpair uint32 = 0x00040000

	TfLoanOverpayment uint32 = 0x00010000
	TfLoanFullPayment uint32 = 0x00020000
	TfLoanLatePayment uint32 = 0x00040000
)

func (tx Transaction) Type() string {
	s, _ := tx["TransactionType"].(string)
	return s
}

func (tx Transaction) Account() string {
	s, _ := tx["Account"].(string)
	return s
}

func (tx Transaction) Field(field string) string {
	switch v := tx[field].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Uint reads a numeric field that may have come from JSON (float64) or Go code.
func (tx Transaction) Uint(field string) uint32 {
	return toUint32(tx[field])
}

func (tx Transaction) Flags() uint32 {
	return tx.Uint("Flags")
}

// Clone deep-copies tx through JSON so nested maps are not shared.
func (tx Transaction) Clone() Transaction {
	if tx == nil {
		return nil
	}
	data, err := json.Marshal(tx)
	if err != nil {
		out := make(Transaction, len(tx))
		for k, v := range tx {
			out[k] = v
		}
		return out
	}
	var out Transaction
	_ = json.Unmarshal(data, &out)
	return out
}

// IssuedAmount is an issued-currency amount object.
func IssuedAmount(currency, issuer string, value decimal.Decimal) map[string]interface{} {
	return map[string]interface{}{
		"currency": currency,
		"issuer":   issuer,
		"value":    value.String(),
	}
}

// IssuedAsset identifies an issued currency without a value.
func IssuedAsset(currency, issuer string) map[string]interface{} {
	return map[string]interface{}{
		"currency": currency,
		"issuer":   issuer,
	}
}

// AmountValue reads either a drops string or an issued amount object.
func AmountValue(v interface{}) (decimal.Decimal, bool) {
	switch a := v.(type) {
	case string:
		d, err := decimal.NewFromString(a)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(a), true
	case map[string]interface{}:
		return AmountValue(a["value"])
	case decimal.Decimal:
		return a, true
	}
	return decimal.Zero, false
}

var dropsPerXRP = decimal.NewFromInt(1_000_000)

func DropsToXRP(drops decimal.Decimal) decimal.Decimal {
	return drops.Div(dropsPerXRP)
}

func XRPToDrops(xrp decimal.Decimal) decimal.Decimal {
	return xrp.Mul(dropsPerXRP).Truncate(0)
}

func toUint32(v interface{}) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case int:
		return uint32(n)
	case int64:
		return uint32(n)
	case uint64:
		return uint32(n)
	case float64:
		return uint32(n)
	case json.Number:
		i, _ := n.Int64()
		return uint32(i)
	case string:
		i, _ := strconv.ParseUint(n, 10, 32)
		return uint32(i)
	}
	return 0
}
