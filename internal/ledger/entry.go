package ledger

import "github.com/shopspring/decimal"

// Entry is a ledger object as returned by ledger_entry.
type Entry map[string]interface{}

func (e Entry) Type() string {
	s, _ := e["LedgerEntryType"].(string)
	return s
}

func (e Entry) Index() string {
	if s, ok := e["index"].(string); ok {
		return s
	}
	s, _ := e["LedgerIndex"].(string)
	return s
}

func (e Entry) Field(name string) string {
	return Transaction(e).Field(name)
}

// Decimal reads a numeric or amount field.
func (e Entry) Decimal(name string) (decimal.Decimal, bool) {
	return AmountValue(e[name])
}
