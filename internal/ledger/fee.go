package ledger

import "github.com/shopspring/decimal"

// ScaledFee is base × (signers + 1); a Batch additionally pays two base fees
// plus one per inner transaction.
func ScaledFee(base decimal.Decimal, tx Transaction, opts AutofillOptions) decimal.Decimal {
	multiplier := int64(opts.Signers + 1)
	if tx.Type() == TxBatch {
		multiplier = int64(2+len(BatchInner(tx))) + int64(opts.Signers)
	}
	return base.Mul(decimal.NewFromInt(multiplier))
}

// BatchInner returns the RawTransaction bodies of a Batch, in order.
func BatchInner(tx Transaction) []Transaction {
	raw, _ := tx["RawTransactions"].([]interface{})
	out := make([]Transaction, 0, len(raw))
	for _, item := range raw {
		wrapper, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch inner := wrapper["RawTransaction"].(type) {
		case map[string]interface{}:
			out = append(out, Transaction(inner))
		case Transaction:
			out = append(out, inner)
		}
	}
	return out
}

// FillBatchSequences numbers inner transactions from the outer account with
// consecutive sequences after the outer one.
func FillBatchSequences(tx Transaction) {
	next := tx.Uint("Sequence") + 1
	for _, inner := range BatchInner(tx) {
		if _, has := inner["Sequence"]; has {
			continue
		}
		if inner.Account() == tx.Account() {
			inner["Sequence"] = next
			next++
		}
	}
}
