package rippled

import (
	"context"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"
)

// Autofill sets Sequence, Fee and LastLedgerSequence when they are missing.
// Batch inner transactions from the outer account get consecutive sequences
// after the outer one.
func (c *Client) Autofill(ctx context.Context, tx ledger.Transaction, opts ledger.AutofillOptions) (ledger.Transaction, error) {
	out := tx.Clone()
	account := out.Account()
	if account == "" {
		return nil, errors.New("autofill: transaction has no Account")
	}

	if _, ok := out["Sequence"]; !ok {
		info, err := c.AccountInfo(ctx, account)
		if err != nil {
			return nil, errors.Wrap(err, "autofill sequence")
		}
		out["Sequence"] = info.Sequence
	}

	if _, ok := out["Fee"]; !ok {
		base, err := c.baseFee(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "autofill fee")
		}
		out["Fee"] = ledger.ScaledFee(base, out, opts).String()
	}

	if _, ok := out["LastLedgerSequence"]; !ok {
		current, err := c.currentLedger(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "autofill last ledger")
		}
		out["LastLedgerSequence"] = current + uint32(c.opts.LedgerOffset)
	}

	if out.Type() == ledger.TxBatch {
		ledger.FillBatchSequences(out)
	}
	return out, nil
}
