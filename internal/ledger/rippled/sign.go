package rippled

import (
	"context"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"
)

type signResult struct {
	TxBlob string             `json:"tx_blob"`
	TxJSON ledger.Transaction `json:"tx_json"`
}

func (r *signResult) signed() *ledger.Signed {
	return &ledger.Signed{Tx: r.TxJSON, Blob: r.TxBlob, Hash: r.TxJSON.Field("hash")}
}

// Sign adds the primary single signature. The transaction must already be
// autofilled; the server is asked to sign offline.
func (c *Client) Sign(ctx context.Context, tx ledger.Transaction, w *ledger.Wallet) (*ledger.Signed, error) {
	var res signResult
	err := c.request(ctx, "sign", map[string]interface{}{
		"tx_json": tx,
		"secret":  w.Seed,
		"offline": true,
	}, &res)
	if err != nil {
		return nil, errors.Wrap(err, "sign "+tx.Type())
	}
	return res.signed(), nil
}

// SignFor adds one multi-signature entry for w to the Signers array.
func (c *Client) SignFor(ctx context.Context, tx ledger.Transaction, w *ledger.Wallet) (*ledger.Signed, error) {
	var res signResult
	err := c.request(ctx, "sign_for", map[string]interface{}{
		"account": w.Address,
		"tx_json": tx,
		"secret":  w.Seed,
		"offline": true,
	}, &res)
	if err != nil {
		return nil, errors.Wrap(err, "sign_for "+tx.Type())
	}
	return res.signed(), nil
}

// SignCounterparty fills CounterpartySignature. The signed data excludes all
// signature fields, so it can be applied before or after the primary
// signature or multi-signature.
func (c *Client) SignCounterparty(ctx context.Context, tx ledger.Transaction, w *ledger.Wallet) (*ledger.Signed, error) {
	var res signResult
	err := c.request(ctx, "sign", map[string]interface{}{
		"tx_json":          tx,
		"secret":           w.Seed,
		"offline":          true,
		"signature_target": "CounterpartySignature",
	}, &res)
	if err != nil {
		return nil, errors.Wrap(err, "counterparty sign "+tx.Type())
	}
	return res.signed(), nil
}
