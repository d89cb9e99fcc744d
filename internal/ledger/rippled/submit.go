package rippled

import (
	"context"
	"strings"
	"time"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"
)

type submitResult struct {
	EngineResult        string             `json:"engine_result"`
	EngineResultMessage string             `json:"engine_result_message"`
	TxJSON              ledger.Transaction `json:"tx_json"`
}

type txResult struct {
	Hash        string             `json:"hash"`
	LedgerIndex uint32             `json:"ledger_index"`
	Validated   bool               `json:"validated"`
	TxJSON      ledger.Transaction `json:"tx_json"`
	Fee         string             `json:"Fee"`
	Meta        *struct {
		TransactionResult string        `json:"TransactionResult"`
		AffectedNodes     []interface{} `json:"AffectedNodes"`
	} `json:"meta"`
}

// Submit sends the transaction and blocks until it is in a validated ledger,
// until its LastLedgerSequence has passed, or until ctx is done. Results the
// server rejects outright (tem, tef, tel) are returned without waiting.
func (c *Client) Submit(ctx context.Context, s *ledger.Signed) (*ledger.TxResult, error) {
	var prelim submitResult
	var err error
	if s.Blob != "" {
		err = c.request(ctx, "submit", map[string]interface{}{"tx_blob": s.Blob}, &prelim)
	} else {
		err = c.request(ctx, "submit_multisigned", map[string]interface{}{"tx_json": s.Tx}, &prelim)
	}
	if err != nil {
		return nil, errors.Wrap(err, "submit "+s.Tx.Type())
	}

	hash := prelim.TxJSON.Field("hash")
	if hash == "" {
		hash = s.Hash
	}

	c.logger.Debug("Transaction submitted", map[string]interface{}{
		"tx_type":       s.Tx.Type(),
		"hash":          hash,
		"engine_result": prelim.EngineResult,
	})

	if isFinalPrelim(prelim.EngineResult) {
		return &ledger.TxResult{Hash: hash, Code: prelim.EngineResult, Tx: s.Tx}, nil
	}

	if c.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SubmitTimeout)
		defer cancel()
	}
	return c.waitValidated(ctx, hash, s.Tx)
}

func isFinalPrelim(code string) bool {
	return strings.HasPrefix(code, "tem") || strings.HasPrefix(code, "tef") || strings.HasPrefix(code, "tel")
}

func (c *Client) waitValidated(ctx context.Context, hash string, tx ledger.Transaction) (*ledger.TxResult, error) {
	lastLedger := tx.Uint("LastLedgerSequence")
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		var res txResult
		err := c.request(ctx, "tx", map[string]interface{}{"transaction": hash}, &res)
		if err != nil {
			var rpcErr *RPCError
			if !errors.As(err, &rpcErr) || rpcErr.Code != "txnNotFound" {
				return nil, err
			}
		} else if res.Validated && res.Meta != nil {
			nodes, err := ledger.ParseAffectedNodes(res.Meta.AffectedNodes)
			if err != nil {
				return nil, errors.Wrap(err, "parse metadata")
			}
			fee := res.Fee
			if fee == "" {
				fee = res.TxJSON.Field("Fee")
			}
			return &ledger.TxResult{
				Hash:          hash,
				Code:          res.Meta.TransactionResult,
				Validated:     true,
				LedgerIndex:   res.LedgerIndex,
				Fee:           fee,
				AffectedNodes: nodes,
				Tx:            tx,
			}, nil
		}

		if lastLedger > 0 {
			validated, err := c.validatedLedger(ctx)
			if err == nil && validated > lastLedger {
				return nil, errors.Wrap(errors.ErrNotValidated, hash)
			}
		}
	}
}
