package sim

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"

	"github.com/shopspring/decimal"
)

var signatureFields = []string{"TxnSignature", "Signers", "CounterpartySignature", "hash"}

// signingData is the canonical JSON of tx without signature fields. Map keys
// marshal sorted, so equal transactions always produce equal bytes.
func signingData(tx ledger.Transaction, drop ...string) []byte {
	c := make(map[string]interface{}, len(tx))
	for k, v := range tx {
		c[k] = v
	}
	for _, f := range signatureFields {
		delete(c, f)
	}
	for _, f := range drop {
		delete(c, f)
	}
	data, _ := json.Marshal(c)
	return data
}

func multiSigningData(tx ledger.Transaction, signer string) ([]byte, error) {
	id, err := ledger.DecodeAccountID(signer)
	if err != nil {
		return nil, err
	}
	return append(signingData(tx), id...), nil
}

func counterpartySigningData(tx ledger.Transaction) []byte {
	return signingData(tx, "SigningPubKey")
}

func txHash(tx ledger.Transaction) string {
	c := make(map[string]interface{}, len(tx))
	for k, v := range tx {
		c[k] = v
	}
	delete(c, "hash")
	data, _ := json.Marshal(c)
	return strings.ToUpper(hex.EncodeToString(sha512Half(prefixTxID, data)))
}

func signed(tx ledger.Transaction) *ledger.Signed {
	hash := txHash(tx)
	tx["hash"] = hash
	c := make(map[string]interface{}, len(tx))
	for k, v := range tx {
		c[k] = v
	}
	delete(c, "hash")
	blob, _ := json.Marshal(c)
	return &ledger.Signed{Tx: tx, Blob: strings.ToUpper(hex.EncodeToString(blob)), Hash: hash}
}

func decodeSubmission(s *ledger.Signed) (ledger.Transaction, error) {
	if s.Blob == "" {
		return s.Tx.Clone(), nil
	}
	raw, err := hex.DecodeString(s.Blob)
	if err != nil {
		return nil, errors.Wrap(err, "decode blob")
	}
	var tx ledger.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, errors.Wrap(err, "decode blob")
	}
	return tx, nil
}

func walletKeys(w *ledger.Wallet) (keypair, string, error) {
	keys, err := keypairFromSeed(w.Seed)
	if err != nil {
		return keypair{}, "", errors.Wrap(err, "derive keys")
	}
	address, err := keys.address()
	if err != nil {
		return keypair{}, "", err
	}
	if w.Address != "" && w.Address != address {
		return keypair{}, "", errors.New("seed does not belong to " + w.Address)
	}
	return keys, address, nil
}

func (l *Ledger) Autofill(ctx context.Context, tx ledger.Transaction, opts ledger.AutofillOptions) (ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := tx.Clone()
	if out.Account() == "" {
		return nil, errors.New("autofill: transaction has no Account")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := out["Sequence"]; !ok {
		acct := l.accountRoot(out.Account())
		if acct == nil {
			return nil, errors.Wrap(errors.ErrAccountNotFound, out.Account())
		}
		out["Sequence"] = uintField(acct, "Sequence")
	}
	if _, ok := out["Fee"]; !ok {
		out["Fee"] = ledger.ScaledFee(decimal.NewFromInt(l.opts.BaseFee), out, opts).String()
	}
	if _, ok := out["LastLedgerSequence"]; !ok {
		out["LastLedgerSequence"] = l.current + uint32(l.opts.LedgerOffset)
	}
	if out.Type() == ledger.TxBatch {
		ledger.FillBatchSequences(out)
	}
	return out, nil
}

func (l *Ledger) Sign(ctx context.Context, tx ledger.Transaction, w *ledger.Wallet) (*ledger.Signed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, _, err := walletKeys(w)
	if err != nil {
		return nil, err
	}
	out := tx.Clone()
	out["SigningPubKey"] = keys.publicHex()
	out["TxnSignature"] = signData(keys, prefixTxSign, signingData(out))
	return signed(out), nil
}

func (l *Ledger) SignFor(ctx context.Context, tx ledger.Transaction, w *ledger.Wallet) (*ledger.Signed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, address, err := walletKeys(w)
	if err != nil {
		return nil, err
	}
	out := tx.Clone()
	out["SigningPubKey"] = ""
	data, err := multiSigningData(out, address)
	if err != nil {
		return nil, err
	}

	existing, _ := out["Signers"].([]interface{})
	out["Signers"] = append(existing, map[string]interface{}{"Signer": map[string]interface{}{
		"Account":       address,
		"SigningPubKey": keys.publicHex(),
		"TxnSignature":  signData(keys, prefixTxMultiSign, data),
	}})
	combined, err := ledger.CombineSigners(out)
	if err != nil {
		return nil, err
	}
	return signed(combined), nil
}

func (l *Ledger) SignCounterparty(ctx context.Context, tx ledger.Transaction, w *ledger.Wallet) (*ledger.Signed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, _, err := walletKeys(w)
	if err != nil {
		return nil, err
	}
	out := tx.Clone()
	out["CounterpartySignature"] = map[string]interface{}{
		"SigningPubKey": keys.publicHex(),
		"TxnSignature":  signData(keys, prefixCounterparty, counterpartySigningData(out)),
	}
	return signed(out), nil
}
