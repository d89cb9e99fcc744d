package sim

import (
	"bytes"
	"context"
	"strings"

	"loanflow/internal/ledger"

	"github.com/shopspring/decimal"
)

type handler func(l *Ledger, tx ledger.Transaction) string

var handlers map[string]handler

func init() {
	handlers = map[string]handler{
		ledger.TxAccountSet:              (*Ledger).applyAccountSet,
		ledger.TxTrustSet:                (*Ledger).applyTrustSet,
		ledger.TxPayment:                 (*Ledger).applyPayment,
		ledger.TxBatch:                   (*Ledger).applyBatch,
		ledger.TxSignerListSet:           (*Ledger).applySignerListSet,
		ledger.TxVaultCreate:             (*Ledger).applyVaultCreate,
		ledger.TxVaultDeposit:            (*Ledger).applyVaultDeposit,
		ledger.TxVaultWithdraw:           (*Ledger).applyVaultWithdraw,
		ledger.TxVaultDelete:             (*Ledger).applyVaultDelete,
		ledger.TxLoanBrokerSet:           (*Ledger).applyLoanBrokerSet,
		ledger.TxLoanBrokerDelete:        (*Ledger).applyLoanBrokerDelete,
		ledger.TxLoanBrokerCoverDeposit:  (*Ledger).applyCoverDeposit,
		ledger.TxLoanBrokerCoverWithdraw: (*Ledger).applyCoverWithdraw,
		ledger.TxLoanSet:                 (*Ledger).applyLoanSet,
		ledger.TxLoanPay:                 (*Ledger).applyLoanPay,
		ledger.TxLoanManage:              (*Ledger).applyLoanManage,
		ledger.TxLoanDelete:              (*Ledger).applyLoanDelete,
	}
}

// claimed results are written to the ledger and cost the fee.
func claimed(code string) bool {
	return code == tesSUCCESS || strings.HasPrefix(code, "tec")
}

// Submit checks and applies the transaction in a new ledger. Like the
// network, only tesSUCCESS and tec results are validated; anything else is
// returned unvalidated with no state change.
func (l *Ledger) Submit(ctx context.Context, s *ledger.Signed) (*ledger.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := decodeSubmission(s)
	if err != nil {
		return nil, err
	}
	hash := txHash(tx)

	l.mu.Lock()
	defer l.mu.Unlock()

	res := &ledger.TxResult{Hash: hash, Tx: tx}
	code := l.preflight(tx)
	if code == tesSUCCESS {
		code = l.preclaim(tx)
	}
	if fault, ok := l.faults[tx.Type()]; ok && code == tesSUCCESS {
		code = fault
	}

	if !claimed(code) {
		res.Code = code
		l.record(tx, res)
		return res, nil
	}

	before := l.store.snapshot()
	l.chargeFee(tx)
	if code == tesSUCCESS {
		mark := l.store.snapshot()
		code = handlers[tx.Type()](l, tx)
		if code != tesSUCCESS {
			l.store.restore(mark)
		}
	}

	res.Code = code
	res.Validated = true
	res.LedgerIndex = l.current
	res.Fee = tx.Field("Fee")
	res.AffectedNodes = l.store.diff(before)
	l.current++

	l.record(tx, res)
	return res, nil
}

func (l *Ledger) record(tx ledger.Transaction, res *ledger.TxResult) {
	l.history = append(l.history, Record{
		Type:    tx.Type(),
		Account: tx.Account(),
		Hash:    res.Hash,
		Code:    res.Code,
	})
	l.logger.Debug("Simulated transaction", map[string]interface{}{
		"tx_type": tx.Type(),
		"account": tx.Account(),
		"result":  res.Code,
		"ledger":  res.LedgerIndex,
	})
}

func (l *Ledger) chargeFee(tx ledger.Transaction) {
	acct := l.accountRoot(tx.Account())
	fee, _ := decimal.NewFromString(tx.Field("Fee"))
	setDecimal(acct, "Balance", decimalField(acct, "Balance").Sub(fee))
	acct["Sequence"] = uintField(acct, "Sequence") + 1
}

func (l *Ledger) preflight(tx ledger.Transaction) string {
	if tx.Account() == "" {
		return "temBAD_SRC_ACCOUNT"
	}
	if _, ok := handlers[tx.Type()]; !ok {
		return "temUNKNOWN"
	}
	fee, err := decimal.NewFromString(tx.Field("Fee"))
	if err != nil || fee.IsNegative() {
		return "temBAD_FEE"
	}
	if tx.Flags()&ledger.TfInnerBatchTxn != 0 {
		return "temINVALID_FLAG"
	}

	switch tx.Type() {
	case ledger.TxBatch:
		if l.batchDisabled {
			return "temDISABLED"
		}
		return preflightBatch(tx)
	case ledger.TxLoanSet:
		if tx.Field("Counterparty") == "" || tx.Field("Counterparty") == tx.Account() {
			return "temBAD_SIGNER"
		}
		principal, ok := ledger.AmountValue(tx["PrincipalRequested"])
		if !ok || !principal.IsPositive() {
			return "temBAD_AMOUNT"
		}
		if tx.Uint("PaymentTotal") == 0 || tx.Uint("PaymentInterval") < 60 {
			return "temINVALID"
		}
	case ledger.TxSignerListSet:
		return preflightSignerList(tx)
	}
	return tesSUCCESS
}

func preflightBatch(tx ledger.Transaction) string {
	if tx.Flags()&ledger.TfAllOrNothing == 0 {
		return "temINVALID_FLAG"
	}
	inner := ledger.BatchInner(tx)
	switch {
	case len(inner) < 2:
		return "temARRAY_EMPTY"
	case len(inner) > 8:
		return "temARRAY_TOO_LARGE"
	}
	for _, in := range inner {
		if in.Type() == ledger.TxBatch || in.Flags()&ledger.TfInnerBatchTxn == 0 {
			return "temINVALID_INNER_BATCH"
		}
		if in.Field("Fee") != "0" || in.Field("SigningPubKey") != "" || in.Field("TxnSignature") != "" {
			return "temINVALID_INNER_BATCH"
		}
		if in.Account() != tx.Account() {
			return "temBAD_SIGNER"
		}
		if _, ok := handlers[in.Type()]; !ok {
			return "temUNKNOWN"
		}
	}
	return tesSUCCESS
}

func preflightSignerList(tx ledger.Transaction) string {
	quorum := tx.Uint("SignerQuorum")
	entries := signerEntries(tx["SignerEntries"])
	if quorum == 0 {
		if len(entries) != 0 {
			return "temMALFORMED"
		}
		return tesSUCCESS
	}
	if len(entries) == 0 || len(entries) > 32 {
		return "temMALFORMED"
	}
	seen := map[string]bool{}
	var total uint32
	for _, e := range entries {
		if e.account == tx.Account() || seen[e.account] {
			return "temBAD_SIGNER"
		}
		if _, err := ledger.DecodeAccountID(e.account); err != nil {
			return "temBAD_SIGNER"
		}
		seen[e.account] = true
		total += e.weight
	}
	if total < quorum {
		return "temBAD_QUORUM"
	}
	return tesSUCCESS
}

func (l *Ledger) preclaim(tx ledger.Transaction) string {
	acct := l.accountRoot(tx.Account())
	if acct == nil {
		return "terNO_ACCOUNT"
	}
	seq, want := tx.Uint("Sequence"), uintField(acct, "Sequence")
	switch {
	case seq < want:
		return "tefPAST_SEQ"
	case seq > want:
		return "terPRE_SEQ"
	}
	if lls := tx.Uint("LastLedgerSequence"); lls != 0 && lls < l.current {
		return "tefMAX_LEDGER"
	}

	signatures := len(ledger.Signers(tx))
	if _, ok := tx["CounterpartySignature"]; ok {
		signatures++
	}
	fee, _ := decimal.NewFromString(tx.Field("Fee"))
	required := ledger.ScaledFee(decimal.NewFromInt(l.opts.BaseFee), tx, ledger.AutofillOptions{Signers: signatures})
	if fee.LessThan(required) {
		return "telINSUF_FEE_P"
	}
	if decimalField(acct, "Balance").LessThan(fee) {
		return "terINSUF_FEE_B"
	}
	return l.checkAuth(tx)
}

func (l *Ledger) checkAuth(tx ledger.Transaction) string {
	if pub := tx.Field("SigningPubKey"); pub != "" {
		address, err := addressFromPublicHex(pub)
		if err != nil || address != tx.Account() {
			return "tefBAD_AUTH"
		}
		if !verifyData(pub, tx.Field("TxnSignature"), prefixTxSign, signingData(tx)) {
			return "temBAD_SIGNATURE"
		}
	} else if code := l.checkMultiSign(tx); code != tesSUCCESS {
		return code
	}

	if tx.Type() == ledger.TxLoanSet {
		return checkCounterparty(tx)
	}
	return tesSUCCESS
}

func (l *Ledger) checkMultiSign(tx ledger.Transaction) string {
	signers := ledger.Signers(tx)
	if len(signers) == 0 {
		return "temBAD_SIGNATURE"
	}
	list := l.store.Get(signerListIndex(tx.Account()))
	if list == nil {
		return "tefNOT_MULTI_SIGNING"
	}
	weights := map[string]uint32{}
	for _, e := range signerEntries(list["SignerEntries"]) {
		weights[e.account] = e.weight
	}

	var prev []byte
	var total uint32
	for _, s := range signers {
		account, _ := s["Account"].(string)
		pub, _ := s["SigningPubKey"].(string)
		sig, _ := s["TxnSignature"].(string)

		id, err := ledger.DecodeAccountID(account)
		if err != nil {
			return "temBAD_SIGNER"
		}
		if prev != nil && bytes.Compare(prev, id) >= 0 {
			return "temBAD_SIGNER"
		}
		prev = id

		weight, ok := weights[account]
		if !ok {
			return "tefBAD_SIGNATURE"
		}
		derived, err := addressFromPublicHex(pub)
		if err != nil || derived != account {
			return "tefBAD_SIGNATURE"
		}
		data, err := multiSigningData(tx, account)
		if err != nil || !verifyData(pub, sig, prefixTxMultiSign, data) {
			return "tefBAD_SIGNATURE"
		}
		total += weight
	}
	if total < uintField(list, "SignerQuorum") {
		return "tefBAD_QUORUM"
	}
	return tesSUCCESS
}

func checkCounterparty(tx ledger.Transaction) string {
	cs, ok := tx["CounterpartySignature"].(map[string]interface{})
	if !ok {
		return "tefBAD_AUTH"
	}
	pub, _ := cs["SigningPubKey"].(string)
	sig, _ := cs["TxnSignature"].(string)
	address, err := addressFromPublicHex(pub)
	if err != nil || address != tx.Field("Counterparty") {
		return "tefBAD_AUTH"
	}
	if !verifyData(pub, sig, prefixCounterparty, counterpartySigningData(tx)) {
		return "temBAD_SIGNATURE"
	}
	return tesSUCCESS
}

type signerEntry struct {
	account string
	weight  uint32
}

func signerEntries(v interface{}) []signerEntry {
	raw, _ := v.([]interface{})
	out := make([]signerEntry, 0, len(raw))
	for _, item := range raw {
		wrapper, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		body, ok := wrapper["SignerEntry"].(map[string]interface{})
		if !ok {
			continue
		}
		account, _ := body["Account"].(string)
		out = append(out, signerEntry{account: account, weight: ledger.Transaction(body).Uint("SignerWeight")})
	}
	return out
}
