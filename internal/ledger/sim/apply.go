package sim

import (
	"loanflow/internal/ledger"

	"github.com/shopspring/decimal"
)

const neutralIssuer = "rrrrrrrrrrrrrrrrrrrrBZbvji"

type amount struct {
	xrp      bool
	currency string
	issuer   string
	value    decimal.Decimal
}

func parseAmount(v interface{}) (amount, bool) {
	switch a := v.(type) {
	case string:
		d, err := decimal.NewFromString(a)
		return amount{xrp: true, value: d}, err == nil
	case map[string]interface{}:
		currency, _ := a["currency"].(string)
		issuer, _ := a["issuer"].(string)
		d, ok := ledger.AmountValue(a["value"])
		if currency == "" || issuer == "" || !ok {
			return amount{}, false
		}
		return amount{currency: currency, issuer: issuer, value: d}, true
	}
	return amount{}, false
}

func (a amount) sameAsset(asset map[string]interface{}) bool {
	return !a.xrp && asset["currency"] == a.currency && asset["issuer"] == a.issuer
}

func (l *Ledger) adjustOwnerCount(address string, delta int) {
	acct := l.accountRoot(address)
	if acct == nil {
		return
	}
	n := int(uintField(acct, "OwnerCount")) + delta
	if n < 0 {
		n = 0
	}
	acct["OwnerCount"] = uint32(n)
}

func (l *Ledger) trustLine(holder, issuer, currency string) ledger.Entry {
	return l.store.Get(lineIndex(holder, issuer, currency))
}

// holderBalance is the balance seen from holder's side. A stored positive
// balance means the low account holds tokens issued by the high account.
func holderBalance(line ledger.Entry, holder string) decimal.Decimal {
	bal := decimalField(line, "Balance")
	low, _ := line["LowLimit"].(map[string]interface{})
	if low["issuer"] == holder {
		return bal
	}
	return bal.Neg()
}

func holderLimit(line ledger.Entry, holder string) decimal.Decimal {
	field := "HighLimit"
	if low, _ := line["LowLimit"].(map[string]interface{}); low["issuer"] == holder {
		field = "LowLimit"
	}
	d, _ := ledger.AmountValue(line[field])
	return d
}

func setHolderBalance(line ledger.Entry, holder string, value decimal.Decimal) {
	low, _ := line["LowLimit"].(map[string]interface{})
	if low["issuer"] != holder {
		value = value.Neg()
	}
	bal, _ := line["Balance"].(map[string]interface{})
	bal["value"] = value.String()
}

// giveToken credits holder with issued tokens. The issuer itself needs no line.
func (l *Ledger) giveToken(holder string, a amount) string {
	if holder == a.issuer {
		return tesSUCCESS
	}
	line := l.trustLine(holder, a.issuer, a.currency)
	if line == nil {
		return "tecNO_LINE"
	}
	next := holderBalance(line, holder).Add(a.value)
	if next.GreaterThan(holderLimit(line, holder)) {
		return "tecPATH_PARTIAL"
	}
	setHolderBalance(line, holder, next)
	return tesSUCCESS
}

func (l *Ledger) takeToken(holder string, a amount) string {
	if holder == a.issuer {
		return tesSUCCESS
	}
	line := l.trustLine(holder, a.issuer, a.currency)
	if line == nil {
		return "tecNO_LINE"
	}
	bal := holderBalance(line, holder)
	if bal.LessThan(a.value) {
		return "tecINSUFFICIENT_FUNDS"
	}
	setHolderBalance(line, holder, bal.Sub(a.value))
	return tesSUCCESS
}

func (l *Ledger) applyAccountSet(tx ledger.Transaction) string {
	acct := l.accountRoot(tx.Account())
	flags := uintField(acct, "Flags")
	if tx.Uint("SetFlag") == ledger.AsfDefaultRipple {
		flags |= lsfDefaultRipple
	}
	if tx.Uint("ClearFlag") == ledger.AsfDefaultRipple {
		flags &^= lsfDefaultRipple
	}
	acct["Flags"] = flags
	return tesSUCCESS
}

func (l *Ledger) applyTrustSet(tx ledger.Transaction) string {
	limit, ok := parseAmount(tx["LimitAmount"])
	if !ok || limit.xrp || limit.value.IsNegative() {
		return "temBAD_LIMIT"
	}
	holder := tx.Account()
	if limit.issuer == holder {
		return "temDST_IS_SRC"
	}
	if l.accountRoot(limit.issuer) == nil {
		return "tecNO_DST"
	}

	line := l.trustLine(holder, limit.issuer, limit.currency)
	if line == nil {
		low, high := holder, limit.issuer
		if high < low {
			low, high = high, low
		}
		line = ledger.Entry{
			"LedgerEntryType": ledger.EntryTrustLine,
			"Balance":         map[string]interface{}{"currency": limit.currency, "issuer": neutralIssuer, "value": "0"},
			"LowLimit":        map[string]interface{}{"currency": limit.currency, "issuer": low, "value": "0"},
			"HighLimit":       map[string]interface{}{"currency": limit.currency, "issuer": high, "value": "0"},
			"Flags":           uint32(0),
		}
		l.store.Put(lineIndex(holder, limit.issuer, limit.currency), line)
		l.adjustOwnerCount(holder, 1)
	}

	field := "HighLimit"
	if low, _ := line["LowLimit"].(map[string]interface{}); low["issuer"] == holder {
		field = "LowLimit"
	}
	own, _ := line[field].(map[string]interface{})
	own["value"] = limit.value.String()
	return tesSUCCESS
}

func (l *Ledger) applyPayment(tx ledger.Transaction) string {
	a, ok := parseAmount(tx["Amount"])
	if !ok || !a.value.IsPositive() {
		return "temBAD_AMOUNT"
	}
	from, to := tx.Account(), tx.Field("Destination")
	if to == "" || to == from {
		return "temREDUNDANT"
	}
	dest := l.accountRoot(to)
	if dest == nil {
		return "tecNO_DST"
	}

	if a.xrp {
		src := l.accountRoot(from)
		if decimalField(src, "Balance").LessThan(a.value) {
			return "tecUNFUNDED_PAYMENT"
		}
		setDecimal(src, "Balance", decimalField(src, "Balance").Sub(a.value))
		setDecimal(dest, "Balance", decimalField(dest, "Balance").Add(a.value))
		return tesSUCCESS
	}

	if from != a.issuer && to != a.issuer {
		issuer := l.accountRoot(a.issuer)
		if issuer == nil || uintField(issuer, "Flags")&lsfDefaultRipple == 0 {
			return "tecPATH_DRY"
		}
	}
	if code := l.takeToken(from, a); code != tesSUCCESS {
		if code == "tecINSUFFICIENT_FUNDS" {
			return "tecPATH_PARTIAL"
		}
		return "tecPATH_DRY"
	}
	if code := l.giveToken(to, a); code != tesSUCCESS {
		if code == "tecNO_LINE" {
			return "tecPATH_DRY"
		}
		return code
	}
	return tesSUCCESS
}

// applyBatch runs inner transactions in order, each consuming its own
// sequence. Under tfAllOrNothing an inner failure rolls back every inner
// transaction while the outer Batch still succeeds, so only its fee and
// sequence are consumed.
func (l *Ledger) applyBatch(tx ledger.Transaction) string {
	snap := l.store.snapshot()
	for i, inner := range ledger.BatchInner(tx) {
		if code := l.applyInner(inner, i); code != tesSUCCESS {
			l.store.restore(snap)
			l.logger.Debug("Batch inner transaction failed, nothing applied", map[string]interface{}{
				"inner_index": i,
				"inner_type":  inner.Type(),
				"code":        code,
			})
			return tesSUCCESS
		}
	}
	return tesSUCCESS
}

func (l *Ledger) applyInner(inner ledger.Transaction, i int) string {
	acct := l.accountRoot(inner.Account())
	seq, want := inner.Uint("Sequence"), uintField(acct, "Sequence")
	if seq < want {
		return "tefPAST_SEQ"
	}
	if seq > want {
		return "terPRE_SEQ"
	}
	acct["Sequence"] = want + 1
	if i == 0 && l.batchInnerFault != "" {
		return l.batchInnerFault
	}
	return handlers[inner.Type()](l, inner)
}

func (l *Ledger) applySignerListSet(tx ledger.Transaction) string {
	owner := tx.Account()
	index := signerListIndex(owner)
	existing := l.store.Get(index)

	if tx.Uint("SignerQuorum") == 0 {
		if existing == nil {
			return "tecNO_ENTRY"
		}
		l.store.Delete(index)
		l.adjustOwnerCount(owner, -1)
		return tesSUCCESS
	}

	for _, e := range signerEntries(tx["SignerEntries"]) {
		if l.accountRoot(e.account) == nil {
			return "tecNO_DST"
		}
	}
	if existing == nil {
		l.adjustOwnerCount(owner, 1)
	}
	l.store.Put(index, ledger.Entry{
		"LedgerEntryType": ledger.EntrySignerList,
		"Owner":           owner,
		"SignerQuorum":    tx.Uint("SignerQuorum"),
		"SignerEntries":   copyValue(tx["SignerEntries"]),
		"SignerListID":    uint32(0),
		"Flags":           uint32(0),
	})
	return tesSUCCESS
}
