package sim

import (
	"strconv"

	"loanflow/internal/ledger"

	"github.com/shopspring/decimal"
)

const (
	secondsPerYear = 365 * 24 * 3600
	// Rates are expressed in tenths of a basis point.
	rateScale = 100000
	// Issued amounts are kept to six decimal places.
	amountPlaces = 6
)

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(amountPlaces)
}

func assetOf(e ledger.Entry) map[string]interface{} {
	asset, _ := e["Asset"].(map[string]interface{})
	return asset
}

func (l *Ledger) vault(id string) ledger.Entry {
	e := l.store.Get(id)
	if e == nil || e.Type() != ledger.EntryVault {
		return nil
	}
	return e
}

func (l *Ledger) broker(id string) ledger.Entry {
	e := l.store.Get(id)
	if e == nil || e.Type() != ledger.EntryLoanBroker {
		return nil
	}
	return e
}

func (l *Ledger) loan(id string) ledger.Entry {
	e := l.store.Get(id)
	if e == nil || e.Type() != ledger.EntryLoan {
		return nil
	}
	return e
}

func (l *Ledger) applyVaultCreate(tx ledger.Transaction) string {
	asset, ok := tx["Asset"].(map[string]interface{})
	if !ok || asset["currency"] == nil || asset["issuer"] == nil {
		return "temMALFORMED"
	}
	owner := tx.Account()
	index := objectIndex("vault", owner, strconv.FormatUint(uint64(tx.Uint("Sequence")), 10))
	l.store.Put(index, ledger.Entry{
		"LedgerEntryType": ledger.EntryVault,
		"Owner":           owner,
		"Asset":           copyValue(asset),
		"AssetsTotal":     "0",
		"AssetsAvailable": "0",
		"LossUnrealized":  "0",
		"ShareTotal":      "0",
		"Sequence":        tx.Uint("Sequence"),
		"Flags":           tx.Flags(),
	})
	l.adjustOwnerCount(owner, 1)
	return tesSUCCESS
}

func (l *Ledger) applyVaultDeposit(tx ledger.Transaction) string {
	v := l.vault(tx.Field("VaultID"))
	if v == nil {
		return "tecNO_ENTRY"
	}
	a, ok := parseAmount(tx["Amount"])
	if !ok || !a.value.IsPositive() {
		return "temBAD_AMOUNT"
	}
	if !a.sameAsset(assetOf(v)) {
		return "tecWRONG_ASSET"
	}
	holder := tx.Account()
	if code := l.takeToken(holder, a); code != tesSUCCESS {
		return "tecINSUFFICIENT_FUNDS"
	}

	total := decimalField(v, "AssetsTotal")
	shareTotal := decimalField(v, "ShareTotal")
	shares := a.value
	if shareTotal.IsPositive() {
		value := total.Sub(decimalField(v, "LossUnrealized"))
		shares = round(a.value.Mul(shareTotal).Div(value))
	}

	setDecimal(v, "AssetsTotal", total.Add(a.value))
	setDecimal(v, "AssetsAvailable", decimalField(v, "AssetsAvailable").Add(a.value))
	setDecimal(v, "ShareTotal", shareTotal.Add(shares))

	vaultID := tx.Field("VaultID")
	index := shareIndex(vaultID, holder)
	holding := l.store.Get(index)
	if holding == nil {
		holding = ledger.Entry{
			"LedgerEntryType":   "MPToken",
			"Account":           holder,
			"MPTokenIssuanceID": vaultID,
			"MPTAmount":         "0",
			"Flags":             uint32(0),
		}
		l.store.Put(index, holding)
		l.adjustOwnerCount(holder, 1)
	}
	setDecimal(holding, "MPTAmount", decimalField(holding, "MPTAmount").Add(shares))
	return tesSUCCESS
}

func (l *Ledger) applyVaultWithdraw(tx ledger.Transaction) string {
	vaultID := tx.Field("VaultID")
	v := l.vault(vaultID)
	if v == nil {
		return "tecNO_ENTRY"
	}
	a, ok := parseAmount(tx["Amount"])
	if !ok || !a.value.IsPositive() {
		return "temBAD_AMOUNT"
	}
	if !a.sameAsset(assetOf(v)) {
		return "tecWRONG_ASSET"
	}
	holder := tx.Account()
	holding := l.store.Get(shareIndex(vaultID, holder))
	if holding == nil {
		return "tecINSUFFICIENT_FUNDS"
	}

	total := decimalField(v, "AssetsTotal")
	available := decimalField(v, "AssetsAvailable")
	shareTotal := decimalField(v, "ShareTotal")
	held := decimalField(holding, "MPTAmount")
	if a.value.GreaterThan(available) || !total.IsPositive() {
		return "tecINSUFFICIENT_FUNDS"
	}

	burn := round(a.value.Mul(shareTotal).Div(total))
	if burn.GreaterThan(held) && burn.Sub(held).LessThanOrEqual(decimal.New(1, -amountPlaces)) {
		burn = held
	}
	if burn.GreaterThan(held) {
		return "tecINSUFFICIENT_FUNDS"
	}
	if code := l.giveToken(holder, a); code != tesSUCCESS {
		return code
	}

	setDecimal(v, "AssetsTotal", total.Sub(a.value))
	setDecimal(v, "AssetsAvailable", available.Sub(a.value))
	setDecimal(v, "ShareTotal", shareTotal.Sub(burn))
	if held.Sub(burn).IsZero() {
		l.store.Delete(shareIndex(vaultID, holder))
		l.adjustOwnerCount(holder, -1)
	} else {
		setDecimal(holding, "MPTAmount", held.Sub(burn))
	}
	return tesSUCCESS
}

func (l *Ledger) applyVaultDelete(tx ledger.Transaction) string {
	vaultID := tx.Field("VaultID")
	v := l.vault(vaultID)
	if v == nil {
		return "tecNO_ENTRY"
	}
	if v.Field("Owner") != tx.Account() {
		return "tecNO_PERMISSION"
	}
	if !decimalField(v, "AssetsTotal").IsZero() || !decimalField(v, "ShareTotal").IsZero() {
		return "tecHAS_OBLIGATIONS"
	}
	inUse := false
	l.store.each(ledger.EntryLoanBroker, func(_ string, b ledger.Entry) {
		if b.Field("VaultID") == vaultID {
			inUse = true
		}
	})
	if inUse {
		return "tecHAS_OBLIGATIONS"
	}
	l.store.Delete(vaultID)
	l.adjustOwnerCount(tx.Account(), -1)
	return tesSUCCESS
}

func (l *Ledger) applyLoanBrokerSet(tx ledger.Transaction) string {
	if id := tx.Field("LoanBrokerID"); id != "" {
		b := l.broker(id)
		if b == nil {
			return "tecNO_ENTRY"
		}
		if b.Field("Owner") != tx.Account() {
			return "tecNO_PERMISSION"
		}
		if v, ok := tx["DebtMaximum"]; ok {
			b["DebtMaximum"] = v
		}
		return tesSUCCESS
	}

	vaultID := tx.Field("VaultID")
	v := l.vault(vaultID)
	if v == nil {
		return "tecNO_ENTRY"
	}
	owner := tx.Account()
	if v.Field("Owner") != owner {
		return "tecNO_PERMISSION"
	}

	debtMax := "0"
	if d, ok := ledger.AmountValue(tx["DebtMaximum"]); ok {
		debtMax = d.String()
	}
	index := objectIndex("broker", owner, strconv.FormatUint(uint64(tx.Uint("Sequence")), 10))
	l.store.Put(index, ledger.Entry{
		"LedgerEntryType":      ledger.EntryLoanBroker,
		"Owner":                owner,
		"VaultID":              vaultID,
		"Sequence":             tx.Uint("Sequence"),
		"LoanSequence":         uint32(1),
		"OwnerCount":           uint32(0),
		"DebtTotal":            "0",
		"DebtMaximum":          debtMax,
		"CoverAvailable":       "0",
		"CoverRateMinimum":     tx.Uint("CoverRateMinimum"),
		"CoverRateLiquidation": tx.Uint("CoverRateLiquidation"),
		"ManagementFeeRate":    tx.Uint("ManagementFeeRate"),
		"Flags":                uint32(0),
	})
	l.adjustOwnerCount(owner, 1)
	return tesSUCCESS
}

func (l *Ledger) ownedBroker(tx ledger.Transaction) (ledger.Entry, string) {
	b := l.broker(tx.Field("LoanBrokerID"))
	if b == nil {
		return nil, "tecNO_ENTRY"
	}
	if b.Field("Owner") != tx.Account() {
		return nil, "tecNO_PERMISSION"
	}
	return b, tesSUCCESS
}

func requiredCover(b ledger.Entry, debt decimal.Decimal) decimal.Decimal {
	rate := decimal.NewFromInt(int64(uintField(b, "CoverRateMinimum")))
	return debt.Mul(rate).Div(decimal.NewFromInt(rateScale))
}

func (l *Ledger) applyCoverDeposit(tx ledger.Transaction) string {
	b, code := l.ownedBroker(tx)
	if code != tesSUCCESS {
		return code
	}
	a, ok := parseAmount(tx["Amount"])
	if !ok || !a.value.IsPositive() {
		return "temBAD_AMOUNT"
	}
	if !a.sameAsset(assetOf(l.vault(b.Field("VaultID")))) {
		return "tecWRONG_ASSET"
	}
	if code := l.takeToken(tx.Account(), a); code != tesSUCCESS {
		return "tecINSUFFICIENT_FUNDS"
	}
	setDecimal(b, "CoverAvailable", decimalField(b, "CoverAvailable").Add(a.value))
	return tesSUCCESS
}

func (l *Ledger) applyCoverWithdraw(tx ledger.Transaction) string {
	b, code := l.ownedBroker(tx)
	if code != tesSUCCESS {
		return code
	}
	a, ok := parseAmount(tx["Amount"])
	if !ok || !a.value.IsPositive() {
		return "temBAD_AMOUNT"
	}
	if !a.sameAsset(assetOf(l.vault(b.Field("VaultID")))) {
		return "tecWRONG_ASSET"
	}
	cover := decimalField(b, "CoverAvailable")
	remaining := cover.Sub(a.value)
	if remaining.IsNegative() || remaining.LessThan(requiredCover(b, decimalField(b, "DebtTotal"))) {
		return "tecINSUFFICIENT_FUNDS"
	}
	if code := l.giveToken(tx.Account(), a); code != tesSUCCESS {
		return code
	}
	setDecimal(b, "CoverAvailable", remaining)
	return tesSUCCESS
}

func (l *Ledger) applyLoanBrokerDelete(tx ledger.Transaction) string {
	b, code := l.ownedBroker(tx)
	if code != tesSUCCESS {
		return code
	}
	if uintField(b, "OwnerCount") != 0 || !decimalField(b, "DebtTotal").IsZero() {
		return "tecHAS_OBLIGATIONS"
	}
	if cover := decimalField(b, "CoverAvailable"); cover.IsPositive() {
		asset := assetOf(l.vault(b.Field("VaultID")))
		refund := amount{currency: asset["currency"].(string), issuer: asset["issuer"].(string), value: cover}
		if code := l.giveToken(tx.Account(), refund); code != tesSUCCESS {
			return code
		}
	}
	l.store.Delete(tx.Field("LoanBrokerID"))
	l.adjustOwnerCount(tx.Account(), -1)
	return tesSUCCESS
}

// periodInterest is the simple interest owed on outstanding principal for one
// payment interval.
func periodInterest(loan ledger.Entry, outstanding decimal.Decimal) decimal.Decimal {
	rate := decimal.NewFromInt(int64(uintField(loan, "InterestRate"))).Div(decimal.NewFromInt(rateScale))
	interval := decimal.NewFromInt(int64(uintField(loan, "PaymentInterval")))
	return round(outstanding.Mul(rate).Mul(interval).Div(decimal.NewFromInt(secondsPerYear)))
}

func principalPortion(outstanding decimal.Decimal, remaining uint32) decimal.Decimal {
	if remaining <= 1 {
		return outstanding
	}
	return round(outstanding.Div(decimal.NewFromInt(int64(remaining))))
}

func (l *Ledger) applyLoanSet(tx ledger.Transaction) string {
	b, code := l.ownedBroker(tx)
	if code != tesSUCCESS {
		return code
	}
	v := l.vault(b.Field("VaultID"))
	if v == nil {
		return "tecNO_ENTRY"
	}
	principal, _ := ledger.AmountValue(tx["PrincipalRequested"])
	borrower := tx.Field("Counterparty")
	if l.accountRoot(borrower) == nil {
		return "tecNO_DST"
	}

	available := decimalField(v, "AssetsAvailable")
	if available.LessThan(principal) {
		return "tecINSUFFICIENT_FUNDS"
	}
	debt := decimalField(b, "DebtTotal").Add(principal)
	if limit := decimalField(b, "DebtMaximum"); limit.IsPositive() && debt.GreaterThan(limit) {
		return "tecLIMIT_EXCEEDED"
	}
	if decimalField(b, "CoverAvailable").LessThan(requiredCover(b, debt)) {
		return "tecINSUFFICIENT_FUNDS"
	}

	asset := assetOf(v)
	disbursed := amount{currency: asset["currency"].(string), issuer: asset["issuer"].(string), value: principal}
	if code := l.giveToken(borrower, disbursed); code != tesSUCCESS {
		return code
	}

	seq := uintField(b, "LoanSequence")
	now := l.now()
	interval := tx.Uint("PaymentInterval")
	loan := ledger.Entry{
		"LedgerEntryType":      ledger.EntryLoan,
		"LoanBrokerID":         tx.Field("LoanBrokerID"),
		"LoanSequence":         seq,
		"Borrower":             borrower,
		"PrincipalRequested":   principal.String(),
		"PrincipalOutstanding": principal.String(),
		"InterestRate":         tx.Uint("InterestRate"),
		"PaymentTotal":         tx.Uint("PaymentTotal"),
		"PaymentRemaining":     tx.Uint("PaymentTotal"),
		"PaymentInterval":      interval,
		"GracePeriod":          tx.Uint("GracePeriod"),
		"StartDate":            now,
		"NextPaymentDueDate":   now + interval,
		"Flags":                uint32(0),
	}
	setDecimal(loan, "PeriodicPayment", principalPortion(principal, tx.Uint("PaymentTotal")).Add(periodInterest(loan, principal)))
	l.store.Put(objectIndex("loan", tx.Field("LoanBrokerID"), strconv.FormatUint(uint64(seq), 10)), loan)

	b["LoanSequence"] = seq + 1
	b["OwnerCount"] = uintField(b, "OwnerCount") + 1
	setDecimal(b, "DebtTotal", debt)
	setDecimal(v, "AssetsAvailable", available.Sub(principal))
	return tesSUCCESS
}

func (l *Ledger) applyLoanPay(tx ledger.Transaction) string {
	loanID := tx.Field("LoanID")
	loan := l.loan(loanID)
	if loan == nil {
		return "tecNO_ENTRY"
	}
	if loan.Field("Borrower") != tx.Account() {
		return "tecNO_PERMISSION"
	}
	if uintField(loan, "Flags")&lsfLoanDefault != 0 || uintField(loan, "PaymentRemaining") == 0 {
		return "tecKILLED"
	}
	b := l.broker(loan.Field("LoanBrokerID"))
	v := l.vault(b.Field("VaultID"))
	a, ok := parseAmount(tx["Amount"])
	if !ok || !a.value.IsPositive() {
		return "temBAD_AMOUNT"
	}
	if !a.sameAsset(assetOf(v)) {
		return "tecWRONG_ASSET"
	}

	outstanding := decimalField(loan, "PrincipalOutstanding")
	remaining := uintField(loan, "PaymentRemaining")
	interest := periodInterest(loan, outstanding)
	principalPart := principalPortion(outstanding, remaining)
	if tx.Flags()&ledger.TfLoanFullPayment != 0 {
		principalPart = outstanding
		remaining = 1
	}
	due := principalPart.Add(interest)
	if a.value.LessThan(due) {
		return "tecINSUFFICIENT_PAYMENT"
	}

	paid := amount{currency: a.currency, issuer: a.issuer, value: due}
	if code := l.takeToken(tx.Account(), paid); code != tesSUCCESS {
		return code
	}

	setDecimal(loan, "PrincipalOutstanding", outstanding.Sub(principalPart))
	loan["PaymentRemaining"] = remaining - 1
	loan["PreviousPaymentDate"] = l.now()
	loan["NextPaymentDueDate"] = uintField(loan, "NextPaymentDueDate") + uintField(loan, "PaymentInterval")
	if remaining-1 == 0 {
		setDecimal(loan, "PeriodicPayment", decimal.Zero)
	}

	setDecimal(b, "DebtTotal", decimalField(b, "DebtTotal").Sub(principalPart))
	setDecimal(v, "AssetsAvailable", decimalField(v, "AssetsAvailable").Add(due))
	setDecimal(v, "AssetsTotal", decimalField(v, "AssetsTotal").Add(interest))
	return tesSUCCESS
}

// applyLoanManage handles default, impairment and its reversal. On default
// the broker's cover absorbs up to CoverRateMinimum of the outstanding
// principal; the vault books the rest as a realized loss.
func (l *Ledger) applyLoanManage(tx ledger.Transaction) string {
	loan := l.loan(tx.Field("LoanID"))
	if loan == nil {
		return "tecNO_ENTRY"
	}
	b := l.broker(loan.Field("LoanBrokerID"))
	if b.Field("Owner") != tx.Account() {
		return "tecNO_PERMISSION"
	}
	v := l.vault(b.Field("VaultID"))

	flags := tx.Flags()
	loanFlags := uintField(loan, "Flags")
	outstanding := decimalField(loan, "PrincipalOutstanding")

	switch flags & (ledger.TfLoanDefault | ledger.TfLoanImpair | ledger.TfLoanUnimpair) {
	case ledger.TfLoanDefault:
		if loanFlags&lsfLoanDefault != 0 || uintField(loan, "PaymentRemaining") == 0 {
			return "tecNO_PERMISSION"
		}
		if l.opts.EnforceGracePeriod && l.now() <= uintField(loan, "NextPaymentDueDate")+uintField(loan, "GracePeriod") {
			return "tecTOO_SOON"
		}
		covered := decimal.Min(decimalField(b, "CoverAvailable"), round(requiredCover(b, outstanding)))
		loss := outstanding.Sub(covered)

		if loanFlags&lsfLoanImpaired != 0 {
			setDecimal(v, "LossUnrealized", decimalField(v, "LossUnrealized").Sub(outstanding))
		}
		setDecimal(v, "AssetsTotal", decimalField(v, "AssetsTotal").Sub(loss))
		setDecimal(v, "AssetsAvailable", decimalField(v, "AssetsAvailable").Add(covered))
		setDecimal(b, "CoverAvailable", decimalField(b, "CoverAvailable").Sub(covered))
		setDecimal(b, "DebtTotal", decimalField(b, "DebtTotal").Sub(outstanding))

		loan["Flags"] = (loanFlags | lsfLoanDefault) &^ lsfLoanImpaired
		loan["PaymentRemaining"] = uint32(0)
		setDecimal(loan, "PrincipalOutstanding", decimal.Zero)
		setDecimal(loan, "PeriodicPayment", decimal.Zero)
	case ledger.TfLoanImpair:
		if loanFlags&(lsfLoanDefault|lsfLoanImpaired) != 0 {
			return "tecNO_PERMISSION"
		}
		loan["Flags"] = loanFlags | lsfLoanImpaired
		setDecimal(v, "LossUnrealized", decimalField(v, "LossUnrealized").Add(outstanding))
	case ledger.TfLoanUnimpair:
		if loanFlags&lsfLoanImpaired == 0 {
			return "tecNO_PERMISSION"
		}
		loan["Flags"] = loanFlags &^ lsfLoanImpaired
		setDecimal(v, "LossUnrealized", decimalField(v, "LossUnrealized").Sub(outstanding))
	default:
		return "temINVALID_FLAG"
	}
	return tesSUCCESS
}

func (l *Ledger) applyLoanDelete(tx ledger.Transaction) string {
	loanID := tx.Field("LoanID")
	loan := l.loan(loanID)
	if loan == nil {
		return "tecNO_ENTRY"
	}
	b := l.broker(loan.Field("LoanBrokerID"))
	if tx.Account() != b.Field("Owner") && tx.Account() != loan.Field("Borrower") {
		return "tecNO_PERMISSION"
	}
	if uintField(loan, "PaymentRemaining") != 0 {
		return "tecHAS_OBLIGATIONS"
	}
	l.store.Delete(loanID)
	if n := uintField(b, "OwnerCount"); n > 0 {
		b["OwnerCount"] = n - 1
	}
	return tesSUCCESS
}
