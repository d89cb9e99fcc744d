package sim

import (
	"context"
	"strings"
	"testing"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"
	"loanflow/pkg/validator"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usd = "USD"

func newTestLedger() *Ledger {
	return New(Options{}, logger.NewNop())
}

func fund(t *testing.T, l *Ledger) *ledger.Wallet {
	t.Helper()
	w, err := l.Fund(context.Background())
	require.NoError(t, err)
	return &w.Wallet
}

func submit(t *testing.T, l *Ledger, w *ledger.Wallet, tx ledger.Transaction) *ledger.TxResult {
	t.Helper()
	ctx := context.Background()
	filled, err := l.Autofill(ctx, tx, ledger.AutofillOptions{})
	require.NoError(t, err)
	signed, err := l.Sign(ctx, filled, w)
	require.NoError(t, err)
	res, err := l.Submit(ctx, signed)
	require.NoError(t, err)
	return res
}

func mustSucceed(t *testing.T, l *Ledger, w *ledger.Wallet, tx ledger.Transaction) *ledger.TxResult {
	t.Helper()
	res := submit(t, l, w, tx)
	require.Equal(t, ledger.ResultSuccess, res.Code, "%s", tx.Type())
	return res
}

func usdAmount(issuer *ledger.Wallet, v string) map[string]interface{} {
	return ledger.IssuedAmount(usd, issuer.Address, decimal.RequireFromString(v))
}

func trust(t *testing.T, l *Ledger, holder, issuer *ledger.Wallet) {
	mustSucceed(t, l, holder, ledger.Transaction{
		"TransactionType": ledger.TxTrustSet,
		"Account":         holder.Address,
		"LimitAmount":     usdAmount(issuer, "1000000000"),
	})
}

func pay(issuer, to *ledger.Wallet, v string) ledger.Transaction {
	return ledger.Transaction{
		"TransactionType": ledger.TxPayment,
		"Account":         issuer.Address,
		"Destination":     to.Address,
		"Amount":          usdAmount(issuer, v),
	}
}

func tokenBalance(t *testing.T, l *Ledger, holder, issuer *ledger.Wallet) decimal.Decimal {
	t.Helper()
	lines, err := l.AccountLines(context.Background(), holder.Address)
	require.NoError(t, err)
	for _, line := range lines {
		if line.Peer == issuer.Address && line.Currency == usd {
			return line.Balance
		}
	}
	return decimal.Zero
}

func assertBalance(t *testing.T, l *Ledger, holder, issuer *ledger.Wallet, want string) {
	t.Helper()
	got := tokenBalance(t, l, holder, issuer)
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "balance %s, want %s", got, want)
}

func TestFund_CreatesClassicAccount(t *testing.T) {
	l := newTestLedger()
	w, err := l.Fund(context.Background())
	require.NoError(t, err)

	assert.True(t, validator.IsClassicAddress(w.Address), w.Address)
	assert.True(t, strings.HasPrefix(w.Seed, "sEd"))
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(100)))

	info, err := l.AccountInfo(context.Background(), w.Address)
	require.NoError(t, err)
	assert.True(t, info.XRP().Equal(decimal.NewFromInt(100)))
}

func TestFund_FailureInjection(t *testing.T) {
	l := newTestLedger()
	l.FailFunding(1, errors.New("faucet down"))

	_, err := l.Fund(context.Background())
	require.NoError(t, err)
	_, err = l.Fund(context.Background())
	assert.True(t, errors.Is(err, errors.ErrFaucetUnavailable))
}

func TestAccountInfo_UnknownAccount(t *testing.T) {
	_, err := newTestLedger().AccountInfo(context.Background(), "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh")
	assert.True(t, errors.Is(err, errors.ErrAccountNotFound))
}

func TestIssuedPayment_UpdatesBothSides(t *testing.T) {
	l := newTestLedger()
	issuer, holder := fund(t, l), fund(t, l)

	res := submit(t, l, issuer, pay(issuer, holder, "10"))
	assert.Equal(t, "tecPATH_DRY", res.Code)
	assert.True(t, res.Validated)

	trust(t, l, holder, issuer)
	res = mustSucceed(t, l, issuer, pay(issuer, holder, "500"))
	assert.True(t, res.Validated)
	assert.NotEmpty(t, res.Hash)

	assertBalance(t, l, holder, issuer, "500")
	assertBalance(t, l, issuer, holder, "-500")
}

func TestSubmit_RejectsForeignSignature(t *testing.T) {
	l := newTestLedger()
	a, b := fund(t, l), fund(t, l)
	before, err := l.AccountInfo(context.Background(), a.Address)
	require.NoError(t, err)

	res := submit(t, l, b, ledger.Transaction{
		"TransactionType": ledger.TxAccountSet,
		"Account":         a.Address,
	})
	assert.Equal(t, "tefBAD_AUTH", res.Code)
	assert.False(t, res.Validated)

	after, err := l.AccountInfo(context.Background(), a.Address)
	require.NoError(t, err)
	assert.Equal(t, before.Sequence, after.Sequence)
}

func TestSubmit_FaultInjection(t *testing.T) {
	l := newTestLedger()
	w := fund(t, l)
	l.RejectTx(ledger.TxAccountSet, "tecNO_PERMISSION")

	res := submit(t, l, w, ledger.Transaction{"TransactionType": ledger.TxAccountSet, "Account": w.Address})
	assert.Equal(t, "tecNO_PERMISSION", res.Code)
	assert.True(t, res.Validated)

	l.ClearFaults()
	mustSucceed(t, l, w, ledger.Transaction{"TransactionType": ledger.TxAccountSet, "Account": w.Address})

	history := l.History()
	require.Len(t, history, 2)
	assert.Equal(t, "tecNO_PERMISSION", history[0].Code)
	assert.Equal(t, ledger.ResultSuccess, history[1].Code)
}

func batchOf(issuer *ledger.Wallet, txs ...ledger.Transaction) ledger.Transaction {
	raw := make([]interface{}, 0, len(txs))
	for _, tx := range txs {
		tx["Flags"] = ledger.TfInnerBatchTxn
		tx["Fee"] = "0"
		tx["SigningPubKey"] = ""
		raw = append(raw, map[string]interface{}{"RawTransaction": map[string]interface{}(tx)})
	}
	return ledger.Transaction{
		"TransactionType": ledger.TxBatch,
		"Account":         issuer.Address,
		"Flags":           ledger.TfAllOrNothing,
		"RawTransactions": raw,
	}
}

func TestBatch_AllOrNothing(t *testing.T) {
	l := newTestLedger()
	issuer, a, b := fund(t, l), fund(t, l), fund(t, l)
	trust(t, l, a, issuer)

	before, err := l.AccountInfo(context.Background(), issuer.Address)
	require.NoError(t, err)

	// b has no trust line, so the second payment fails and the first is undone
	// while the Batch itself still succeeds.
	res := submit(t, l, issuer, batchOf(issuer, pay(issuer, a, "10"), pay(issuer, b, "20")))
	assert.Equal(t, ledger.ResultSuccess, res.Code)
	assert.True(t, res.Validated)
	assertBalance(t, l, a, issuer, "0")
	for _, n := range res.AffectedNodes {
		assert.NotEqual(t, ledger.EntryTrustLine, n.LedgerEntryType, "no trust line may change")
	}

	afterFailed, err := l.AccountInfo(context.Background(), issuer.Address)
	require.NoError(t, err)
	assert.Equal(t, before.Sequence+1, afterFailed.Sequence, "only the outer sequence is consumed")

	trust(t, l, b, issuer)
	before, err = l.AccountInfo(context.Background(), issuer.Address)
	require.NoError(t, err)

	mustSucceed(t, l, issuer, batchOf(issuer, pay(issuer, a, "10"), pay(issuer, b, "20")))
	assertBalance(t, l, a, issuer, "10")
	assertBalance(t, l, b, issuer, "20")

	after, err := l.AccountInfo(context.Background(), issuer.Address)
	require.NoError(t, err)
	assert.Equal(t, before.Sequence+3, after.Sequence)
}

func TestBatch_InnerFaultAppliesNothing(t *testing.T) {
	l := newTestLedger()
	issuer, a, b := fund(t, l), fund(t, l), fund(t, l)
	trust(t, l, a, issuer)
	trust(t, l, b, issuer)
	l.FailBatchInner("tecPATH_PARTIAL")

	res := submit(t, l, issuer, batchOf(issuer, pay(issuer, a, "10"), pay(issuer, b, "20")))
	assert.Equal(t, ledger.ResultSuccess, res.Code)
	assertBalance(t, l, a, issuer, "0")
	assertBalance(t, l, b, issuer, "0")
	assert.False(t, ledger.TrustLineCredited(res.AffectedNodes, a.Address))

	l.ClearFaults()
	res = submit(t, l, issuer, batchOf(issuer, pay(issuer, a, "10"), pay(issuer, b, "20")))
	require.Equal(t, ledger.ResultSuccess, res.Code)
	assertBalance(t, l, a, issuer, "10")
	assert.True(t, ledger.TrustLineCredited(res.AffectedNodes, a.Address))
	assert.True(t, ledger.TrustLineCredited(res.AffectedNodes, b.Address))
}

func TestBatch_Disabled(t *testing.T) {
	l := newTestLedger()
	issuer, a, b := fund(t, l), fund(t, l), fund(t, l)
	trust(t, l, a, issuer)
	trust(t, l, b, issuer)
	l.DisableBatch()

	res := submit(t, l, issuer, batchOf(issuer, pay(issuer, a, "10"), pay(issuer, b, "20")))
	assert.Equal(t, "temDISABLED", res.Code)
	assert.False(t, res.Validated)
	assertBalance(t, l, a, issuer, "0")
}

type lendingFixture struct {
	l                                *Ledger
	issuer, lender, borrower, broker *ledger.Wallet
	vaultID, brokerID                string
}

func setupLending(t *testing.T) *lendingFixture {
	l := newTestLedger()
	f := &lendingFixture{l: l, issuer: fund(t, l), lender: fund(t, l), borrower: fund(t, l), broker: fund(t, l)}

	mustSucceed(t, l, f.issuer, ledger.Transaction{
		"TransactionType": ledger.TxAccountSet,
		"Account":         f.issuer.Address,
		"SetFlag":         ledger.AsfDefaultRipple,
	})
	for _, w := range []*ledger.Wallet{f.lender, f.borrower, f.broker} {
		trust(t, l, w, f.issuer)
	}
	mustSucceed(t, l, f.issuer, pay(f.issuer, f.lender, "10000"))
	mustSucceed(t, l, f.issuer, pay(f.issuer, f.broker, "1000"))

	res := mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxVaultCreate,
		"Account":         f.broker.Address,
		"Asset":           ledger.IssuedAsset(usd, f.issuer.Address),
	})
	var ok bool
	f.vaultID, ok = ledger.CreatedID(res.AffectedNodes, ledger.EntryVault)
	require.True(t, ok)

	mustSucceed(t, l, f.lender, ledger.Transaction{
		"TransactionType": ledger.TxVaultDeposit,
		"Account":         f.lender.Address,
		"VaultID":         f.vaultID,
		"Amount":          usdAmount(f.issuer, "5000"),
	})
	res = mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType":  ledger.TxLoanBrokerSet,
		"Account":          f.broker.Address,
		"VaultID":          f.vaultID,
		"CoverRateMinimum": 10000,
	})
	f.brokerID, ok = ledger.CreatedID(res.AffectedNodes, ledger.EntryLoanBroker)
	require.True(t, ok)

	mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxLoanBrokerCoverDeposit,
		"Account":         f.broker.Address,
		"LoanBrokerID":    f.brokerID,
		"Amount":          usdAmount(f.issuer, "200"),
	})
	return f
}

func (f *lendingFixture) loanSet() ledger.Transaction {
	return ledger.Transaction{
		"TransactionType":    ledger.TxLoanSet,
		"Account":            f.broker.Address,
		"LoanBrokerID":       f.brokerID,
		"Counterparty":       f.borrower.Address,
		"PrincipalRequested": "1000",
		"InterestRate":       5000,
		"PaymentTotal":       12,
		"PaymentInterval":    3600,
		"GracePeriod":        60,
	}
}

func (f *lendingFixture) issueLoan(t *testing.T) string {
	ctx := context.Background()
	filled, err := f.l.Autofill(ctx, f.loanSet(), ledger.AutofillOptions{Signers: 1})
	require.NoError(t, err)
	signed, err := f.l.Sign(ctx, filled, f.broker)
	require.NoError(t, err)
	cosigned, err := f.l.SignCounterparty(ctx, signed.Tx, f.borrower)
	require.NoError(t, err)

	res, err := f.l.Submit(ctx, cosigned)
	require.NoError(t, err)
	require.Equal(t, ledger.ResultSuccess, res.Code)

	loanID, ok := ledger.CreatedID(res.AffectedNodes, ledger.EntryLoan)
	require.True(t, ok)
	return loanID
}

func TestLoanSet_NeedsCounterpartySignature(t *testing.T) {
	f := setupLending(t)
	ctx := context.Background()

	res := submit(t, f.l, f.broker, f.loanSet())
	assert.Equal(t, "tefBAD_AUTH", res.Code)

	// Fee not scaled for the co-signature.
	filled, err := f.l.Autofill(ctx, f.loanSet(), ledger.AutofillOptions{})
	require.NoError(t, err)
	signed, err := f.l.Sign(ctx, filled, f.broker)
	require.NoError(t, err)
	cosigned, err := f.l.SignCounterparty(ctx, signed.Tx, f.borrower)
	require.NoError(t, err)
	res, err = f.l.Submit(ctx, cosigned)
	require.NoError(t, err)
	assert.Equal(t, "telINSUF_FEE_P", res.Code)

	// Tampering after the co-signature breaks it.
	filled, err = f.l.Autofill(ctx, f.loanSet(), ledger.AutofillOptions{Signers: 1})
	require.NoError(t, err)
	cosigned, err = f.l.SignCounterparty(ctx, filled, f.borrower)
	require.NoError(t, err)
	cosigned.Tx["PrincipalRequested"] = "2000"
	signed, err = f.l.Sign(ctx, cosigned.Tx, f.broker)
	require.NoError(t, err)
	signed.Blob = ""
	res, err = f.l.Submit(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, "temBAD_SIGNATURE", res.Code)
}

func TestLoanSet_CoverMinimumGatesIssuance(t *testing.T) {
	f := setupLending(t)
	ctx := context.Background()

	tx := f.loanSet()
	tx["PrincipalRequested"] = "2500"
	filled, err := f.l.Autofill(ctx, tx, ledger.AutofillOptions{Signers: 1})
	require.NoError(t, err)
	signed, err := f.l.Sign(ctx, filled, f.broker)
	require.NoError(t, err)
	cosigned, err := f.l.SignCounterparty(ctx, signed.Tx, f.borrower)
	require.NoError(t, err)

	res, err := f.l.Submit(ctx, cosigned)
	require.NoError(t, err)
	assert.Equal(t, "tecINSUFFICIENT_FUNDS", res.Code)
	_, created := ledger.CreatedID(res.AffectedNodes, ledger.EntryLoan)
	assert.False(t, created)
}

func TestLending_FullLifecycle(t *testing.T) {
	f := setupLending(t)
	l, ctx := f.l, context.Background()

	loanID := f.issueLoan(t)
	assertBalance(t, l, f.borrower, f.issuer, "1000")

	loan, err := l.LedgerEntry(ctx, loanID)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryLoan, loan.Type())
	assert.Equal(t, "83.339041", loan.Field("PeriodicPayment"))

	mustSucceed(t, l, f.borrower, ledger.Transaction{
		"TransactionType": ledger.TxLoanPay,
		"Account":         f.borrower.Address,
		"LoanID":          loanID,
		"Amount":          usdAmount(f.issuer, "100"),
	})
	assertBalance(t, l, f.borrower, f.issuer, "916.660959")

	mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxLoanManage,
		"Account":         f.broker.Address,
		"LoanID":          loanID,
		"Flags":           ledger.TfLoanDefault,
	})
	mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxLoanDelete,
		"Account":         f.broker.Address,
		"LoanID":          loanID,
	})
	_, err = l.LedgerEntry(ctx, loanID)
	assert.True(t, errors.Is(err, errors.ErrEntryNotFound))

	broker, err := l.LedgerEntry(ctx, f.brokerID)
	require.NoError(t, err)
	assert.Equal(t, "108.333333", broker.Field("CoverAvailable"))
	mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxLoanBrokerCoverWithdraw,
		"Account":         f.broker.Address,
		"LoanBrokerID":    f.brokerID,
		"Amount":          usdAmount(f.issuer, broker.Field("CoverAvailable")),
	})
	mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxLoanBrokerDelete,
		"Account":         f.broker.Address,
		"LoanBrokerID":    f.brokerID,
	})

	vault, err := l.LedgerEntry(ctx, f.vaultID)
	require.NoError(t, err)
	assert.Equal(t, "4175.005708", vault.Field("AssetsAvailable"))
	mustSucceed(t, l, f.lender, ledger.Transaction{
		"TransactionType": ledger.TxVaultWithdraw,
		"Account":         f.lender.Address,
		"VaultID":         f.vaultID,
		"Amount":          usdAmount(f.issuer, vault.Field("AssetsAvailable")),
	})
	mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxVaultDelete,
		"Account":         f.broker.Address,
		"VaultID":         f.vaultID,
	})

	assertBalance(t, l, f.lender, f.issuer, "9175.005708")
	assertBalance(t, l, f.broker, f.issuer, "908.333333")
}

func TestLoanPay_FullPaymentClosesLoan(t *testing.T) {
	f := setupLending(t)
	l := f.l
	loanID := f.issueLoan(t)
	mustSucceed(t, l, f.issuer, pay(f.issuer, f.borrower, "100"))

	res := submit(t, l, f.borrower, ledger.Transaction{
		"TransactionType": ledger.TxLoanPay,
		"Account":         f.borrower.Address,
		"LoanID":          loanID,
		"Amount":          usdAmount(f.issuer, "1000"),
		"Flags":           ledger.TfLoanFullPayment,
	})
	assert.Equal(t, "tecINSUFFICIENT_PAYMENT", res.Code)

	mustSucceed(t, l, f.borrower, ledger.Transaction{
		"TransactionType": ledger.TxLoanPay,
		"Account":         f.borrower.Address,
		"LoanID":          loanID,
		"Amount":          usdAmount(f.issuer, "1001"),
		"Flags":           ledger.TfLoanFullPayment,
	})
	assertBalance(t, l, f.borrower, f.issuer, "99.994292")

	mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxLoanDelete,
		"Account":         f.broker.Address,
		"LoanID":          loanID,
	})
}

func TestLoanDelete_OutstandingLoan(t *testing.T) {
	f := setupLending(t)
	loanID := f.issueLoan(t)

	res := submit(t, f.l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxLoanDelete,
		"Account":         f.broker.Address,
		"LoanID":          loanID,
	})
	assert.Equal(t, "tecHAS_OBLIGATIONS", res.Code)
}

func TestLoanSet_DelegatedMultiSign(t *testing.T) {
	f := setupLending(t)
	l, ctx := f.l, context.Background()

	filled, err := l.Autofill(ctx, f.loanSet(), ledger.AutofillOptions{Signers: 2})
	require.NoError(t, err)
	multi, err := l.SignFor(ctx, filled, f.issuer)
	require.NoError(t, err)
	cosigned, err := l.SignCounterparty(ctx, multi.Tx, f.borrower)
	require.NoError(t, err)

	res, err := l.Submit(ctx, cosigned)
	require.NoError(t, err)
	assert.Equal(t, "tefNOT_MULTI_SIGNING", res.Code)

	mustSucceed(t, l, f.broker, ledger.Transaction{
		"TransactionType": ledger.TxSignerListSet,
		"Account":         f.broker.Address,
		"SignerQuorum":    1,
		"SignerEntries": []interface{}{
			map[string]interface{}{"SignerEntry": map[string]interface{}{"Account": f.issuer.Address, "SignerWeight": 1}},
		},
	})

	// Paying only for the delegate leaves the co-signature unfunded.
	filled, err = l.Autofill(ctx, f.loanSet(), ledger.AutofillOptions{Signers: 1})
	require.NoError(t, err)
	multi, err = l.SignFor(ctx, filled, f.issuer)
	require.NoError(t, err)
	cosigned, err = l.SignCounterparty(ctx, multi.Tx, f.borrower)
	require.NoError(t, err)
	res, err = l.Submit(ctx, cosigned)
	require.NoError(t, err)
	assert.Equal(t, "telINSUF_FEE_P", res.Code)

	filled, err = l.Autofill(ctx, f.loanSet(), ledger.AutofillOptions{Signers: 2})
	require.NoError(t, err)
	multi, err = l.SignFor(ctx, filled, f.issuer)
	require.NoError(t, err)
	assert.Equal(t, "", multi.Tx.Field("SigningPubKey"))
	cosigned, err = l.SignCounterparty(ctx, multi.Tx, f.borrower)
	require.NoError(t, err)

	res, err = l.Submit(ctx, cosigned)
	require.NoError(t, err)
	assert.Equal(t, ledger.ResultSuccess, res.Code)
	_, ok := ledger.CreatedID(res.AffectedNodes, ledger.EntryLoan)
	assert.True(t, ok)
}

func TestSignerListSet_RejectsSelf(t *testing.T) {
	l := newTestLedger()
	w := fund(t, l)
	res := submit(t, l, w, ledger.Transaction{
		"TransactionType": ledger.TxSignerListSet,
		"Account":         w.Address,
		"SignerQuorum":    1,
		"SignerEntries": []interface{}{
			map[string]interface{}{"SignerEntry": map[string]interface{}{"Account": w.Address, "SignerWeight": 1}},
		},
	})
	assert.Equal(t, "temBAD_SIGNER", res.Code)
}
