package flow

import (
	"context"
	"strings"
	"sync"
	"testing"

	"loanflow/internal/domain"
	"loanflow/internal/ledger"
	"loanflow/internal/ledger/sim"
	"loanflow/internal/lending"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	states []domain.FlowState
}

func (r *recorder) record(e domain.Event, st domain.FlowState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.states = append(r.states, st)
}

// stepEvents returns the indexes of the step events for id.
func (r *recorder) stepEvents(id string) (running, terminal []int) {
	for i, e := range r.events {
		if e.Type != domain.EventStepUpdate || e.Step.ID != id {
			continue
		}
		if e.Step.Status == domain.StepRunning {
			running = append(running, i)
		} else if e.Step.Status.Terminal() {
			terminal = append(terminal, i)
		}
	}
	return running, terminal
}

func (r *recorder) last() domain.Event {
	return r.events[len(r.events)-1]
}

func runScenario(t *testing.T, client ledger.Client, faucet ledger.Faucet, id domain.ScenarioID) (*Session, *recorder, error) {
	t.Helper()
	o := NewOrchestrator(client, faucet, lending.DefaultParams(), logger.NewNop())
	s := NewSession("run-"+string(id), id)
	rec := &recorder{}
	s.Subscribe(rec.record)
	err := o.Run(context.Background(), s)
	return s, rec, err
}

func simulated() *sim.Ledger {
	return sim.New(sim.Options{}, logger.NewNop())
}

func TestRun_LoanCreationEndToEnd(t *testing.T) {
	l := simulated()
	s, rec, err := runScenario(t, l, l, domain.ScenarioLoanCreation)
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, domain.FlowCompleted, st.Status)
	require.Len(t, st.Parties, 4)
	report := st.ReportText()
	for _, p := range st.Parties {
		assert.NotEmpty(t, p.Address, p.Role)
		assert.Contains(t, report, p.Address)
	}
	assert.NotEmpty(t, st.VaultID)
	assert.NotEmpty(t, st.BrokerID)
	assert.NotEmpty(t, st.LoanID)
	assert.Contains(t, report, st.VaultID)
	assert.Contains(t, report, st.BrokerID)
	assert.Contains(t, report, st.LoanID)

	last := rec.last()
	assert.Equal(t, domain.EventFlowComplete, last.Type)
	assert.Equal(t, report, last.Report)

	verifyStep, ok := st.Step("verify")
	require.True(t, ok)
	assert.Equal(t, "exists", verifyStep.Details["vault"])
	assert.Equal(t, "exists", verifyStep.Details["loan"])
	assert.Equal(t, "1000", verifyStep.Details["loan_PrincipalOutstanding"])
}

func TestRun_EveryStepHasOneRunningAndOneTerminalEvent(t *testing.T) {
	l := simulated()
	s, rec, err := runScenario(t, l, l, domain.ScenarioLoanPayment)
	require.NoError(t, err)

	for _, step := range s.State().Steps {
		running, terminal := rec.stepEvents(step.ID)
		assert.Len(t, running, 1, step.ID)
		assert.Len(t, terminal, 1, step.ID)
		if len(running) == 1 && len(terminal) == 1 {
			assert.Less(t, running[0], terminal[0], step.ID)
		}
		assert.Equal(t, domain.StepSuccess, step.Status, step.ID)
		if step.TxType != "" {
			assert.NotEmpty(t, step.TxHash, step.ID)
			summary, ok := step.Result.(domain.TxSummary)
			require.True(t, ok, step.ID)
			assert.Equal(t, ledger.ResultSuccess, summary.Code)
		}
	}
}

func TestRun_SetupOrder(t *testing.T) {
	l := simulated()
	_, rec, err := runScenario(t, l, l, domain.ScenarioLoanCreation)
	require.NoError(t, err)

	_, provisioned := rec.stepEvents("provision-wallets")
	require.Len(t, provisioned, 1)
	rippling, _ := rec.stepEvents("enable-rippling")
	require.Len(t, rippling, 1)
	assert.Less(t, provisioned[0], rippling[0])
	for _, p := range rec.states[rippling[0]].Parties {
		assert.NotEmpty(t, p.Address, "party %s before the first transaction", p.Role)
	}

	_, vaultCreated := rec.stepEvents("vault-create")
	require.Len(t, vaultCreated, 1)
	for _, id := range []string{"broker-create", "vault-deposit"} {
		running, _ := rec.stepEvents(id)
		require.Len(t, running, 1, id)
		assert.Greater(t, running[0], vaultCreated[0], "%s must start after the vault exists", id)
	}

	_, brokerCreated := rec.stepEvents("broker-create")
	cover, _ := rec.stepEvents("cover-deposit")
	assert.Greater(t, cover[0], brokerCreated[0])
}

func TestRun_BatchFallbackMatchesBatchBalances(t *testing.T) {
	batched := simulated()
	withBatch, _, err := runScenario(t, batched, batched, domain.ScenarioLoanCreation)
	require.NoError(t, err)

	fallback := simulated()
	fallback.DisableBatch()
	s, _, err := runScenario(t, fallback, fallback, domain.ScenarioLoanCreation)
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, domain.FlowCompleted, st.Status)

	batch, ok := st.Step("fund-batch")
	require.True(t, ok)
	assert.Equal(t, domain.StepFailed, batch.Status)
	assert.Contains(t, batch.Error, "temDISABLED")
	for _, id := range []string{"fund-lender", "fund-broker"} {
		step, ok := st.Step(id)
		require.True(t, ok, id)
		assert.Equal(t, domain.StepSuccess, step.Status, id)
	}
	assert.Contains(t, st.ReportText(), "falling back to individual payments")

	for _, role := range []domain.Role{domain.RoleLender, domain.RoleBroker} {
		want, _ := withBatch.State().Party(role)
		got, _ := st.Party(role)
		assert.NotEmpty(t, got.TokenBalance, role)
		assert.Equal(t, want.TokenBalance, got.TokenBalance, role)
	}
}

func TestRun_BatchThatDeliversNothingFallsBack(t *testing.T) {
	l := simulated()
	l.FailBatchInner("tecPATH_PARTIAL")
	s, _, err := runScenario(t, l, l, domain.ScenarioLoanCreation)
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, domain.FlowCompleted, st.Status)

	batch, ok := st.Step("fund-batch")
	require.True(t, ok)
	assert.Equal(t, domain.StepFailed, batch.Status)
	summary, ok := batch.Result.(domain.TxSummary)
	require.True(t, ok)
	assert.Equal(t, ledger.ResultSuccess, summary.Code)
	assert.Contains(t, batch.Error, "batch transaction rejected")
	for _, id := range []string{"fund-lender", "fund-broker"} {
		step, ok := st.Step(id)
		require.True(t, ok, id)
		assert.Equal(t, domain.StepSuccess, step.Status, id)
	}
	assert.Contains(t, st.ReportText(), "falling back to individual payments")

	deposit, ok := st.Step("vault-deposit")
	require.True(t, ok)
	assert.Equal(t, domain.StepSuccess, deposit.Status)
}

func TestRun_LoanDefaultLeavesNoLoan(t *testing.T) {
	l := simulated()
	s, _, err := runScenario(t, l, l, domain.ScenarioLoanDefault)
	require.NoError(t, err)

	st := s.State()
	require.NotEmpty(t, st.LoanID)
	_, err = l.LedgerEntry(context.Background(), st.LoanID)
	assert.True(t, errors.Is(err, errors.ErrEntryNotFound))

	verifyStep, _ := st.Step("verify")
	assert.Equal(t, "deleted (not found)", verifyStep.Details["loan"])
	assert.Equal(t, "exists", verifyStep.Details["vault"])
}

func TestRun_EarlyRepaymentCoversOutstanding(t *testing.T) {
	l := simulated()
	s, _, err := runScenario(t, l, l, domain.ScenarioEarlyRepayment)
	require.NoError(t, err)

	repay, ok := s.State().Step("loan-repay-full")
	require.True(t, ok)
	assert.Equal(t, "outstanding principal + interest", repay.Details["amount_source"])
	amount, err := decimal.NewFromString(strings.TrimSuffix(repay.Details["amount"], " USD"))
	require.NoError(t, err)
	assert.True(t, amount.GreaterThanOrEqual(decimal.NewFromInt(1000)), amount.String())
}

// blindLookups fails every ledger_entry lookup.
type blindLookups struct {
	ledger.Client
}

func (blindLookups) LedgerEntry(ctx context.Context, index string) (ledger.Entry, error) {
	return nil, errors.New("ledger_entry timed out")
}

func TestRun_EarlyRepaymentFallsBackWhenLookupFails(t *testing.T) {
	l := simulated()
	s, _, err := runScenario(t, blindLookups{l}, l, domain.ScenarioEarlyRepayment)
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, domain.FlowCompleted, st.Status)
	repay, _ := st.Step("loan-repay-full")
	assert.Equal(t, "1100 USD", repay.Details["amount"])
	assert.True(t, strings.HasPrefix(repay.Details["amount_source"], "fallback (unavailable:"))

	verifyStep, _ := st.Step("verify")
	assert.Equal(t, domain.StepSuccess, verifyStep.Status)
	assert.Equal(t, "unavailable: ledger_entry timed out", verifyStep.Details["vault"])
}

func TestRun_FullLifecycle(t *testing.T) {
	l := simulated()
	s, _, err := runScenario(t, l, l, domain.ScenarioFullLifecycle)
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, domain.FlowCompleted, st.Status)
	verifyStep, _ := st.Step("verify")
	assert.Equal(t, "deleted (not found)", verifyStep.Details["vault"])
	assert.Equal(t, "deleted (not found)", verifyStep.Details["broker"])
	assert.Equal(t, "deleted (not found)", verifyStep.Details["loan"])

	withdraw, _ := st.Step("cover-withdraw")
	assert.Equal(t, "108.333333 USD", withdraw.Details["amount"])
	lender, _ := st.Party(domain.RoleLender)
	assert.Equal(t, "9175.005708", lender.TokenBalance)
}

func TestRun_MultisigCosign(t *testing.T) {
	l := simulated()
	s, _, err := runScenario(t, l, l, domain.ScenarioMultisigCosign)
	require.NoError(t, err)

	st := s.State()
	assert.NotEmpty(t, st.LoanID)
	loan, _ := st.Step("loan-create")
	assert.Equal(t, "delegated multi-signature + counterparty co-signature", loan.Details["authorization"])
	issuer, _ := st.Party(domain.RoleIssuer)
	signerList, _ := st.Step("signer-list")
	assert.Equal(t, issuer.Address, signerList.Details["delegate"])
}

func TestRun_ProvisioningFailureIsFatal(t *testing.T) {
	l := simulated()
	l.FailFunding(2, errors.New("faucet returned 503"))
	s, rec, err := runScenario(t, l, l, domain.ScenarioLoanCreation)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProvisioningFailed))

	st := s.State()
	assert.Equal(t, domain.FlowError, st.Status)
	require.Len(t, st.Steps, 1)
	assert.Equal(t, domain.StepFailed, st.Steps[0].Status)
	assert.Empty(t, l.History())

	last := rec.last()
	assert.Equal(t, domain.EventFlowError, last.Type)
	assert.Contains(t, last.Report, "Provision wallets")
}

func TestRun_RejectedTransactionAbortsRun(t *testing.T) {
	l := simulated()
	l.RejectTx(ledger.TxVaultDeposit, "tecNO_PERMISSION")
	s, rec, err := runScenario(t, l, l, domain.ScenarioLoanCreation)
	require.Error(t, err)

	var txErr *errors.TxError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, "tecNO_PERMISSION", txErr.Code)
	assert.True(t, errors.Is(err, errors.ErrTransactionRejected))

	st := s.State()
	assert.Equal(t, domain.FlowError, st.Status)
	deposit, _ := st.Step("vault-deposit")
	assert.Equal(t, domain.StepFailed, deposit.Status)
	assert.Contains(t, deposit.Error, "tecNO_PERMISSION")
	_, started := st.Step("cover-deposit")
	assert.False(t, started)
	assert.Empty(t, st.LoanID)

	last := rec.last()
	assert.Equal(t, domain.EventFlowError, last.Type)
	assert.Contains(t, last.Report, "ERROR:")
}

func TestRun_UnknownScenario(t *testing.T) {
	l := simulated()
	_, _, err := runScenario(t, l, l, domain.ScenarioID("loan-refinance"))
	assert.True(t, errors.Is(err, errors.ErrUnknownScenario))
}

func TestRun_SessionRunsOnce(t *testing.T) {
	l := simulated()
	o := NewOrchestrator(l, l, lending.DefaultParams(), logger.NewNop())
	s := NewSession("once", domain.ScenarioLoanCreation)
	require.NoError(t, o.Run(context.Background(), s))
	assert.Error(t, o.Run(context.Background(), s))
}

func TestScenarios_Catalogue(t *testing.T) {
	ids := map[domain.ScenarioID]bool{}
	for _, sc := range Scenarios() {
		ids[sc.ID] = true
		assert.NotEmpty(t, sc.Title)
		assert.Greater(t, len(sc.phases()), len(setupPhases()))
	}
	assert.Len(t, ids, 6)
	_, ok := LookupScenario(domain.ScenarioEarlyRepayment)
	assert.True(t, ok)
}
