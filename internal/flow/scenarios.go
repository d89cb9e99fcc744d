package flow

import "loanflow/internal/domain"

// phase is a group of steps started together. A phase with several members
// only holds steps for distinct accounts.
type phase []stepFunc

// Scenario is a named tail of phases run after the shared setup.
type Scenario struct {
	ID          domain.ScenarioID `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	tail        []phase
}

// phases returns setup followed by the scenario's own phases.
func (s Scenario) phases() []phase {
	out := append([]phase{}, setupPhases()...)
	return append(out, s.tail...)
}

func setupPhases() []phase {
	return []phase{
		{provisionWallets},
		{enableRippling},
		{trustLine(domain.RoleLender), trustLine(domain.RoleBorrower), trustLine(domain.RoleBroker)},
		{fundParties, createVault},
		{createBroker, depositToVault},
		{depositCover},
	}
}

var scenarios = []Scenario{
	{
		ID:          domain.ScenarioLoanCreation,
		Title:       "Loan creation",
		Description: "Issue a co-signed loan and verify the ledger objects",
		tail: []phase{
			{issueLoan(counterpartyAuth)},
			{verify},
		},
	},
	{
		ID:          domain.ScenarioLoanPayment,
		Title:       "Loan payment",
		Description: "Issue a loan and make one periodic payment",
		tail: []phase{
			{issueLoan(counterpartyAuth)},
			{payLoan},
			{verify},
		},
	},
	{
		ID:          domain.ScenarioLoanDefault,
		Title:       "Loan default",
		Description: "Issue a loan, default it and delete it",
		tail: []phase{
			{issueLoan(counterpartyAuth)},
			{defaultLoan},
			{deleteLoan},
			{verify},
		},
	},
	{
		ID:          domain.ScenarioEarlyRepayment,
		Title:       "Early repayment",
		Description: "Issue a loan, top up the borrower and repay it in full",
		tail: []phase{
			{issueLoan(counterpartyAuth)},
			{fundBorrower},
			{repayEarly},
			{deleteLoan},
			{verify},
		},
	},
	{
		ID:          domain.ScenarioFullLifecycle,
		Title:       "Full lifecycle",
		Description: "Pay, default and delete the loan, then unwind the broker and the vault",
		tail: []phase{
			{issueLoan(counterpartyAuth)},
			{payLoan},
			{defaultLoan},
			{deleteLoan},
			{withdrawCover},
			{deleteBroker},
			{withdrawVault},
			{deleteVault},
			{verify},
		},
	},
	{
		ID:          domain.ScenarioMultisigCosign,
		Title:       "Multi-signature with co-signature",
		Description: "Delegate the broker's signing, then issue the loan with the delegate's multi-signature and the borrower's co-signature",
		tail: []phase{
			{installSignerList},
			{issueLoan(delegatedAuth)},
			{verify},
		},
	},
}

// Scenarios lists every scenario in menu order.
func Scenarios() []Scenario {
	return append([]Scenario(nil), scenarios...)
}

func LookupScenario(id domain.ScenarioID) (Scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}
