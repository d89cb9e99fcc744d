package domain

// ScenarioID selects which tail of steps runs after the shared setup.
type ScenarioID string

const (
	ScenarioLoanCreation   ScenarioID = "loan-creation"
	ScenarioLoanPayment    ScenarioID = "loan-payment"
	ScenarioLoanDefault    ScenarioID = "loan-default"
	ScenarioEarlyRepayment ScenarioID = "early-repayment"
	ScenarioFullLifecycle  ScenarioID = "full-lifecycle"
	ScenarioMultisigCosign ScenarioID = "multisig-cosign"
)
