package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowState_HasOnePartyPerRole(t *testing.T) {
	s := NewFlowState("run-1", ScenarioLoanCreation)

	require.Len(t, s.Parties, 4)
	for i, r := range Roles {
		assert.Equal(t, r, s.Parties[i].Role)
		assert.Equal(t, r.Label(), s.Parties[i].Label)
	}
	assert.Equal(t, FlowIdle, s.Status)
}

func TestApply_DoesNotMutateReceiver(t *testing.T) {
	s := NewFlowState("run-1", ScenarioLoanCreation)

	next := s.Apply(StepEvent(StepRecord{ID: "wallets", Status: StepRunning}))
	next = next.Apply(ReportEvent("line one"))
	next = next.Apply(PartyEvent(PartyUpdate{Role: RoleLender, Address: Ptr("rLender")}))

	assert.Empty(t, s.Steps)
	assert.Empty(t, s.Report)
	assert.Empty(t, s.Parties[1].Address)

	assert.Len(t, next.Steps, 1)
	assert.Equal(t, []string{"line one"}, next.Report)
	p, ok := next.Party(RoleLender)
	require.True(t, ok)
	assert.Equal(t, "rLender", p.Address)
}

func TestApply_UpsertsStepsInInsertionOrder(t *testing.T) {
	s := NewFlowState("run-1", ScenarioLoanCreation)
	s = s.Apply(StepEvent(StepRecord{ID: "a", Status: StepRunning}))
	s = s.Apply(StepEvent(StepRecord{ID: "b", Status: StepRunning}))
	s = s.Apply(StepEvent(StepRecord{ID: "a", Status: StepSuccess, TxHash: "H"}))

	require.Len(t, s.Steps, 2)
	assert.Equal(t, "a", s.Steps[0].ID)
	assert.Equal(t, StepSuccess, s.Steps[0].Status)
	assert.Equal(t, "H", s.Steps[0].TxHash)
	assert.Equal(t, "b", s.Steps[1].ID)
}

func TestApply_LedgerIDsAreWriteOnce(t *testing.T) {
	s := NewFlowState("run-1", ScenarioLoanCreation)
	s = s.Apply(StateEvent(StatePatch{VaultID: Ptr("V1"), BrokerID: Ptr("B1")}))
	s = s.Apply(StateEvent(StatePatch{VaultID: Ptr("V2"), LoanID: Ptr("L1")}))

	assert.Equal(t, "V1", s.VaultID)
	assert.Equal(t, "B1", s.BrokerID)
	assert.Equal(t, "L1", s.LoanID)
}

func TestApply_TerminalStatusIsFinal(t *testing.T) {
	s := NewFlowState("run-1", ScenarioLoanCreation)
	s = s.Apply(StateEvent(StatePatch{Status: Ptr(FlowRunning)}))
	s = s.Apply(ErrorEvent(errors.New("boom"), "partial"))
	s = s.Apply(CompleteEvent("late"))
	s = s.Apply(StateEvent(StatePatch{Status: Ptr(FlowRunning)}))

	assert.Equal(t, FlowError, s.Status)
	assert.Equal(t, "boom", s.Error)
}

func TestStepRecord_JSONKeepsResultVariant(t *testing.T) {
	rec := StepRecord{
		ID:     "vault-create",
		Status: StepSuccess,
		Result: TxSummary{Hash: "ABC", Code: "tesSUCCESS", Validated: true, Created: []string{"V1"}},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"tx"`)

	var back StepRecord
	require.NoError(t, json.Unmarshal(data, &back))
	summary, ok := back.Result.(TxSummary)
	require.True(t, ok)
	assert.Equal(t, "ABC", summary.Hash)
	assert.Equal(t, []string{"V1"}, summary.Created)
}

func TestRedacted_DropsSeeds(t *testing.T) {
	s := NewFlowState("run-1", ScenarioLoanCreation)
	s = s.Apply(PartyEvent(PartyUpdate{Role: RoleIssuer, Seed: Ptr("sSecret")}))

	p, _ := s.Party(RoleIssuer)
	assert.Equal(t, "sSecret", p.Seed)

	r, _ := s.Redacted().Party(RoleIssuer)
	assert.Empty(t, r.Seed)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sSecret")
}
