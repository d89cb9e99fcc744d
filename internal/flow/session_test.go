package flow

import (
	"sync"
	"testing"

	"loanflow/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_EmitStampsAndApplies(t *testing.T) {
	s := NewSession("run-1", domain.ScenarioLoanCreation)

	state := s.Emit(domain.StateEvent(domain.StatePatch{Status: domain.Ptr(domain.FlowRunning)}))
	assert.Equal(t, domain.FlowRunning, state.Status)

	var got []domain.Event
	snapshot, cancel := s.Subscribe(func(e domain.Event, _ domain.FlowState) {
		got = append(got, e)
	})
	assert.Equal(t, domain.FlowRunning, snapshot.Status)

	s.Emit(domain.StateEvent(domain.StatePatch{VaultID: domain.Ptr("V1")}))
	s.Emit(domain.StateEvent(domain.StatePatch{VaultID: domain.Ptr("V2")}))
	cancel()
	s.Emit(domain.ReportEvent("ignored by the cancelled subscriber"))

	require.Len(t, got, 2)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, 2, got[0].Seq)
	assert.Equal(t, 3, got[1].Seq)
	assert.False(t, got[0].Time.IsZero())

	// ids are write-once
	assert.Equal(t, "V1", s.State().VaultID)
}

func TestSession_SubscribersSeeEventsInOrder(t *testing.T) {
	s := NewSession("run-2", domain.ScenarioLoanCreation)

	var mu sync.Mutex
	var seqs []int
	s.Subscribe(func(e domain.Event, _ domain.FlowState) {
		mu.Lock()
		seqs = append(seqs, e.Seq)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Emit(domain.ReportEvent("line"))
		}()
	}
	wg.Wait()

	require.Len(t, seqs, 20)
	for i, seq := range seqs {
		assert.Equal(t, i+1, seq)
	}
	assert.Len(t, s.State().Report, 20)
}

func TestSession_StateIsACopy(t *testing.T) {
	s := NewSession("run-3", domain.ScenarioLoanCreation)
	s.Emit(domain.StepEvent(domain.StepRecord{ID: "a", Status: domain.StepRunning}))

	st := s.State()
	st.Steps[0].Status = domain.StepFailed
	st.Parties[0].Address = "rTampered"

	fresh := s.State()
	assert.Equal(t, domain.StepRunning, fresh.Steps[0].Status)
	assert.Empty(t, fresh.Parties[0].Address)
}
