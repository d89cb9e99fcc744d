package domain

import (
	"strings"
	"time"
)

// FlowStatus is the run-level status. Completed and error are final.
type FlowStatus string

const (
	FlowIdle      FlowStatus = "idle"
	FlowRunning   FlowStatus = "running"
	FlowCompleted FlowStatus = "completed"
	FlowError     FlowStatus = "error"
)

func (s FlowStatus) Terminal() bool {
	return s == FlowCompleted || s == FlowError
}

// FlowState is the whole observable state of one run. It is a value: Apply
// returns a new state and never mutates the receiver's slices.
type FlowState struct {
	RunID     string       `json:"run_id"`
	Status    FlowStatus   `json:"status"`
	Scenario  ScenarioID   `json:"scenario"`
	Steps     []StepRecord `json:"steps"`
	Parties   []Party      `json:"parties"`
	VaultID   string       `json:"vault_id,omitempty"`
	BrokerID  string       `json:"broker_id,omitempty"`
	LoanID    string       `json:"loan_id,omitempty"`
	Report    []string     `json:"report"`
	Error     string       `json:"error,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewFlowState returns an idle state with one placeholder party per role.
func NewFlowState(runID string, scenario ScenarioID) FlowState {
	parties := make([]Party, 0, len(Roles))
	for _, r := range Roles {
		parties = append(parties, Party{Role: r, Label: r.Label()})
	}
	now := time.Now().UTC()
	return FlowState{
		RunID:     runID,
		Status:    FlowIdle,
		Scenario:  scenario,
		Steps:     []StepRecord{},
		Parties:   parties,
		Report:    []string{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Apply folds one event into the state.
func (s FlowState) Apply(e Event) FlowState {
	next := s.Clone()
	if !e.Time.IsZero() {
		next.UpdatedAt = e.Time
	}

	switch e.Type {
	case EventStepUpdate:
		if e.Step != nil {
			next.upsertStep(e.Step.Clone())
		}
	case EventPartyUpdate:
		if e.Party != nil {
			for i, p := range next.Parties {
				if p.Role == e.Party.Role {
					next.Parties[i] = p.Merge(*e.Party)
				}
			}
		}
	case EventStateUpdate:
		if e.State != nil {
			next.applyPatch(*e.State)
		}
	case EventFlowComplete:
		if !next.Status.Terminal() {
			next.Status = FlowCompleted
		}
	case EventFlowError:
		if !next.Status.Terminal() {
			next.Status = FlowError
			next.Error = e.Error
		}
	}
	return next
}

func (s *FlowState) upsertStep(rec StepRecord) {
	for i := range s.Steps {
		if s.Steps[i].ID == rec.ID {
			s.Steps[i] = rec
			return
		}
	}
	s.Steps = append(s.Steps, rec)
}

func (s *FlowState) applyPatch(p StatePatch) {
	if p.Status != nil && !s.Status.Terminal() {
		s.Status = *p.Status
	}
	if p.Scenario != nil && s.Status == FlowIdle {
		s.Scenario = *p.Scenario
	}
	// Ledger object ids are write-once.
	if p.VaultID != nil && s.VaultID == "" {
		s.VaultID = *p.VaultID
	}
	if p.BrokerID != nil && s.BrokerID == "" {
		s.BrokerID = *p.BrokerID
	}
	if p.LoanID != nil && s.LoanID == "" {
		s.LoanID = *p.LoanID
	}
	if len(p.AppendReport) > 0 {
		s.Report = append(s.Report, p.AppendReport...)
	}
}

// Clone deep-copies the slices so the copy can be modified independently.
func (s FlowState) Clone() FlowState {
	steps := make([]StepRecord, len(s.Steps))
	for i, st := range s.Steps {
		steps[i] = st.Clone()
	}
	s.Steps = steps
	s.Parties = append([]Party(nil), s.Parties...)
	s.Report = append([]string(nil), s.Report...)
	return s
}

func (s FlowState) Party(role Role) (Party, bool) {
	for _, p := range s.Parties {
		if p.Role == role {
			return p, true
		}
	}
	return Party{}, false
}

func (s FlowState) Step(id string) (StepRecord, bool) {
	for _, st := range s.Steps {
		if st.ID == id {
			return st, true
		}
	}
	return StepRecord{}, false
}

// ReportText joins the accumulated report lines.
func (s FlowState) ReportText() string {
	return strings.Join(s.Report, "\n")
}

// Redacted returns a copy without signing seeds.
func (s FlowState) Redacted() FlowState {
	out := s.Clone()
	for i := range out.Parties {
		out.Parties[i].Seed = ""
	}
	return out
}
