package domain

import "time"

// RunSummary is the archived headline of a finished run.
type RunSummary struct {
	ID         string     `json:"id" db:"id"`
	Scenario   ScenarioID `json:"scenario" db:"scenario"`
	Status     FlowStatus `json:"status" db:"status"`
	VaultID    string     `json:"vault_id,omitempty" db:"vault_id"`
	BrokerID   string     `json:"broker_id,omitempty" db:"broker_id"`
	LoanID     string     `json:"loan_id,omitempty" db:"loan_id"`
	Error      string     `json:"error,omitempty" db:"error"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt time.Time  `json:"finished_at" db:"finished_at"`
}

func SummaryOf(s FlowState) RunSummary {
	return RunSummary{
		ID:         s.RunID,
		Scenario:   s.Scenario,
		Status:     s.Status,
		VaultID:    s.VaultID,
		BrokerID:   s.BrokerID,
		LoanID:     s.LoanID,
		Error:      s.Error,
		StartedAt:  s.StartedAt,
		FinishedAt: s.UpdatedAt,
	}
}
