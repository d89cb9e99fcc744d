package domain

import "time"

type EventType string

const (
	EventStepUpdate   EventType = "step_update"
	EventPartyUpdate  EventType = "party_update"
	EventStateUpdate  EventType = "state_update"
	EventFlowComplete EventType = "flow_complete"
	EventFlowError    EventType = "flow_error"
)

// StatePatch is a partial FlowState. Report lines are appended, never replaced.
type StatePatch struct {
	Status       *FlowStatus `json:"status,omitempty"`
	Scenario     *ScenarioID `json:"scenario,omitempty"`
	VaultID      *string     `json:"vault_id,omitempty"`
	BrokerID     *string     `json:"broker_id,omitempty"`
	LoanID       *string     `json:"loan_id,omitempty"`
	AppendReport []string    `json:"append_report,omitempty"`
}

// Event is one message on the progress channel.
type Event struct {
	Type   EventType    `json:"type"`
	RunID  string       `json:"run_id"`
	Seq    int          `json:"seq"`
	Time   time.Time    `json:"time"`
	Step   *StepRecord  `json:"step,omitempty"`
	Party  *PartyUpdate `json:"party,omitempty"`
	State  *StatePatch  `json:"state,omitempty"`
	Report string       `json:"report,omitempty"`
	Error  string       `json:"error,omitempty"`
}

func StepEvent(rec StepRecord) Event {
	rec = rec.Clone()
	return Event{Type: EventStepUpdate, Step: &rec}
}

func PartyEvent(u PartyUpdate) Event {
	return Event{Type: EventPartyUpdate, Party: &u}
}

func StateEvent(p StatePatch) Event {
	return Event{Type: EventStateUpdate, State: &p}
}

func ReportEvent(lines ...string) Event {
	return StateEvent(StatePatch{AppendReport: lines})
}

func CompleteEvent(report string) Event {
	return Event{Type: EventFlowComplete, Report: report}
}

func ErrorEvent(err error, report string) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Event{Type: EventFlowError, Error: msg, Report: report}
}
