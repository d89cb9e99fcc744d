package domain

import "encoding/json"

// StepStatus is the lifecycle of a single step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

func (s StepStatus) Terminal() bool {
	return s == StepSuccess || s == StepFailed
}

// StepRecord is the dashboard view of one step.
type StepRecord struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Status      StepStatus        `json:"status"`
	TxHash      string            `json:"tx_hash,omitempty"`
	TxType      string            `json:"tx_type,omitempty"`
	Result      StepResult        `json:"-"`
	Error       string            `json:"error,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// Clone copies the record so callers can mutate the copy freely.
func (r StepRecord) Clone() StepRecord {
	if r.Details != nil {
		details := make(map[string]string, len(r.Details))
		for k, v := range r.Details {
			details[k] = v
		}
		r.Details = details
	}
	return r
}

type stepRecordJSON struct {
	stepRecordAlias
	Result *resultEnvelope `json:"result,omitempty"`
}

type stepRecordAlias StepRecord

func (r StepRecord) MarshalJSON() ([]byte, error) {
	env, err := marshalResult(r.Result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepRecordJSON{stepRecordAlias: stepRecordAlias(r), Result: env})
}

func (r *StepRecord) UnmarshalJSON(data []byte) error {
	var aux stepRecordJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	result, err := unmarshalResult(aux.Result)
	if err != nil {
		return err
	}
	*r = StepRecord(aux.stepRecordAlias)
	r.Result = result
	return nil
}
