package domain

import (
	"encoding/json"
	"fmt"
)

// ResultKind tags the StepResult variants on the wire.
type ResultKind string

const (
	ResultFields ResultKind = "fields"
	ResultTx     ResultKind = "tx"
	ResultEntry  ResultKind = "entry"
)

// StepResult is the closed set of payloads a step can attach to its record.
type StepResult interface {
	Kind() ResultKind
}

// FieldsResult is a flat string map, used by non-transaction steps.
type FieldsResult struct {
	Fields map[string]string `json:"fields"`
}

// TxSummary describes a validated (or rejected) transaction.
type TxSummary struct {
	Hash        string   `json:"hash"`
	Code        string   `json:"code"`
	LedgerIndex uint32   `json:"ledger_index,omitempty"`
	Fee         string   `json:"fee,omitempty"`
	Validated   bool     `json:"validated"`
	Created     []string `json:"created,omitempty"`
}

// EntrySnapshot is a ledger object as returned by a lookup.
type EntrySnapshot struct {
	Index     string                 `json:"index"`
	EntryType string                 `json:"entry_type"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (FieldsResult) Kind() ResultKind  { return ResultFields }
func (TxSummary) Kind() ResultKind     { return ResultTx }
func (EntrySnapshot) Kind() ResultKind { return ResultEntry }

type resultEnvelope struct {
	Kind ResultKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func marshalResult(r StepResult) (*resultEnvelope, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return &resultEnvelope{Kind: r.Kind(), Data: data}, nil
}

func unmarshalResult(env *resultEnvelope) (StepResult, error) {
	if env == nil {
		return nil, nil
	}
	switch env.Kind {
	case ResultFields:
		var r FieldsResult
		err := json.Unmarshal(env.Data, &r)
		return r, err
	case ResultTx:
		var r TxSummary
		err := json.Unmarshal(env.Data, &r)
		return r, err
	case ResultEntry:
		var r EntrySnapshot
		err := json.Unmarshal(env.Data, &r)
		return r, err
	}
	return nil, fmt.Errorf("unknown step result kind %q", env.Kind)
}
