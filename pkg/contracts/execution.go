package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionEventType enumerates the execution sub-ledger's event set.
// The sub-ledger deliberately does not share event code with the main
// ledger: different type set, different key space.
type ExecutionEventType string

const (
	ExecTaskCreated     ExecutionEventType = "TASK_CREATED"
	ExecTaskUpdated     ExecutionEventType = "TASK_UPDATED"
	ExecMilestoneLogged ExecutionEventType = "MILESTONE_LOGGED"
	ExecOutcomeRecorded ExecutionEventType = "OUTCOME_RECORDED"
)

// ExecutionEvent is one immutable fact in a decision's execution
// sub-ledger. Tasks are keyed by an opaque TaskKey; no mutable task row
// ever exists.
type ExecutionEvent struct {
	EventID    string             `json:"event_id"`
	DecisionID string             `json:"decision_id"`
	TaskKey    string             `json:"task_key,omitempty"`
	Type       ExecutionEventType `json:"event_type"`
	Payload    ExecutionPayload   `json:"payload"`
	Actor      Actor              `json:"actor"`
	CreatedAt  time.Time          `json:"created_at"`
	Seq        uint64             `json:"seq"`
}

// UnmarshalJSON decodes an execution event including its typed payload.
func (ev *ExecutionEvent) UnmarshalJSON(data []byte) error {
	type alias ExecutionEvent
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(ev)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := UnmarshalExecutionPayload(ev.Type, aux.Payload)
	if err != nil {
		return err
	}
	ev.Payload = p
	return nil
}

// ExecutionPayload is the closed sum of execution event payloads.
type ExecutionPayload interface {
	isExecutionPayload()
}

// TaskCreatedPayload seeds a task view.
type TaskCreatedPayload struct {
	Title    string     `json:"title"`
	Details  string     `json:"details,omitempty"`
	Assignee string     `json:"assignee,omitempty"`
	DueAt    *time.Time `json:"due_at,omitempty"`
}

// TaskUpdatedPayload carries the change-set applied to a task view
// during replay.
type TaskUpdatedPayload struct {
	Changes map[string]any `json:"changes"`
}

// MilestoneLoggedPayload records a milestone against a task.
type MilestoneLoggedPayload struct {
	MilestoneType string `json:"milestone_type"`
	Evidence      string `json:"evidence,omitempty"`
}

// OutcomeRecordedPayload records an observed outcome for the decision.
type OutcomeRecordedPayload struct {
	OutcomeType string             `json:"outcome_type"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

func (TaskCreatedPayload) isExecutionPayload()     {}
func (TaskUpdatedPayload) isExecutionPayload()     {}
func (MilestoneLoggedPayload) isExecutionPayload() {}
func (OutcomeRecordedPayload) isExecutionPayload() {}

// MarshalExecutionPayload serializes an execution payload for storage.
func MarshalExecutionPayload(p ExecutionPayload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// UnmarshalExecutionPayload decodes a stored payload into the concrete
// type for the given execution event type.
func UnmarshalExecutionPayload(t ExecutionEventType, raw []byte) (ExecutionPayload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch t {
	case ExecTaskCreated:
		var p TaskCreatedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case ExecTaskUpdated:
		var p TaskUpdatedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case ExecMilestoneLogged:
		var p MilestoneLoggedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case ExecOutcomeRecorded:
		var p OutcomeRecordedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown execution event type %q", t)
	}
}
