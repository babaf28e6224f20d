package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates every fact the ledger can record. The set is
// closed: adding a member means extending the payload sum below and the
// status projection switch.
type EventType string

const (
	EventDecisionInitiated        EventType = "DECISION_INITIATED"
	EventArtifactDraftCreated     EventType = "ARTIFACT_DRAFT_CREATED"
	EventArtifactDraftUpdated     EventType = "ARTIFACT_DRAFT_UPDATED"
	EventArtifactFinalized        EventType = "ARTIFACT_FINALIZED"
	EventFinalizationAcknowledged EventType = "FINALIZATION_ACKNOWLEDGED"
	EventImplementationStarted    EventType = "IMPLEMENTATION_STARTED"
	EventImplementationCompleted  EventType = "IMPLEMENTATION_COMPLETED"
	EventOutcomeCaptured          EventType = "OUTCOME_CAPTURED"
	EventDecisionArchived         EventType = "DECISION_ARCHIVED"
)

// LedgerEvent is one immutable fact about a decision. Once written it is
// never updated or deleted; the ledger API exposes no such operation and
// the backing store rejects any attempt outright.
type LedgerEvent struct {
	EventID              string       `json:"event_id"`
	DecisionID           string       `json:"decision_id"`
	Type                 EventType    `json:"event_type"`
	VersionID            *string      `json:"version_id,omitempty"`
	Payload              EventPayload `json:"payload"`
	ReasonCode           string       `json:"reason_code,omitempty"`
	Actor                Actor        `json:"actor"`
	ChangedFieldsSummary *string      `json:"changed_fields_summary,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`

	// Seq is the store-assigned per-decision ordering key, the sole
	// ordering authority for replay.
	Seq uint64 `json:"seq"`
}

// UnmarshalJSON decodes an event including its typed payload, so
// events survive a JSON round trip (exported bundles, API responses).
func (ev *LedgerEvent) UnmarshalJSON(data []byte) error {
	type alias LedgerEvent
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(ev)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := UnmarshalPayload(ev.Type, aux.Payload)
	if err != nil {
		return err
	}
	ev.Payload = p
	return nil
}

// EventPayload is the closed sum of per-event-type payloads. Each event
// type carries only the fields it needs, so projections get compile-time
// coverage when the set grows.
type EventPayload interface {
	isEventPayload()
}

// DecisionInitiatedPayload accompanies DECISION_INITIATED.
type DecisionInitiatedPayload struct {
	OwnerRef *string `json:"owner_ref,omitempty"`
}

// ArtifactDraftPayload accompanies ARTIFACT_DRAFT_CREATED and
// ARTIFACT_DRAFT_UPDATED.
type ArtifactDraftPayload struct {
	CanonicalHash       string  `json:"canonical_hash"`
	SupersedesVersionID *string `json:"supersedes_version_id,omitempty"`
}

// ArtifactFinalizedPayload accompanies ARTIFACT_FINALIZED.
type ArtifactFinalizedPayload struct {
	CanonicalHash string `json:"canonical_hash"`
	EvidenceCount int    `json:"evidence_count"`
}

// AcknowledgedPayload accompanies FINALIZATION_ACKNOWLEDGED.
type AcknowledgedPayload struct {
	Comment string `json:"comment,omitempty"`
}

// TransitionPayload accompanies the four lifecycle transition events.
type TransitionPayload struct {
	To Status `json:"to"`
}

func (DecisionInitiatedPayload) isEventPayload() {}
func (ArtifactDraftPayload) isEventPayload()     {}
func (ArtifactFinalizedPayload) isEventPayload() {}
func (AcknowledgedPayload) isEventPayload()      {}
func (TransitionPayload) isEventPayload()        {}

// MarshalPayload serializes an event payload for storage. A nil payload
// serializes as an empty object.
func MarshalPayload(p EventPayload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// UnmarshalPayload decodes a stored payload into the concrete type for
// the given event type.
func UnmarshalPayload(t EventType, raw []byte) (EventPayload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch t {
	case EventDecisionInitiated:
		var p DecisionInitiatedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventArtifactDraftCreated, EventArtifactDraftUpdated:
		var p ArtifactDraftPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventArtifactFinalized:
		var p ArtifactFinalizedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventFinalizationAcknowledged:
		var p AcknowledgedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventImplementationStarted, EventImplementationCompleted,
		EventOutcomeCaptured, EventDecisionArchived:
		var p TransitionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
