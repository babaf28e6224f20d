// Package contracts holds the shared domain types of the decision
// governance ledger: decisions, artifact snapshots, ledger events,
// evidence links and the execution sub-ledger's event set.
//
// Everything here is an immutable fact once written. No type in this
// package carries a mutable lifecycle field; current status is always
// derived by replaying ledger events.
package contracts

import "time"

// Actor identifies who performed an operation.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// Status is a decision's derived lifecycle state. It is never stored;
// it is recomputed from the ledger on every read.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusFinalized      Status = "finalized"
	StatusSigned         Status = "signed"
	StatusInProgress     Status = "in_progress"
	StatusImplemented    Status = "implemented"
	StatusOutcomeTracked Status = "outcome_tracked"
	StatusArchived       Status = "archived"
)

// Decision is the root aggregate. It is created once and never mutated;
// its status and version counter are both derived, not stored.
type Decision struct {
	DecisionID string    `json:"decision_id"`
	OwnerRef   *string   `json:"owner_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Artifact is one immutable, content-addressed snapshot of a decision's
// working document. Artifacts for a decision form a singly-linked chain
// via SupersedesVersionID; no artifact is ever updated or deleted.
type Artifact struct {
	ArtifactID          string    `json:"artifact_id"`
	DecisionID          string    `json:"decision_id"`
	VersionID           string    `json:"version_id"`
	SupersedesVersionID *string   `json:"supersedes_version_id,omitempty"`
	CanonicalHash       string    `json:"canonical_hash"`
	CanonicalJSON       string    `json:"canonical_json"`
	CreatedBy           Actor     `json:"created_by"`
	CreatedAt           time.Time `json:"created_at"`

	// Seq is the store-assigned per-decision ordering key. Assigned on
	// insert, monotonic within a decision.
	Seq uint64 `json:"seq"`
}

// EvidenceLink references supporting material for a decision. At
// finalize time evidence is counted, not interpreted.
type EvidenceLink struct {
	LinkID     string    `json:"link_id"`
	DecisionID string    `json:"decision_id"`
	Kind       string    `json:"kind"`
	Ref        string    `json:"ref"`
	AddedBy    Actor     `json:"added_by"`
	CreatedAt  time.Time `json:"created_at"`
}
