// Package store defines the insert-only persistence contract of the
// governance ledger and its implementations (in-memory, SQLite,
// Postgres).
//
// The interface offers no update or delete operation of any kind; the
// SQL implementations additionally install storage-level triggers that
// reject mutation of the event and artifact tables regardless of
// caller. Ordering within a decision is a store-assigned monotonic
// sequence, the sole ordering key for replay.
package store

import (
	"context"
	"errors"

	"github.com/decisis/govledger/pkg/contracts"
)

var (
	// ErrNotFound is returned when a decision or artifact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when inserting a duplicate identity.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConcurrentModification is returned when a conditional artifact
	// insert loses the race: the latest artifact changed between read
	// and write. Retryable by the caller; the version chain never forks.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrImmutable surfaces the storage-level append-only guard: an
	// update or delete reached a table that rejects them. It should
	// never trigger through the documented API.
	ErrImmutable = errors.New("append-only table rejected mutation")
)

// Change is one atomic ledger mutation: exactly one or two ledger
// events, optionally the decision row (on creation) and optionally one
// new artifact row. Either everything in a Change is persisted or
// nothing is.
type Change struct {
	// Decision, when set, is inserted first (decision creation).
	Decision *contracts.Decision

	// Artifact, when set, is a new snapshot appended to the decision's
	// version chain.
	Artifact *contracts.Artifact

	// ExpectedLatest guards the artifact insert: the version_id of the
	// latest artifact observed when the change was staged, nil when the
	// chain was empty. A mismatch at commit time fails the whole change
	// with ErrConcurrentModification.
	ExpectedLatest *string

	// Events are appended in order. The store assigns CreatedAt and the
	// per-decision sequence.
	Events []contracts.LedgerEvent
}

// Store is the insert-only backing store consumed by the ledger. All
// reads scoped by decision return rows in append order.
type Store interface {
	// Apply atomically persists one Change.
	Apply(ctx context.Context, change Change) error

	GetDecision(ctx context.Context, decisionID string) (contracts.Decision, error)
	ListEvents(ctx context.Context, decisionID string) ([]contracts.LedgerEvent, error)

	// LatestArtifact returns the newest artifact in the decision's
	// chain, or ErrNotFound when none exists.
	LatestArtifact(ctx context.Context, decisionID string) (contracts.Artifact, error)
	ListArtifacts(ctx context.Context, decisionID string) ([]contracts.Artifact, error)

	InsertEvidence(ctx context.Context, link contracts.EvidenceLink) error
	CountEvidence(ctx context.Context, decisionID string) (int, error)
	ListEvidence(ctx context.Context, decisionID string) ([]contracts.EvidenceLink, error)

	AppendExecutionEvent(ctx context.Context, event contracts.ExecutionEvent) error
	ListExecutionEvents(ctx context.Context, decisionID string) ([]contracts.ExecutionEvent, error)
}
