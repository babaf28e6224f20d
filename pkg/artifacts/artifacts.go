// Package artifacts stages immutable, content-addressed snapshots of a
// decision's working document and maintains the version chain.
//
// The supersedes pointer is always computed here from the latest stored
// artifact at write time; it is never accepted from a caller. The
// staged insert is conditioned on that observed latest, so a racing
// writer gets a retryable conflict instead of silently forking the
// chain into a tree.
package artifacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/decisis/govledger/pkg/canonical"
	"github.com/decisis/govledger/pkg/contracts"
	"github.com/decisis/govledger/pkg/store"
)

// Staged is a prepared artifact write: the artifact row plus the
// compare-and-swap guard the ledger passes to the store alongside the
// matching draft event.
type Staged struct {
	Artifact contracts.Artifact

	// ExpectedLatest is the version the chain head held when the write
	// was staged; nil when the chain was empty.
	ExpectedLatest *string

	// First reports whether this is the decision's first snapshot.
	First bool
}

// Writer canonicalizes documents into staged artifacts.
type Writer struct {
	store store.Store
}

// NewWriter creates a Writer over the given store.
func NewWriter(st store.Store) *Writer {
	return &Writer{store: st}
}

// Prepare canonicalizes doc and stages the next artifact in the
// decision's version chain. Nothing is persisted; the ledger commits
// the staged artifact atomically with its event.
func (w *Writer) Prepare(ctx context.Context, decisionID string, doc any, actor contracts.Actor) (Staged, error) {
	canonicalJSON, err := canonical.Canonicalize(doc)
	if err != nil {
		return Staged{}, err
	}
	hash := canonical.HashBytes([]byte(canonicalJSON))

	staged := Staged{
		Artifact: contracts.Artifact{
			ArtifactID:    uuid.New().String(),
			DecisionID:    decisionID,
			VersionID:     uuid.New().String(),
			CanonicalHash: hash,
			CanonicalJSON: canonicalJSON,
			CreatedBy:     actor,
		},
		First: true,
	}

	latest, err := w.store.LatestArtifact(ctx, decisionID)
	switch {
	case err == nil:
		versionID := latest.VersionID
		staged.Artifact.SupersedesVersionID = &versionID
		staged.ExpectedLatest = &versionID
		staged.First = false
	case errors.Is(err, store.ErrNotFound):
		// First snapshot: supersedes stays nil.
	default:
		return Staged{}, fmt.Errorf("read latest artifact: %w", err)
	}

	return staged, nil
}
