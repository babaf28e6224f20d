// Package evidence tracks supporting-material references for decisions.
// Links are counted, not interpreted, at finalize time.
package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/decisis/govledger/pkg/contracts"
	"github.com/decisis/govledger/pkg/store"
)

// Registry records and counts evidence links.
type Registry struct {
	store store.Store
	clock func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(st store.Store) *Registry {
	return &Registry{store: st, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Attach records one evidence link for a decision.
func (r *Registry) Attach(ctx context.Context, decisionID, kind, ref string, actor contracts.Actor) (contracts.EvidenceLink, error) {
	if kind == "" || ref == "" {
		return contracts.EvidenceLink{}, fmt.Errorf("evidence link needs kind and ref")
	}
	link := contracts.EvidenceLink{
		LinkID:     uuid.New().String(),
		DecisionID: decisionID,
		Kind:       kind,
		Ref:        ref,
		AddedBy:    actor,
		CreatedAt:  r.clock().UTC(),
	}
	if err := r.store.InsertEvidence(ctx, link); err != nil {
		return contracts.EvidenceLink{}, fmt.Errorf("attach evidence: %w", err)
	}
	return link, nil
}

// Count returns how many links a decision has.
func (r *Registry) Count(ctx context.Context, decisionID string) (int, error) {
	return r.store.CountEvidence(ctx, decisionID)
}

// List returns a decision's links in insertion order.
func (r *Registry) List(ctx context.Context, decisionID string) ([]contracts.EvidenceLink, error) {
	return r.store.ListEvidence(ctx, decisionID)
}
