// Package audit exports a decision's complete history as a verifiable
// bundle. A bundle is self-contained: its integrity can be re-checked
// offline, without the store it came from.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/decisis/govledger/pkg/canonical"
	"github.com/decisis/govledger/pkg/contracts"
	"github.com/decisis/govledger/pkg/store"
)

// HistoryBundle is one decision's full exported history. BundleHash is
// the canonical hash of the bundle content, computed over everything
// except the hash itself.
type HistoryBundle struct {
	BundleID   string                   `json:"bundle_id"`
	DecisionID string                   `json:"decision_id"`
	CreatedAt  time.Time                `json:"created_at"`
	Decision   contracts.Decision       `json:"decision"`
	Events     []contracts.LedgerEvent  `json:"events"`
	Artifacts  []contracts.Artifact     `json:"artifacts"`
	Evidence   []contracts.EvidenceLink `json:"evidence"`
	BundleHash string                   `json:"bundle_hash"`
}

// Exporter builds history bundles from a store.
type Exporter struct {
	store store.Store
	now   func() time.Time
}

// NewExporter creates an exporter over the given store.
func NewExporter(st store.Store) *Exporter {
	return &Exporter{store: st, now: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.now = clock
	return e
}

// ExportHistory assembles and seals a decision's history bundle.
func (e *Exporter) ExportHistory(ctx context.Context, decisionID string) (HistoryBundle, error) {
	decision, err := e.store.GetDecision(ctx, decisionID)
	if err != nil {
		return HistoryBundle{}, err
	}
	events, err := e.store.ListEvents(ctx, decisionID)
	if err != nil {
		return HistoryBundle{}, err
	}
	artifacts, err := e.store.ListArtifacts(ctx, decisionID)
	if err != nil {
		return HistoryBundle{}, err
	}
	evidence, err := e.store.ListEvidence(ctx, decisionID)
	if err != nil {
		return HistoryBundle{}, err
	}

	bundle := HistoryBundle{
		BundleID:   uuid.New().String(),
		DecisionID: decisionID,
		CreatedAt:  e.now().UTC(),
		Decision:   decision,
		Events:     events,
		Artifacts:  artifacts,
		Evidence:   evidence,
	}
	hash, err := bundleHash(bundle)
	if err != nil {
		return HistoryBundle{}, fmt.Errorf("seal bundle: %w", err)
	}
	bundle.BundleHash = hash
	return bundle, nil
}

// bundleHash hashes the bundle's canonical form with the hash field
// cleared.
func bundleHash(b HistoryBundle) (string, error) {
	b.BundleHash = ""
	return canonical.Hash(b)
}

// Problem is one integrity failure found while verifying a bundle.
type Problem struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Check, p.Message)
}

// VerifyBundle re-checks a bundle's integrity: seal intact, event
// sequence gap-free and strictly ordered, artifact chain linear, every
// artifact's content hash matching its canonical document. An empty
// result means the bundle is sound.
func VerifyBundle(b HistoryBundle) []Problem {
	problems := make([]Problem, 0)

	expected, err := bundleHash(b)
	switch {
	case err != nil:
		problems = append(problems, Problem{
			Check:   "seal",
			Message: fmt.Sprintf("bundle cannot be re-hashed: %v", err),
		})
	case expected != b.BundleHash:
		problems = append(problems, Problem{
			Check:   "seal",
			Message: "bundle hash does not match content",
		})
	}

	for i, ev := range b.Events {
		if ev.DecisionID != b.DecisionID {
			problems = append(problems, Problem{
				Check:   "events",
				Message: fmt.Sprintf("event %s belongs to decision %s", ev.EventID, ev.DecisionID),
			})
		}
		if ev.Seq != uint64(i+1) {
			problems = append(problems, Problem{
				Check:   "events",
				Message: fmt.Sprintf("event %s has seq %d, want %d", ev.EventID, ev.Seq, i+1),
			})
		}
	}

	problems = append(problems, verifyChain(b.DecisionID, b.Artifacts)...)
	return problems
}

// verifyChain checks that the artifacts form one linear supersedes
// chain and that every snapshot's hash matches its document.
func verifyChain(decisionID string, chain []contracts.Artifact) []Problem {
	problems := make([]Problem, 0)
	for i, a := range chain {
		if a.DecisionID != decisionID {
			problems = append(problems, Problem{
				Check:   "chain",
				Message: fmt.Sprintf("artifact %s belongs to decision %s", a.VersionID, a.DecisionID),
			})
		}
		if got := canonical.HashBytes([]byte(a.CanonicalJSON)); got != a.CanonicalHash {
			problems = append(problems, Problem{
				Check:   "content",
				Message: fmt.Sprintf("artifact %s content hash mismatch", a.VersionID),
			})
		}
		if i == 0 {
			if a.SupersedesVersionID != nil {
				problems = append(problems, Problem{
					Check:   "chain",
					Message: fmt.Sprintf("first artifact %s supersedes %s", a.VersionID, *a.SupersedesVersionID),
				})
			}
			continue
		}
		prev := chain[i-1].VersionID
		if a.SupersedesVersionID == nil || *a.SupersedesVersionID != prev {
			problems = append(problems, Problem{
				Check:   "chain",
				Message: fmt.Sprintf("artifact %s does not supersede %s", a.VersionID, prev),
			})
		}
	}
	return problems
}
