// Package ledger is the write model of the governance ledger. Every
// mutation is expressed as one atomic Change against the store: the
// ledger event, plus whatever row the event asserts (the decision on
// creation, the artifact on a draft write). Status is never written;
// callers that need it replay the event log through the projection.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/decisis/govledger/pkg/artifacts"
	"github.com/decisis/govledger/pkg/contracts"
	"github.com/decisis/govledger/pkg/evidence"
	"github.com/decisis/govledger/pkg/governance"
	"github.com/decisis/govledger/pkg/projection"
	"github.com/decisis/govledger/pkg/store"
)

// Service coordinates ledger operations over a store.
type Service struct {
	store     store.Store
	artifacts *artifacts.Writer
	evidence  *evidence.Registry
	validator *governance.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires a ledger service. A nil logger disables logging.
func NewService(st store.Store, validator *governance.Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:     st,
		artifacts: artifacts.NewWriter(st),
		evidence:  evidence.NewRegistry(st),
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.now = clock
	return s
}

// CreateDecision opens a new decision. When initialDoc is non-nil the
// first draft artifact is recorded in the same atomic change, so a
// decision with a document never exists without its draft event.
func (s *Service) CreateDecision(ctx context.Context, ownerRef *string, initialDoc any, actor contracts.Actor) (contracts.Decision, error) {
	decision := contracts.Decision{
		DecisionID: uuid.New().String(),
		OwnerRef:   ownerRef,
		CreatedAt:  s.now().UTC(),
	}

	change := store.Change{
		Decision: &decision,
		Events: []contracts.LedgerEvent{
			s.newEvent(decision.DecisionID, contracts.EventDecisionInitiated, actor,
				contracts.DecisionInitiatedPayload{OwnerRef: ownerRef}),
		},
	}

	if initialDoc != nil {
		staged, err := s.artifacts.Prepare(ctx, decision.DecisionID, initialDoc, actor)
		if err != nil {
			return contracts.Decision{}, err
		}
		change.Artifact = &staged.Artifact
		change.ExpectedLatest = staged.ExpectedLatest

		ev := s.newEvent(decision.DecisionID, contracts.EventArtifactDraftCreated, actor,
			contracts.ArtifactDraftPayload{CanonicalHash: staged.Artifact.CanonicalHash})
		versionID := staged.Artifact.VersionID
		ev.VersionID = &versionID
		change.Events = append(change.Events, ev)
	}

	if err := s.store.Apply(ctx, change); err != nil {
		return contracts.Decision{}, fmt.Errorf("create decision: %w", err)
	}

	s.logger.Info("decision created",
		"decision_id", decision.DecisionID,
		"actor", actor.ID,
		"with_draft", initialDoc != nil)
	return decision, nil
}

// AppendArtifact records a new draft snapshot. Allowed only while the
// decision is in draft; the previous snapshot is superseded, never
// altered.
func (s *Service) AppendArtifact(ctx context.Context, decisionID string, doc any, actor contracts.Actor, reasonCode string, changedFields *string) (contracts.Artifact, error) {
	status, err := s.DeriveStatus(ctx, decisionID)
	if err != nil {
		return contracts.Artifact{}, err
	}
	if status != contracts.StatusDraft {
		return contracts.Artifact{}, invalidTransition("appending a draft", status)
	}

	staged, err := s.artifacts.Prepare(ctx, decisionID, doc, actor)
	if err != nil {
		return contracts.Artifact{}, err
	}

	eventType := contracts.EventArtifactDraftUpdated
	if staged.First {
		eventType = contracts.EventArtifactDraftCreated
	}
	ev := s.newEvent(decisionID, eventType, actor, contracts.ArtifactDraftPayload{
		CanonicalHash:       staged.Artifact.CanonicalHash,
		SupersedesVersionID: staged.Artifact.SupersedesVersionID,
	})
	versionID := staged.Artifact.VersionID
	ev.VersionID = &versionID
	ev.ReasonCode = reasonCode
	ev.ChangedFieldsSummary = changedFields

	change := store.Change{
		Artifact:       &staged.Artifact,
		ExpectedLatest: staged.ExpectedLatest,
		Events:         []contracts.LedgerEvent{ev},
	}
	if err := s.store.Apply(ctx, change); err != nil {
		return contracts.Artifact{}, fmt.Errorf("append artifact: %w", err)
	}

	s.logger.Info("artifact appended",
		"decision_id", decisionID,
		"version_id", staged.Artifact.VersionID,
		"hash", staged.Artifact.CanonicalHash,
		"actor", actor.ID)
	return staged.Artifact, nil
}

// Finalize declares the latest draft artifact final. The completeness
// gate and the evidence requirement both run before anything is
// written; a failed gate leaves the ledger untouched and the decision
// in draft.
func (s *Service) Finalize(ctx context.Context, decisionID string, actor contracts.Actor, reasonCode string) error {
	status, err := s.DeriveStatus(ctx, decisionID)
	if err != nil {
		return err
	}
	if status != contracts.StatusDraft {
		return invalidTransition("finalize", status)
	}

	latest, err := s.store.LatestArtifact(ctx, decisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: finalize requires a draft artifact", ErrInvalidTransition)
		}
		return err
	}

	if violations := s.validator.CheckArtifact(latest); len(violations) > 0 {
		s.logger.Info("finalize blocked by completeness gate",
			"decision_id", decisionID,
			"violations", len(violations))
		return &GovernanceIncompleteError{DecisionID: decisionID, Violations: violations}
	}

	count, err := s.evidence.Count(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("count evidence: %w", err)
	}
	if count == 0 {
		return ErrEvidenceMissing
	}

	ev := s.newEvent(decisionID, contracts.EventArtifactFinalized, actor,
		contracts.ArtifactFinalizedPayload{
			CanonicalHash: latest.CanonicalHash,
			EvidenceCount: count,
		})
	versionID := latest.VersionID
	ev.VersionID = &versionID
	ev.ReasonCode = reasonCode

	if err := s.store.Apply(ctx, store.Change{Events: []contracts.LedgerEvent{ev}}); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	s.logger.Info("decision finalized",
		"decision_id", decisionID,
		"version_id", latest.VersionID,
		"evidence_count", count,
		"actor", actor.ID)
	return nil
}

// SignOff acknowledges a finalized decision. Allowed only once, from
// the finalized status.
func (s *Service) SignOff(ctx context.Context, decisionID string, actor contracts.Actor, comment string) error {
	status, err := s.DeriveStatus(ctx, decisionID)
	if err != nil {
		return err
	}
	if status != contracts.StatusFinalized {
		return invalidTransition("sign-off", status)
	}

	ev := s.newEvent(decisionID, contracts.EventFinalizationAcknowledged, actor,
		contracts.AcknowledgedPayload{Comment: comment})
	if err := s.store.Apply(ctx, store.Change{Events: []contracts.LedgerEvent{ev}}); err != nil {
		return fmt.Errorf("sign off: %w", err)
	}

	s.logger.Info("decision signed off", "decision_id", decisionID, "actor", actor.ID)
	return nil
}

// transitionEvents maps a target status to its event type and the
// statuses it may be entered from. Archiving is terminal and allowed
// from anywhere.
var transitionEvents = map[contracts.Status]struct {
	event contracts.EventType
	from  []contracts.Status
}{
	contracts.StatusInProgress: {
		event: contracts.EventImplementationStarted,
		from:  []contracts.Status{contracts.StatusSigned},
	},
	contracts.StatusImplemented: {
		event: contracts.EventImplementationCompleted,
		from:  []contracts.Status{contracts.StatusInProgress},
	},
	contracts.StatusOutcomeTracked: {
		event: contracts.EventOutcomeCaptured,
		from:  []contracts.Status{contracts.StatusImplemented},
	},
	contracts.StatusArchived: {
		event: contracts.EventDecisionArchived,
		from:  nil,
	},
}

// Transition moves a decision to a later lifecycle state by appending
// the matching event. Targets outside the lifecycle get
// ErrUnsupportedTransition; a legal target from the wrong current
// status gets ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, decisionID string, to contracts.Status, actor contracts.Actor, reasonCode string) error {
	rule, ok := transitionEvents[to]
	if !ok {
		return fmt.Errorf("%w: cannot transition to %q", ErrUnsupportedTransition, to)
	}

	status, err := s.DeriveStatus(ctx, decisionID)
	if err != nil {
		return err
	}
	if status == contracts.StatusArchived {
		return invalidTransition("transition", status)
	}
	if rule.from != nil {
		allowed := false
		for _, f := range rule.from {
			if status == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s requires %v, decision is %s",
				ErrInvalidTransition, to, rule.from, status)
		}
	}

	ev := s.newEvent(decisionID, rule.event, actor, contracts.TransitionPayload{To: to})
	ev.ReasonCode = reasonCode
	if err := s.store.Apply(ctx, store.Change{Events: []contracts.LedgerEvent{ev}}); err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}

	s.logger.Info("decision transitioned",
		"decision_id", decisionID, "to", string(to), "actor", actor.ID)
	return nil
}

// AttachEvidence records a supporting-material link for a decision.
func (s *Service) AttachEvidence(ctx context.Context, decisionID, kind, ref string, actor contracts.Actor) (contracts.EvidenceLink, error) {
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return contracts.EvidenceLink{}, err
	}
	return s.evidence.Attach(ctx, decisionID, kind, ref, actor)
}

// DeriveStatus replays a decision's events into its current status.
func (s *Service) DeriveStatus(ctx context.Context, decisionID string) (contracts.Status, error) {
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return "", err
	}
	events, err := s.store.ListEvents(ctx, decisionID)
	if err != nil {
		return "", err
	}
	return projection.DeriveStatus(events), nil
}

// GetDecision returns the decision row.
func (s *Service) GetDecision(ctx context.Context, decisionID string) (contracts.Decision, error) {
	return s.store.GetDecision(ctx, decisionID)
}

// ListEvents returns a decision's full event history in append order.
func (s *Service) ListEvents(ctx context.Context, decisionID string) ([]contracts.LedgerEvent, error) {
	return s.store.ListEvents(ctx, decisionID)
}

// LatestArtifact returns the newest snapshot in the version chain.
func (s *Service) LatestArtifact(ctx context.Context, decisionID string) (contracts.Artifact, error) {
	return s.store.LatestArtifact(ctx, decisionID)
}

// ListArtifacts returns the full version chain in append order.
func (s *Service) ListArtifacts(ctx context.Context, decisionID string) ([]contracts.Artifact, error) {
	return s.store.ListArtifacts(ctx, decisionID)
}

// ListEvidence returns a decision's evidence links.
func (s *Service) ListEvidence(ctx context.Context, decisionID string) ([]contracts.EvidenceLink, error) {
	return s.evidence.List(ctx, decisionID)
}

func (s *Service) newEvent(decisionID string, t contracts.EventType, actor contracts.Actor, payload contracts.EventPayload) contracts.LedgerEvent {
	return contracts.LedgerEvent{
		EventID:    uuid.New().String(),
		DecisionID: decisionID,
		Type:       t,
		Payload:    payload,
		Actor:      actor,
		CreatedAt:  s.now().UTC(),
	}
}
