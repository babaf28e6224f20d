package store

import (
	"context"
	"sync"
	"time"

	"github.com/decisis/govledger/pkg/contracts"
)

// MemoryStore is the reference in-memory implementation. Append-only by
// construction: nothing in it can overwrite or remove a row.
type MemoryStore struct {
	mu        sync.RWMutex
	decisions map[string]contracts.Decision
	events    map[string][]contracts.LedgerEvent
	artifacts map[string][]contracts.Artifact
	evidence  map[string][]contracts.EvidenceLink
	execution map[string][]contracts.ExecutionEvent
	eventSeq  map[string]uint64
	artSeq    map[string]uint64
	execSeq   map[string]uint64
	clock     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decisions: make(map[string]contracts.Decision),
		events:    make(map[string][]contracts.LedgerEvent),
		artifacts: make(map[string][]contracts.Artifact),
		evidence:  make(map[string][]contracts.EvidenceLink),
		execution: make(map[string][]contracts.ExecutionEvent),
		eventSeq:  make(map[string]uint64),
		artSeq:    make(map[string]uint64),
		execSeq:   make(map[string]uint64),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// Apply atomically persists one Change. Validation happens before any
// slice is touched, so a failed change leaves the store untouched.
func (s *MemoryStore) Apply(ctx context.Context, change Change) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if change.Decision != nil {
		if _, ok := s.decisions[change.Decision.DecisionID]; ok {
			return ErrAlreadyExists
		}
	}
	if change.Artifact != nil {
		if err := s.checkLatestLocked(change.Artifact.DecisionID, change.ExpectedLatest); err != nil {
			return err
		}
	}

	now := s.clock().UTC()

	if change.Decision != nil {
		d := *change.Decision
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		s.decisions[d.DecisionID] = d
	}
	if change.Artifact != nil {
		a := *change.Artifact
		s.artSeq[a.DecisionID]++
		a.Seq = s.artSeq[a.DecisionID]
		a.CreatedAt = now
		s.artifacts[a.DecisionID] = append(s.artifacts[a.DecisionID], a)
	}
	for _, ev := range change.Events {
		s.eventSeq[ev.DecisionID]++
		ev.Seq = s.eventSeq[ev.DecisionID]
		ev.CreatedAt = now
		s.events[ev.DecisionID] = append(s.events[ev.DecisionID], ev)
	}
	return nil
}

func (s *MemoryStore) checkLatestLocked(decisionID string, expected *string) error {
	chain := s.artifacts[decisionID]
	if len(chain) == 0 {
		if expected != nil {
			return ErrConcurrentModification
		}
		return nil
	}
	latest := chain[len(chain)-1].VersionID
	if expected == nil || *expected != latest {
		return ErrConcurrentModification
	}
	return nil
}

func (s *MemoryStore) GetDecision(ctx context.Context, decisionID string) (contracts.Decision, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[decisionID]
	if !ok {
		return contracts.Decision{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, decisionID string) ([]contracts.LedgerEvent, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.LedgerEvent, len(s.events[decisionID]))
	copy(out, s.events[decisionID])
	return out, nil
}

func (s *MemoryStore) LatestArtifact(ctx context.Context, decisionID string) (contracts.Artifact, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.artifacts[decisionID]
	if len(chain) == 0 {
		return contracts.Artifact{}, ErrNotFound
	}
	return chain[len(chain)-1], nil
}

func (s *MemoryStore) ListArtifacts(ctx context.Context, decisionID string) ([]contracts.Artifact, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Artifact, len(s.artifacts[decisionID]))
	copy(out, s.artifacts[decisionID])
	return out, nil
}

func (s *MemoryStore) InsertEvidence(ctx context.Context, link contracts.EvidenceLink) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.clock().UTC()
	}
	s.evidence[link.DecisionID] = append(s.evidence[link.DecisionID], link)
	return nil
}

func (s *MemoryStore) CountEvidence(ctx context.Context, decisionID string) (int, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.evidence[decisionID]), nil
}

func (s *MemoryStore) ListEvidence(ctx context.Context, decisionID string) ([]contracts.EvidenceLink, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.EvidenceLink, len(s.evidence[decisionID]))
	copy(out, s.evidence[decisionID])
	return out, nil
}

func (s *MemoryStore) AppendExecutionEvent(ctx context.Context, event contracts.ExecutionEvent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execSeq[event.DecisionID]++
	event.Seq = s.execSeq[event.DecisionID]
	event.CreatedAt = s.clock().UTC()
	s.execution[event.DecisionID] = append(s.execution[event.DecisionID], event)
	return nil
}

func (s *MemoryStore) ListExecutionEvents(ctx context.Context, decisionID string) ([]contracts.ExecutionEvent, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.ExecutionEvent, len(s.execution[decisionID]))
	copy(out, s.execution[decisionID])
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
