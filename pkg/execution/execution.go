// Package execution is the append-only sub-ledger tracking how a
// decision is carried out: tasks, milestones and observed outcomes.
// There is no task table; task views, outcome lists and the timeline
// are all replays of the event stream.
package execution

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/decisis/govledger/pkg/contracts"
	"github.com/decisis/govledger/pkg/store"
)

// ErrTaskNotFound is returned when an operation references a task key
// with no TASK_CREATED event.
var ErrTaskNotFound = fmt.Errorf("task not found")

// Service records and replays execution events for decisions.
type Service struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires an execution service. A nil logger disables logging.
func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: st, logger: logger, now: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.now = clock
	return s
}

// CreateTask records a new task and returns its key.
func (s *Service) CreateTask(ctx context.Context, decisionID, title string, payload contracts.TaskCreatedPayload, actor contracts.Actor) (string, error) {
	if title == "" {
		return "", fmt.Errorf("task title is required")
	}
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return "", err
	}
	payload.Title = title

	taskKey := uuid.New().String()
	ev := s.newEvent(decisionID, taskKey, contracts.ExecTaskCreated, payload, actor)
	if err := s.store.AppendExecutionEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	s.logger.Info("task created",
		"decision_id", decisionID, "task_key", taskKey, "actor", actor.ID)
	return taskKey, nil
}

// UpdateTask appends a change-set to an existing task. The original
// TASK_CREATED event is untouched; readers see the changes applied in
// replay order.
func (s *Service) UpdateTask(ctx context.Context, decisionID, taskKey string, changes map[string]any, actor contracts.Actor) error {
	if len(changes) == 0 {
		return fmt.Errorf("update needs at least one change")
	}
	if err := s.requireTask(ctx, decisionID, taskKey); err != nil {
		return err
	}

	ev := s.newEvent(decisionID, taskKey, contracts.ExecTaskUpdated,
		contracts.TaskUpdatedPayload{Changes: changes}, actor)
	if err := s.store.AppendExecutionEvent(ctx, ev); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	s.logger.Info("task updated",
		"decision_id", decisionID, "task_key", taskKey, "actor", actor.ID)
	return nil
}

// LogMilestone records a milestone against an existing task.
func (s *Service) LogMilestone(ctx context.Context, decisionID, taskKey, milestoneType, evidenceRef string, actor contracts.Actor) error {
	if milestoneType == "" {
		return fmt.Errorf("milestone type is required")
	}
	if err := s.requireTask(ctx, decisionID, taskKey); err != nil {
		return err
	}

	ev := s.newEvent(decisionID, taskKey, contracts.ExecMilestoneLogged,
		contracts.MilestoneLoggedPayload{MilestoneType: milestoneType, Evidence: evidenceRef}, actor)
	if err := s.store.AppendExecutionEvent(ctx, ev); err != nil {
		return fmt.Errorf("log milestone: %w", err)
	}

	s.logger.Info("milestone logged",
		"decision_id", decisionID, "task_key", taskKey,
		"milestone", milestoneType, "actor", actor.ID)
	return nil
}

// RecordOutcome records an observed outcome for the decision itself;
// outcomes are not tied to a task.
func (s *Service) RecordOutcome(ctx context.Context, decisionID string, payload contracts.OutcomeRecordedPayload, actor contracts.Actor) error {
	if payload.OutcomeType == "" {
		return fmt.Errorf("outcome type is required")
	}
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return err
	}

	ev := s.newEvent(decisionID, "", contracts.ExecOutcomeRecorded, payload, actor)
	if err := s.store.AppendExecutionEvent(ctx, ev); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	s.logger.Info("outcome recorded",
		"decision_id", decisionID, "outcome", payload.OutcomeType, "actor", actor.ID)
	return nil
}

// TaskView is the replayed current state of one task.
type TaskView struct {
	TaskKey    string         `json:"task_key"`
	Title      string         `json:"title"`
	Details    string         `json:"details,omitempty"`
	Assignee   string         `json:"assignee,omitempty"`
	DueAt      *time.Time     `json:"due_at,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Milestones []Milestone    `json:"milestones,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Milestone is one logged milestone in a task view.
type Milestone struct {
	MilestoneType string    `json:"milestone_type"`
	Evidence      string    `json:"evidence,omitempty"`
	LoggedAt      time.Time `json:"logged_at"`
}

// Outcome is one recorded outcome in replay order.
type Outcome struct {
	OutcomeType string             `json:"outcome_type"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Notes       string             `json:"notes,omitempty"`
	RecordedAt  time.Time          `json:"recorded_at"`
}

// TimelineEntry is one execution event flattened for display.
type TimelineEntry struct {
	Seq       uint64                       `json:"seq"`
	Type      contracts.ExecutionEventType `json:"event_type"`
	TaskKey   string                       `json:"task_key,omitempty"`
	Actor     contracts.Actor              `json:"actor"`
	CreatedAt time.Time                    `json:"created_at"`
}

// DerivedTasks replays the sub-ledger into per-task views, in task
// creation order. Replaying the same events always yields the same
// views.
func (s *Service) DerivedTasks(ctx context.Context, decisionID string) ([]TaskView, error) {
	events, err := s.store.ListExecutionEvents(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*TaskView)
	order := make([]string, 0)
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case contracts.TaskCreatedPayload:
			view := &TaskView{
				TaskKey:   ev.TaskKey,
				Title:     p.Title,
				Details:   p.Details,
				Assignee:  p.Assignee,
				DueAt:     p.DueAt,
				CreatedAt: ev.CreatedAt,
				UpdatedAt: ev.CreatedAt,
			}
			byKey[ev.TaskKey] = view
			order = append(order, ev.TaskKey)
		case contracts.TaskUpdatedPayload:
			view, ok := byKey[ev.TaskKey]
			if !ok {
				continue
			}
			applyChanges(view, p.Changes)
			view.UpdatedAt = ev.CreatedAt
		case contracts.MilestoneLoggedPayload:
			view, ok := byKey[ev.TaskKey]
			if !ok {
				continue
			}
			view.Milestones = append(view.Milestones, Milestone{
				MilestoneType: p.MilestoneType,
				Evidence:      p.Evidence,
				LoggedAt:      ev.CreatedAt,
			})
			view.UpdatedAt = ev.CreatedAt
		}
	}

	views := make([]TaskView, 0, len(order))
	for _, key := range order {
		views = append(views, *byKey[key])
	}
	return views, nil
}

// applyChanges folds an update change-set into a task view. Known
// fields land on the struct; anything else is kept verbatim so no
// recorded change is lost.
func applyChanges(view *TaskView, changes map[string]any) {
	for field, value := range changes {
		switch field {
		case "title":
			if v, ok := value.(string); ok {
				view.Title = v
			}
		case "details":
			if v, ok := value.(string); ok {
				view.Details = v
			}
		case "assignee":
			if v, ok := value.(string); ok {
				view.Assignee = v
			}
		default:
			if view.Fields == nil {
				view.Fields = make(map[string]any)
			}
			view.Fields[field] = value
		}
	}
}

// DerivedOutcomes replays the sub-ledger into the outcome list.
func (s *Service) DerivedOutcomes(ctx context.Context, decisionID string) ([]Outcome, error) {
	events, err := s.store.ListExecutionEvents(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, 0)
	for _, ev := range events {
		p, ok := ev.Payload.(contracts.OutcomeRecordedPayload)
		if !ok {
			continue
		}
		outcomes = append(outcomes, Outcome{
			OutcomeType: p.OutcomeType,
			Metrics:     p.Metrics,
			Notes:       p.Notes,
			RecordedAt:  ev.CreatedAt,
		})
	}
	return outcomes, nil
}

// DerivedTimeline flattens the sub-ledger into display entries in
// append order.
func (s *Service) DerivedTimeline(ctx context.Context, decisionID string) ([]TimelineEntry, error) {
	events, err := s.store.ListExecutionEvents(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	entries := make([]TimelineEntry, 0, len(events))
	for _, ev := range events {
		entries = append(entries, TimelineEntry{
			Seq:       ev.Seq,
			Type:      ev.Type,
			TaskKey:   ev.TaskKey,
			Actor:     ev.Actor,
			CreatedAt: ev.CreatedAt,
		})
	}
	return entries, nil
}

func (s *Service) requireTask(ctx context.Context, decisionID, taskKey string) error {
	events, err := s.store.ListExecutionEvents(ctx, decisionID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Type == contracts.ExecTaskCreated && ev.TaskKey == taskKey {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, taskKey)
}

func (s *Service) newEvent(decisionID, taskKey string, t contracts.ExecutionEventType, payload contracts.ExecutionPayload, actor contracts.Actor) contracts.ExecutionEvent {
	return contracts.ExecutionEvent{
		EventID:    uuid.New().String(),
		DecisionID: decisionID,
		TaskKey:    taskKey,
		Type:       t,
		Payload:    payload,
		Actor:      actor,
		CreatedAt:  s.now().UTC(),
	}
}
