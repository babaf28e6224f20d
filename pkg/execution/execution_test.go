package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisis/govledger/pkg/contracts"
	"github.com/decisis/govledger/pkg/store"
)

var testActor = contracts.Actor{ID: "user-3", Role: "lead"}

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	st := store.NewMemoryStore()
	decisionID := "dec-1"
	err := st.Apply(context.Background(), store.Change{
		Decision: &contracts.Decision{DecisionID: decisionID},
	})
	require.NoError(t, err)
	return NewService(st, nil), decisionID
}

func TestCreateTask(t *testing.T) {
	svc, decisionID := newTestService(t)
	ctx := context.Background()

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	key, err := svc.CreateTask(ctx, decisionID, "Roll out threshold to pilot region",
		contracts.TaskCreatedPayload{Assignee: "user-9", DueAt: &due}, testActor)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	tasks, err := svc.DerivedTasks(ctx, decisionID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, key, tasks[0].TaskKey)
	assert.Equal(t, "Roll out threshold to pilot region", tasks[0].Title)
	assert.Equal(t, "user-9", tasks[0].Assignee)
	require.NotNil(t, tasks[0].DueAt)
	assert.Equal(t, due, *tasks[0].DueAt)
}

func TestCreateTask_Validation(t *testing.T) {
	svc, decisionID := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, decisionID, "", contracts.TaskCreatedPayload{}, testActor)
	require.Error(t, err)

	_, err = svc.CreateTask(ctx, "no-such-decision", "x", contracts.TaskCreatedPayload{}, testActor)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateTask_AppliedInOrder(t *testing.T) {
	svc, decisionID := newTestService(t)
	ctx := context.Background()

	key, err := svc.CreateTask(ctx, decisionID, "Draft comms", contracts.TaskCreatedPayload{}, testActor)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateTask(ctx, decisionID, key,
		map[string]any{"assignee": "user-4", "state": "in_review"}, testActor))
	require.NoError(t, svc.UpdateTask(ctx, decisionID, key,
		map[string]any{"assignee": "user-5"}, testActor))

	tasks, err := svc.DerivedTasks(ctx, decisionID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	// Last change-set wins for overlapping fields, earlier ones persist.
	assert.Equal(t, "user-5", tasks[0].Assignee)
	assert.Equal(t, "in_review", tasks[0].Fields["state"])
}

func TestUpdateTask_UnknownTask(t *testing.T) {
	svc, decisionID := newTestService(t)
	err := svc.UpdateTask(context.Background(), decisionID, "ghost",
		map[string]any{"assignee": "x"}, testActor)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestLogMilestone(t *testing.T) {
	svc, decisionID := newTestService(t)
	ctx := context.Background()

	key, err := svc.CreateTask(ctx, decisionID, "Ship pilot", contracts.TaskCreatedPayload{}, testActor)
	require.NoError(t, err)
	require.NoError(t, svc.LogMilestone(ctx, decisionID, key, "pilot_live", "dash/pilot-7", testActor))

	tasks, err := svc.DerivedTasks(ctx, decisionID)
	require.NoError(t, err)
	require.Len(t, tasks[0].Milestones, 1)
	assert.Equal(t, "pilot_live", tasks[0].Milestones[0].MilestoneType)
	assert.Equal(t, "dash/pilot-7", tasks[0].Milestones[0].Evidence)

	err = svc.LogMilestone(ctx, decisionID, "ghost", "pilot_live", "", testActor)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRecordOutcome(t *testing.T) {
	svc, decisionID := newTestService(t)
	ctx := context.Background()

	err := svc.RecordOutcome(ctx, decisionID, contracts.OutcomeRecordedPayload{
		OutcomeType: "margin_improved",
		Metrics:     map[string]float64{"margin_delta_pct": 2.4},
		Notes:       "eight weeks after rollout",
	}, testActor)
	require.NoError(t, err)

	outcomes, err := svc.DerivedOutcomes(ctx, decisionID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "margin_improved", outcomes[0].OutcomeType)
	assert.Equal(t, 2.4, outcomes[0].Metrics["margin_delta_pct"])

	err = svc.RecordOutcome(ctx, decisionID, contracts.OutcomeRecordedPayload{}, testActor)
	require.Error(t, err)
}

func TestDerivedTimeline(t *testing.T) {
	svc, decisionID := newTestService(t)
	ctx := context.Background()

	key, err := svc.CreateTask(ctx, decisionID, "Task A", contracts.TaskCreatedPayload{}, testActor)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateTask(ctx, decisionID, key, map[string]any{"assignee": "x"}, testActor))
	require.NoError(t, svc.RecordOutcome(ctx, decisionID,
		contracts.OutcomeRecordedPayload{OutcomeType: "done"}, testActor))

	timeline, err := svc.DerivedTimeline(ctx, decisionID)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, contracts.ExecTaskCreated, timeline[0].Type)
	assert.Equal(t, contracts.ExecTaskUpdated, timeline[1].Type)
	assert.Equal(t, contracts.ExecOutcomeRecorded, timeline[2].Type)
	for i, entry := range timeline {
		assert.Equal(t, uint64(i+1), entry.Seq)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	svc, decisionID := newTestService(t)
	ctx := context.Background()

	key, err := svc.CreateTask(ctx, decisionID, "Task A", contracts.TaskCreatedPayload{}, testActor)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateTask(ctx, decisionID, key, map[string]any{"details": "updated"}, testActor))
	require.NoError(t, svc.LogMilestone(ctx, decisionID, key, "kickoff", "", testActor))

	first, err := svc.DerivedTasks(ctx, decisionID)
	require.NoError(t, err)
	second, err := svc.DerivedTasks(ctx, decisionID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
