package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/decisis/govledger/pkg/contracts"
)

func evts(types ...contracts.EventType) []contracts.LedgerEvent {
	out := make([]contracts.LedgerEvent, len(types))
	for i, t := range types {
		out[i] = contracts.LedgerEvent{Type: t, Seq: uint64(i + 1)}
	}
	return out
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name   string
		events []contracts.LedgerEvent
		want   contracts.Status
	}{
		{"no events", nil, contracts.StatusDraft},
		{"initiated only", evts(contracts.EventDecisionInitiated), contracts.StatusDraft},
		{
			"drafts stay draft",
			evts(contracts.EventDecisionInitiated, contracts.EventArtifactDraftCreated, contracts.EventArtifactDraftUpdated),
			contracts.StatusDraft,
		},
		{
			"finalized",
			evts(contracts.EventDecisionInitiated, contracts.EventArtifactDraftCreated, contracts.EventArtifactFinalized),
			contracts.StatusFinalized,
		},
		{
			"signed after finalize",
			evts(contracts.EventArtifactFinalized, contracts.EventFinalizationAcknowledged),
			contracts.StatusSigned,
		},
		{
			"in progress",
			evts(contracts.EventArtifactFinalized, contracts.EventFinalizationAcknowledged, contracts.EventImplementationStarted),
			contracts.StatusInProgress,
		},
		{
			"implemented",
			evts(contracts.EventImplementationStarted, contracts.EventImplementationCompleted),
			contracts.StatusImplemented,
		},
		{
			"outcome tracked",
			evts(contracts.EventImplementationCompleted, contracts.EventOutcomeCaptured),
			contracts.StatusOutcomeTracked,
		},
		{
			"archived wins regardless of earlier events",
			evts(contracts.EventArtifactFinalized, contracts.EventFinalizationAcknowledged,
				contracts.EventImplementationStarted, contracts.EventDecisionArchived),
			contracts.StatusArchived,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(tc.events))
		})
	}
}

func TestDeriveStatus_MostRecentRelevantWins(t *testing.T) {
	// Last-write-wins, not a priority table: a draft event after a
	// finalize does not reset the status, but a later relevant event
	// always overrides an earlier one.
	events := evts(
		contracts.EventArtifactFinalized,
		contracts.EventFinalizationAcknowledged,
		contracts.EventArtifactFinalized,
	)
	assert.Equal(t, contracts.StatusFinalized, DeriveStatus(events))
}
