// Package projection derives a decision's lifecycle status by replaying
// its ledger events. No cell anywhere holds "the" status; every reader
// recomputes it from the log.
package projection

import "github.com/decisis/govledger/pkg/contracts"

// DeriveStatus scans events newest to oldest; the first status-relevant
// event wins. A decision with no relevant events is a draft. Events must
// be in append order, as returned by the store.
func DeriveStatus(events []contracts.LedgerEvent) contracts.Status {
	for i := len(events) - 1; i >= 0; i-- {
		if s, ok := statusFor(events[i].Type); ok {
			return s
		}
	}
	return contracts.StatusDraft
}

// statusFor maps status-relevant event types to the status they imply.
// Draft events and DECISION_INITIATED are not status-relevant: they
// leave the decision in draft.
func statusFor(t contracts.EventType) (contracts.Status, bool) {
	switch t {
	case contracts.EventArtifactFinalized:
		return contracts.StatusFinalized, true
	case contracts.EventFinalizationAcknowledged:
		return contracts.StatusSigned, true
	case contracts.EventImplementationStarted:
		return contracts.StatusInProgress, true
	case contracts.EventImplementationCompleted:
		return contracts.StatusImplemented, true
	case contracts.EventOutcomeCaptured:
		return contracts.StatusOutcomeTracked, true
	case contracts.EventDecisionArchived:
		return contracts.StatusArchived, true
	case contracts.EventDecisionInitiated,
		contracts.EventArtifactDraftCreated,
		contracts.EventArtifactDraftUpdated:
		return "", false
	default:
		return "", false
	}
}
