package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/decisis/govledger/pkg/contracts"
	"github.com/decisis/govledger/pkg/governance"
)

var (
	// ErrInvalidTransition is returned when an operation is not legal in
	// the decision's current derived status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnsupportedTransition is returned when the requested target
	// status is not a lifecycle state transitions can reach.
	ErrUnsupportedTransition = errors.New("unsupported transition")

	// ErrEvidenceMissing is returned when finalization is attempted with
	// no evidence attached.
	ErrEvidenceMissing = errors.New("finalization requires at least one evidence link")
)

// GovernanceIncompleteError reports every completeness violation that
// blocked finalization. The decision stays in draft.
type GovernanceIncompleteError struct {
	DecisionID string
	Violations []governance.Violation
}

func (e *GovernanceIncompleteError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("decision %s is not ready to finalize: %s",
		e.DecisionID, strings.Join(msgs, "; "))
}

func invalidTransition(op string, from contracts.Status) error {
	return fmt.Errorf("%w: %s not allowed while %s", ErrInvalidTransition, op, from)
}
