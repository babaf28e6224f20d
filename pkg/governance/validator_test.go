package governance

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisis/govledger/pkg/contracts"
)

func completeDoc() map[string]any {
	return map[string]any{
		"problem_statement": "Fulfillment costs are eating our margin on small orders.",
		"decision_context":  map[string]any{"domain": "operations"},
		"constraints":       []any{"no new headcount"},
		"options_considered": []any{
			map[string]any{"id": "opt-threshold", "summary": "introduce a minimum order value"},
			map[string]any{"id": "opt-3pl", "summary": "outsource small-order fulfillment"},
		},
		"chosen_option_id": "opt-threshold",
		"rationale":        "Fastest to implement and reversible within a quarter.",
		"risk_level":       "medium",
	}
}

func newTestValidator(t *testing.T, opts ...Option) *Validator {
	t.Helper()
	v, err := NewValidator(opts...)
	require.NoError(t, err)
	return v
}

func TestCheck_CompleteDocumentPasses(t *testing.T) {
	v := newTestValidator(t)
	assert.Empty(t, v.Check(completeDoc()))
}

func violationsMention(violations []Violation, substr string) bool {
	for _, v := range violations {
		if strings.Contains(v.Message, substr) || strings.Contains(v.Field, substr) {
			return true
		}
	}
	return false
}

func TestCheck_CollectsAllViolations(t *testing.T) {
	v := newTestValidator(t)

	doc := completeDoc()
	doc["problem_statement"] = ""
	doc["options_considered"] = []any{}
	doc["risk_level"] = "reckless"

	violations := v.Check(doc)
	require.GreaterOrEqual(t, len(violations), 3)
	assert.True(t, violationsMention(violations, "problem_statement"))
	assert.True(t, violationsMention(violations, "options_considered"))
	assert.True(t, violationsMention(violations, "risk_level"))
}

func TestCheck_FieldRules(t *testing.T) {
	mutate := map[string]func(doc map[string]any){
		"problem_statement": func(d map[string]any) { delete(d, "problem_statement") },
		"decision_context":  func(d map[string]any) { d["decision_context"] = map[string]any{} },
		"constraints":       func(d map[string]any) { d["constraints"] = []any{} },
		"options_considered": func(d map[string]any) {
			d["options_considered"] = []any{map[string]any{"id": "only-one"}}
		},
		"rationale":  func(d map[string]any) { d["rationale"] = "" },
		"risk_level": func(d map[string]any) { delete(d, "risk_level") },
	}
	for field, corrupt := range mutate {
		t.Run(field, func(t *testing.T) {
			v := newTestValidator(t)
			doc := completeDoc()
			corrupt(doc)
			violations := v.Check(doc)
			require.NotEmpty(t, violations)
			assert.True(t, violationsMention(violations, field),
				"expected a violation mentioning %s, got %v", field, violations)
		})
	}
}

func TestCheck_ChosenOptionMustExist(t *testing.T) {
	v := newTestValidator(t)
	doc := completeDoc()
	doc["chosen_option_id"] = "opt-unknown"

	violations := v.Check(doc)
	require.Len(t, violations, 1)
	assert.Equal(t, "chosen_option_id", violations[0].Field)
	assert.Equal(t, "referential", violations[0].Rule)
}

func TestCheck_RecommendationOptionMustExist(t *testing.T) {
	v := newTestValidator(t)
	doc := completeDoc()
	doc["recommendations"] = []any{
		map[string]any{"option_id": "opt-threshold", "note": "pilot in one region"},
		map[string]any{"option_id": "opt-ghost"},
		map[string]any{"note": "no option reference is fine"},
	}

	violations := v.Check(doc)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Field, "recommendations[1]")
}

func TestCheckArtifact_MalformedDocument(t *testing.T) {
	v := newTestValidator(t)
	violations := v.CheckArtifact(contracts.Artifact{CanonicalJSON: `[1,2,3]`})
	require.NotEmpty(t, violations)
	assert.Equal(t, "document", violations[0].Field)
}

func TestCheckArtifact_Complete(t *testing.T) {
	v := newTestValidator(t)
	raw, err := json.Marshal(completeDoc())
	require.NoError(t, err)
	assert.Empty(t, v.CheckArtifact(contracts.Artifact{CanonicalJSON: string(raw)}))
}
