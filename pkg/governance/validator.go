// Package governance gates finalization: a draft artifact must pass the
// completeness checks before its decision may be declared final.
//
// All rules are evaluated independently and every violation is
// collected, so a caller can present the full list at once. The
// validator is advisory-complete but not authoritative on evidence;
// evidence counting happens in the ledger because it spans a different
// table.
package governance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/decisis/govledger/pkg/contracts"
)

// Violation is one failed completeness rule.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// RiskLevels is the closed set of accepted risk classifications.
var RiskLevels = []string{"low", "medium", "high", "critical"}

// completenessSchema covers the structural rules; referential rules
// (option id matching) are checked in code below.
const completenessSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": [
		"problem_statement", "decision_context", "constraints",
		"options_considered", "chosen_option_id", "rationale", "risk_level"
	],
	"properties": {
		"problem_statement": {"type": "string", "minLength": 1},
		"decision_context": {
			"type": "object",
			"required": ["domain"],
			"properties": {"domain": {"type": "string", "minLength": 1}}
		},
		"constraints": {"type": "array", "minItems": 1},
		"options_considered": {
			"type": "array",
			"minItems": 2,
			"items": {
				"type": "object",
				"required": ["id"],
				"properties": {"id": {"type": "string", "minLength": 1}}
			}
		},
		"chosen_option_id": {"type": "string", "minLength": 1},
		"rationale": {"type": "string", "minLength": 1},
		"risk_level": {"enum": ["low", "medium", "high", "critical"]},
		"recommendations": {"type": "array", "items": {"type": "object"}}
	}
}`

// Validator evaluates the completeness gate.
type Validator struct {
	schema *jsonschema.Schema
	rules  []compiledRule
}

// Option configures a Validator.
type Option func(*Validator) error

// NewValidator compiles the completeness schema and any configured
// profile rules.
func NewValidator(opts ...Option) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const schemaURL = "https://govledger.schemas.local/completeness.schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(completenessSchema)); err != nil {
		return nil, fmt.Errorf("load completeness schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile completeness schema: %w", err)
	}

	v := &Validator{schema: schema}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// CheckArtifact runs the gate against an artifact's canonical document.
func (v *Validator) CheckArtifact(a contracts.Artifact) []Violation {
	var doc map[string]any
	if err := json.Unmarshal([]byte(a.CanonicalJSON), &doc); err != nil {
		return []Violation{{
			Field:   "document",
			Rule:    "well_formed",
			Message: fmt.Sprintf("document is not a JSON object: %v", err),
		}}
	}
	return v.Check(doc)
}

// Check runs every rule against the document and returns all
// violations; an empty result means ready to finalize.
func (v *Validator) Check(doc map[string]any) []Violation {
	violations := make([]Violation, 0)

	if err := v.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			violations = append(violations, flatten(ve)...)
		} else {
			violations = append(violations, Violation{
				Field: "document", Rule: "schema", Message: err.Error(),
			})
		}
	}

	violations = append(violations, v.checkReferential(doc)...)
	violations = append(violations, v.checkProfileRules(doc)...)
	return violations
}

// flatten walks the cause tree and keeps leaf failures only.
func flatten(ve *jsonschema.ValidationError) []Violation {
	if len(ve.Causes) == 0 {
		field := strings.TrimPrefix(ve.InstanceLocation, "/")
		field = strings.ReplaceAll(field, "/", ".")
		if field == "" {
			field = "document"
		}
		return []Violation{{
			Field:   field,
			Rule:    "schema",
			Message: fmt.Sprintf("%s: %s", field, ve.Message),
		}}
	}
	out := make([]Violation, 0, len(ve.Causes))
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}

// checkReferential verifies that chosen_option_id and any
// recommendations[].option_id reference a real option.
func (v *Validator) checkReferential(doc map[string]any) []Violation {
	ids := optionIDs(doc)
	violations := make([]Violation, 0)

	if chosen, ok := doc["chosen_option_id"].(string); ok && chosen != "" {
		if !ids[chosen] {
			violations = append(violations, Violation{
				Field:   "chosen_option_id",
				Rule:    "referential",
				Message: fmt.Sprintf("chosen_option_id %q does not match any entry in options_considered", chosen),
			})
		}
	}

	if recs, ok := doc["recommendations"].([]any); ok {
		for i, raw := range recs {
			rec, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			oid, ok := rec["option_id"].(string)
			if !ok || oid == "" {
				continue
			}
			if !ids[oid] {
				violations = append(violations, Violation{
					Field:   fmt.Sprintf("recommendations[%d].option_id", i),
					Rule:    "referential",
					Message: fmt.Sprintf("recommendations[%d].option_id %q does not match any entry in options_considered", i, oid),
				})
			}
		}
	}
	return violations
}

func optionIDs(doc map[string]any) map[string]bool {
	ids := make(map[string]bool)
	opts, ok := doc["options_considered"].([]any)
	if !ok {
		return ids
	}
	for _, raw := range opts {
		opt, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := opt["id"].(string); ok && id != "" {
			ids[id] = true
		}
	}
	return ids
}
