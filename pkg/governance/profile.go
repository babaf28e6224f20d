package governance

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// profileMajor is the supported profile format major version.
const profileMajor = 1

// Profile is an org-specific set of extra completeness rules layered on
// top of the built-in gate. Each rule is a CEL expression over the
// artifact document that must evaluate to true.
type Profile struct {
	Name    string        `yaml:"name" json:"name"`
	Version string        `yaml:"version" json:"version"`
	Rules   []ProfileRule `yaml:"rules" json:"rules"`
}

// ProfileRule is one named CEL completeness rule.
type ProfileRule struct {
	Name    string `yaml:"name" json:"name"`
	Expr    string `yaml:"expr" json:"expr"`
	Message string `yaml:"message" json:"message"`
}

// LoadProfile reads a YAML rule profile and checks format
// compatibility.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("profile %q has invalid version %q: %w", p.Name, p.Version, err)
	}
	if v.Major() != profileMajor {
		return nil, fmt.Errorf("profile %q version %s is unsupported (want major %d)", p.Name, p.Version, profileMajor)
	}

	return &p, nil
}

type compiledRule struct {
	name    string
	message string
	program cel.Program
}

// WithProfile compiles a profile's rules into the validator. Rules are
// evaluated against a single variable `doc`, the artifact document.
func WithProfile(p *Profile) Option {
	return func(v *Validator) error {
		if p == nil {
			return nil
		}
		env, err := cel.NewEnv(cel.Variable("doc", cel.DynType))
		if err != nil {
			return fmt.Errorf("create rule environment: %w", err)
		}
		for _, rule := range p.Rules {
			ast, issues := env.Compile(rule.Expr)
			if issues != nil && issues.Err() != nil {
				return fmt.Errorf("compile rule %q: %w", rule.Name, issues.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return fmt.Errorf("build rule %q: %w", rule.Name, err)
			}
			v.rules = append(v.rules, compiledRule{
				name:    rule.Name,
				message: rule.Message,
				program: prg,
			})
		}
		return nil
	}
}

// checkProfileRules runs every compiled rule; evaluation failure fails
// closed as a violation.
func (v *Validator) checkProfileRules(doc map[string]any) []Violation {
	if len(v.rules) == 0 {
		return nil
	}
	violations := make([]Violation, 0)
	for _, rule := range v.rules {
		out, _, err := rule.program.Eval(map[string]any{"doc": doc})
		if err != nil {
			violations = append(violations, Violation{
				Field:   rule.name,
				Rule:    "profile",
				Message: fmt.Sprintf("rule %q failed to evaluate: %v", rule.name, err),
			})
			continue
		}
		passed, ok := out.Value().(bool)
		if !ok || !passed {
			msg := rule.message
			if msg == "" {
				msg = fmt.Sprintf("rule %q not satisfied", rule.name)
			}
			violations = append(violations, Violation{
				Field:   rule.name,
				Rule:    "profile",
				Message: msg,
			})
		}
	}
	return violations
}
