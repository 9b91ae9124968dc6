// Package policy admits or blocks conversational turns and speech
// synthesis requests using an OPA policy.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.call_policy"),
		rego.Module("call_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine builds an engine from the policy file at path, or from
// DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate runs the policy against input and returns the decision and a
// reason, which is empty for allowed requests.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "", nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return DecisionAllow, "", nil
	}

	decision, _ := doc["decision"].(string)
	if decision == "" {
		decision = DecisionAllow
	}

	var reasons []string
	if raw, ok := doc["reasons"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	sort.Strings(reasons)
	return decision, strings.Join(reasons, "; "), nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package call_policy

default decision = "allow"

decision = "block" {
	count(reasons) > 0
}

reasons[msg] {
	input.action == "message"
	input.limits.max_message_chars > 0
	count(input.message) > input.limits.max_message_chars
	msg := "message exceeds maximum length"
}

reasons[msg] {
	input.action == "message"
	input.limits.max_turns > 0
	input.turn_count >= input.limits.max_turns
	msg := "turn limit reached"
}

reasons[msg] {
	input.action == "speech"
	not voice_allowed
	msg := sprintf("voice %q is not available", [input.voice])
}

reasons[msg] {
	input.action == "speech"
	input.limits.max_speech_chars > 0
	count(input.text) > input.limits.max_speech_chars
	msg := "text exceeds maximum speech length"
}

voice_allowed {
	input.voice == input.voices[_]
}
`
