// Package policy evaluates agent access rules with OPA.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is the document the policy is evaluated against.
type Input struct {
	AgentType string `json:"agent_type"`
	OrgID     string `json:"org_id"`
	Role      string `json:"role"`
	Plan      string `json:"plan"`
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.agent_policy"),
		rego.Module("agent_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy module from path, or the default
// policy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// InputFor builds the policy input for a tenant using an agent type.
func InputFor(tenant domain.Tenant, agent string) Input {
	return Input{
		AgentType: agent,
		OrgID:     tenant.OrgID,
		Role:      tenant.Role,
		Plan:      tenant.Plan,
	}
}

// Evaluate returns the decision and an optional reason.
func (e *Engine) Evaluate(ctx context.Context, input Input) (domain.PolicyDecision, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// The policy is expected to define a default decision.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyAllow, "default", nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return domain.PolicyAllow, "unexpected return type", nil
	}

	reason, _ := doc["reason"].(string)
	switch doc["decision"] {
	case string(domain.PolicyBlock):
		return domain.PolicyBlock, reason, nil
	default:
		return domain.PolicyAllow, reason, nil
	}
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package agent_policy

default decision = "allow"

default reason = ""

# Viewers can read transcripts but not start conversations
decision = "block" {
	input.role == "viewer"
}

reason = "viewers cannot start conversations" {
	input.role == "viewer"
}

# The social media agent is a paid feature
decision = "block" {
	input.plan == "free"
	input.agent_type == "social"
}

reason = "the social agent requires a paid plan" {
	input.plan == "free"
	input.agent_type == "social"
	input.role != "viewer"
}
`
