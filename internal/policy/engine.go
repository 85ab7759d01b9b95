// Package policy evaluates document access rules with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Actions on a document
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
	ActionShare  = "share"
)

// Decisions
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Input is what the policy sees for one access check.
type Input struct {
	Action     string   `json:"action"`
	UserID     string   `json:"user_id"`
	OwnerID    string   `json:"owner_id"`
	SharedWith []string `json:"shared_with"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.document_policy.decision"),
		rego.Module("document_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the decision for input. A policy that yields nothing
// denies.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	if input.SharedWith == nil {
		input.SharedWith = []string{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionDeny, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionDeny, nil
}

// Allowed reports whether input is allowed.
func (e *Engine) Allowed(ctx context.Context, input Input) (bool, error) {
	decision, err := e.Evaluate(ctx, input)
	if err != nil {
		return false, err
	}
	return decision == DecisionAllow, nil
}

// DefaultPolicy is the default policy content. Owners may do anything;
// users a document is shared with may read and write it.
const DefaultPolicy = `
package document_policy

default decision = "deny"

decision = "allow" {
	input.user_id == input.owner_id
}

decision = "allow" {
	input.action == "read"
	shared
}

decision = "allow" {
	input.action == "write"
	shared
}

shared {
	input.shared_with[_] == input.user_id
}
`
