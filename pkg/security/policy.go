package security

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// defaultPolicy is the built-in Rego module evaluated when a capability is
// requested and no operator-supplied bundle is configured. It implements
// path/operation/tool whitelist checks as data-driven rules, so operators
// can replace it with their own bundle without a rebuild (grounded on
// jordigilh-kubernaut's direct open-policy-agent/opa dependency).
const defaultPolicy = `
package agentforge.capability

default allow := false

allow if {
	operations_allowed
	paths_allowed
	tools_allowed
}

operations_allowed if {
	count(input.allowed_operations) == 0
}

operations_allowed if {
	count(input.allowed_operations) > 0
	some op in input.operations
	op == input.allowed_operations[_]
}

paths_allowed if {
	count(input.allowed_paths) == 0
}

paths_allowed if {
	count(input.allowed_paths) > 0
	some p in input.paths
	startswith(p, input.allowed_paths[_])
}

tools_allowed if {
	count(input.allowed_tools) == 0
}

tools_allowed if {
	count(input.allowed_tools) > 0
	some t in input.tools
	t == input.allowed_tools[_]
}
`

// PolicyInput is the structured input evaluated against the Rego module for
// a request_capability call.
type PolicyInput struct {
	Operations       []string `json:"operations"`
	Paths            []string `json:"paths"`
	Tools            []string `json:"tools"`
	AllowedOperations []string `json:"allowed_operations"`
	AllowedPaths     []string `json:"allowed_paths"`
	AllowedTools     []string `json:"allowed_tools"`
}

// PolicyEvaluator evaluates request_capability's whitelist policies through
// an embedded Rego query, optionally loaded from an operator-supplied
// bundle path instead of the built-in default.
type PolicyEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewPolicyEvaluator prepares the Rego query. If bundlePath is empty, the
// built-in defaultPolicy module is used.
func NewPolicyEvaluator(ctx context.Context, bundlePath string) (*PolicyEvaluator, error) {
	opts := []func(*rego.Rego){
		rego.Query("data.agentforge.capability.allow"),
	}
	if bundlePath != "" {
		opts = append(opts, rego.Load([]string{bundlePath}, nil))
	} else {
		opts = append(opts, rego.Module("capability.rego", defaultPolicy))
	}

	r := rego.New(opts...)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing capability policy: %w", err)
	}
	return &PolicyEvaluator{query: pq}, nil
}

// Allow evaluates the whitelist policy against the given input, returning
// true iff the Rego module's "allow" rule is satisfied.
func (p *PolicyEvaluator) Allow(ctx context.Context, input PolicyInput) (bool, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluating capability policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("capability policy returned non-boolean result")
	}
	return allowed, nil
}
