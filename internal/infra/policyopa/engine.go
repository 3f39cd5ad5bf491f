package policyopa

import (
	"context"
	"encoding/json"
	"errors"

	"credvault/internal/domain"
	"credvault/internal/usecase"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.credvault.access.result"

// Engine evaluates credential access policies compiled from a rego bundle.
// The policy may only veto: the allow-list contract is enforced before the
// engine is consulted. Network builtins are stripped from the capabilities so
// a policy cannot reach outside the process during evaluation.
type Engine struct {
	query    rego.PreparedEvalQuery
	bundleID string
}

// Builtins that would let a policy perform I/O during evaluation.
var forbiddenBuiltins = map[string]struct{}{
	"http.send":          {},
	"net.lookup_ip_addr": {},
	"opa.runtime":        {},
	"rego.parse_module":  {},
	"trace":              {},
}

func NewEngineFromPath(ctx context.Context, bundlePath, bundleID string) (*Engine, error) {
	if bundlePath == "" {
		return nil, errors.New("bundle path is required")
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	return &Engine{query: prepared, bundleID: bundleID}, nil
}

func (e *Engine) BundleID() string {
	return e.bundleID
}

func (e *Engine) Evaluate(ctx context.Context, query domain.AccessQuery) (domain.PolicyDecision, error) {
	if e == nil {
		return domain.PolicyDecision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(query))
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyDecision{}, errors.New("empty policy result")
	}
	return decodeDecision(results[0].Expressions[0].Value)
}

func decodeDecision(value any) (domain.PolicyDecision, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	var decision domain.PolicyDecision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return domain.PolicyDecision{}, err
	}
	return decision, nil
}

func filterBuiltins(in []*ast.Builtin) []*ast.Builtin {
	out := make([]*ast.Builtin, 0, len(in))
	for _, builtin := range in {
		if _, ok := forbiddenBuiltins[builtin.Name]; ok {
			continue
		}
		out = append(out, builtin)
	}
	return out
}

var _ usecase.PolicyEngine = (*Engine)(nil)
