package policy

import (
	"context"
	"encoding/json"

	"github.com/open-policy-agent/opa/rego"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

const defaultQuery = "data.signtusk.signing.result"

type result struct {
	Allow bool     `json:"allow"`
	Deny  []string `json:"deny"`
}

// Engine evaluates signing requests against a Rego bundle. The bundle's
// entrypoint is data.signtusk.signing.result with an allow flag and a list of
// deny reasons.
type Engine struct {
	query    rego.PreparedEvalQuery
	bundleID string
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath, bundleID string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.CodeInvalidConfig, "prepare policy bundle", err)
	}
	return &Engine{query: prepared, bundleID: bundleID}, nil
}

func (e *Engine) BundleID() string { return e.bundleID }

// Allow evaluates one signing request. Evaluation errors surface as errors;
// a clean deny comes back as allowed=false with the bundle's reasons.
func (e *Engine) Allow(ctx context.Context, input map[string]any) (bool, []string, error) {
	if e == nil {
		return true, nil, nil
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, nil, domain.WrapError(domain.CodeBackendUnavailable, "evaluate signing policy", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil, domain.NewError(domain.CodeInvalidConfig, "policy produced no result")
	}

	payload, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return false, nil, domain.WrapError(domain.CodeInvalidConfig, "encode policy result", err)
	}
	var decoded result
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return false, nil, domain.WrapError(domain.CodeInvalidConfig, "decode policy result", err)
	}
	return decoded.Allow, decoded.Deny, nil
}
