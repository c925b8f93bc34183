package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"rewardguard/internal/domain"

	"github.com/open-policy-agent/opa/rego"
)

// ClaimQuery is the rule every claim bundle must define. It evaluates to
// {"allow": bool, "deny": [{"code", "rule", "message"}]}.
const ClaimQuery = "data.rewardguard.claim.result"

// Engine holds one compiled claim bundle. It implements usecase.ClaimPolicy.
type Engine struct {
	query      rego.PreparedEvalQuery
	bundleID   string
	bundleHash string
}

// NewEngineFromBundlePath compiles the rego files under bundlePath inside the
// claim sandbox. The bundle is rejected if it calls any builtin the sandbox
// leaves out.
func NewEngineFromBundlePath(ctx context.Context, bundlePath, bundleID string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, err
	}
	compiler := sandboxCompiler()
	prepared, err := rego.New(
		rego.Query(ClaimQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare claim policy %s: %w", bundleID, err)
	}
	if err := checkSandbox(compiler); err != nil {
		return nil, fmt.Errorf("claim policy %s: %w", bundleID, err)
	}
	return &Engine{query: prepared, bundleID: bundleID, bundleHash: bundleHash}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

// Evaluate runs the bundle against one claim. Deny entries are reported in
// rule order and their codes are narrowed to the claim codes a policy may
// use.
func (e *Engine) Evaluate(ctx context.Context, input domain.ClaimPolicyInput) (domain.PolicyEvaluation, error) {
	if e == nil {
		return domain.PolicyEvaluation{}, errors.New("claim policy is not loaded")
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return domain.PolicyEvaluation{}, fmt.Errorf("claim policy %s: %s is undefined", e.bundleID, ClaimQuery)
	}
	var raw claimDecision
	if err := remarshal(rs[0].Expressions[0].Value, &raw); err != nil {
		return domain.PolicyEvaluation{}, fmt.Errorf("claim policy %s: %w", e.bundleID, err)
	}
	return domain.PolicyEvaluation{
		BundleID:   e.bundleID,
		BundleHash: e.bundleHash,
		Result:     raw.toResult(),
	}, nil
}

type claimDecision struct {
	Allow bool        `json:"allow"`
	Deny  []claimDeny `json:"deny"`
}

type claimDeny struct {
	Code    string `json:"code"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// toResult converts the rego answer. A deny entry whose code is not a claim
// code keeps that code as its rule name, so bundles that only set code still
// say which rule fired. Any deny entry forces allow to false.
func (d claimDecision) toResult() domain.PolicyResult {
	out := domain.PolicyResult{Allow: d.Allow && len(d.Deny) == 0}
	for _, entry := range d.Deny {
		code := domain.PolicyCode(entry.Code)
		rule := strings.TrimSpace(entry.Rule)
		if rule == "" && !strings.EqualFold(strings.TrimSpace(entry.Code), string(code)) {
			rule = strings.TrimSpace(entry.Code)
		}
		out.Deny = append(out.Deny, domain.PolicyDeny{Code: code, Rule: rule, Message: entry.Message})
	}
	sort.Slice(out.Deny, func(i, j int) bool {
		a, b := out.Deny[i], out.Deny[j]
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Message < b.Message
	})
	return out
}

func remarshal(value any, out any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
