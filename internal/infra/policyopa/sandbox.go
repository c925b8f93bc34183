package policyopa

import (
	"errors"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
)

// claimBuiltins is everything a claim rule may call. Clock, network,
// randomness and crypto builtins are left out so a decision depends only on
// the claim input.
var claimBuiltins = map[string]bool{
	"eq": true, "equal": true, "neq": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
	"abs": true, "ceil": true, "floor": true, "round": true,
	"max": true, "min": true, "sum": true, "count": true,
	"plus": true, "minus": true, "mul": true, "div": true, "rem": true,
	"and": true, "or": true, "internal.member_2": true,
	"concat": true, "contains": true, "startswith": true, "endswith": true,
	"lower": true, "upper": true, "trim": true, "trim_space": true,
	"split": true, "sprintf": true, "format_int": true,
	"sort": true, "object.get": true,
}

// sandboxCompiler returns a compiler whose capabilities only carry the claim
// builtins.
func sandboxCompiler() *ast.Compiler {
	caps := ast.CapabilitiesForThisVersion()
	kept := make([]*ast.Builtin, 0, len(claimBuiltins))
	for _, b := range caps.Builtins {
		if claimBuiltins[b.Name] {
			kept = append(kept, b)
		}
	}
	caps.Builtins = kept
	return ast.NewCompiler().WithCapabilities(caps)
}

// checkSandbox walks the compiled modules and names every builtin call
// outside the claim set.
func checkSandbox(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("claim policy was not compiled")
	}
	seen := map[string]bool{}
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, builtin := ast.BuiltinMap[name]; builtin && !claimBuiltins[name] {
				seen[name] = true
			}
			return false
		})
	}
	if len(seen) == 0 {
		return nil
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return errors.New("builtins not allowed in claim rules: " + strings.Join(names, ", "))
}
