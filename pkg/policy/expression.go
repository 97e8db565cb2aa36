package policy

import (
	"github.com/google/cel-go/cel"

	"github.com/chainguard/core/pkg/contracts"
)

// Expression is an optional Condition variant: a CEL boolean expression
// evaluated against the action/caller/daily_volume/now variables, for
// policies whose predicate the closed condition vocabulary can't express.
// Demoted here from "the whole policy is a CEL program" to one condition
// among several. An expression that fails to compile or evaluate is
// treated as non-matching: the default-deny rule must hold even when the
// author made a mistake.
type Expression struct {
	Source  string
	program cel.Program
}

var celEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.UintType),
		cel.Variable("chain", cel.StringType),
		cel.Variable("caller", cel.StringType),
		cel.Variable("daily_volume", cel.UintType),
		cel.Variable("now", cel.UintType),
	)
	if err != nil {
		// The environment is static and known-good; a failure here means
		// the CEL variable declarations above are malformed.
		panic(err)
	}
	celEnv = env
}

// NewExpression compiles source into a ready-to-evaluate Expression.
func NewExpression(source string) (Expression, error) {
	ast, issues := celEnv.Compile(source)
	if issues != nil && issues.Err() != nil {
		return Expression{Source: source}, issues.Err()
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return Expression{Source: source}, err
	}
	return Expression{Source: source, program: prg}, nil
}

func (e Expression) Match(ctx contracts.ConditionContext) bool {
	if e.program == nil {
		return false
	}
	out, _, err := e.program.Eval(map[string]any{
		"amount":       ctx.Action.Amount(),
		"chain":        ctx.Action.ChainName(),
		"caller":       string(ctx.Caller),
		"daily_volume": ctx.DailyVolume,
		"now":          ctx.Now,
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func (Expression) isCondition() {}
