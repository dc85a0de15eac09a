package trust

import (
	"fmt"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/campusswap/campusswap/internal/domain/user"
)

// Status is the trust classification of a buyer.
type Status string

const (
	StatusTrusted    Status = "TRUSTED"
	StatusRestricted Status = "RESTRICTED"
	StatusBlocked    Status = "BLOCKED"
)

// Rule maps a boolean expression to the status assigned when it matches.
// Expressions are evaluated against the parameter names in Inputs.
type Rule struct {
	Name       string
	Expression string
	Status     Status
}

// Inputs are the account facts a rule expression can reference.
type Inputs struct {
	CompletedExchanges int
	CancelledRequests  int
	DisputeCount       int
	AdminFlags         int
	AccountAgeDays     int
}

func (in Inputs) params() map[string]interface{} {
	return map[string]interface{}{
		"completed_exchanges": in.CompletedExchanges,
		"cancelled_requests":  in.CancelledRequests,
		"dispute_count":       in.DisputeCount,
		"admin_flags":         in.AdminFlags,
		"account_age_days":    in.AccountAgeDays,
	}
}

// DefaultRules is the built-in policy. First match wins; an account that
// matches nothing is TRUSTED.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "admin-flagged",
			Expression: "admin_flags >= 2",
			Status:     StatusBlocked,
		},
		{
			Name:       "dispute-heavy",
			Expression: "dispute_count >= 3",
			Status:     StatusBlocked,
		},
		{
			Name:       "serial-canceller",
			Expression: "cancelled_requests >= 5 && completed_exchanges < cancelled_requests",
			Status:     StatusRestricted,
		},
		{
			Name:       "new-account-disputed",
			Expression: "account_age_days < 7 && dispute_count >= 1",
			Status:     StatusRestricted,
		},
	}
}

// Engine evaluates trust rules against account facts. Expressions are
// compiled once at construction.
type Engine struct {
	rules []compiledRule
}

type compiledRule struct {
	name   string
	status Status
	expr   *govaluate.EvaluableExpression
}

// NewEngine compiles the given rules. A rule that fails to parse is a
// configuration error and aborts construction.
func NewEngine(rules []Rule) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("compile trust rule %q: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRule{name: r.Name, status: r.Status, expr: expr})
	}
	return &Engine{rules: compiled}, nil
}

// Evaluate returns the status of the first matching rule, and the name of
// that rule. No match yields TRUSTED with an empty rule name.
func (e *Engine) Evaluate(in Inputs) (Status, string, error) {
	params := in.params()
	for _, r := range e.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			return "", "", fmt.Errorf("evaluate trust rule %q: %w", r.name, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return "", "", fmt.Errorf("trust rule %q did not evaluate to boolean", r.name)
		}
		if matched {
			return r.status, r.name, nil
		}
	}
	return StatusTrusted, "", nil
}

// InputsFor derives rule inputs from a user account.
func InputsFor(u *user.User, now time.Time) Inputs {
	return Inputs{
		CompletedExchanges: u.CompletedExchanges,
		CancelledRequests:  u.CancelledRequests,
		DisputeCount:       u.DisputeCount,
		AdminFlags:         u.AdminFlags,
		AccountAgeDays:     u.AccountAgeDays(now),
	}
}
