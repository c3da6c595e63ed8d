package risk

import (
	"fmt"

	"bizops-incentives/pkg/celengine"
	"bizops-incentives/pkg/config"

	"github.com/google/cel-go/cel"
)

// DefaultRules apply when RISK.RULES is empty.
var DefaultRules = []config.RiskRule{
	{Name: "missing_device", Expr: "!has_device", Score: 15, Reason: "no device fingerprint"},
	{Name: "shared_device", Expr: "device_users >= 1", Score: 40, Reason: "device used by another account"},
	{Name: "shared_ip", Expr: "ip_users >= 3", Score: 25, Reason: "address shared by several accounts"},
	{Name: "velocity", Expr: "actions_24h > 20", Score: 30, Reason: "unusual activity in the last 24h"},
}

func newEngine() (*celengine.Engine, error) {
	return celengine.New(
		celengine.Var{Name: "action", Type: cel.StringType},
		celengine.Var{Name: "has_device", Type: cel.BoolType},
		celengine.Var{Name: "device_users", Type: cel.IntType},
		celengine.Var{Name: "ip_users", Type: cel.IntType},
		celengine.Var{Name: "actions_24h", Type: cel.IntType},
	)
}

// compileRules type-checks every rule up front so a bad expression fails
// startup rather than an assessment.
func compileRules(engine *celengine.Engine, rules []config.RiskRule) ([]config.RiskRule, error) {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	for _, r := range rules {
		if _, err := engine.Compile(r.Expr); err != nil {
			return nil, fmt.Errorf("risk rule %q: %w", r.Name, err)
		}
	}
	return rules, nil
}

// Classify maps a clamped score onto the configured thresholds.
func Classify(score, flagAt, blockAt int) ActionTaken {
	switch {
	case score >= blockAt:
		return ActionBlock
	case score >= flagAt:
		return ActionFlag
	default:
		return ActionAllow
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
