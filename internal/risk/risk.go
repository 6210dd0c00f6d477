// Package risk implements the hard-limit rule chain evaluated before every
// order submission: MaxNotional, MaxLeverage, CircuitBreaker, first denial
// wins.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Request carries everything a rule needs to evaluate one prospective order.
type Request struct {
	Price      *decimal.Decimal
	Quantity   decimal.Decimal
	Leverage   *decimal.Decimal
	SignalOK   bool
	Confidence float64
}

// Config carries the risk chain's hard limits (risk_max_notional,
// risk_max_leverage, risk_min_confidence).
type Config struct {
	MaxNotional   decimal.Decimal
	MaxLeverage   decimal.Decimal
	MinConfidence float64
}

// Rule is one link in the chain: it returns ok=false with a reason to deny.
type Rule func(req Request, cfg Config) (ok bool, reason string)

// Chain is the ordered rule set evaluated by Evaluate.
var Chain = []struct {
	Name string
	Rule Rule
}{
	{"MaxNotional", maxNotional},
	{"MaxLeverage", maxLeverage},
	{"CircuitBreaker", circuitBreaker},
}

func maxNotional(req Request, cfg Config) (bool, string) {
	if req.Price == nil {
		return false, "price missing"
	}
	notional := req.Price.Mul(req.Quantity)
	if notional.GreaterThan(cfg.MaxNotional) {
		return false, fmt.Sprintf("notional %s exceeds max %s", notional.String(), cfg.MaxNotional.String())
	}
	return true, ""
}

func maxLeverage(req Request, cfg Config) (bool, string) {
	if req.Leverage == nil {
		return true, ""
	}
	if req.Leverage.GreaterThan(cfg.MaxLeverage) {
		return false, fmt.Sprintf("leverage %s exceeds max %s", req.Leverage.String(), cfg.MaxLeverage.String())
	}
	return true, ""
}

func circuitBreaker(req Request, cfg Config) (bool, string) {
	if !req.SignalOK {
		return false, "signal not ok"
	}
	if req.Confidence < cfg.MinConfidence {
		return false, fmt.Sprintf("confidence %.4f below min %.4f", req.Confidence, cfg.MinConfidence)
	}
	return true, ""
}

// Evaluate runs the rule chain in order, short-circuiting at the first
// denial. It returns (ok, reason, rule_name).
func Evaluate(req Request, cfg Config) (ok bool, reason string, ruleName string) {
	for _, r := range Chain {
		if ok, reason := r.Rule(req, cfg); !ok {
			return false, reason, r.Name
		}
	}
	return true, "", ""
}
