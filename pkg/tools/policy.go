package tools

import (
	"fmt"
)

// SideEffect classifies what a tool does to the outside world.
type SideEffect string

const (
	SideEffectReadOnly SideEffect = "read_only"
	SideEffectMutating SideEffect = "mutating"
)

// ApprovalMode selects when a tool call needs a human reviewer.
type ApprovalMode string

const (
	ApprovalNever          ApprovalMode = "never"
	ApprovalAboveThreshold ApprovalMode = "above_threshold"
	ApprovalAlways         ApprovalMode = "always"
)

// ApprovalPolicy is the declarative gating rule for one tool.
// For ApprovalAboveThreshold, AmountField names the argument holding the
// monetary magnitude and CurrencyField the argument holding its currency
// (falling back to the configured default currency when absent).
type ApprovalPolicy struct {
	Mode          ApprovalMode `json:"mode"`
	AmountField   string       `json:"amount_field,omitempty"`
	CurrencyField string       `json:"currency_field,omitempty"`
}

// Thresholds maps currency code to the amount above which approval is
// required. There is no single global currency.
type Thresholds struct {
	Limits          map[string]float64
	DefaultCurrency string
}

// RequiresApproval evaluates the policy against concrete call arguments.
// The returned reason is shown to the reviewer.
func (p ApprovalPolicy) RequiresApproval(args map[string]interface{}, th Thresholds) (bool, string) {
	switch p.Mode {
	case ApprovalAlways:
		return true, "tool always requires approval"
	case ApprovalNever, "":
		return false, ""
	case ApprovalAboveThreshold:
	default:
		// Unknown mode fails closed.
		return true, fmt.Sprintf("unknown approval mode %q", p.Mode)
	}

	amount, ok := numericArg(args, p.AmountField)
	if !ok {
		// Missing or non-numeric magnitude fails closed.
		return true, fmt.Sprintf("argument %q missing or not numeric", p.AmountField)
	}

	currency := th.DefaultCurrency
	if p.CurrencyField != "" {
		if c, ok := args[p.CurrencyField].(string); ok && c != "" {
			currency = c
		}
	}

	limit, ok := th.Limits[currency]
	if !ok {
		return true, fmt.Sprintf("no approval threshold configured for currency %q", currency)
	}

	if amount > limit {
		return true, fmt.Sprintf("amount %.2f %s exceeds approval threshold %.2f", amount, currency, limit)
	}
	return false, ""
}

func numericArg(args map[string]interface{}, field string) (float64, bool) {
	if field == "" {
		return 0, false
	}
	switch v := args[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
