package pricing

import (
	"strings"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

var durations = map[types.Plan]time.Duration{
	types.PlanOneMonth:   30 * day,
	types.PlanEightWeeks: 56 * day,
	types.PlanSixMonths:  180 * day,
}

var (
	sixMonthsFrom  = decimal.NewFromInt(1500)
	eightWeeksFrom = decimal.NewFromInt(800)
)

func normalizePlan(p string) types.Plan {
	return types.Plan(strings.ToLower(strings.TrimSpace(p)))
}

// ParsePlan reports whether p names a plan with a known duration.
func ParsePlan(p string) (types.Plan, bool) {
	plan := normalizePlan(p)
	_, ok := durations[plan]
	return plan, ok
}

// Duration falls back to the one-month period for unknown plan codes.
func Duration(plan types.Plan) time.Duration {
	if d, ok := durations[normalizePlan(string(plan))]; ok {
		return d
	}
	return durations[types.PlanOneMonth]
}

// InferPlan maps a paid amount onto a plan tier. Amounts are in the major
// currency unit the payment links are priced in.
func InferPlan(amount *decimal.Decimal) types.Plan {
	if amount == nil {
		return types.PlanOneMonth
	}
	switch {
	case amount.GreaterThanOrEqual(sixMonthsFrom):
		return types.PlanSixMonths
	case amount.GreaterThanOrEqual(eightWeeksFrom):
		return types.PlanEightWeeks
	default:
		return types.PlanOneMonth
	}
}

// Resolve prefers an explicit plan code and only then infers from the amount.
func Resolve(explicit types.Plan, amount *decimal.Decimal) types.Plan {
	if plan, ok := ParsePlan(string(explicit)); ok {
		return plan
	}
	return InferPlan(amount)
}
