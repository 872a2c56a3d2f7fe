package pricing

import (
	"testing"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/shopspring/decimal"
)

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestDuration(t *testing.T) {
	cases := map[types.Plan]time.Duration{
		types.PlanOneMonth:   30 * 24 * time.Hour,
		types.PlanEightWeeks: 56 * 24 * time.Hour,
		types.PlanSixMonths:  180 * 24 * time.Hour,
		"12m":                30 * 24 * time.Hour,
		"":                   30 * 24 * time.Hour,
		" 8W ":               56 * 24 * time.Hour,
	}
	for plan, want := range cases {
		if got := Duration(plan); got != want {
			t.Fatalf("Duration(%q) = %v, want %v", plan, got, want)
		}
	}
}

func TestInferPlan(t *testing.T) {
	cases := []struct {
		amount *decimal.Decimal
		want   types.Plan
	}{
		{nil, types.PlanOneMonth},
		{amount("0"), types.PlanOneMonth},
		{amount("799.99"), types.PlanOneMonth},
		{amount("800"), types.PlanEightWeeks},
		{amount("999"), types.PlanEightWeeks},
		{amount("1000"), types.PlanEightWeeks},
		{amount("1499.99"), types.PlanEightWeeks},
		{amount("1500"), types.PlanSixMonths},
		{amount("25000"), types.PlanSixMonths},
	}
	for _, tc := range cases {
		if got := InferPlan(tc.amount); got != tc.want {
			t.Fatalf("InferPlan(%v) = %s, want %s", tc.amount, got, tc.want)
		}
	}
}

func TestResolvePrefersExplicitPlan(t *testing.T) {
	if got := Resolve(types.PlanOneMonth, amount("2000")); got != types.PlanOneMonth {
		t.Fatalf("explicit plan ignored: got %s", got)
	}
	if got := Resolve("bogus", amount("2000")); got != types.PlanSixMonths {
		t.Fatalf("unknown plan should fall back to inference, got %s", got)
	}
	if got := Resolve("", nil); got != types.PlanOneMonth {
		t.Fatalf("empty plan and amount should give 1m, got %s", got)
	}
}
