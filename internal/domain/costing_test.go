package domain

import "testing"

func TestWeightedAverageCostCents(t *testing.T) {
	cases := []struct {
		name         string
		priorStock   int
		priorCost    int64
		incomingQty  int
		incomingCost int64
		want         int64
	}{
		{"equal batches average evenly", 10, 200, 10, 400, 300},
		{"larger prior batch dominates", 30, 100, 10, 500, 200},
		{"zero prior stock takes incoming cost", 0, 999, 5, 350, 350},
		{"negative prior stock is treated as zero", -4, 999, 5, 350, 350},
		{"zero total quantity replaces outright", 0, 250, 0, 400, 400},
		{"rounds to nearest cent", 1, 100, 2, 200, 167},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WeightedAverageCostCents(tc.priorStock, tc.priorCost, tc.incomingQty, tc.incomingCost)
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestMarginRate(t *testing.T) {
	if rate := MarginRate(0, 0); rate != 0 {
		t.Fatalf("expected 0 rate with zero revenue, got %v", rate)
	}
	if rate := MarginRate(1000, 400); rate != 0.4 {
		t.Fatalf("expected 0.4, got %v", rate)
	}
}
