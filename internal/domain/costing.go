package domain

import "github.com/shopspring/decimal"

// WeightedAverageCostCents blends the cost of stock already on hand with an
// incoming batch, in proportion to quantities. Negative prior stock counts as
// zero units on hand. When the combined quantity is zero the incoming unit
// cost replaces the old cost outright.
func WeightedAverageCostCents(priorStock int, priorCostCents int64, incomingQty int, incomingCostCents int64) int64 {
	if priorStock < 0 {
		priorStock = 0
	}
	totalQty := priorStock + incomingQty
	if totalQty <= 0 {
		return incomingCostCents
	}

	totalValue := decimal.NewFromInt(priorCostCents).Mul(decimal.NewFromInt(int64(priorStock))).
		Add(decimal.NewFromInt(incomingCostCents).Mul(decimal.NewFromInt(int64(incomingQty))))
	return totalValue.DivRound(decimal.NewFromInt(int64(totalQty)), 0).IntPart()
}

// MarginRate returns margin over revenue rounded to four decimal places, or
// zero when there is no revenue.
func MarginRate(revenueCents int64, marginCents int64) float64 {
	if revenueCents == 0 {
		return 0
	}
	rate, _ := decimal.NewFromInt(marginCents).DivRound(decimal.NewFromInt(revenueCents), 4).Float64()
	return rate
}
