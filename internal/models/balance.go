package models

import "github.com/shopspring/decimal"

// BalanceRule computes the new hours left given the current balance, the hours
// previously credited for a line, and the hours now credited.
type BalanceRule func(left, previous, next decimal.Decimal) decimal.Decimal

// RestoreAndApply undoes the previous deduction before applying the new one,
// flooring the result at zero.
func RestoreAndApply(left, previous, next decimal.Decimal) decimal.Decimal {
	updated := left.Add(previous).Sub(next)
	if updated.IsNegative() {
		return decimal.Zero
	}
	return updated
}
