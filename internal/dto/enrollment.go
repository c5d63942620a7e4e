package dto

import "github.com/shopspring/decimal"

// BalanceAdjustmentRequest applies a manual correction to an enrollment's hours left.
type BalanceAdjustmentRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason" validate:"required,max=255"`
}
