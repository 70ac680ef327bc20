package paygate

import "github.com/shopspring/decimal"

var minorUnitFactor = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to the integer minor units the
// gateway expects. Sub-cent precision is truncated.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitFactor).IntPart()
}

// FromMinorUnits converts gateway minor units back to a major-unit amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorUnitFactor)
}
