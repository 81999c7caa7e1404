package domain

import "github.com/shopspring/decimal"

const (
	// RateScale number of decimal places kept for exchange rates.
	RateScale int32 = 12
	// AmountScale number of decimal places kept for balances and trade values.
	AmountScale int32 = 8
)

// RoundRate rounds half-even to RateScale.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(RateScale)
}

// RoundAmount rounds half-even to AmountScale.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(AmountScale)
}

// DivRate divides at extended precision and rounds the result to RateScale.
func DivRate(a, b decimal.Decimal) decimal.Decimal {
	return RoundRate(a.DivRound(b, RateScale+8))
}
