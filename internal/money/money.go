// Package money keeps every amount in shopspring decimals and fixes rounding rules in one place.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	USD Currency = "USD"
	VES Currency = "VES"
)

var (
	ErrNonPositive     = errors.New("amount must be positive")
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrInvalidRate     = errors.New("exchange rate must be positive")
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// ApplyPercent returns base * pct/100, rounded to cents.
func ApplyPercent(base, pct decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(pct).Div(hundred))
}

// Markup returns cost * (1 + pct/100), rounded to cents.
func Markup(cost, pct decimal.Decimal) decimal.Decimal {
	return Round2(cost.Mul(hundred.Add(pct)).Div(hundred))
}

// ToVES converts a USD amount with the given bolivar-per-dollar rate.
func ToVES(usd, rate decimal.Decimal) decimal.Decimal { return Round2(usd.Mul(rate)) }

// ToUSD converts amount in cur to dollars. The result must be strictly positive.
func ToUSD(amount decimal.Decimal, cur Currency, rate decimal.Decimal) (decimal.Decimal, error) {
	var usd decimal.Decimal
	switch cur {
	case USD:
		usd = Round2(amount)
	case VES:
		if !rate.IsPositive() {
			return decimal.Zero, ErrInvalidRate
		}
		usd = Round2(amount.Div(rate))
	default:
		return decimal.Zero, ErrUnknownCurrency
	}
	if !usd.IsPositive() {
		return decimal.Zero, ErrNonPositive
	}
	return usd, nil
}

func ParseCurrency(s string) (Currency, error) {
	switch s {
	case "USD", "usd", "$", "dolares", "dólares":
		return USD, nil
	case "VES", "ves", "Bs", "bs", "BS", "bolivares", "bolívares":
		return VES, nil
	}
	return "", ErrUnknownCurrency
}
