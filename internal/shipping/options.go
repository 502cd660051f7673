package shipping

import (
	"errors"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/textx"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodPickup   Method = "retiro"
	MethodCaracas  Method = "caracas"
	MethodCentral  Method = "central"
	MethodNacional Method = "nacional"
)

var ErrMethodUnavailable = errors.New("shipping method not available for address")

type Option struct {
	Method  Method          `json:"method"`
	Label   string          `json:"label"`
	CostUSD decimal.Decimal `json:"cost_usd"`
	MinDays int             `json:"min_days"`
	MaxDays int             `json:"max_days"`
	ETAFrom time.Time       `json:"eta_from"`
	ETATo   time.Time       `json:"eta_to"`
}

type tariff struct {
	label            string
	cost             int64
	minDays, maxDays int
}

var tariffs = map[Method]tariff{
	MethodPickup:   {"Retiro en tienda", 0, 0, 0},
	MethodCaracas:  {"Entrega en Caracas", 5, 1, 2},
	MethodCentral:  {"Envío región central", 12, 2, 4},
	MethodNacional: {"Envío nacional", 20, 3, 7},
}

var centralStates = map[string]bool{
	"miranda": true, "aragua": true, "carabobo": true, "la guaira": true, "vargas": true,
}

var capitalStates = map[string]bool{
	"distrito capital": true, "caracas": true,
}

// ZoneFor maps a delivery state to its zone method.
func ZoneFor(state string) Method {
	s := textx.Fold(state)
	switch {
	case capitalStates[s]:
		return MethodCaracas
	case centralStates[s]:
		return MethodCentral
	}
	return MethodNacional
}

// Options lists pickup plus the zone tariff of the address, with ETAs computed from now.
func Options(a Address, now time.Time) []Option {
	return []Option{option(MethodPickup, now), option(ZoneFor(a.State), now)}
}

// Quote returns the option for method if it is available for the address.
func Quote(a Address, method Method, now time.Time) (Option, error) {
	for _, o := range Options(a, now) {
		if o.Method == method {
			return o, nil
		}
	}
	return Option{}, ErrMethodUnavailable
}

func option(m Method, now time.Time) Option {
	t := tariffs[m]
	return Option{
		Method:  m,
		Label:   t.label,
		CostUSD: decimal.NewFromInt(t.cost),
		MinDays: t.minDays,
		MaxDays: t.maxDays,
		ETAFrom: AddBusinessDays(now, t.minDays),
		ETATo:   AddBusinessDays(now, t.maxDays),
	}
}

// AddBusinessDays skips Sundays; deliveries run Monday to Saturday.
func AddBusinessDays(from time.Time, days int) time.Time {
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for days > 0 {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Sunday {
			days--
		}
	}
	return d
}
