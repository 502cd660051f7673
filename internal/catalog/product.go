package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Tier selects which sale price applies to a customer.
type Tier string

const (
	TierClient    Tier = "client"
	TierAlly      Tier = "ally"
	TierWholesale Tier = "wholesale"
)

var ErrProductNotFound = errors.New("product not found")

type Product struct {
	ID             string          `json:"id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Stock          int             `json:"stock"`
	AvgCost        decimal.Decimal `json:"-"`
	LastCost       decimal.Decimal `json:"-"`
	PriceClient    decimal.Decimal `json:"price_client"`
	PriceAlly      decimal.Decimal `json:"price_ally"`
	PriceWholesale decimal.Decimal `json:"price_wholesale"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PriceFor returns the sale price of tier, falling back to the client price.
func (p Product) PriceFor(t Tier) decimal.Decimal {
	switch t {
	case TierAlly:
		if p.PriceAlly.IsPositive() {
			return p.PriceAlly
		}
	case TierWholesale:
		if p.PriceWholesale.IsPositive() {
			return p.PriceWholesale
		}
	}
	return p.PriceClient
}

func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierAlly, TierWholesale:
		return Tier(s)
	}
	return TierClient
}
