// Package inventory keeps the receipt side of product costing: stock increments from
// purchases blend into a running weighted-average cost.
package inventory

import (
	"errors"

	"github.com/ariefcatur/go-chat-checkout/internal/money"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("received quantity must be positive")
	ErrInvalidCost     = errors.New("unit cost must not be negative")
)

// costScale matches products.avg_cost NUMERIC(14,4).
const costScale = 4

type Receipt struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Reference string          `json:"reference,omitempty"`
}

func (r Receipt) Validate() error {
	if r.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if r.UnitCost.IsNegative() {
		return ErrInvalidCost
	}
	return nil
}

// Costing is the costing-relevant state of a product.
type Costing struct {
	Stock    int
	AvgCost  decimal.Decimal
	LastCost decimal.Decimal
}

// WeightedAverage = (oldStock*oldAvg + qty*unitCost) / max(1, oldStock+qty).
func WeightedAverage(oldStock int, oldAvg decimal.Decimal, qty int, unitCost decimal.Decimal) decimal.Decimal {
	if oldStock < 0 {
		oldStock = 0
	}
	num := decimal.NewFromInt(int64(oldStock)).Mul(oldAvg).
		Add(decimal.NewFromInt(int64(qty)).Mul(unitCost))
	den := int64(oldStock + qty)
	if den < 1 {
		den = 1
	}
	return num.DivRound(decimal.NewFromInt(den), costScale)
}

// Apply receives r into c. LastCost always becomes the incoming cost.
func Apply(c Costing, r Receipt) (Costing, error) {
	if err := r.Validate(); err != nil {
		return c, err
	}
	return Costing{
		Stock:    max(c.Stock, 0) + r.Qty,
		AvgCost:  WeightedAverage(c.Stock, c.AvgCost, r.Qty, r.UnitCost),
		LastCost: r.UnitCost,
	}, nil
}

// Margins are markup percentages over cost per price tier.
type Margins struct {
	Client    decimal.Decimal
	Ally      decimal.Decimal
	Wholesale decimal.Decimal
}

type Prices struct {
	Client, Ally, Wholesale decimal.Decimal
}

// Prices derives sale tiers from cost. Historical orders keep their own item snapshots.
func (m Margins) Prices(cost decimal.Decimal) Prices {
	return Prices{
		Client:    money.Markup(cost, m.Client),
		Ally:      money.Markup(cost, m.Ally),
		Wholesale: money.Markup(cost, m.Wholesale),
	}
}
