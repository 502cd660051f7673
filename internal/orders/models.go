package orders

import (
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/money"
	"github.com/shopspring/decimal"
)

// Order is immutable after creation except for Status and the append-only Audit trail.
// Amounts in VES use the rate snapshot TasaVES taken at creation.
type Order struct {
	ID                string          `json:"id"`
	ExternalID        string          `json:"-"`
	CustomerID        string          `json:"customer_id"`
	SellerID          string          `json:"seller_id,omitempty"`
	ShippingAddressID string          `json:"shipping_address_id"`
	ShippingMethod    string          `json:"shipping_method"`
	ShippingUSD       decimal.Decimal `json:"shipping_usd"`
	Items             []OrderItem     `json:"items"`
	SubtotalUSD       decimal.Decimal `json:"subtotal_usd"`
	IVAUSD            decimal.Decimal `json:"iva_usd"`
	TotalUSD          decimal.Decimal `json:"total_usd"`
	IVAPercent        decimal.Decimal `json:"iva_percent"`
	TasaVES           decimal.Decimal `json:"tasa_ves"`
	SubtotalVES       decimal.Decimal `json:"subtotal_ves"`
	IVAVES            decimal.Decimal `json:"iva_ves"`
	TotalVES          decimal.Decimal `json:"total_ves"`
	SaleType          SaleType        `json:"sale_type"`
	Status            Status          `json:"status"`
	Audit             []AuditEntry    `json:"audit,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price_usd"`
	Qty       int             `json:"qty"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Qty)))
}

type AuditEntry struct {
	At     time.Time `json:"at"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
}

type Totals struct {
	SubtotalUSD, IVAUSD, TotalUSD decimal.Decimal
	SubtotalVES, IVAVES, TotalVES decimal.Decimal
}

// Price computes totals: subtotal = items + shipping, total = subtotal * (1 + iva/100).
// VES figures are the USD figures times rate.
func Price(items []OrderItem, shippingUSD, ivaPercent, rate decimal.Decimal) Totals {
	sub := shippingUSD
	for _, it := range items {
		sub = sub.Add(it.LineTotal())
	}
	sub = money.Round2(sub)
	iva := money.ApplyPercent(sub, ivaPercent)
	total := sub.Add(iva)
	return Totals{
		SubtotalUSD: sub,
		IVAUSD:      iva,
		TotalUSD:    total,
		SubtotalVES: money.ToVES(sub, rate),
		IVAVES:      money.ToVES(iva, rate),
		TotalVES:    money.ToVES(total, rate),
	}
}
