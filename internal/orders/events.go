package orders

import (
	"encoding/json"
	"time"

	kafkax "github.com/ariefcatur/go-chat-checkout/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventOrderAuthorized  = "OrderAuthorized"
	EventPaymentSubmitted = "PaymentSubmitted"
	EventPaymentReviewed  = "PaymentReviewed"
	EventPurchaseReceived = "PurchaseReceived"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Emit wraps payload in a v1 envelope and publishes it keyed by correlationID.
func Emit(p Publisher, producer, eventType, correlationID string, payload any) {
	if p == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(correlationID), kafkax.MustMarshal(ev), kafkax.TypeHeaders(eventType, ev.EventVersion)...)
}

// ---- payloads ----

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price_usd"`
}

type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	ExternalID string          `json:"external_id"`
	CustomerID string          `json:"customer_id"`
	SellerID   string          `json:"seller_id,omitempty"`
	SaleType   SaleType        `json:"sale_type"`
	Items      []ItemPrice     `json:"items"`
	TotalUSD   decimal.Decimal `json:"total_usd"`
	TotalVES   decimal.Decimal `json:"total_ves"`
}

type OrderAuthorizedPayload struct {
	OrderID string `json:"order_id"`
	Phone   string `json:"phone"`
}

type PaymentSubmittedPayload struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Method    string          `json:"method"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Reference string          `json:"reference,omitempty"`
}

// PaymentReviewedPayload is produced by the back-office reviewer.
type PaymentReviewedPayload struct {
	OrderID  string `json:"order_id"`
	Decision string `json:"decision"` // APROBADO | RECHAZADO
	Reviewer string `json:"reviewer"`
	Note     string `json:"note,omitempty"`
}

// PurchaseReceivedPayload is produced by purchasing when goods are reconciled into stock.
type PurchaseReceivedPayload struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Reference string          `json:"reference,omitempty"`
}

func itemPrices(items []OrderItem) []ItemPrice {
	out := make([]ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, ItemPrice{ProductID: it.ProductID, Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	return out
}
