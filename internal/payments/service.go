package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/money"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderReader interface {
	Get(ctx context.Context, id string) (orders.Order, error)
}

type RateSource interface {
	Current(ctx context.Context) (decimal.Decimal, error)
}

type Store interface {
	Submit(ctx context.Context, p *Payment, entry orders.AuditEntry) error
	GetByOrder(ctx context.Context, orderID string) (Payment, error)
}

type Service struct {
	Orders  OrderReader
	Store   Store
	Rates   RateSource
	Events  orders.Publisher
	Service string
	Now     func() time.Time
}

type SubmitInput struct {
	OrderID    string
	CustomerID string // when set the order must belong to this customer
	Method     Method
	Currency   money.Currency
	Amount     decimal.Decimal
	Reference  string
}

// Submit records a claimed payment in EN_REVISION. Amounts in bolivars are converted with
// the current rate setting, not the order snapshot, since the proof was produced
// independently of the order.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Payment, error) {
	if in.Method == "" {
		return Payment{}, ErrUnknownMethod
	}
	o, err := s.Orders.Get(ctx, in.OrderID)
	if err != nil {
		return Payment{}, err
	}
	if in.CustomerID != "" && o.CustomerID != in.CustomerID {
		return Payment{}, orders.ErrNotFound
	}
	if o.Status != orders.StatusAwaitingPayment {
		return Payment{}, fmt.Errorf("%w: order is %s", orders.ErrInvalidTransition, o.Status)
	}

	cur := in.Currency
	if cur == "" {
		cur = in.Method.DefaultCurrency()
	}
	var rate decimal.Decimal
	if cur == money.VES {
		if rate, err = s.Rates.Current(ctx); err != nil {
			return Payment{}, fmt.Errorf("exchange rate: %w", err)
		}
	}
	usd, err := money.ToUSD(in.Amount, cur, rate)
	if err != nil {
		return Payment{}, err
	}

	now := s.now()
	p := Payment{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Method:    in.Method,
		Currency:  cur,
		Amount:    money.Round2(in.Amount),
		AmountUSD: usd,
		RateUsed:  rate,
		Reference: strings.TrimSpace(in.Reference),
		Status:    StatusInReview,
		CreatedAt: now,
	}
	entry := orders.AuditEntry{At: now, Event: "payment_submitted", Detail: fmt.Sprintf("%s %s %s", p.Method, p.Amount, p.Currency)}
	if err := s.Store.Submit(ctx, &p, entry); err != nil {
		return Payment{}, err
	}

	orders.Emit(s.Events, s.Service, orders.EventPaymentSubmitted, o.ID, orders.PaymentSubmittedPayload{
		OrderID:   o.ID,
		PaymentID: p.ID,
		Method:    string(p.Method),
		AmountUSD: p.AmountUSD,
		Reference: p.Reference,
	})
	return p, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
