package payments

import (
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/money"
	"github.com/ariefcatur/go-chat-checkout/internal/textx"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDIENTE"
	StatusInReview Status = "EN_REVISION"
	StatusApproved Status = "APROBADO"
	StatusRejected Status = "RECHAZADO"
)

type Method string

const (
	MethodPagoMovil     Method = "PAGO_MOVIL"
	MethodTransferencia Method = "TRANSFERENCIA"
	MethodZelle         Method = "ZELLE"
	MethodEfectivo      Method = "EFECTIVO"
	MethodBinance       Method = "BINANCE"
)

var (
	ErrNotFound         = errors.New("payment not found")
	ErrUnknownMethod    = errors.New("unknown payment method")
	ErrAlreadySubmitted = errors.New("order already has a payment")
	ErrAlreadyReviewed  = errors.New("payment already reviewed")
	ErrUnknownDecision  = errors.New("review decision must be APROBADO or RECHAZADO")
)

type Payment struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	Method     Method          `json:"method"`
	Currency   money.Currency  `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	AmountUSD  decimal.Decimal `json:"amount_usd"`
	RateUsed   decimal.Decimal `json:"rate_used,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	Status     Status          `json:"status"`
	Reviewer   string          `json:"reviewer,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty"`
}

var methodKeywords = []struct {
	words  []string
	method Method
}{
	{[]string{"pago movil", "pagomovil", "pmovil"}, MethodPagoMovil},
	{[]string{"transferencia", "transfer"}, MethodTransferencia},
	{[]string{"zelle"}, MethodZelle},
	{[]string{"efectivo", "cash", "divisas"}, MethodEfectivo},
	{[]string{"binance", "usdt"}, MethodBinance},
}

// NormalizeMethod finds a payment method named anywhere in free text.
func NormalizeMethod(text string) (Method, bool) {
	s := textx.Fold(strings.ReplaceAll(text, "_", " "))
	for _, mk := range methodKeywords {
		for _, w := range mk.words {
			if strings.Contains(s, w) {
				return mk.method, true
			}
		}
	}
	return "", false
}

// DefaultCurrency is the currency a method settles in when a proof does not say.
func (m Method) DefaultCurrency() money.Currency {
	switch m {
	case MethodPagoMovil, MethodTransferencia:
		return money.VES
	}
	return money.USD
}

// ParseDecision maps a reviewer decision to the payment status it sets.
func ParseDecision(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", ErrUnknownDecision
}
