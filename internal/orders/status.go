package orders

type Status string

const (
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusAwaitingPayment     Status = "AWAITING_PAYMENT"
	StatusPaymentReview       Status = "PAYMENT_REVIEW"
	StatusConfirmed           Status = "CONFIRMED"
	StatusRejected            Status = "REJECTED"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingConfirmation: {StatusAwaitingPayment: true, StatusRejected: true},
	StatusAwaitingPayment:     {StatusPaymentReview: true, StatusRejected: true},
	StatusPaymentReview:       {StatusConfirmed: true, StatusRejected: true},
	StatusConfirmed:           {},
	StatusRejected:            {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Final() bool {
	return s == StatusConfirmed || s == StatusRejected
}

type SaleType string

const (
	SaleCash   SaleType = "CONTADO"
	SaleCredit SaleType = "CREDITO"
)

func ParseSaleType(s string) SaleType {
	switch s {
	case "CREDITO", "credito", "crédito", "credit":
		return SaleCredit
	}
	return SaleCash
}
