// Package receivables tracks what is still owed on credit sales. The balance is never
// stored: it is recomputed from the append-only entries on every read.
package receivables

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "PENDIENTE"
	StatusPaid    Status = "PAGADA"
	StatusOverdue Status = "VENCIDA"
)

var (
	ErrNotFound      = errors.New("receivable not found")
	ErrInvalidAmount = errors.New("entry amount must be positive")
)

type Entry struct {
	ID           string          `json:"id"`
	ReceivableID string          `json:"receivable_id"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	Currency     string          `json:"currency"`
	Method       string          `json:"method"`
	Reference    string          `json:"reference,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Receivable struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	TotalUSD  decimal.Decimal `json:"total_usd"`
	DueDate   time.Time       `json:"due_date"`
	Status    Status          `json:"status"`
	Entries   []Entry         `json:"entries"`
	CreatedAt time.Time       `json:"created_at"`
}

// Balance is max(0, total - sum(entries)). Over-payment is tolerated, never negative.
func Balance(total decimal.Decimal, entries []Entry) decimal.Decimal {
	b := total.Sub(Paid(entries))
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

func Paid(entries []Entry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.AmountUSD)
	}
	return sum
}

func (r Receivable) Balance() decimal.Decimal { return Balance(r.TotalUSD, r.Entries) }

// StatusAt derives the status from entries and the due date; Status is only the last persisted value.
func (r Receivable) StatusAt(now time.Time) Status {
	if r.Balance().IsZero() {
		return StatusPaid
	}
	if now.After(r.DueDate.AddDate(0, 0, 1)) {
		return StatusOverdue
	}
	return StatusPending
}

// DueDate is creation day plus creditDays, truncated to the day.
func DueDate(created time.Time, creditDays int) time.Time {
	d := created.AddDate(0, 0, creditDays)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

// View is the read model exposed over HTTP.
type View struct {
	Receivable
	PaidUSD    decimal.Decimal `json:"paid_usd"`
	BalanceUSD decimal.Decimal `json:"balance_usd"`
}

func (r Receivable) View(now time.Time) View {
	r.Status = r.StatusAt(now)
	return View{Receivable: r, PaidUSD: Paid(r.Entries), BalanceUSD: r.Balance()}
}
