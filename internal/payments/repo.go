package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/money"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/receivables"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

// Submit inserts the payment and moves the order to PAYMENT_REVIEW in one transaction.
func (r *Repo) Submit(ctx context.Context, p *Payment, entry orders.AuditEntry) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := orders.TransitionTx(ctx, tx, p.OrderID, orders.StatusAwaitingPayment, orders.StatusPaymentReview, entry); err != nil {
		return err
	}

	var rate any
	if !p.RateUsed.IsZero() {
		rate = p.RateUsed
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, method, currency, amount, amount_usd, rate_used, reference, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.OrderID, p.Method, p.Currency, p.Amount, p.AmountUSD, rate, p.Reference, p.Status, p.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadySubmitted
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) GetByOrder(ctx context.Context, orderID string) (Payment, error) {
	var p Payment
	var method, currency, status string
	var rate *decimal.Decimal
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, method, currency, amount, amount_usd, rate_used, reference, status, reviewer, created_at, reviewed_at
		FROM payments WHERE order_id=$1`, orderID).
		Scan(&p.ID, &p.OrderID, &method, &currency, &p.Amount, &p.AmountUSD, &rate, &p.Reference, &status, &p.Reviewer, &p.CreatedAt, &p.ReviewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	p.Method, p.Status = Method(method), Status(status)
	p.Currency = money.Currency(currency)
	if rate != nil {
		p.RateUsed = *rate
	}
	return p, nil
}

type ReviewInput struct {
	OrderID  string
	Decision Status
	Reviewer string
	Note     string
	At       time.Time
}

// Review records the reviewer decision on the payment and the order. An approved payment
// on a credit order is appended to its receivable in the same transaction.
func (r *Repo) Review(ctx context.Context, in ReviewInput) (Payment, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Payment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var p Payment
	var method, currency string
	err = tx.QueryRow(ctx, `
		UPDATE payments SET status=$2, reviewer=$3, reviewed_at=$4
		WHERE order_id=$1 AND status=$5
		RETURNING id, method, currency, amount, amount_usd, reference, created_at`,
		in.OrderID, in.Decision, in.Reviewer, in.At, StatusInReview).
		Scan(&p.ID, &method, &currency, &p.Amount, &p.AmountUSD, &p.Reference, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrAlreadyReviewed
	}
	if err != nil {
		return Payment{}, err
	}
	p.OrderID, p.Status, p.Reviewer = in.OrderID, in.Decision, in.Reviewer
	p.Method, p.Currency = Method(method), money.Currency(currency)
	at := in.At
	p.ReviewedAt = &at

	var saleType string
	if err := tx.QueryRow(ctx, `SELECT sale_type FROM orders WHERE id=$1 FOR UPDATE`, in.OrderID).Scan(&saleType); err != nil {
		return Payment{}, fmt.Errorf("load order: %w", err)
	}

	to := orders.StatusConfirmed
	if in.Decision == StatusRejected {
		to = orders.StatusRejected
	}
	detail := in.Reviewer
	if in.Note != "" {
		detail += ": " + in.Note
	}
	entry := orders.AuditEntry{At: in.At, Event: "payment_" + string(in.Decision), Detail: detail}
	if err := orders.TransitionTx(ctx, tx, in.OrderID, orders.StatusPaymentReview, to, entry); err != nil {
		return Payment{}, err
	}

	if in.Decision == StatusApproved && orders.SaleType(saleType) == orders.SaleCredit {
		if _, err := receivables.AppendTx(ctx, tx, in.OrderID, receivables.Entry{
			AmountUSD: p.AmountUSD,
			Currency:  string(p.Currency),
			Method:    string(p.Method),
			Reference: p.Reference,
			CreatedAt: in.At,
		}); err != nil {
			return Payment{}, err
		}
	}
	return p, tx.Commit(ctx)
}
