package receivables

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Execer is satisfied by pgx.Tx, so a receivable can be opened inside the order transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func OpenTx(ctx context.Context, tx Execer, orderID string, total decimal.Decimal, due time.Time) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO receivables(id, order_id, total_usd, due_date, status)
		VALUES ($1,$2,$3,$4,$5)`, id, orderID, total, due, StatusPending)
	if err != nil {
		return "", fmt.Errorf("open receivable: %w", err)
	}
	return id, nil
}

type Repo struct{ DB *pgxpool.Pool }

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repo) GetByOrder(ctx context.Context, orderID string) (Receivable, error) {
	return load(ctx, r.DB, orderID, false)
}

// Tx is satisfied by pgx.Tx.
type Tx interface {
	Execer
	querier
}

// Append adds a payment entry under a row lock and refreshes the persisted status.
func (r *Repo) Append(ctx context.Context, orderID string, e Entry) (Receivable, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Receivable{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := AppendTx(ctx, tx, orderID, e)
	if err != nil {
		return Receivable{}, err
	}
	return rec, tx.Commit(ctx)
}

// AppendTx is Append inside a caller-owned transaction.
func AppendTx(ctx context.Context, tx Tx, orderID string, e Entry) (Receivable, error) {
	if !e.AmountUSD.IsPositive() {
		return Receivable{}, ErrInvalidAmount
	}
	rec, err := load(ctx, tx, orderID, true)
	if err != nil {
		return Receivable{}, err
	}

	e.ID = uuid.NewString()
	e.ReceivableID = rec.ID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO receivable_entries(id, receivable_id, amount_usd, currency, method, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.ReceivableID, e.AmountUSD, e.Currency, e.Method, e.Reference, e.CreatedAt); err != nil {
		return Receivable{}, err
	}
	rec.Entries = append(rec.Entries, e)

	status := StatusPending
	if rec.Balance().IsZero() {
		status = StatusPaid
	}
	if _, err := tx.Exec(ctx, `UPDATE receivables SET status=$2 WHERE id=$1`, rec.ID, status); err != nil {
		return Receivable{}, err
	}
	rec.Status = status
	return rec, nil
}

func load(ctx context.Context, q querier, orderID string, lock bool) (Receivable, error) {
	sql := `SELECT id, order_id, total_usd, due_date, status, created_at FROM receivables WHERE order_id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var rec Receivable
	var status string
	err := q.QueryRow(ctx, sql, orderID).Scan(&rec.ID, &rec.OrderID, &rec.TotalUSD, &rec.DueDate, &status, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receivable{}, ErrNotFound
	}
	if err != nil {
		return Receivable{}, err
	}
	rec.Status = Status(status)

	rows, err := q.Query(ctx, `
		SELECT id, receivable_id, amount_usd, currency, method, reference, created_at
		FROM receivable_entries WHERE receivable_id=$1 ORDER BY created_at, id`, rec.ID)
	if err != nil {
		return Receivable{}, err
	}
	defer rows.Close()
	rec.Entries = []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ReceivableID, &e.AmountUSD, &e.Currency, &e.Method, &e.Reference, &e.CreatedAt); err != nil {
			return Receivable{}, err
		}
		rec.Entries = append(rec.Entries, e)
	}
	return rec, rows.Err()
}
