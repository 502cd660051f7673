package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/receivables"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const orderCols = `id, external_id, customer_id, COALESCE(seller_id, ''), shipping_address_id, shipping_method,
	shipping_usd, subtotal_usd, iva_usd, total_usd, iva_percent, tasa_ves, subtotal_ves, iva_ves, total_ves,
	sale_type, status, audit, created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Create is idempotent via external_id: a second insert with the same key writes
// nothing and loads the existing order into o.
func (r *Repo) Create(ctx context.Context, o *Order, credit *CreditTerms) (bool, error) {
	audit, err := json.Marshal(o.Audit)
	if err != nil {
		return false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seller any
	if o.SellerID != "" {
		seller = o.SellerID
	}
	ct, err := tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, seller_id, shipping_address_id, shipping_method,
			shipping_usd, subtotal_usd, iva_usd, total_usd, iva_percent, tasa_ves, subtotal_ves, iva_ves, total_ves,
			sale_type, status, audit, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$19)
		ON CONFLICT (external_id) DO NOTHING`,
		o.ID, o.ExternalID, o.CustomerID, seller, o.ShippingAddressID, o.ShippingMethod,
		o.ShippingUSD, o.SubtotalUSD, o.IVAUSD, o.TotalUSD, o.IVAPercent, o.TasaVES, o.SubtotalVES, o.IVAVES, o.TotalVES,
		o.SaleType, o.Status, audit, o.CreatedAt)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		existing, err := r.FindByExternalID(ctx, o.ExternalID)
		if err != nil {
			return false, err
		}
		*o = existing
		return true, nil
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, name, unit_price, qty)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, o.ID, it.ProductID, it.Name, it.UnitPrice, it.Qty); err != nil {
			return false, err
		}
	}

	if credit != nil {
		if _, err := receivables.OpenTx(ctx, tx, o.ID, o.TotalUSD, credit.DueDate); err != nil {
			return false, err
		}
	}

	return false, tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return r.one(ctx, r.DB, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id)
}

func (r *Repo) FindByExternalID(ctx context.Context, externalID string) (Order, error) {
	return r.one(ctx, r.DB, `SELECT `+orderCols+` FROM orders WHERE external_id=$1`, externalID)
}

// LatestByStatus returns the newest order of the customer in one of statuses.
func (r *Repo) LatestByStatus(ctx context.Context, customerID string, statuses ...Status) (Order, error) {
	ss := make([]string, 0, len(statuses))
	for _, s := range statuses {
		ss = append(ss, string(s))
	}
	return r.one(ctx, r.DB, `SELECT `+orderCols+` FROM orders
		WHERE customer_id=$1 AND status = ANY($2)
		ORDER BY created_at DESC LIMIT 1`, customerID, ss)
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// Transition moves the order from -> to and appends an audit entry. It fails with
// ErrInvalidTransition when the table forbids it or the stored status is no longer from.
func (r *Repo) Transition(ctx context.Context, orderID string, from, to Status, entry AuditEntry) error {
	err := TransitionTx(ctx, r.DB, orderID, from, to, entry)
	if errors.Is(err, ErrInvalidTransition) {
		if _, serr := r.GetOrderStatus(ctx, orderID); serr != nil {
			return serr
		}
	}
	return err
}

// Execer is satisfied by pgx.Tx and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TransitionTx is Transition inside a caller-owned transaction.
func TransitionTx(ctx context.Context, tx Execer, orderID string, from, to Status, entry AuditEntry) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$3, audit = audit || jsonb_build_array($4::jsonb), updated_at=now()
		WHERE id=$1 AND status=$2`, orderID, from, to, string(b))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: order is no longer %s", ErrInvalidTransition, from)
	}
	return nil
}

func (r *Repo) one(ctx context.Context, q querier, sql string, args ...any) (Order, error) {
	var o Order
	var audit []byte
	var saleType, status string
	err := q.QueryRow(ctx, sql, args...).Scan(&o.ID, &o.ExternalID, &o.CustomerID, &o.SellerID, &o.ShippingAddressID, &o.ShippingMethod,
		&o.ShippingUSD, &o.SubtotalUSD, &o.IVAUSD, &o.TotalUSD, &o.IVAPercent, &o.TasaVES, &o.SubtotalVES, &o.IVAVES, &o.TotalVES,
		&saleType, &status, &audit, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.SaleType, o.Status = SaleType(saleType), Status(status)
	if err := json.Unmarshal(audit, &o.Audit); err != nil {
		return Order{}, fmt.Errorf("decode audit: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, name, unit_price, qty FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.UnitPrice, &it.Qty); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}
