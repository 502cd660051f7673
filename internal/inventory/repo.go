package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-chat-checkout/internal/catalog"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// ApplyReceipt locks the product row, blends the receipt into its cost and records the
// receipt. With reprice set, the three price tiers are recomputed from the new average.
func (r *Repo) ApplyReceipt(ctx context.Context, rc Receipt, reprice *Margins) (catalog.Product, error) {
	if err := rc.Validate(); err != nil {
		return catalog.Product{}, err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return catalog.Product{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var p catalog.Product
	err = tx.QueryRow(ctx, `
		SELECT id, sku, name, stock, avg_cost, last_cost, price_client, price_ally, price_wholesale
		FROM products WHERE id=$1 FOR UPDATE`, rc.ProductID).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.AvgCost, &p.LastCost, &p.PriceClient, &p.PriceAlly, &p.PriceWholesale)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	if err != nil {
		return catalog.Product{}, err
	}

	next, err := Apply(Costing{Stock: p.Stock, AvgCost: p.AvgCost, LastCost: p.LastCost}, rc)
	if err != nil {
		return catalog.Product{}, err
	}
	p.Stock, p.AvgCost, p.LastCost = next.Stock, next.AvgCost, next.LastCost
	if reprice != nil {
		pr := reprice.Prices(p.AvgCost)
		p.PriceClient, p.PriceAlly, p.PriceWholesale = pr.Client, pr.Ally, pr.Wholesale
	}

	err = tx.QueryRow(ctx, `
		UPDATE products
		SET stock=$2, avg_cost=$3, last_cost=$4, price_client=$5, price_ally=$6, price_wholesale=$7, updated_at=now()
		WHERE id=$1
		RETURNING updated_at`,
		p.ID, p.Stock, p.AvgCost, p.LastCost, p.PriceClient, p.PriceAlly, p.PriceWholesale).Scan(&p.UpdatedAt)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("update costing: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO purchase_receipts(id, product_id, qty, unit_cost, reference, avg_cost_after)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), p.ID, rc.Qty, rc.UnitCost, rc.Reference, p.AvgCost); err != nil {
		return catalog.Product{}, fmt.Errorf("record receipt: %w", err)
	}
	return p, tx.Commit(ctx)
}
