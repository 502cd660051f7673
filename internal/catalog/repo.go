package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const productCols = `id, sku, name, stock, avg_cost, last_cost, price_client, price_ally, price_wholesale, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.AvgCost, &p.LastCost,
		&p.PriceClient, &p.PriceAlly, &p.PriceWholesale, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// Search matches by sku or by every word of q appearing in the name.
func (r *Repo) Search(ctx context.Context, q string, limit int) ([]Product, error) {
	words := strings.Fields(strings.ToLower(q))
	if len(words) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	patterns := make([]string, 0, len(words))
	for _, w := range words {
		patterns = append(patterns, "%"+w+"%")
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+productCols+` FROM products
		WHERE lower(sku) = $1 OR lower(name) LIKE ALL($2)
		ORDER BY stock > 0 DESC, name
		LIMIT $3`, strings.ToLower(q), patterns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
