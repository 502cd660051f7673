package customers

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-chat-checkout/internal/catalog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("customer not found")

type Customer struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Phone string       `json:"phone"` // canonical, see messaging.NormalizePhone
	Tier  catalog.Tier `json:"tier"`
}

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Get(ctx context.Context, id string) (Customer, error) {
	return r.one(ctx, `SELECT id, name, phone, tier FROM customers WHERE id=$1`, id)
}

func (r *Repo) FindByPhone(ctx context.Context, phone string) (Customer, error) {
	return r.one(ctx, `SELECT id, name, phone, tier FROM customers WHERE phone=$1`, phone)
}

func (r *Repo) one(ctx context.Context, q, arg string) (Customer, error) {
	var c Customer
	var tier string
	err := r.DB.QueryRow(ctx, q, arg).Scan(&c.ID, &c.Name, &c.Phone, &tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	c.Tier = catalog.ParseTier(tier)
	return c, nil
}
