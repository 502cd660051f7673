package shipping

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrAddressNotFound = errors.New("address not found")
	ErrInvalidAddress  = errors.New("invalid address")
)

type Address struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Line1      string    `json:"line1"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	Reference  string    `json:"reference,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate trims fields in place and checks the minimum needed to deliver.
func (a *Address) Validate() error {
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.Reference = strings.TrimSpace(a.Reference)
	switch {
	case len(a.Line1) < 5:
		return errors.Join(ErrInvalidAddress, errors.New("line1 too short"))
	case a.City == "":
		return errors.Join(ErrInvalidAddress, errors.New("city required"))
	case a.State == "":
		return errors.Join(ErrInvalidAddress, errors.New("state required"))
	}
	return nil
}

type AddressRepo struct{ DB *pgxpool.Pool }

func (r *AddressRepo) List(ctx context.Context, customerID string) ([]Address, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, customer_id, line1, city, state, reference, phone, is_default, created_at
		FROM addresses WHERE customer_id=$1
		ORDER BY is_default DESC, created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Address
	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.Line1, &a.City, &a.State, &a.Reference, &a.Phone, &a.IsDefault, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get only returns addresses owned by customerID.
func (r *AddressRepo) Get(ctx context.Context, customerID, id string) (Address, error) {
	var a Address
	err := r.DB.QueryRow(ctx, `
		SELECT id, customer_id, line1, city, state, reference, phone, is_default, created_at
		FROM addresses WHERE id=$1 AND customer_id=$2`, id, customerID).
		Scan(&a.ID, &a.CustomerID, &a.Line1, &a.City, &a.State, &a.Reference, &a.Phone, &a.IsDefault, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Address{}, ErrAddressNotFound
	}
	return a, err
}

// Save inserts a new address. The first address of a customer becomes the default.
func (r *AddressRepo) Save(ctx context.Context, a Address) (Address, error) {
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	a.ID = uuid.NewString()
	err := r.DB.QueryRow(ctx, `
		INSERT INTO addresses(id, customer_id, line1, city, state, reference, phone, is_default)
		VALUES ($1,$2,$3,$4,$5,$6,$7, NOT EXISTS (SELECT 1 FROM addresses WHERE customer_id=$2))
		RETURNING is_default, created_at`,
		a.ID, a.CustomerID, a.Line1, a.City, a.State, a.Reference, a.Phone).Scan(&a.IsDefault, &a.CreatedAt)
	if err != nil {
		return Address{}, err
	}
	return a, nil
}
