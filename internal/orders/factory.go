package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/cart"
	"github.com/ariefcatur/go-chat-checkout/internal/receivables"
	"github.com/ariefcatur/go-chat-checkout/internal/shipping"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("order not found")
	ErrCheckoutInProgress = errors.New("checkout already in progress for this cart")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrMissingCustomer    = errors.New("order needs a customer")
)

type CartSource interface {
	Snapshot(ctx context.Context, owner string) (cart.Cart, error)
	// Consume removes the snapshot's lines and starts a new cart generation.
	Consume(ctx context.Context, snap cart.Cart) error
}

type AddressBook interface {
	Get(ctx context.Context, customerID, id string) (shipping.Address, error)
}

type RateSource interface {
	Current(ctx context.Context) (decimal.Decimal, error)
}

// Claimer guards a checkout idempotency key. Claim reports false when the key is taken.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// CreditTerms opens a receivable inside the same write as the order.
type CreditTerms struct {
	DueDate time.Time
}

type Store interface {
	// Create writes order, items and (for credit) the receivable atomically. When the
	// external id already exists nothing is written, o is replaced with the stored
	// order and existed is true.
	Create(ctx context.Context, o *Order, credit *CreditTerms) (existed bool, err error)
	FindByExternalID(ctx context.Context, externalID string) (Order, error)
}

type Factory struct {
	Carts      CartSource
	Addresses  AddressBook
	Rates      RateSource
	Claims     Claimer // optional; the unique external_id is the final guard
	Store      Store
	Events     Publisher
	Service    string
	IVAPercent decimal.Decimal
	CreditDays int
	Window     time.Duration
	Now        func() time.Time
}

type CreateInput struct {
	CustomerID     string
	AddressID      string
	ShippingMethod shipping.Method // empty selects the address zone
	SaleType       SaleType
	SellerID       string
}

type CreateResult struct {
	Order      Order
	Idempotent bool
}

// Create converts the customer's current cart into an order. At most one order is
// produced per checkout key (see CheckoutKey).
func (f *Factory) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	if in.CustomerID == "" {
		return CreateResult{}, ErrMissingCustomer
	}
	now := f.now()
	owner, _ := cart.Owner(in.CustomerID, "")

	c, err := f.Carts.Snapshot(ctx, owner)
	if err != nil {
		return CreateResult{}, fmt.Errorf("cart snapshot: %w", err)
	}
	if c.Empty() {
		return CreateResult{}, cart.ErrEmpty
	}

	addr, err := f.Addresses.Get(ctx, in.CustomerID, in.AddressID)
	if err != nil {
		return CreateResult{}, err
	}
	method := in.ShippingMethod
	if method == "" {
		method = shipping.ZoneFor(addr.State)
	}
	quote, err := shipping.Quote(addr, method, now)
	if err != nil {
		return CreateResult{}, err
	}

	key := CheckoutKey(in, quote.Method, c, now, f.window())
	if f.Claims != nil {
		claimed, err := f.Claims.Claim(ctx, key, 2*f.window())
		if err != nil {
			log.Warn().Err(err).Str("customer_id", in.CustomerID).Msg("checkout claim unavailable, relying on unique external_id")
		} else if !claimed {
			existing, err := f.Store.FindByExternalID(ctx, key)
			if err == nil {
				return CreateResult{Order: existing, Idempotent: true}, nil
			}
			if errors.Is(err, ErrNotFound) {
				return CreateResult{}, ErrCheckoutInProgress
			}
			return CreateResult{}, err
		}
	}

	res, err := f.create(ctx, in, c, quote, key, now)
	if err != nil && f.Claims != nil {
		if rerr := f.Claims.Release(ctx, key); rerr != nil {
			log.Warn().Err(rerr).Str("key", key).Msg("checkout claim release failed")
		}
	}
	return res, err
}

func (f *Factory) create(ctx context.Context, in CreateInput, c cart.Cart, quote shipping.Option, key string, now time.Time) (CreateResult, error) {
	rate, err := f.Rates.Current(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("exchange rate: %w", err)
	}

	o := Order{
		ID:                uuid.NewString(),
		ExternalID:        key,
		CustomerID:        in.CustomerID,
		SellerID:          in.SellerID,
		ShippingAddressID: in.AddressID,
		ShippingMethod:    string(quote.Method),
		ShippingUSD:       quote.CostUSD,
		IVAPercent:        f.IVAPercent,
		TasaVES:           rate,
		SaleType:          in.SaleType,
		Status:            StatusPendingConfirmation,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if o.SaleType == "" {
		o.SaleType = SaleCash
	}
	for _, l := range c.Lines {
		o.Items = append(o.Items, OrderItem{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ProductID: l.ProductID,
			Name:      l.Name,
			UnitPrice: l.UnitPriceUSD,
			Qty:       l.Quantity,
		})
	}
	t := Price(o.Items, o.ShippingUSD, o.IVAPercent, rate)
	o.SubtotalUSD, o.IVAUSD, o.TotalUSD = t.SubtotalUSD, t.IVAUSD, t.TotalUSD
	o.SubtotalVES, o.IVAVES, o.TotalVES = t.SubtotalVES, t.IVAVES, t.TotalVES
	o.Audit = []AuditEntry{{At: now, Event: "created", Detail: fmt.Sprintf("%d items, %s", len(o.Items), o.SaleType)}}

	var credit *CreditTerms
	if o.SaleType == SaleCredit {
		credit = &CreditTerms{DueDate: receivables.DueDate(now, f.CreditDays)}
	}

	existed, err := f.Store.Create(ctx, &o, credit)
	if err != nil {
		return CreateResult{}, fmt.Errorf("persist order: %w", err)
	}
	if existed {
		return CreateResult{Order: o, Idempotent: true}, nil
	}

	if err := f.Carts.Consume(ctx, c); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("customer_id", o.CustomerID).Msg("cart consume after order failed")
	}

	Emit(f.Events, f.Service, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:    o.ID,
		ExternalID: o.ExternalID,
		CustomerID: o.CustomerID,
		SellerID:   o.SellerID,
		SaleType:   o.SaleType,
		Items:      itemPrices(o.Items),
		TotalUSD:   o.TotalUSD,
		TotalVES:   o.TotalVES,
	})
	return CreateResult{Order: o}, nil
}

// CheckoutKey hashes everything that shapes the order: customer, cart generation
// and sorted lines, address, shipping method, sale type, seller and the time
// bucket of now. method is the resolved one, never empty.
func CheckoutKey(in CreateInput, method shipping.Method, c cart.Cart, now time.Time, window time.Duration) string {
	parts := make([]string, 0, len(c.Lines))
	for _, l := range c.Lines {
		parts = append(parts, l.ProductID+"x"+strconv.Itoa(l.Quantity)+"@"+l.UnitPriceUSD.String())
	}
	sort.Strings(parts)
	saleType := in.SaleType
	if saleType == "" {
		saleType = SaleCash
	}
	fields := []string{
		in.CustomerID,
		strconv.FormatInt(c.Gen, 10),
		strings.Join(parts, ","),
		in.AddressID,
		string(method),
		string(saleType),
		in.SellerID,
		strconv.FormatInt(now.Truncate(window).Unix(), 10),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

func (f *Factory) now() time.Time {
	if f.Now != nil {
		return f.Now().UTC()
	}
	return time.Now().UTC()
}

func (f *Factory) window() time.Duration {
	if f.Window <= 0 {
		return 2 * time.Minute
	}
	return f.Window
}
