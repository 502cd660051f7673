package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-chat-checkout/internal/cart"
	"github.com/ariefcatur/go-chat-checkout/internal/shipping"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2025, 3, 3, 10, 0, 30, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	byExt   map[string]Order
	credits map[string]CreditTerms
	delay   time.Duration
}

func newMemStore() *memStore {
	return &memStore{byExt: map[string]Order{}, credits: map[string]CreditTerms{}}
}

func (m *memStore) Create(_ context.Context, o *Order, credit *CreditTerms) (bool, error) {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byExt[o.ExternalID]; ok {
		*o = existing
		return true, nil
	}
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	m.byExt[o.ExternalID] = cp
	if credit != nil {
		m.credits[o.ID] = *credit
	}
	return false, nil
}

func (m *memStore) FindByExternalID(_ context.Context, ext string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byExt[ext]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byExt)
}

type fixedAddresses struct{}

func (fixedAddresses) Get(_ context.Context, customerID, id string) (shipping.Address, error) {
	if id != "addr-1" {
		return shipping.Address{}, shipping.ErrAddressNotFound
	}
	return shipping.Address{ID: id, CustomerID: customerID, Line1: "Av. Principal 12", City: "Caracas", State: "Distrito Capital"}, nil
}

type fixedRate decimal.Decimal

func (r fixedRate) Current(context.Context) (decimal.Decimal, error) { return decimal.Decimal(r), nil }

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(key, _ []byte, _ ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, string(key))
}

// stickyCart never clears, to reproduce a cart that survives a checkout.
type stickyCart struct{ c cart.Cart }

func (s stickyCart) Snapshot(context.Context, string) (cart.Cart, error) { return s.c, nil }
func (s stickyCart) Consume(context.Context, cart.Cart) error            { return errors.New("redis down") }

func newFactory(t *testing.T) (*Factory, *cart.Store, *memStore, *recordingPublisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	carts := cart.NewStore(rdb)
	store := newMemStore()
	pub := &recordingPublisher{}
	return &Factory{
		Carts:      carts,
		Addresses:  fixedAddresses{},
		Rates:      fixedRate(decimal.RequireFromString("36.5")),
		Claims:     &RedisClaims{Redis: rdb},
		Store:      store,
		Events:     pub,
		Service:    "test",
		IVAPercent: decimal.NewFromInt(16),
		CreditDays: 30,
		Window:     2 * time.Minute,
		Now:        func() time.Time { return fixedNow },
	}, carts, store, pub
}

func addSofa(t *testing.T, s *cart.Store, price int64) {
	t.Helper()
	if _, err := s.Add(context.Background(), "c:cust-1", cart.Line{ProductID: "sofa", Name: "Sofá 3 puestos", Quantity: 2, UnitPriceUSD: decimal.NewFromInt(price)}); err != nil {
		t.Fatalf("add: %v", err)
	}
}

func TestCreate_EmptyCart(t *testing.T) {
	f, _, _, _ := newFactory(t)
	_, err := f.Create(context.Background(), CreateInput{CustomerID: "cust-1", AddressID: "addr-1"})
	if !errors.Is(err, cart.ErrEmpty) {
		t.Fatalf("expected cart.ErrEmpty, got %v", err)
	}
}

func TestCreate_MissingCustomer(t *testing.T) {
	f, _, _, _ := newFactory(t)
	if _, err := f.Create(context.Background(), CreateInput{}); !errors.Is(err, ErrMissingCustomer) {
		t.Fatalf("expected ErrMissingCustomer, got %v", err)
	}
}

func TestCreate_TotalsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	f, carts, store, pub := newFactory(t)
	addSofa(t, carts, 100)

	res, err := f.Create(ctx, CreateInput{CustomerID: "cust-1", AddressID: "addr-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	o := res.Order
	if res.Idempotent {
		t.Error("first create must not be idempotent")
	}
	if o.Status != StatusPendingConfirmation || o.SaleType != SaleCash {
		t.Errorf("unexpected status/sale type %s/%s", o.Status, o.SaleType)
	}
	if o.ShippingMethod != string(shipping.MethodCaracas) {
		t.Errorf("expected caracas zone, got %s", o.ShippingMethod)
	}

	// 2 x 100 + 5 shipping = 205; iva 16% = 32.80
	checks := map[string]struct{ got, want string }{
		"subtotal_usd": {o.SubtotalUSD.StringFixed(2), "205.00"},
		"iva_usd":      {o.IVAUSD.StringFixed(2), "32.80"},
		"total_usd":    {o.TotalUSD.StringFixed(2), "237.80"},
		"total_ves":    {o.TotalVES.StringFixed(2), "8679.70"},
	}
	for name, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %s want %s", name, c.got, c.want)
		}
	}
	want := o.SubtotalUSD.Mul(decimal.NewFromInt(116)).Div(decimal.NewFromInt(100)).Round(2)
	if !o.TotalUSD.Equal(want) {
		t.Errorf("total %s != subtotal*(1+iva) %s", o.TotalUSD, want)
	}

	c, _ := carts.Snapshot(ctx, "c:cust-1")
	if !c.Empty() {
		t.Error("cart should be cleared after checkout")
	}
	if store.count() != 1 {
		t.Errorf("expected 1 stored order, got %d", store.count())
	}
	if len(pub.keys) != 1 || pub.keys[0] != o.ID {
		t.Errorf("expected one event keyed by order id, got %v", pub.keys)
	}
}

func TestCreate_ItemsKeepPriceAfterProductChange(t *testing.T) {
	ctx := context.Background()
	f, carts, store, _ := newFactory(t)
	addSofa(t, carts, 100)

	res, err := f.Create(ctx, CreateInput{CustomerID: "cust-1", AddressID: "addr-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// the product is repriced and bought again later
	addSofa(t, carts, 150)
	f.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	if _, err := f.Create(ctx, CreateInput{CustomerID: "cust-1", AddressID: "addr-1"}); err != nil {
		t.Fatalf("second create: %v", err)
	}

	stored, _ := store.FindByExternalID(ctx, res.Order.ExternalID)
	if got := stored.Items[0].UnitPrice; !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("historical item price changed to %s", got)
	}
}

func TestCreate_CreditOpensReceivable(t *testing.T) {
	ctx := context.Background()
	f, carts, store, _ := newFactory(t)
	addSofa(t, carts, 100)

	res, err := f.Create(ctx, CreateInput{CustomerID: "cust-1", AddressID: "addr-1", SaleType: SaleCredit, ShippingMethod: shipping.MethodPickup})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	terms, ok := store.credits[res.Order.ID]
	if !ok {
		t.Fatal("credit order without receivable terms")
	}
	if want := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC); !terms.DueDate.Equal(want) {
		t.Errorf("due date %s, want %s", terms.DueDate, want)
	}
	if !res.Order.ShippingUSD.IsZero() {
		t.Errorf("pickup should be free, got %s", res.Order.ShippingUSD)
	}
}

func TestCreate_UnavailableShippingMethod(t *testing.T) {
	f, carts, _, _ := newFactory(t)
	addSofa(t, carts, 100)
	_, err := f.Create(context.Background(), CreateInput{CustomerID: "cust-1", AddressID: "addr-1", ShippingMethod: shipping.MethodNacional})
	if !errors.Is(err, shipping.ErrMethodUnavailable) {
		t.Fatalf("expected ErrMethodUnavailable, got %v", err)
	}
}

func TestCreate_ConcurrentSameCartProducesOneOrder(t *testing.T) {
	ctx := context.Background()
	f, carts, store, _ := newFactory(t)
	store.delay = 20 * time.Millisecond
	addSofa(t, carts, 100)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]CreateResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Create(ctx, CreateInput{CustomerID: "cust-1", AddressID: "addr-1"})
		}(i)
	}
	wg.Wait()

	created := 0
	for i, err := range errs {
		switch {
		case err == nil && !results[i].Idempotent:
			created++
		case err == nil, errors.Is(err, ErrCheckoutInProgress), errors.Is(err, cart.ErrEmpty):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one new order, got %d", created)
	}
	if store.count() != 1 {
		t.Errorf("expected 1 stored order, got %d", store.count())
	}
}

func TestCreate_UniqueExternalIDWithoutClaims(t *testing.T) {
	ctx := context.Background()
	f, _, store, pub := newFactory(t)
	f.Claims = nil
	f.Carts = stickyCart{c: cart.Cart{Owner: "c:cust-1", Lines: []cart.Line{
		{ProductID: "mesa", Name: "Mesa", Quantity: 1, UnitPriceUSD: decimal.NewFromInt(80)},
	}}}

	first, err := f.Create(ctx, CreateInput{CustomerID: "cust-1", AddressID: "addr-1"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.Create(ctx, CreateInput{CustomerID: "cust-1", AddressID: "addr-1"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Idempotent || second.Order.ID != first.Order.ID {
		t.Errorf("replay should return order %s, got %s (idempotent=%v)", first.Order.ID, second.Order.ID, second.Idempotent)
	}
	if store.count() != 1 || len(pub.keys) != 1 {
		t.Errorf("expected one order and one event, got %d/%d", store.count(), len(pub.keys))
	}
}

func TestCreate_ReAddAfterOrderMakesNewOrder(t *testing.T) {
	ctx := context.Background()
	f, carts, store, pub := newFactory(t)
	addSofa(t, carts, 100)

	first, err := f.Create(ctx, CreateInput{CustomerID: "cust-1", AddressID: "addr-1"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	// same item, same window, now on credit
	addSofa(t, carts, 100)
	second, err := f.Create(ctx, CreateInput{CustomerID: "cust-1", AddressID: "addr-1", SaleType: SaleCredit})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Idempotent || second.Order.ID == first.Order.ID {
		t.Fatalf("expected a new order, got %s (idempotent=%v)", second.Order.ID, second.Idempotent)
	}
	if second.Order.SaleType != SaleCredit {
		t.Errorf("expected CREDITO, got %s", second.Order.SaleType)
	}
	if store.count() != 2 || len(pub.keys) != 2 {
		t.Errorf("expected two orders and two events, got %d/%d", store.count(), len(pub.keys))
	}
	c, _ := carts.Snapshot(ctx, "c:cust-1")
	if !c.Empty() {
		t.Errorf("cart should be empty after the second order, got %+v", c.Lines)
	}
}

func TestCreate_ReAddSameTermsAfterOrderMakesNewOrder(t *testing.T) {
	ctx := context.Background()
	f, carts, store, _ := newFactory(t)
	in := CreateInput{CustomerID: "cust-1", AddressID: "addr-1"}

	addSofa(t, carts, 100)
	first, err := f.Create(ctx, in)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	addSofa(t, carts, 100)
	second, err := f.Create(ctx, in)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Idempotent || second.Order.ID == first.Order.ID || store.count() != 2 {
		t.Errorf("a new cart generation must produce a new order (idempotent=%v, stored=%d)", second.Idempotent, store.count())
	}
}

func TestCheckoutKey(t *testing.T) {
	a := []cart.Line{
		{ProductID: "a", Quantity: 1, UnitPriceUSD: decimal.NewFromInt(10)},
		{ProductID: "b", Quantity: 2, UnitPriceUSD: decimal.NewFromInt(5)},
	}
	ca := cart.Cart{Owner: "c:c", Lines: a}
	cb := cart.Cart{Owner: "c:c", Lines: []cart.Line{a[1], a[0]}}
	in := CreateInput{CustomerID: "c", AddressID: "addr-1"}
	m := shipping.MethodCaracas
	w := 2 * time.Minute
	base := CheckoutKey(in, m, ca, fixedNow, w)

	if base != CheckoutKey(in, m, cb, fixedNow.Add(30*time.Second), w) {
		t.Error("line order and time inside the bucket must not change the key")
	}
	if base != CheckoutKey(CreateInput{CustomerID: "c", AddressID: "addr-1", SaleType: SaleCash}, m, ca, fixedNow, w) {
		t.Error("empty sale type is cash")
	}

	changed := map[string]string{
		"next bucket":     CheckoutKey(in, m, ca, fixedNow.Add(w), w),
		"customer":        CheckoutKey(CreateInput{CustomerID: "d", AddressID: "addr-1"}, m, ca, fixedNow, w),
		"address":         CheckoutKey(CreateInput{CustomerID: "c", AddressID: "addr-2"}, m, ca, fixedNow, w),
		"shipping method": CheckoutKey(in, shipping.MethodPickup, ca, fixedNow, w),
		"sale type":       CheckoutKey(CreateInput{CustomerID: "c", AddressID: "addr-1", SaleType: SaleCredit}, m, ca, fixedNow, w),
		"seller":          CheckoutKey(CreateInput{CustomerID: "c", AddressID: "addr-1", SellerID: "s-1"}, m, ca, fixedNow, w),
		"cart generation": CheckoutKey(in, m, cart.Cart{Owner: "c:c", Lines: a, Gen: 1}, fixedNow, w),
	}
	for name, k := range changed {
		if k == base {
			t.Errorf("%s must be part of the key", name)
		}
	}
}
