package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-chat-checkout/internal/cart"
	"github.com/ariefcatur/go-chat-checkout/internal/catalog"
	"github.com/ariefcatur/go-chat-checkout/internal/customers"
	"github.com/ariefcatur/go-chat-checkout/internal/money"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/ariefcatur/go-chat-checkout/internal/phoneauth"
	"github.com/ariefcatur/go-chat-checkout/internal/shipping"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type memAddresses struct {
	mu   sync.Mutex
	byID map[string]shipping.Address
	list map[string][]string
}

func newAddresses() *memAddresses {
	return &memAddresses{byID: map[string]shipping.Address{}, list: map[string][]string{}}
}

func (m *memAddresses) List(_ context.Context, customerID string) ([]shipping.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shipping.Address
	for _, id := range m.list[customerID] {
		out = append(out, m.byID[id])
	}
	return out, nil
}

func (m *memAddresses) Get(_ context.Context, customerID, id string) (shipping.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.CustomerID != customerID {
		return shipping.Address{}, shipping.ErrAddressNotFound
	}
	return a, nil
}

func (m *memAddresses) Save(_ context.Context, a shipping.Address) (shipping.Address, error) {
	if err := a.Validate(); err != nil {
		return shipping.Address{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = fmt.Sprintf("addr-%d", len(m.byID)+1)
	m.byID[a.ID] = a
	m.list[a.CustomerID] = append(m.list[a.CustomerID], a.ID)
	return a, nil
}

type memOrders struct {
	mu   sync.Mutex
	byID map[string]orders.Order
	// failNext is returned once by the next Transition
	failNext error
}

func newOrders(list ...orders.Order) *memOrders {
	m := &memOrders{byID: map[string]orders.Order{}}
	for _, o := range list {
		m.byID[o.ID] = o
	}
	return m
}

func (m *memOrders) Get(_ context.Context, id string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (m *memOrders) LatestByStatus(_ context.Context, customerID string, statuses ...orders.Status) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best orders.Order
	for _, o := range m.byID {
		if o.CustomerID != customerID {
			continue
		}
		for _, s := range statuses {
			if o.Status == s && o.CreatedAt.After(best.CreatedAt) {
				best = o
			}
		}
	}
	if best.ID == "" {
		return orders.Order{}, orders.ErrNotFound
	}
	return best, nil
}

func (m *memOrders) Transition(_ context.Context, id string, from, to orders.Status, e orders.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	o, ok := m.byID[id]
	if !ok {
		return orders.ErrNotFound
	}
	if o.Status != from || !orders.CanTransition(from, to) {
		return orders.ErrInvalidTransition
	}
	o.Status = to
	o.Audit = append(o.Audit, e)
	m.byID[id] = o
	return nil
}

func (m *memOrders) status(id string) orders.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Status
}

// brokenRestore cannot give consumed codes back.
type brokenRestore struct{ Tokens }

func (brokenRestore) Restore(context.Context, phoneauth.Record) error {
	return errors.New("redis down")
}

// stubFactory stores whatever order it is told to produce.
type stubFactory struct {
	orders *memOrders
	next   orders.Order
	err    error
	got    []orders.CreateInput
}

func (f *stubFactory) Create(_ context.Context, in orders.CreateInput) (orders.CreateResult, error) {
	f.got = append(f.got, in)
	if f.err != nil {
		return orders.CreateResult{}, f.err
	}
	o := f.next
	o.CustomerID = in.CustomerID
	o.ShippingAddressID = in.AddressID
	f.orders.mu.Lock()
	f.orders.byID[o.ID] = o
	f.orders.mu.Unlock()
	return orders.CreateResult{Order: o}, nil
}

type stubPayments struct {
	orders *memOrders
	got    []payments.SubmitInput
}

func (s *stubPayments) Submit(ctx context.Context, in payments.SubmitInput) (payments.Payment, error) {
	s.got = append(s.got, in)
	if in.Amount.Sign() <= 0 {
		return payments.Payment{}, fmt.Errorf("convert: %w", money.ErrNonPositive)
	}
	entry := orders.AuditEntry{At: testNow, Event: "payment_submitted"}
	if err := s.orders.Transition(ctx, in.OrderID, orders.StatusAwaitingPayment, orders.StatusPaymentReview, entry); err != nil {
		return payments.Payment{}, err
	}
	return payments.Payment{ID: "pay-1", OrderID: in.OrderID, Method: in.Method, AmountUSD: in.Amount, Status: payments.StatusInReview}, nil
}

type memCustomers map[string]customers.Customer

func (m memCustomers) Get(_ context.Context, id string) (customers.Customer, error) {
	c, ok := m[id]
	if !ok {
		return customers.Customer{}, customers.ErrNotFound
	}
	return c, nil
}

func (m memCustomers) FindByPhone(_ context.Context, phone string) (customers.Customer, error) {
	for _, c := range m {
		if c.Phone == phone {
			return c, nil
		}
	}
	return customers.Customer{}, customers.ErrNotFound
}

type outbox struct {
	mu   sync.Mutex
	sent []string
}

func (o *outbox) SendText(_ context.Context, phone, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, phone+"|"+text)
	return nil
}

func (o *outbox) messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(key, _ []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range headers {
		if h.Key == "x-event-type" {
			p.events = append(p.events, string(h.Value)+":"+string(key))
		}
	}
}

type memCatalog []catalog.Product

func (m memCatalog) Search(_ context.Context, q string, limit int) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, p := range m {
		if matchName(p.Name, q) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func matchName(name, q string) bool {
	_, ok := matchLine([]cart.Line{{Name: name}}, q)
	return ok && q != ""
}

const (
	aliceID    = "cust-alice"
	alicePhone = "584121234567"
)

type harness struct {
	flow     *Orchestrator
	orders   *memOrders
	factory  *stubFactory
	payments *stubPayments
	outbox   *outbox
	events   *recordingPublisher
	carts    *cart.Store
	rdb      *redis.Client
	clock    *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	now := testNow
	clock := &now
	carts := cart.NewStore(rdb)
	carts.Now = func() time.Time { return *clock }

	ords := newOrders()
	box := &outbox{}
	pub := &recordingPublisher{}
	h := &harness{
		orders:   ords,
		factory:  &stubFactory{orders: ords},
		payments: &stubPayments{orders: ords},
		outbox:   box,
		events:   pub,
		carts:    carts,
		rdb:      rdb,
		clock:    clock,
	}
	h.flow = &Orchestrator{
		Carts:     carts,
		Addresses: newAddresses(),
		Factory:   h.factory,
		Orders:    ords,
		Tokens: &phoneauth.Service{
			Redis:       rdb,
			Sender:      box,
			Length:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 3,
			Now:         func() time.Time { return *clock },
			// 0x003039 = 12345, 0x010932 = 67890
			Rand: bytes.NewReader([]byte{0x00, 0x30, 0x39, 0x01, 0x09, 0x32}),
		},
		Payments: h.payments,
		Customers: memCustomers{
			aliceID: {ID: aliceID, Name: "Alice Pérez", Phone: alicePhone, Tier: catalog.TierClient},
		},
		Events:  pub,
		Service: "test",
		Now:     func() time.Time { return *clock },
	}
	return h
}

func (h *harness) pendingOrder(id string) orders.Order {
	o := orders.Order{
		ID:         id,
		CustomerID: aliceID,
		Status:     orders.StatusPendingConfirmation,
		TotalUSD:   decimal.RequireFromString("237.80"),
		TotalVES:   decimal.RequireFromString("8679.70"),
		CreatedAt:  testNow,
	}
	h.orders.mu.Lock()
	h.orders.byID[id] = o
	h.orders.mu.Unlock()
	return o
}
