// Package flow drives a shopper from cart to submitted payment. The orchestrator is a
// stateless dispatcher: every decision is taken from persisted carts, orders, tokens and
// payments, so web and messaging channels can interleave freely.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/cart"
	"github.com/ariefcatur/go-chat-checkout/internal/customers"
	"github.com/ariefcatur/go-chat-checkout/internal/money"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/ariefcatur/go-chat-checkout/internal/phoneauth"
	"github.com/ariefcatur/go-chat-checkout/internal/shipping"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Carts interface {
	Snapshot(ctx context.Context, owner string) (cart.Cart, error)
}

type Addresses interface {
	List(ctx context.Context, customerID string) ([]shipping.Address, error)
	Get(ctx context.Context, customerID, id string) (shipping.Address, error)
	Save(ctx context.Context, a shipping.Address) (shipping.Address, error)
}

type OrderFactory interface {
	Create(ctx context.Context, in orders.CreateInput) (orders.CreateResult, error)
}

type Orders interface {
	Get(ctx context.Context, id string) (orders.Order, error)
	LatestByStatus(ctx context.Context, customerID string, statuses ...orders.Status) (orders.Order, error)
	Transition(ctx context.Context, orderID string, from, to orders.Status, entry orders.AuditEntry) error
}

type Tokens interface {
	Send(ctx context.Context, orderID, phone string) (phoneauth.Record, error)
	Validate(ctx context.Context, orderID, code string) (phoneauth.Record, error)
	Restore(ctx context.Context, rec phoneauth.Record) error
}

type Payments interface {
	Submit(ctx context.Context, in payments.SubmitInput) (payments.Payment, error)
}

type Customers interface {
	Get(ctx context.Context, id string) (customers.Customer, error)
	FindByPhone(ctx context.Context, phone string) (customers.Customer, error)
}

type Orchestrator struct {
	Carts     Carts
	Addresses Addresses
	Factory   OrderFactory
	Orders    Orders
	Tokens    Tokens
	Payments  Payments
	Customers Customers
	Events    orders.Publisher // order.authorized
	Service   string
	Now       func() time.Time
}

// Handle runs one step. It never returns an error: failures become a Result with
// Success=false and are logged with the step and caller.
func (o *Orchestrator) Handle(ctx context.Context, c Caller, req Request) (res Result) {
	step := ParseStep(req.Step)
	logger := log.With().Str("step", step.String()).Str("customer_id", c.CustomerID).Logger()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Str("panic", fmt.Sprint(rec)).Str("stack", string(debug.Stack())).Msg("flow step panicked")
			res = failure(msgGeneric)
		}
	}()

	var err error
	switch step {
	case StepNoop:
		if req.Step != "" {
			logger.Debug().Str("requested", req.Step).Msg("unknown step treated as noop")
		}
		return Result{Success: true, Message: "OK"}
	case StepStart:
		res, err = o.start(ctx, c)
	case StepEnsureAddress:
		res, err = o.ensureAddress(ctx, c, req.Input)
	case StepShipping:
		res, err = o.shipping(ctx, c, req.Input)
	case StepCreateOrder:
		res, err = o.createOrder(ctx, c, req.Input)
	case StepSendToken:
		res, err = o.sendToken(ctx, c, req.Input)
	case StepValidateToken:
		res, err = o.validateToken(ctx, c, req.Input)
	case StepSubmitPayment:
		res, err = o.submitPayment(ctx, c, req.Input)
	}
	if err != nil {
		logStepError(logger, err)
		return failure(UserMessage(err))
	}
	return res
}

func logStepError(l zerolog.Logger, err error) {
	ev := l.Warn()
	if UserMessage(err) == msgGeneric || errors.Is(err, ErrCodeSpent) {
		ev = l.Error()
	}
	var oe *orderErr
	if errors.As(err, &oe) {
		ev = ev.Str("order_id", oe.orderID)
	}
	ev.Err(err).Msg("flow step failed")
}

// orderErr tags an error with the order it concerns for logging.
type orderErr struct {
	orderID string
	err     error
}

func (e *orderErr) Error() string { return e.err.Error() }
func (e *orderErr) Unwrap() error { return e.err }

func withOrder(id string, err error) error {
	if err == nil {
		return nil
	}
	return &orderErr{orderID: id, err: err}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	return nil
}

func (o *Orchestrator) start(ctx context.Context, c Caller) (Result, error) {
	owner, err := cart.Owner(c.CustomerID, c.SessionID)
	if err != nil {
		return Result{}, err
	}
	snap, err := o.Carts.Snapshot(ctx, owner)
	if err != nil {
		return Result{}, err
	}
	res := Result{Success: true, State: StatePendingConfirmation, Cart: &snap}
	if snap.Empty() {
		res.Message = "Tu carrito está vacío."
		res.UI = &UI{Action: ActionOpenCatalog}
		return res, nil
	}
	res.Message = fmt.Sprintf("Tienes %d artículo(s) por %s.", snap.Units(), usd(snap.SubtotalUSD()))
	res.UI = &UI{Action: ActionReviewCart}
	if c.CustomerID == "" {
		res.UI = &UI{Action: ActionIdentify}
	}
	return res, nil
}

type addressInput struct {
	Address *shipping.Address `json:"address"`
}

func (o *Orchestrator) ensureAddress(ctx context.Context, c Caller, raw json.RawMessage) (Result, error) {
	if c.CustomerID == "" {
		return Result{}, ErrIdentityRequired
	}
	var in addressInput
	if err := decode(raw, &in); err != nil {
		return Result{}, err
	}
	if in.Address != nil {
		a := *in.Address
		a.ID, a.CustomerID = "", c.CustomerID
		if _, err := o.Addresses.Save(ctx, a); err != nil {
			return Result{}, err
		}
	}
	list, err := o.Addresses.List(ctx, c.CustomerID)
	if err != nil {
		return Result{}, err
	}
	if len(list) == 0 {
		return Result{Success: true, Message: "Necesitamos tu dirección de entrega.", UI: &UI{Action: ActionOpenAddressForm}}, nil
	}
	return Result{
		Success:   true,
		Message:   "Selecciona la dirección de entrega.",
		UI:        &UI{Action: ActionSelectAddress, Payload: map[string]string{"defaultAddressId": list[0].ID}},
		Addresses: list,
	}, nil
}

type shippingInput struct {
	AddressID string `json:"addressId"`
}

func (o *Orchestrator) shipping(ctx context.Context, c Caller, raw json.RawMessage) (Result, error) {
	if c.CustomerID == "" {
		return Result{}, ErrIdentityRequired
	}
	var in shippingInput
	if err := decode(raw, &in); err != nil {
		return Result{}, err
	}
	addr, err := o.Addresses.Get(ctx, c.CustomerID, in.AddressID)
	if err != nil {
		return Result{}, err
	}
	opts := shipping.Options(addr, o.now())
	return Result{
		Success:  true,
		Message:  "Elige cómo quieres recibir tu pedido.",
		UI:       &UI{Action: ActionSelectShipping},
		Shipping: opts,
	}, nil
}

type createOrderInput struct {
	AddressID      string `json:"addressId"`
	ShippingMethod string `json:"shippingMethod"`
	SaleType       string `json:"saleType"`
	SellerID       string `json:"sellerId"`
}

func (o *Orchestrator) createOrder(ctx context.Context, c Caller, raw json.RawMessage) (Result, error) {
	if c.CustomerID == "" {
		return Result{}, ErrIdentityRequired
	}
	var in createOrderInput
	if err := decode(raw, &in); err != nil {
		return Result{}, err
	}
	out, err := o.Factory.Create(ctx, orders.CreateInput{
		CustomerID:     c.CustomerID,
		AddressID:      in.AddressID,
		ShippingMethod: shipping.Method(strings.ToLower(in.ShippingMethod)),
		SaleType:       orders.ParseSaleType(in.SaleType),
		SellerID:       in.SellerID,
	})
	if err != nil {
		return Result{}, err
	}
	ord := out.Order
	return Result{
		Success:    true,
		State:      StateOf(ord.Status),
		Message:    fmt.Sprintf("Pedido %s creado por %s (%s). Confirma con el código que te enviaremos.", shortID(ord.ID), usd(ord.TotalUSD), ves(ord.TotalVES)),
		UI:         &UI{Action: ActionRequestToken, Payload: map[string]string{"orderId": ord.ID}},
		Order:      &ord,
		Idempotent: out.Idempotent,
	}, nil
}

type orderRef struct {
	OrderID string `json:"orderId"`
}

// pendingOrder loads the referenced order, or the caller's newest order in status, and
// checks ownership and status.
func (o *Orchestrator) pendingOrder(ctx context.Context, c Caller, orderID string, status orders.Status) (orders.Order, error) {
	if c.CustomerID == "" {
		return orders.Order{}, ErrIdentityRequired
	}
	var ord orders.Order
	var err error
	if orderID == "" {
		ord, err = o.Orders.LatestByStatus(ctx, c.CustomerID, status)
	} else {
		ord, err = o.Orders.Get(ctx, orderID)
	}
	if err != nil {
		return orders.Order{}, withOrder(orderID, err)
	}
	if ord.CustomerID != c.CustomerID {
		return orders.Order{}, withOrder(orderID, orders.ErrNotFound)
	}
	if ord.Status != status {
		return orders.Order{}, withOrder(ord.ID, fmt.Errorf("%w: order is %s", orders.ErrInvalidTransition, ord.Status))
	}
	return ord, nil
}

func (o *Orchestrator) sendToken(ctx context.Context, c Caller, raw json.RawMessage) (Result, error) {
	var in orderRef
	if err := decode(raw, &in); err != nil {
		return Result{}, err
	}
	ord, err := o.pendingOrder(ctx, c, in.OrderID, orders.StatusPendingConfirmation)
	if err != nil {
		return Result{}, err
	}
	cust, err := o.Customers.Get(ctx, c.CustomerID)
	if err != nil {
		return Result{}, withOrder(ord.ID, err)
	}
	rec, err := o.Tokens.Send(ctx, ord.ID, cust.Phone)
	if err != nil {
		return Result{}, withOrder(ord.ID, err)
	}
	return Result{
		Success:        true,
		State:          StatePendingConfirmation,
		Message:        fmt.Sprintf("Te enviamos un código al %s. Escríbelo para confirmar tu pedido.", maskPhone(cust.Phone)),
		UI:             &UI{Action: ActionEnterToken, Payload: map[string]string{"orderId": ord.ID}},
		TokenExpiresAt: &rec.ExpiresAt,
	}, nil
}

type validateTokenInput struct {
	OrderID     string `json:"orderId"`
	Token       string `json:"token"`
	ConfirmText string `json:"confirmText"`
}

func (o *Orchestrator) validateToken(ctx context.Context, c Caller, raw json.RawMessage) (Result, error) {
	var in validateTokenInput
	if err := decode(raw, &in); err != nil {
		return Result{}, err
	}
	code := strings.TrimSpace(in.Token)
	if !phoneauth.CodePattern.MatchString(code) {
		return Result{}, phoneauth.ErrTokenInvalid
	}
	ord, err := o.pendingOrder(ctx, c, in.OrderID, orders.StatusPendingConfirmation)
	if err != nil {
		return Result{}, err
	}
	rec, err := o.Tokens.Validate(ctx, ord.ID, code)
	if err != nil {
		return Result{}, withOrder(ord.ID, err)
	}

	detail := "phone " + maskPhone(rec.Phone)
	if t := strings.TrimSpace(in.ConfirmText); t != "" {
		detail += ": " + t
	}
	entry := orders.AuditEntry{At: o.now(), Event: "token_validated", Detail: detail}
	if err := o.Orders.Transition(ctx, ord.ID, orders.StatusPendingConfirmation, orders.StatusAwaitingPayment, entry); err != nil {
		// the code was consumed; give it back so the customer can retry with it
		if rerr := o.Tokens.Restore(ctx, rec); rerr != nil {
			return Result{}, withOrder(ord.ID, fmt.Errorf("%w: %w (restore: %v)", ErrCodeSpent, err, rerr))
		}
		return Result{}, withOrder(ord.ID, err)
	}
	orders.Emit(o.Events, o.Service, orders.EventOrderAuthorized, ord.ID, orders.OrderAuthorizedPayload{OrderID: ord.ID, Phone: rec.Phone})

	ord.Status = orders.StatusAwaitingPayment
	return Result{
		Success: true,
		State:   StateAwaitingPayment,
		Message: fmt.Sprintf("¡Pedido confirmado! Total a pagar: %s (%s).", usd(ord.TotalUSD), ves(ord.TotalVES)),
		UI: &UI{Action: ActionShowPaymentMethods, Payload: map[string]any{
			"orderId": ord.ID,
			"methods": []payments.Method{payments.MethodPagoMovil, payments.MethodTransferencia, payments.MethodZelle, payments.MethodBinance, payments.MethodEfectivo},
		}},
		Order: &ord,
	}, nil
}

type submitPaymentInput struct {
	OrderID   string          `json:"orderId"`
	Method    string          `json:"method"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	AmountUSD decimal.Decimal `json:"amountUSD"`
	Reference string          `json:"reference"`
}

func (o *Orchestrator) submitPayment(ctx context.Context, c Caller, raw json.RawMessage) (Result, error) {
	var in submitPaymentInput
	if err := decode(raw, &in); err != nil {
		return Result{}, err
	}
	ord, err := o.pendingOrder(ctx, c, in.OrderID, orders.StatusAwaitingPayment)
	if err != nil {
		return Result{}, err
	}

	method, ok := payments.NormalizeMethod(in.Method)
	if !ok {
		return Result{}, payments.ErrUnknownMethod
	}
	amount, cur := in.Amount, money.Currency("")
	if in.Currency != "" {
		if cur, err = money.ParseCurrency(in.Currency); err != nil {
			return Result{}, err
		}
	}
	if amount.IsZero() && !in.AmountUSD.IsZero() {
		amount, cur = in.AmountUSD, money.USD
	}

	p, err := o.Payments.Submit(ctx, payments.SubmitInput{
		OrderID:    ord.ID,
		CustomerID: c.CustomerID,
		Method:     method,
		Currency:   cur,
		Amount:     amount,
		Reference:  in.Reference,
	})
	if err != nil {
		return Result{}, withOrder(ord.ID, err)
	}
	return Result{
		Success: true,
		State:   StatePaymentPendingReview,
		Message: fmt.Sprintf("Recibimos tu pago de %s. Lo revisaremos y te avisaremos.", usd(p.AmountUSD)),
		UI:      &UI{Action: ActionPaymentReceived, Payload: map[string]string{"orderId": ord.ID, "paymentId": p.ID}},
		Payment: &p,
	}, nil
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func usd(d decimal.Decimal) string { return "$" + d.StringFixed(2) }
func ves(d decimal.Decimal) string { return "Bs " + d.StringFixed(2) }

func shortID(id string) string {
	if len(id) > 8 {
		return "#" + strings.ToUpper(id[:8])
	}
	return "#" + strings.ToUpper(id)
}

func maskPhone(p string) string {
	if len(p) <= 4 {
		return p
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}
