package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ariefcatur/go-chat-checkout/internal/cart"
	"github.com/ariefcatur/go-chat-checkout/internal/catalog"
	"github.com/ariefcatur/go-chat-checkout/internal/customers"
	"github.com/ariefcatur/go-chat-checkout/internal/intent"
	"github.com/ariefcatur/go-chat-checkout/internal/messaging"
	"github.com/ariefcatur/go-chat-checkout/internal/money"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/ariefcatur/go-chat-checkout/internal/phoneauth"
	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
	"github.com/ariefcatur/go-chat-checkout/internal/shipping"
	"github.com/ariefcatur/go-chat-checkout/internal/textx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type IntentResolver interface {
	Resolve(ctx context.Context, text string) (intent.Result, intent.Source)
}

type Catalog interface {
	Search(ctx context.Context, q string, limit int) ([]catalog.Product, error)
}

type CartEditor interface {
	Snapshot(ctx context.Context, owner string) (cart.Cart, error)
	Add(ctx context.Context, owner string, in cart.Line) (cart.Cart, error)
	Remove(ctx context.Context, owner, productID string, qty int) (cart.Cart, error)
}

type Replier interface {
	SendText(ctx context.Context, phone, text string) error
}

type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Conversation turns free text and webhook messages into orchestrator steps and replies.
type Conversation struct {
	Flow          *Orchestrator
	Intents       IntentResolver
	Catalog       Catalog
	Carts         CartEditor
	Sender        Replier
	Media         MediaFetcher
	Speech        Transcriber   // nil disables voice notes
	Redis         redis.Cmdable // inbound dedup; nil disables
	PublicBaseURL string
	Service       string
}

// Reply is what the customer is told, plus how the text was understood.
type Reply struct {
	Intent intent.Intent `json:"intent,omitempty"`
	Source intent.Source `json:"source,omitempty"`
	Text   string        `json:"reply"`
	Flow   *Result       `json:"flow,omitempty"`
}

const searchLimit = 5

var sectionPaths = map[string]string{
	"moodboard": "/moodboard",
	"carrito":   "/carrito",
	"checkout":  "/checkout",
	"catalogo":  "/catalogo",
	"favoritos": "/favoritos",
}

// HandleInbound processes one webhook message and sends the reply to the sender. It never
// fails: unknown senders and duplicates are acknowledged so the gateway does not retry.
func (cv *Conversation) HandleInbound(ctx context.Context, in messaging.Inbound) Reply {
	phone := messaging.NormalizePhone(in.Phone)
	if phone == "" {
		return Reply{Text: cv.ack()}
	}
	if in.ID != "" && cv.Redis != nil {
		seen, err := redisx.Dedup(ctx, cv.Redis, cv.dedupService(), in.ID)
		if err != nil {
			log.Warn().Err(err).Str("message_id", in.ID).Msg("inbound dedup unavailable")
		} else if seen {
			log.Debug().Str("message_id", in.ID).Msg("duplicate inbound message skipped")
			return Reply{}
		}
	}

	text := strings.TrimSpace(in.Message)
	if in.AudioURL != "" {
		t, err := cv.transcribe(ctx, in.AudioURL)
		if err != nil {
			log.Warn().Err(err).Msg("voice note not transcribed")
			if text == "" {
				return cv.send(ctx, phone, Reply{Text: "No pude entender tu nota de voz. ¿Puedes escribir tu mensaje?"})
			}
		} else if t != "" {
			text = t
		}
	}

	cust, err := cv.Flow.Customers.FindByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, customers.ErrNotFound) {
			log.Error().Err(err).Msg("customer lookup by phone failed")
		}
		return cv.send(ctx, phone, Reply{Text: cv.ack()})
	}
	c := Caller{CustomerID: cust.ID}

	switch {
	case phoneauth.CodePattern.MatchString(text):
		input, _ := json.Marshal(validateTokenInput{Token: text})
		res := cv.Flow.Handle(ctx, c, Request{Step: StepValidateToken.String(), Input: input})
		return cv.send(ctx, phone, Reply{Intent: intent.Confirm, Text: res.Message, Flow: &res})
	case textx.Fold(text) == "estado":
		return cv.send(ctx, phone, Reply{Text: cv.statusHelp()})
	}
	return cv.send(ctx, phone, cv.handleText(ctx, c, cust, text))
}

// HandleText answers free text from any channel without sending it anywhere.
func (cv *Conversation) HandleText(ctx context.Context, c Caller, text string) Reply {
	var cust customers.Customer
	if c.CustomerID != "" {
		var err error
		if cust, err = cv.Flow.Customers.Get(ctx, c.CustomerID); err != nil {
			log.Warn().Err(err).Str("customer_id", c.CustomerID).Msg("customer not loaded, using client prices")
			cust = customers.Customer{ID: c.CustomerID}
		}
	}
	return cv.handleText(ctx, c, cust, text)
}

func (cv *Conversation) handleText(ctx context.Context, c Caller, cust customers.Customer, text string) Reply {
	res, src := cv.Intents.Resolve(ctx, text)
	r := Reply{Intent: res.Intent, Source: src}
	e := res.Entities

	var err error
	switch res.Intent {
	case intent.Greet:
		r.Text = greeting(cust.Name)
	case intent.SiteHelp:
		r.Text = cv.siteHelp(e.Section)
	case intent.AddToCart:
		r.Text, err = cv.addToCart(ctx, c, cust, e)
	case intent.RemoveFromCart:
		r.Text, err = cv.removeFromCart(ctx, c, e)
	case intent.Buy:
		r.Text, r.Flow = cv.buy(ctx, c)
	case intent.SetAddress:
		r.Text, r.Flow = cv.setAddress(ctx, c, e.Address)
	case intent.Confirm:
		r.Text, r.Flow = cv.confirm(ctx, c)
	case intent.SetPayment:
		r.Text, err = cv.paymentInstructions(ctx, c, e.PaymentMethod)
	default:
		r.Text, err = cv.search(ctx, cust, firstNonEmpty(e.Product, text))
	}
	if err != nil {
		l := log.Warn()
		if UserMessage(err) == msgGeneric {
			l = log.Error()
		}
		l.Err(err).Str("intent", string(res.Intent)).Str("customer_id", c.CustomerID).Msg("conversation reply degraded")
		r.Text = UserMessage(err)
	}
	return r
}

func greeting(name string) string {
	hi := "¡Hola!"
	if n := strings.Fields(name); len(n) > 0 {
		hi = fmt.Sprintf("¡Hola, %s!", n[0])
	}
	return hi + " Puedo buscar productos, agregarlos a tu carrito y ayudarte a completar tu compra. ¿Qué estás buscando?"
}

func (cv *Conversation) siteHelp(section string) string {
	p, ok := sectionPaths[section]
	if !ok {
		return fmt.Sprintf("Puedes ver nuestro catálogo en %s/catalogo o escribirme qué producto buscas.", cv.PublicBaseURL)
	}
	return fmt.Sprintf("Encuentra la sección %s en %s%s.", section, cv.PublicBaseURL, p)
}

func (cv *Conversation) statusHelp() string {
	return fmt.Sprintf("Consulta el estado de tus pedidos en %s/pedidos. Si tienes un código de confirmación, escríbelo aquí.", cv.PublicBaseURL)
}

func (cv *Conversation) ack() string {
	return fmt.Sprintf("¡Gracias por escribirnos! Para comprar visita %s o regístrate con este número de teléfono.", cv.PublicBaseURL)
}

func (cv *Conversation) search(ctx context.Context, cust customers.Customer, q string) (string, error) {
	found, err := cv.Catalog.Search(ctx, q, searchLimit)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return fmt.Sprintf("No encontramos productos para \"%s\". Prueba con otra palabra.", strings.TrimSpace(q)), nil
	}
	var b strings.Builder
	b.WriteString("Esto es lo que encontré:")
	for _, p := range found {
		avail := "disponible"
		if p.Stock <= 0 {
			avail = "agotado"
		}
		fmt.Fprintf(&b, "\n- %s: %s (%s)", p.Name, usd(p.PriceFor(cust.Tier)), avail)
	}
	b.WriteString("\nEscribe \"agregar\" y el producto para sumarlo a tu carrito.")
	return b.String(), nil
}

func (cv *Conversation) findProduct(ctx context.Context, name string) (catalog.Product, error) {
	if strings.TrimSpace(name) == "" {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	found, err := cv.Catalog.Search(ctx, name, 1)
	if err != nil {
		return catalog.Product{}, err
	}
	if len(found) == 0 {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return found[0], nil
}

func (cv *Conversation) addToCart(ctx context.Context, c Caller, cust customers.Customer, e intent.Entities) (string, error) {
	owner, err := cart.Owner(c.CustomerID, c.SessionID)
	if err != nil {
		return "", err
	}
	p, err := cv.findProduct(ctx, e.Product)
	if err != nil {
		return "", err
	}
	qty := e.Quantity
	if qty < 1 {
		qty = 1
	}
	snap, err := cv.Carts.Add(ctx, owner, cart.Line{
		ProductID:    p.ID,
		Name:         p.Name,
		Quantity:     qty,
		UnitPriceUSD: p.PriceFor(cust.Tier),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Agregué %d × %s. Tu carrito: %d artículo(s) por %s.", qty, p.Name, snap.Units(), usd(snap.SubtotalUSD())), nil
}

func (cv *Conversation) removeFromCart(ctx context.Context, c Caller, e intent.Entities) (string, error) {
	owner, err := cart.Owner(c.CustomerID, c.SessionID)
	if err != nil {
		return "", err
	}
	snap, err := cv.Carts.Snapshot(ctx, owner)
	if err != nil {
		return "", err
	}
	line, ok := matchLine(snap.Lines, e.Product)
	if !ok {
		return "", cart.ErrLineNotFound
	}
	if snap, err = cv.Carts.Remove(ctx, owner, line.ProductID, e.Quantity); err != nil {
		return "", err
	}
	if snap.Empty() {
		return fmt.Sprintf("Quité %s. Tu carrito quedó vacío.", line.Name), nil
	}
	return fmt.Sprintf("Listo, actualicé %s. Tu carrito: %d artículo(s) por %s.", line.Name, snap.Units(), usd(snap.SubtotalUSD())), nil
}

// matchLine finds the cart line whose name contains every word of q. An empty q matches
// only a single-line cart.
func matchLine(lines []cart.Line, q string) (cart.Line, bool) {
	words := strings.Fields(textx.Fold(q))
	if len(words) == 0 {
		if len(lines) == 1 {
			return lines[0], true
		}
		return cart.Line{}, false
	}
	for _, l := range lines {
		name := textx.Fold(l.Name)
		all := true
		for _, w := range words {
			if !strings.Contains(name, w) {
				all = false
				break
			}
		}
		if all {
			return l, true
		}
	}
	return cart.Line{}, false
}

func (cv *Conversation) buy(ctx context.Context, c Caller) (string, *Result) {
	res := cv.Flow.Handle(ctx, c, Request{Step: StepStart.String()})
	if !res.Success || res.Cart == nil || res.Cart.Empty() {
		return res.Message, &res
	}
	if c.CustomerID == "" {
		return res.Message + " " + UserMessage(ErrIdentityRequired), &res
	}
	addr := cv.Flow.Handle(ctx, c, Request{Step: StepEnsureAddress.String()})
	if !addr.Success {
		return addr.Message, &addr
	}
	if len(addr.Addresses) == 0 {
		return res.Message + " Envíame tu dirección así: \"mi dirección es calle, ciudad, estado\".", &addr
	}
	a := addr.Addresses[0]
	return fmt.Sprintf("%s Lo enviaremos a %s, %s. Escribe \"confirmar\" para crear tu pedido.", res.Message, a.Line1, a.City), &addr
}

func (cv *Conversation) setAddress(ctx context.Context, c Caller, text string) (string, *Result) {
	a, ok := parseAddress(text)
	if !ok {
		return fmt.Sprintf("Indícame tu dirección así: \"calle, ciudad, estado\", o regístrala en %s/checkout.", cv.PublicBaseURL), nil
	}
	input, _ := json.Marshal(addressInput{Address: &a})
	res := cv.Flow.Handle(ctx, c, Request{Step: StepEnsureAddress.String(), Input: input})
	if !res.Success {
		return res.Message, &res
	}
	return "Guardé tu dirección. Escribe \"confirmar\" para crear tu pedido.", &res
}

// parseAddress reads "line1, city, state[, reference]".
func parseAddress(text string) (shipping.Address, bool) {
	parts := strings.Split(text, ",")
	if len(parts) < 3 {
		return shipping.Address{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	a := shipping.Address{Line1: parts[0], City: parts[1], State: parts[2], IsDefault: true}
	if len(parts) > 3 {
		a.Reference = strings.Join(parts[3:], ", ")
	}
	return a, true
}

// confirm creates the order with the default address and zone shipping, then sends the code.
func (cv *Conversation) confirm(ctx context.Context, c Caller) (string, *Result) {
	addr := cv.Flow.Handle(ctx, c, Request{Step: StepEnsureAddress.String()})
	if !addr.Success {
		return addr.Message, &addr
	}
	if len(addr.Addresses) == 0 {
		return addr.Message, &addr
	}
	input, _ := json.Marshal(createOrderInput{AddressID: addr.Addresses[0].ID})
	created := cv.Flow.Handle(ctx, c, Request{Step: StepCreateOrder.String(), Input: input})
	if !created.Success || created.Order == nil {
		return created.Message, &created
	}
	input, _ = json.Marshal(orderRef{OrderID: created.Order.ID})
	sent := cv.Flow.Handle(ctx, c, Request{Step: StepSendToken.String(), Input: input})
	if !sent.Success {
		return created.Message + " " + sent.Message, &sent
	}
	sent.Order = created.Order
	return created.Message + " " + sent.Message, &sent
}

func (cv *Conversation) paymentInstructions(ctx context.Context, c Caller, method string) (string, error) {
	if c.CustomerID == "" {
		return "", ErrIdentityRequired
	}
	ord, err := cv.Flow.Orders.LatestByStatus(ctx, c.CustomerID, orders.StatusAwaitingPayment)
	if errors.Is(err, orders.ErrNotFound) {
		return "No tienes pedidos pendientes de pago. Escribe \"comprar\" para empezar uno.", nil
	}
	if err != nil {
		return "", err
	}
	m, ok := payments.NormalizeMethod(method)
	if !ok {
		return fmt.Sprintf("Tu pedido %s está listo para pagar (%s o %s). Aceptamos pago móvil, transferencia, Zelle, Binance y efectivo.", shortID(ord.ID), usd(ord.TotalUSD), ves(ord.TotalVES)), nil
	}
	amount := usd(ord.TotalUSD)
	if m.DefaultCurrency() == money.VES {
		amount = ves(ord.TotalVES)
	}
	return fmt.Sprintf("Paga %s por %s para el pedido %s e incluye la referencia. Luego envía el comprobante en %s/pedidos/%s.",
		amount, methodLabel(m), shortID(ord.ID), cv.PublicBaseURL, ord.ID), nil
}

func methodLabel(m payments.Method) string {
	switch m {
	case payments.MethodPagoMovil:
		return "pago móvil"
	case payments.MethodTransferencia:
		return "transferencia"
	case payments.MethodZelle:
		return "Zelle"
	case payments.MethodBinance:
		return "Binance"
	case payments.MethodEfectivo:
		return "efectivo"
	}
	return string(m)
}

func (cv *Conversation) transcribe(ctx context.Context, url string) (string, error) {
	if cv.Speech == nil || cv.Media == nil {
		return "", errors.New("voice notes not supported")
	}
	audio, _, err := cv.Media.Fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}
	name := path.Base(url)
	if name == "." || name == "/" || !strings.Contains(name, ".") {
		name = "audio.ogg"
	}
	return cv.Speech.Transcribe(ctx, audio, name)
}

func (cv *Conversation) send(ctx context.Context, phone string, r Reply) Reply {
	if r.Text == "" || cv.Sender == nil {
		return r
	}
	if err := cv.Sender.SendText(ctx, phone, r.Text); err != nil {
		log.Warn().Err(err).Str("intent", string(r.Intent)).Msg("reply not delivered")
	}
	return r
}

func (cv *Conversation) dedupService() string {
	if cv.Service == "" {
		return "inbound"
	}
	return cv.Service + "-inbound"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
