// Package intent turns free text into a typed intent. A language model is tried first and a
// deterministic rule set takes over whenever it is missing, slow, failing or off-script.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/rs/zerolog/log"
)

type Intent string

const (
	Greet          Intent = "greet"
	SiteHelp       Intent = "site_help"
	AddToCart      Intent = "add_to_cart"
	RemoveFromCart Intent = "remove_from_cart"
	Buy            Intent = "buy"
	SetAddress     Intent = "set_address"
	SetPayment     Intent = "set_payment"
	Confirm        Intent = "confirm"
	Search         Intent = "search"
)

var known = map[Intent]bool{
	Greet: true, SiteHelp: true, AddToCart: true, RemoveFromCart: true, Buy: true,
	SetAddress: true, SetPayment: true, Confirm: true, Search: true,
}

type Entities struct {
	Product       string `json:"product,omitempty"`
	Quantity      int    `json:"quantity,omitempty"`
	Section       string `json:"section,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	Address       string `json:"address,omitempty"`
}

type Result struct {
	Intent   Intent   `json:"intent"`
	Entities Entities `json:"entities"`
}

type Source string

const (
	SourceLLM       Source = "llm"
	SourceFallback  Source = "fallback"
	SourceRecovered Source = "recovered"
)

// Classifier is satisfied by *llm.Client.
type Classifier interface {
	ChatJSON(ctx context.Context, system, user string) (json.RawMessage, error)
}

const systemPrompt = `Clasificas mensajes de clientes de una tienda de muebles en Venezuela.
Responde SOLO con un objeto JSON: {"intent": "...", "entities": {...}}.
intent es exactamente uno de: greet, site_help, add_to_cart, remove_from_cart, buy, set_address, set_payment, confirm, search.
entities puede tener: "product" (texto), "quantity" (entero), "section" (moodboard|carrito|checkout|catalogo|favoritos),
"paymentMethod" (PAGO_MOVIL|TRANSFERENCIA|ZELLE|EFECTIVO|BINANCE), "address" (texto).
Omite las entidades que no aparezcan. No agregues texto fuera del JSON.`

type Resolver struct {
	LLM     Classifier // nil disables the model and always uses rules
	Timeout time.Duration
}

// Resolve never fails: every problem degrades to the rules, and a panic to a plain search.
func (r *Resolver) Resolve(ctx context.Context, text string) (res Result, src Source) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("panic", fmt.Sprint(rec)).Msg("intent resolution panicked")
			res, src = Result{Intent: Search}, SourceRecovered
		}
	}()

	text = strings.TrimSpace(text)
	if r.LLM != nil && text != "" {
		out, err := r.classify(ctx, text)
		if err == nil {
			return out, SourceLLM
		}
		log.Warn().Err(err).Msg("intent model unavailable, using rules")
	}
	return Fallback(text), SourceFallback
}

func (r *Resolver) classify(ctx context.Context, text string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.LLM.ChatJSON(ctx, systemPrompt, text)
	if err != nil {
		return Result{}, err
	}
	var wire struct {
		Intent   string `json:"intent"`
		Entities struct {
			Product       string `json:"product"`
			Quantity      any    `json:"quantity"`
			Section       string `json:"section"`
			PaymentMethod string `json:"paymentMethod"`
			Address       string `json:"address"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Result{}, fmt.Errorf("decode model output: %w", err)
	}
	in := Intent(strings.ToLower(strings.TrimSpace(wire.Intent)))
	if !known[in] {
		return Result{}, fmt.Errorf("model returned unknown intent %q", wire.Intent)
	}

	out := Result{Intent: in, Entities: Entities{
		Product:  strings.TrimSpace(wire.Entities.Product),
		Quantity: toQuantity(wire.Entities.Quantity),
		Section:  strings.ToLower(strings.TrimSpace(wire.Entities.Section)),
		Address:  strings.TrimSpace(wire.Entities.Address),
	}}
	if m, ok := payments.NormalizeMethod(wire.Entities.PaymentMethod); ok {
		out.Entities.PaymentMethod = string(m)
	}
	if in == SetPayment && out.Entities.PaymentMethod == "" {
		if m, ok := payments.NormalizeMethod(text); ok {
			out.Entities.PaymentMethod = string(m)
		}
	}
	return out, nil
}

func toQuantity(v any) int {
	switch q := v.(type) {
	case float64:
		if q >= 1 && q <= 999 {
			return int(q)
		}
	case string:
		return parseQuantity(q)
	}
	return 0
}
