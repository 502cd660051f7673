package flow

import (
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/cart"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/ariefcatur/go-chat-checkout/internal/shipping"
)

// UI names the next affordance the presentation layer should offer.
type UI struct {
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
}

const (
	ActionOpenCatalog        = "open_catalog"
	ActionReviewCart         = "review_cart"
	ActionOpenAddressForm    = "open_address_form"
	ActionSelectAddress      = "select_address"
	ActionSelectShipping     = "select_shipping"
	ActionRequestToken       = "request_token"
	ActionEnterToken         = "enter_token"
	ActionShowPaymentMethods = "show_payment_methods"
	ActionPaymentReceived    = "payment_received"
	ActionIdentify           = "identify"
)

// Result is the envelope every step returns. Step specific data rides in the optional fields.
type Result struct {
	Success bool   `json:"success"`
	State   State  `json:"state,omitempty"`
	Message string `json:"message"`
	UI      *UI    `json:"ui,omitempty"`

	Cart           *cart.Cart         `json:"cart,omitempty"`
	Addresses      []shipping.Address `json:"addresses,omitempty"`
	Shipping       []shipping.Option  `json:"shippingOptions,omitempty"`
	Order          *orders.Order      `json:"order,omitempty"`
	Idempotent     bool               `json:"idempotent,omitempty"`
	TokenExpiresAt *time.Time         `json:"tokenExpiresAt,omitempty"`
	Payment        *payments.Payment  `json:"payment,omitempty"`
}

// Caller carries channel-derived identity.
type Caller struct {
	CustomerID string
	SessionID  string
}

type Request struct {
	Step  string          `json:"step"`
	Input json.RawMessage `json:"input"`
}

func failure(msg string) Result { return Result{Success: false, Message: msg} }
