package flow

import (
	"errors"

	"github.com/ariefcatur/go-chat-checkout/internal/cart"
	"github.com/ariefcatur/go-chat-checkout/internal/catalog"
	"github.com/ariefcatur/go-chat-checkout/internal/money"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/ariefcatur/go-chat-checkout/internal/phoneauth"
	"github.com/ariefcatur/go-chat-checkout/internal/shipping"
)

var (
	ErrBadInput         = errors.New("invalid step input")
	ErrIdentityRequired = errors.New("customer identity required")
	ErrCodeSpent        = errors.New("confirmation code consumed but order not authorized")
)

const msgGeneric = "Ocurrió un error procesando tu solicitud. Intenta de nuevo en unos minutos."

var userMessages = []struct {
	err error
	msg string
}{
	{ErrBadInput, "La solicitud no es válida."},
	{ErrIdentityRequired, "Necesitamos identificarte para continuar."},
	{ErrCodeSpent, "No pudimos confirmar tu pedido. Solicita un nuevo código e intenta de nuevo."},
	{cart.ErrNoOwner, "Necesitamos identificarte para continuar."},
	{cart.ErrEmpty, "Tu carrito está vacío. Agrega productos antes de continuar."},
	{cart.ErrInvalidQuantity, "La cantidad debe ser al menos 1."},
	{cart.ErrLineNotFound, "Ese producto no está en tu carrito."},
	{catalog.ErrProductNotFound, "No encontramos ese producto."},
	{shipping.ErrAddressNotFound, "No encontramos esa dirección."},
	{shipping.ErrInvalidAddress, "La dirección está incompleta. Indica calle, ciudad y estado."},
	{shipping.ErrMethodUnavailable, "Ese método de envío no está disponible para tu dirección."},
	{orders.ErrCheckoutInProgress, "Ya estamos procesando tu pedido, espera un momento."},
	{orders.ErrNotFound, "No encontramos el pedido."},
	{orders.ErrInvalidTransition, "El pedido no está en un estado que permita esta acción."},
	{phoneauth.ErrTooManyAttempts, "Demasiados intentos fallidos. Solicita un nuevo código."},
	// invalid, expired and missing codes share one message
	{phoneauth.ErrTokenInvalid, "Código inválido o vencido. Puedes solicitar uno nuevo."},
	{phoneauth.ErrTokenExpired, "Código inválido o vencido. Puedes solicitar uno nuevo."},
	{phoneauth.ErrTokenNotFound, "Código inválido o vencido. Puedes solicitar uno nuevo."},
	{phoneauth.ErrNoPhone, "No tenemos un teléfono registrado para enviarte el código."},
	{phoneauth.ErrDelivery, "No pudimos enviarte el código. Intenta de nuevo."},
	{money.ErrNonPositive, "El monto del pago debe ser mayor a cero."},
	{money.ErrUnknownCurrency, "Indica la moneda del pago (USD o Bs)."},
	{payments.ErrUnknownMethod, "Indica un método de pago válido."},
	{payments.ErrAlreadySubmitted, "Ya registramos un pago para este pedido."},
}

// UserMessage maps domain errors to Spanish texts. Anything unknown gets the generic text.
func UserMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return msgGeneric
}
