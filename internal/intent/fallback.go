package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/ariefcatur/go-chat-checkout/internal/textx"
)

var (
	reGreet    = regexp.MustCompile(`^(hola|holi|buenas|buen dia|buenos dias|buenas tardes|buenas noches|saludos|hey)\b`)
	reSection  = regexp.MustCompile(`\b(moodboard|carrito|checkout|catalogo|favoritos)\b`)
	reAddress  = regexp.MustCompile(`\b(direccion|domicilio|enviar a|envialo a|envia a|entregar en|vivo en)\b`)
	reAdd      = regexp.MustCompile(`\b(agregar|agrega|agregame|anadir|anade|sumar|suma|meter|mete|pon|poner)\b`)
	reRemove   = regexp.MustCompile(`\b(quitar|quita|quitame|eliminar|elimina|sacar|saca|borrar|borra)\b`)
	reConfirm  = regexp.MustCompile(`\b(confirmar|confirmo|confirmado|de acuerdo)\b|^(si|dale|listo|ok)$`)
	reBuy      = regexp.MustCompile(`\b(comprar|compro|lo quiero|la quiero|me lo llevo|me la llevo|ordenar|pedir)\b`)
	reQuantity = regexp.MustCompile(`\b(\d{1,3})\b`)
	reAfterDir = regexp.MustCompile(`^.*?\b(?:direccion(?: es)?|domicilio|enviar a|envialo a|envia a|entregar en|vivo en)\b[:\s]*`)
)

var numberWords = map[string]int{"un": 1, "una": 1, "uno": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5, "seis": 6}

var stopWords = map[string]bool{
	"al": true, "el": true, "la": true, "los": true, "las": true, "de": true, "del": true, "a": true,
	"mi": true, "me": true, "lo": true, "le": true, "por": true, "favor": true, "quiero": true,
	"esto": true, "este": true, "esta": true, "porfa": true, "y": true, "en": true, "carrito": true,
	"cuanto": true, "cuesta": true, "cuestan": true, "precio": true, "tienen": true, "hay": true,
	"busco": true, "que": true, "sale": true, "vale": true, "valen": true, "un": true, "una": true,
}

// Fallback classifies with ordered rules and no external calls. Categories are checked from
// generic to specific and the last match wins, so an explicit purchase verb overrides an
// earlier greeting or section mention.
func Fallback(text string) Result {
	s := textx.Fold(text)
	res := Result{Intent: Search}
	if s == "" {
		return res
	}

	if reGreet.MatchString(s) {
		res = Result{Intent: Greet}
	}
	if m := reSection.FindStringSubmatch(s); m != nil {
		res = Result{Intent: SiteHelp, Entities: Entities{Section: m[1]}}
	}
	if reAddress.MatchString(s) {
		res = Result{Intent: SetAddress, Entities: Entities{Address: strings.TrimSpace(reAfterDir.ReplaceAllString(s, ""))}}
	}
	if loc := reAdd.FindStringIndex(s); loc != nil {
		res = Result{Intent: AddToCart, Entities: itemEntities(s[loc[1]:])}
	}
	if loc := reRemove.FindStringIndex(s); loc != nil {
		res = Result{Intent: RemoveFromCart, Entities: itemEntities(s[loc[1]:])}
	}
	if reConfirm.MatchString(s) {
		res = Result{Intent: Confirm}
	}
	if m, ok := payments.NormalizeMethod(s); ok {
		res = Result{Intent: SetPayment, Entities: Entities{PaymentMethod: string(m)}}
	}
	if loc := reBuy.FindStringIndex(s); loc != nil {
		res = Result{Intent: Buy, Entities: itemEntities(s[loc[1]:])}
	}

	if res.Intent == Search {
		res.Entities.Product = product(s)
	}
	return res
}

func itemEntities(rest string) Entities {
	return Entities{Product: product(rest), Quantity: parseQuantity(rest)}
}

// product drops quantities and filler words, keeping what names the item.
func product(s string) string {
	var keep []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, "¿?¡!.,;:")
		if w == "" || stopWords[w] || reQuantity.MatchString(w) || numberWords[w] > 0 {
			continue
		}
		keep = append(keep, w)
	}
	return strings.Join(keep, " ")
}

func parseQuantity(s string) int {
	if m := reQuantity.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 {
			return n
		}
	}
	for _, w := range strings.Fields(textx.Fold(s)) {
		if n := numberWords[w]; n > 0 {
			return n
		}
	}
	return 0
}
