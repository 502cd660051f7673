package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

const proofSystemPrompt = `Eres un asistente que lee comprobantes de pago venezolanos (pago móvil, transferencia, Zelle, Binance, efectivo).
Responde SOLO con un objeto JSON con esta forma exacta:
{"method": "PAGO_MOVIL|TRANSFERENCIA|ZELLE|BINANCE|EFECTIVO|", "currency": "USD|VES|", "amountUSD": number|null, "amountVES": number|null, "reference": string}
Usa null o "" cuando un dato no sea legible. No inventes montos.`

const proofUserPrompt = "Extrae el método, la moneda, el monto y la referencia de este comprobante."

// Proof is what a vision model read from a payment screenshot.
type Proof struct {
	Method    string           `json:"method"`
	Currency  string           `json:"currency"`
	AmountUSD *decimal.Decimal `json:"amountUSD"`
	AmountVES *decimal.Decimal `json:"amountVES"`
	Reference string           `json:"reference"`
}

// Amount picks the amount the proof states, preferring bolivars when both are present
// since that is what the bank actually moved.
func (p Proof) Amount() (decimal.Decimal, string, bool) {
	switch {
	case p.AmountVES != nil && p.AmountVES.IsPositive():
		return *p.AmountVES, "VES", true
	case p.AmountUSD != nil && p.AmountUSD.IsPositive():
		return *p.AmountUSD, "USD", true
	}
	return decimal.Zero, "", false
}

func (c *Client) ExtractPaymentProof(ctx context.Context, image []byte, mimeType string) (Proof, error) {
	raw, err := c.VisionJSON(ctx, proofSystemPrompt, proofUserPrompt, image, mimeType)
	if err != nil {
		return Proof{}, err
	}
	var p Proof
	if err := json.Unmarshal(raw, &p); err != nil {
		return Proof{}, &APIError{Op: "vision", Code: "invalid_output"}
	}
	p.Method = strings.ToUpper(strings.TrimSpace(p.Method))
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	p.Reference = strings.TrimSpace(p.Reference)
	return p, nil
}
