package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/flow"
	"github.com/ariefcatur/go-chat-checkout/internal/llm"
	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const maxProofImage = 8 << 20

type ProofReader interface {
	ExtractPaymentProof(ctx context.Context, image []byte, mimeType string) (llm.Proof, error)
}

// PaymentsHandler reads an uploaded payment screenshot and, when it is legible, submits it
// against the caller's order awaiting payment.
type PaymentsHandler struct {
	Proofs  ProofReader
	Flow    StepRunner
	Timeout time.Duration
}

type proofResp struct {
	Proof     llm.Proof    `json:"proof"`
	Submitted bool         `json:"submitted"`
	Result    *flow.Result `json:"result,omitempty"`
	Message   string       `json:"message,omitempty"`
}

type proofSubmission struct {
	OrderID   string          `json:"orderId,omitempty"`
	Method    string          `json:"method"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/api/payments/proof", h.proof)
}

func (h *PaymentsHandler) proof(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	if c.CustomerID == "" {
		writeError(w, r, http.StatusUnauthorized, "customer required")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxProofImage+(1<<16))
	if err := r.ParseMultipartForm(maxProofImage); err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart form with an image required")
		return
	}
	f, hdr, err := r.FormFile("image")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "image required")
		return
	}
	defer f.Close()
	image, err := io.ReadAll(f)
	if err != nil || len(image) == 0 {
		writeError(w, r, http.StatusBadRequest, "image unreadable")
		return
	}
	mime := hdr.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(image)
	}

	t := h.Timeout
	if t <= 0 {
		t = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), t)
	defer cancel()

	proof, err := h.Proofs.ExtractPaymentProof(ctx, image, mime)
	if errors.Is(err, llm.ErrNotConfigured) {
		writeError(w, r, http.StatusServiceUnavailable, "proof reading unavailable")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("customer_id", c.CustomerID).Msg("payment proof not extracted")
		render.JSON(w, r, proofResp{Message: "No pudimos leer el comprobante. Indica el monto y la referencia manualmente."})
		return
	}

	resp := proofResp{Proof: proof}
	method, ok := payments.NormalizeMethod(proof.Method)
	amount, currency, hasAmount := proof.Amount()
	if !ok || !hasAmount {
		resp.Message = "El comprobante no indica claramente el método o el monto. Complétalos manualmente."
		render.JSON(w, r, resp)
		return
	}

	input, _ := json.Marshal(proofSubmission{
		OrderID:   r.FormValue("order_id"),
		Method:    string(method),
		Currency:  currency,
		Amount:    amount,
		Reference: proof.Reference,
	})
	res := h.Flow.Handle(ctx, c, flow.Request{Step: flow.StepSubmitPayment.String(), Input: input})
	resp.Submitted = res.Success
	resp.Result = &res
	resp.Message = res.Message
	render.JSON(w, r, resp)
}
