package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/flow"
	"github.com/ariefcatur/go-chat-checkout/internal/intent"
	"github.com/ariefcatur/go-chat-checkout/internal/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"
)

const maxWebhookBody = 1 << 20

type StepRunner interface {
	Handle(ctx context.Context, c flow.Caller, req flow.Request) flow.Result
}

type Conversation interface {
	HandleText(ctx context.Context, c flow.Caller, text string) flow.Reply
	HandleInbound(ctx context.Context, in messaging.Inbound) flow.Reply
}

type IntentResolver interface {
	Resolve(ctx context.Context, text string) (intent.Result, intent.Source)
}

type FlowHandler struct {
	Flow         StepRunner
	Conversation Conversation
	Intents      IntentResolver
	Timeout      time.Duration // per request, covers the external calls of a step
}

type textReq struct {
	Text string `json:"text"`
}

type intentResp struct {
	intent.Result
	Source intent.Source `json:"source"`
}

type webhookResp struct {
	OK    bool   `json:"ok"`
	Reply string `json:"reply,omitempty"`
}

func (h *FlowHandler) Register(r chi.Router) {
	r.Post("/api/flow/step", h.step)
	r.Post("/api/flow/message", h.message)
	r.Post("/api/intent", h.intent)
	r.Post("/webhooks/messages", h.webhook)
}

func (h *FlowHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	t := h.Timeout
	if t <= 0 {
		t = 20 * time.Second
	}
	return context.WithTimeout(r.Context(), t)
}

// step always answers 200 with the step envelope; only an undecodable body is a 400.
func (h *FlowHandler) step(w http.ResponseWriter, r *http.Request) {
	var req flow.Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, flow.Result{Success: false, Message: flow.UserMessage(flow.ErrBadInput)})
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	render.JSON(w, r, h.Flow.Handle(ctx, caller(r), req))
}

func (h *FlowHandler) message(w http.ResponseWriter, r *http.Request) {
	var req textReq
	if err := render.DecodeJSON(r.Body, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, r, http.StatusBadRequest, "text required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	render.JSON(w, r, h.Conversation.HandleText(ctx, caller(r), req.Text))
}

func (h *FlowHandler) intent(w http.ResponseWriter, r *http.Request) {
	var req textReq
	if err := render.DecodeJSON(r.Body, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, r, http.StatusBadRequest, "text required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	res, src := h.Intents.Resolve(ctx, req.Text)
	render.JSON(w, r, intentResp{Result: res, Source: src})
}

// webhook acknowledges every delivery, including ones it cannot use, so the gateway
// never retries a benign message.
func (h *FlowHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("webhook body not read")
		render.JSON(w, r, webhookResp{OK: true})
		return
	}
	in, err := messaging.ParseInbound(body)
	if err != nil {
		if !errors.Is(err, messaging.ErrEmptyInbound) {
			log.Warn().Err(err).Msg("webhook payload not understood")
		}
		render.JSON(w, r, webhookResp{OK: true})
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	reply := h.Conversation.HandleInbound(ctx, in)
	render.JSON(w, r, webhookResp{OK: true, Reply: reply.Text})
}
