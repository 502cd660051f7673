package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/catalog"
	"github.com/ariefcatur/go-chat-checkout/internal/flow"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/receivables"
	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type OrderStatusReader interface {
	GetOrderStatus(ctx context.Context, orderID string) (orders.Status, error)
}

type ProductLister interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
}

type ReceivableReader interface {
	GetByOrder(ctx context.Context, orderID string) (receivables.Receivable, error)
}

type OrdersHandler struct {
	Orders      OrderStatusReader
	Products    ProductLister
	Receivables ReceivableReader
	Redis       redis.Cmdable // status cache; nil disables
	Now         func() time.Time
}

type orderStatusResp struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
	State   flow.State    `json:"state"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/api/orders/{id}", h.getOrder)
	r.Get("/api/products", h.listProducts)
	r.Get("/api/receivables/{orderId}", h.getReceivable)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.ListProducts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list products")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if ps == nil {
		ps = []catalog.Product{}
	}
	render.JSON(w, r, ps)
}

// getOrder serves the status from cache when present. Only final statuses are cached:
// anything earlier can still move and would go stale.
func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			var cached orderStatusResp
			if json.Unmarshal([]byte(s), &cached) == nil {
				render.JSON(w, r, cached)
				return
			}
		} else if err != nil && !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("order_id", orderID).Msg("status cache read")
		}
	}

	status, err := h.Orders.GetOrderStatus(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("get order status")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	resp := orderStatusResp{OrderID: orderID, Status: status, State: flow.StateOf(status)}
	if h.Redis != nil && status.Final() {
		b, _ := json.Marshal(resp)
		if err := h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err(); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("status cache write")
		}
	}
	render.JSON(w, r, resp)
}

func (h *OrdersHandler) getReceivable(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rc, err := h.Receivables.GetByOrder(ctx, orderID)
	if errors.Is(err, receivables.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("get receivable")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	render.JSON(w, r, rc.View(now))
}
