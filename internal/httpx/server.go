package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/flow"
	"github.com/ariefcatur/go-chat-checkout/internal/logx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const (
	headerCustomerID = "X-Customer-Id"
	headerSessionID  = "X-Session-Id"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logx.AccessLog, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// caller reads channel identity. Authentication happens upstream.
func caller(r *http.Request) flow.Caller {
	return flow.Caller{
		CustomerID: r.Header.Get(headerCustomerID),
		SessionID:  r.Header.Get(headerSessionID),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, errorResponse{Error: msg})
}
