package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/cart"
	"github.com/ariefcatur/go-chat-checkout/internal/catalog"
	"github.com/ariefcatur/go-chat-checkout/internal/config"
	"github.com/ariefcatur/go-chat-checkout/internal/customers"
	"github.com/ariefcatur/go-chat-checkout/internal/flow"
	"github.com/ariefcatur/go-chat-checkout/internal/httpx"
	"github.com/ariefcatur/go-chat-checkout/internal/intent"
	kafkax "github.com/ariefcatur/go-chat-checkout/internal/kafka"
	"github.com/ariefcatur/go-chat-checkout/internal/llm"
	"github.com/ariefcatur/go-chat-checkout/internal/logx"
	"github.com/ariefcatur/go-chat-checkout/internal/messaging"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/ariefcatur/go-chat-checkout/internal/phoneauth"
	"github.com/ariefcatur/go-chat-checkout/internal/postgres"
	"github.com/ariefcatur/go-chat-checkout/internal/rates"
	"github.com/ariefcatur/go-chat-checkout/internal/receivables"
	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
	"github.com/ariefcatur/go-chat-checkout/internal/shipping"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logx.Setup(cfg.LogLevel, cfg.LogPretty)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	producers := map[string]*kafkax.Producer{}
	for _, topic := range []string{orders.TopicOrderCreated, orders.TopicOrderAuthorized, orders.TopicPaymentSubmitted} {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024)
		p.Start(ctx)
		producers[topic] = p
	}

	// external collaborators
	model := llm.New(cfg.LLM)
	gateway := messaging.NewGateway(cfg.Gateway)
	resolver := &intent.Resolver{Timeout: cfg.LLM.Timeout}
	var speech flow.Transcriber
	if model.Configured() {
		resolver.LLM = model
		speech = model
	} else {
		log.Warn().Msg("LLM_API_KEY not set, intents use rules only and voice notes are disabled")
	}

	// repos & services
	orderRepo := &orders.Repo{DB: db}
	carts := cart.NewStore(rdb)
	addresses := &shipping.AddressRepo{DB: db}
	rateSetting := &rates.Setting{DB: db, Redis: rdb}
	customerRepo := &customers.Repo{DB: db}
	catalogRepo := &catalog.Repo{DB: db}

	factory := &orders.Factory{
		Carts:      carts,
		Addresses:  addresses,
		Rates:      rateSetting,
		Claims:     &orders.RedisClaims{Redis: rdb},
		Store:      orderRepo,
		Events:     producers[orders.TopicOrderCreated],
		Service:    cfg.ServiceName,
		IVAPercent: cfg.Pricing.IVAPercent,
		CreditDays: cfg.Pricing.CreditDays,
		Window:     cfg.CheckoutWindow,
	}
	tokens := &phoneauth.Service{
		Redis:       rdb,
		Sender:      gateway,
		Length:      cfg.Token.Length,
		TTL:         cfg.Token.TTL,
		MaxAttempts: cfg.Token.MaxAttempts,
	}
	paymentSvc := &payments.Service{
		Orders:  orderRepo,
		Store:   &payments.Repo{DB: db},
		Rates:   rateSetting,
		Events:  producers[orders.TopicPaymentSubmitted],
		Service: cfg.ServiceName,
	}
	orchestrator := &flow.Orchestrator{
		Carts:     carts,
		Addresses: addresses,
		Factory:   factory,
		Orders:    orderRepo,
		Tokens:    tokens,
		Payments:  paymentSvc,
		Customers: customerRepo,
		Events:    producers[orders.TopicOrderAuthorized],
		Service:   cfg.ServiceName,
	}
	conversation := &flow.Conversation{
		Flow:          orchestrator,
		Intents:       resolver,
		Catalog:       catalogRepo,
		Carts:         carts,
		Sender:        gateway,
		Media:         gateway,
		Speech:        speech,
		Redis:         rdb,
		PublicBaseURL: cfg.PublicBaseURL,
		Service:       cfg.ServiceName,
	}

	// HTTP
	router := httpx.NewRouter()
	(&httpx.FlowHandler{Flow: orchestrator, Conversation: conversation, Intents: resolver}).Register(router)
	(&httpx.OrdersHandler{
		Orders:      orderRepo,
		Products:    catalogRepo,
		Receivables: &receivables.Repo{DB: db},
		Redis:       rdb,
	}).Register(router)
	(&httpx.PaymentsHandler{Proofs: model, Flow: orchestrator}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close() // closes the inbox; the writer flushes and closes
	}
	for _, p := range producers {
		p.WaitClosed()
	}
	cancel()
}
