package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/go-chat-checkout/internal/config"
	"github.com/ariefcatur/go-chat-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-chat-checkout/internal/kafka"
	"github.com/ariefcatur/go-chat-checkout/internal/logx"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/payments"
	"github.com/ariefcatur/go-chat-checkout/internal/postgres"
	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
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

	stock := &inventory.Service{
		Repo:  &inventory.Repo{DB: db},
		Redis: rdb,
		Margins: inventory.Margins{
			Client:    cfg.Pricing.MarginClient,
			Ally:      cfg.Pricing.MarginAlly,
			Wholesale: cfg.Pricing.MarginWholesale,
		},
		Reprice:     cfg.Pricing.RepriceOnReceipt,
		ServiceName: cfg.ServiceName + "-inventory",
	}
	reviewer := &payments.Reviewer{Store: &payments.Repo{DB: db}, Redis: rdb}

	consumers := []struct {
		topic   string
		handler kafkax.Handler
	}{
		{orders.TopicPurchaseReceived, stock.HandlePurchaseReceived},
		{orders.TopicPaymentReviewed, reviewer.HandlePaymentReviewed},
	}

	var wg sync.WaitGroup
	for _, c := range consumers {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, c.topic, cfg.WorkerConcurrency)
		cons.Attempts, cons.Backoff = cfg.WorkerAttempts, cfg.WorkerBackoff
		if cfg.WorkerDeadLetter {
			dlq := kafkax.NewProducer(cfg.KafkaBrokers, kafkax.DeadLetterTopic(c.topic), 256)
			dlq.Start(ctx)
			defer func() { dlq.Close(); dlq.WaitClosed() }()
			cons.DeadLetter = dlq
		}
		wg.Add(1)
		go func(topic string, h kafkax.Handler) {
			defer wg.Done()
			log.Info().Str("group", cfg.WorkerGroup).Str("topic", topic).Int("workers", cfg.WorkerConcurrency).Msg("consumer started")
			if err := cons.Start(ctx, h); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("consumer exit")
				cancel()
			}
		}(c.topic, c.handler)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info().Msg("shutting down consumers")
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
}
