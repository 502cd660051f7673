package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkax "github.com/ariefcatur/go-chat-checkout/internal/kafka"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

type ReviewStore interface {
	Review(ctx context.Context, in ReviewInput) (Payment, error)
}

// Reviewer applies back-office decisions consumed from the payment.reviewed topic.
type Reviewer struct {
	Store ReviewStore
	Redis *redis.Client
	Now   func() time.Time
}

const reviewDedup = "payment-review"

func (r *Reviewer) HandlePaymentReviewed(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Error().Err(err).Str("key", string(m.Key)).Msg("undecodable review envelope skipped")
		return nil
	}
	if env.EventType != orders.EventPaymentReviewed {
		return nil
	}

	seen, err := redisx.Dedup(ctx, r.Redis, reviewDedup, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	if err := r.apply(ctx, env); err != nil {
		if ferr := redisx.Forget(ctx, r.Redis, reviewDedup, env.EventID); ferr != nil {
			log.Warn().Err(ferr).Str("event_id", env.EventID).Msg("dedup release failed")
		}
		return err
	}
	return nil
}

func (r *Reviewer) apply(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.PaymentReviewedPayload](env.Payload)
	if err != nil {
		log.Error().Err(err).Str("event_id", env.EventID).Msg("bad review payload skipped")
		return nil
	}
	decision, err := ParseDecision(p.Decision)
	if err != nil {
		log.Error().Err(err).Str("order_id", p.OrderID).Str("decision", p.Decision).Msg("review skipped")
		return nil
	}

	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}
	pay, err := r.Store.Review(ctx, ReviewInput{OrderID: p.OrderID, Decision: decision, Reviewer: p.Reviewer, Note: p.Note, At: now})
	switch {
	case errors.Is(err, ErrAlreadyReviewed), errors.Is(err, orders.ErrInvalidTransition):
		log.Warn().Err(err).Str("order_id", p.OrderID).Msg("stale review ignored")
		return nil
	case err != nil:
		return err
	}

	log.Info().Str("order_id", p.OrderID).Str("payment_id", pay.ID).Str("decision", string(decision)).Msg("payment reviewed")
	return nil
}
