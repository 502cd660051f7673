package inventory

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-chat-checkout/internal/catalog"
	kafkax "github.com/ariefcatur/go-chat-checkout/internal/kafka"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

type ReceiptApplier interface {
	ApplyReceipt(ctx context.Context, rc Receipt, reprice *Margins) (catalog.Product, error)
}

type Service struct {
	Repo        ReceiptApplier
	Redis       *redis.Client
	Margins     Margins
	Reprice     bool
	ServiceName string
}

const receiptDedup = "inventory"

// HandlePurchaseReceived is installed as the inventory.purchase.received consumer handler.
func (s *Service) HandlePurchaseReceived(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Error().Err(err).Str("key", string(m.Key)).Msg("undecodable receipt envelope skipped")
		return nil
	}
	if env.EventType != orders.EventPurchaseReceived {
		return nil
	}

	// 2) dedup by event_id; released again when applying fails so redelivery retries
	seen, err := redisx.Dedup(ctx, s.Redis, receiptDedup, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.PurchaseReceivedPayload](env.Payload)
	if err != nil {
		log.Error().Err(err).Str("event_id", env.EventID).Msg("bad receipt payload skipped")
		return nil
	}
	rc := Receipt{ProductID: p.ProductID, Qty: p.Qty, UnitCost: p.UnitCost, Reference: p.Reference}
	if err := rc.Validate(); err != nil {
		log.Error().Err(err).Str("event_id", env.EventID).Str("product_id", p.ProductID).Int("qty", p.Qty).Msg("receipt rejected")
		return nil
	}

	// 4) apply under row lock
	var reprice *Margins
	if s.Reprice {
		reprice = &s.Margins
	}
	prod, err := s.Repo.ApplyReceipt(ctx, rc, reprice)
	if err != nil {
		if ferr := redisx.Forget(ctx, s.Redis, receiptDedup, env.EventID); ferr != nil {
			log.Warn().Err(ferr).Str("event_id", env.EventID).Msg("dedup release failed")
		}
		return err
	}
	log.Info().
		Str("product_id", prod.ID).
		Int("stock", prod.Stock).
		Str("avg_cost", prod.AvgCost.String()).
		Str("last_cost", prod.LastCost.String()).
		Bool("repriced", reprice != nil).
		Msg("purchase received")
	return nil
}
