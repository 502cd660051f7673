package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-chat-checkout/internal/catalog"
	"github.com/ariefcatur/go-chat-checkout/internal/orders"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type fakeRepo struct {
	receipts []Receipt
	reprice  []*Margins
	err      error
}

func (f *fakeRepo) ApplyReceipt(_ context.Context, rc Receipt, m *Margins) (catalog.Product, error) {
	if f.err != nil {
		return catalog.Product{}, f.err
	}
	f.receipts = append(f.receipts, rc)
	f.reprice = append(f.reprice, m)
	return catalog.Product{ID: rc.ProductID, Stock: rc.Qty, AvgCost: rc.UnitCost, LastCost: rc.UnitCost}, nil
}

func receiptMsg(t *testing.T, eventID string, qty int) kafkago.Message {
	t.Helper()
	payload, _ := json.Marshal(orders.PurchaseReceivedPayload{ProductID: "sofa", Qty: qty, UnitCost: decimal.NewFromInt(7)})
	b, _ := json.Marshal(orders.Envelope{EventID: eventID, EventType: orders.EventPurchaseReceived, EventVersion: 1, Payload: payload})
	return kafkago.Message{Value: b}
}

func newService(t *testing.T) (*Service, *fakeRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	repo := &fakeRepo{}
	return &Service{Repo: repo, Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()}), ServiceName: "test"}, repo
}

func TestHandlePurchaseReceived_Dedup(t *testing.T) {
	s, repo := newService(t)
	ctx := context.Background()
	m := receiptMsg(t, "evt-1", 10)
	for i := 0; i < 3; i++ {
		if err := s.HandlePurchaseReceived(ctx, m); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if len(repo.receipts) != 1 {
		t.Fatalf("receipt applied %d times", len(repo.receipts))
	}
	if repo.reprice[0] != nil {
		t.Error("repricing should be off by default")
	}
}

func TestHandlePurchaseReceived_Reprice(t *testing.T) {
	s, repo := newService(t)
	s.Reprice = true
	s.Margins = Margins{Client: decimal.NewFromInt(45)}
	if err := s.HandlePurchaseReceived(context.Background(), receiptMsg(t, "evt-1", 1)); err != nil {
		t.Fatal(err)
	}
	if repo.reprice[0] == nil || !repo.reprice[0].Client.Equal(decimal.NewFromInt(45)) {
		t.Errorf("margins not passed: %+v", repo.reprice[0])
	}
}

func TestHandlePurchaseReceived_InvalidAndRetry(t *testing.T) {
	s, repo := newService(t)
	ctx := context.Background()

	if err := s.HandlePurchaseReceived(ctx, receiptMsg(t, "evt-bad", 0)); err != nil {
		t.Errorf("invalid receipt should be skipped, got %v", err)
	}
	if len(repo.receipts) != 0 {
		t.Error("invalid receipt reached the repo")
	}

	repo.err = errors.New("lock timeout")
	m := receiptMsg(t, "evt-2", 5)
	if err := s.HandlePurchaseReceived(ctx, m); err == nil {
		t.Fatal("expected error")
	}
	repo.err = nil
	if err := s.HandlePurchaseReceived(ctx, m); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(repo.receipts) != 1 {
		t.Errorf("retry should apply once, got %d", len(repo.receipts))
	}
}
