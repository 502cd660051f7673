package kafka

import (
	"encoding/json"
	"testing"
)

func TestUnwrapPayload(t *testing.T) {
	type payload struct {
		OrderID string `json:"order_id"`
	}
	got, err := UnwrapPayload[payload](json.RawMessage(`{"order_id":"o-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OrderID != "o-1" {
		t.Errorf("expected o-1, got %q", got.OrderID)
	}

	if _, err := UnwrapPayload[payload](json.RawMessage(`{`)); err == nil {
		t.Error("expected error for broken payload")
	}
}

func TestTypeHeaders(t *testing.T) {
	hs := TypeHeaders("OrderCreated", 1)
	if len(hs) != 2 || string(hs[0].Value) != "OrderCreated" || string(hs[1].Value) != "1" {
		t.Errorf("unexpected headers %+v", hs)
	}
}
