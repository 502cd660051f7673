package inventory

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWeightedAverage(t *testing.T) {
	cases := []struct {
		name              string
		stock, qty        int
		avg, cost, expect string
	}{
		{"blend", 10, 10, "5.00", "7.00", "6"},
		{"empty stock takes incoming cost", 0, 3, "9.99", "4.25", "4.25"},
		{"uneven", 3, 1, "10", "20", "12.5"},
		{"repeating decimal rounds to 4 places", 2, 1, "1", "2", "1.3333"},
		{"negative stock treated as empty", -4, 2, "50", "8", "8"},
		{"zero quantity never divides by zero", 0, 0, "3", "3", "0"},
	}
	for _, c := range cases {
		got := WeightedAverage(c.stock, d(c.avg), c.qty, d(c.cost))
		if !got.Equal(d(c.expect)) {
			t.Errorf("%s: got %s want %s", c.name, got, c.expect)
		}
	}
}

func TestApply(t *testing.T) {
	start := Costing{Stock: 10, AvgCost: d("5"), LastCost: d("5")}
	got, err := Apply(start, Receipt{ProductID: "p", Qty: 10, UnitCost: d("7")})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Stock != 20 || !got.AvgCost.Equal(d("6")) || !got.LastCost.Equal(d("7")) {
		t.Errorf("unexpected costing %+v", got)
	}

	// a cheaper receipt still overwrites last cost
	got, _ = Apply(got, Receipt{ProductID: "p", Qty: 20, UnitCost: d("2")})
	if !got.LastCost.Equal(d("2")) || !got.AvgCost.Equal(d("4")) {
		t.Errorf("unexpected costing after second receipt %+v", got)
	}

	if _, err := Apply(start, Receipt{Qty: 0, UnitCost: d("1")}); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := Apply(start, Receipt{Qty: 1, UnitCost: d("-1")}); !errors.Is(err, ErrInvalidCost) {
		t.Errorf("expected ErrInvalidCost, got %v", err)
	}
}

func TestMarginsPrices(t *testing.T) {
	m := Margins{Client: d("45"), Ally: d("30"), Wholesale: d("20")}
	p := m.Prices(d("6"))
	if p.Client.StringFixed(2) != "8.70" || p.Ally.StringFixed(2) != "7.80" || p.Wholesale.StringFixed(2) != "7.20" {
		t.Errorf("unexpected prices %+v", p)
	}
}
