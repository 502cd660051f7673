package receivables

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func entries(amounts ...int64) []Entry {
	out := make([]Entry, 0, len(amounts))
	for _, a := range amounts {
		out = append(out, Entry{AmountUSD: decimal.NewFromInt(a)})
	}
	return out
}

func TestBalance(t *testing.T) {
	total := decimal.NewFromInt(100)
	cases := []struct {
		name    string
		entries []Entry
		want    int64
	}{
		{"no entries", nil, 100},
		{"partial", entries(30, 20), 50},
		{"exact", entries(60, 40), 0},
		{"overpaid never negative", entries(80, 50), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Balance(total, tc.entries); !got.Equal(decimal.NewFromInt(tc.want)) {
				t.Errorf("expected %d, got %s", tc.want, got)
			}
		})
	}
}

func TestStatusAt(t *testing.T) {
	created := time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)
	r := Receivable{
		TotalUSD: decimal.NewFromInt(100),
		DueDate:  DueDate(created, 30),
		Status:   StatusPending,
		Entries:  entries(30),
	}
	if want := time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC); !r.DueDate.Equal(want) {
		t.Fatalf("due date: expected %s, got %s", want, r.DueDate)
	}
	if s := r.StatusAt(time.Date(2025, 2, 9, 23, 0, 0, 0, time.UTC)); s != StatusPending {
		t.Errorf("on due date should still be pending, got %s", s)
	}
	if s := r.StatusAt(time.Date(2025, 2, 11, 0, 0, 0, 0, time.UTC)); s != StatusOverdue {
		t.Errorf("after due date should be overdue, got %s", s)
	}

	r.Entries = append(r.Entries, entries(70)...)
	if s := r.StatusAt(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)); s != StatusPaid {
		t.Errorf("fully paid should be PAGADA even when late, got %s", s)
	}

	v := r.View(created)
	if !v.PaidUSD.Equal(decimal.NewFromInt(100)) || !v.BalanceUSD.IsZero() {
		t.Errorf("unexpected view %+v", v)
	}
}
