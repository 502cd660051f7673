package phoneauth

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (f *fakeSender) SendText(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, phone+"|"+text)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newService(t *testing.T) (*Service, *fakeSender, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	sender := &fakeSender{}
	clk := &clock{t: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	return &Service{
		Redis:       redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Sender:      sender,
		Length:      6,
		TTL:         10 * time.Minute,
		MaxAttempts: 3,
		Now:         clk.now,
		// 0x003039 = 12345, 0x010932 = 67890
		Rand: bytes.NewReader([]byte{0x00, 0x30, 0x39, 0x01, 0x09, 0x32}),
	}, sender, clk
}

func TestSend_DeliversCode(t *testing.T) {
	s, sender, _ := newService(t)
	rec, err := s.Send(context.Background(), "ord-1", "584121234567")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.Code != "012345" {
		t.Errorf("expected zero-padded code, got %q", rec.Code)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "012345") {
		t.Errorf("code not delivered: %v", sender.sent)
	}
	if !CodePattern.MatchString(rec.Code) {
		t.Error("issued code must match the inbound code pattern")
	}
}

func TestSend_ResendReplacesPreviousCode(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)
	first, _ := s.Send(ctx, "ord-1", "584121234567")
	second, err := s.Send(ctx, "ord-1", "584121234567")
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if first.Code == second.Code {
		t.Fatal("expected a new code")
	}
	if _, err := s.Validate(ctx, "ord-1", first.Code); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("old code should be invalid, got %v", err)
	}
	if _, err := s.Validate(ctx, "ord-1", second.Code); err != nil {
		t.Errorf("live code should validate: %v", err)
	}
}

func TestValidate_SingleUse(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)
	rec, _ := s.Send(ctx, "ord-1", "584121234567")

	got, err := s.Validate(ctx, "ord-1", rec.Code)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Phone != "584121234567" {
		t.Errorf("unexpected record %+v", got)
	}
	if _, err := s.Validate(ctx, "ord-1", rec.Code); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("replay should fail with ErrTokenNotFound, got %v", err)
	}
}

func TestValidate_Expired(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newService(t)
	rec, _ := s.Send(ctx, "ord-1", "584121234567")

	clk.t = clk.t.Add(10 * time.Minute)
	if _, err := s.Validate(ctx, "ord-1", rec.Code); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := s.Live(ctx, "ord-1"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expired code should be removed, got %v", err)
	}
}

func TestValidate_MaxAttempts(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)
	rec, _ := s.Send(ctx, "ord-1", "584121234567")

	for i := 0; i < 2; i++ {
		if _, err := s.Validate(ctx, "ord-1", "999999"); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("attempt %d: expected ErrTokenInvalid, got %v", i, err)
		}
	}
	if _, err := s.Validate(ctx, "ord-1", "999999"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	if _, err := s.Validate(ctx, "ord-1", rec.Code); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("correct code after lockout should fail, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newService(t)
	sent, _ := s.Send(ctx, "ord-1", "584121234567")
	rec, err := s.Validate(ctx, "ord-1", sent.Code)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	clk.t = clk.t.Add(time.Minute)
	if err := s.Restore(ctx, rec); err != nil {
		t.Fatalf("restore: %v", err)
	}
	live, err := s.Live(ctx, "ord-1")
	if err != nil || !live.ExpiresAt.Equal(sent.ExpiresAt) {
		t.Fatalf("restored code should keep its expiry, got %+v %v", live, err)
	}
	if _, err := s.Validate(ctx, "ord-1", sent.Code); err != nil {
		t.Errorf("restored code should validate again: %v", err)
	}
}

func TestRestore_KeepsNewerCodeAndExpiry(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newService(t)
	first, _ := s.Send(ctx, "ord-1", "584121234567")
	rec, _ := s.Validate(ctx, "ord-1", first.Code)
	second, _ := s.Send(ctx, "ord-1", "584121234567")

	if err := s.Restore(ctx, rec); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if live, _ := s.Live(ctx, "ord-1"); live.Code != second.Code {
		t.Errorf("restore replaced the newer code with %q", live.Code)
	}

	clk.t = clk.t.Add(11 * time.Minute)
	if err := s.Restore(ctx, rec); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestSend_DeliveryFailureLeavesNoCode(t *testing.T) {
	ctx := context.Background()
	s, sender, _ := newService(t)
	sender.fail = errors.New("gateway 502")

	if _, err := s.Send(ctx, "ord-1", "584121234567"); !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if _, err := s.Live(ctx, "ord-1"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("undelivered code should not stay live, got %v", err)
	}
	if _, err := s.Send(ctx, "ord-1", ""); !errors.Is(err, ErrNoPhone) {
		t.Errorf("expected ErrNoPhone, got %v", err)
	}
}

func TestCodePattern(t *testing.T) {
	for in, want := range map[string]bool{
		"1234": true, "12345678": true, "123": false, "123456789": false,
		"12a4": false, " 1234": false, "precio 1234": false,
	} {
		if got := CodePattern.MatchString(in); got != want {
			t.Errorf("%q: got %v want %v", in, got, want)
		}
	}
}
