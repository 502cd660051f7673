// Package phoneauth proves that the person chatting holds the phone number on file for an
// order. One live numeric code exists per order; it is single use and expires lazily.
package phoneauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	ErrTokenNotFound   = errors.New("no live confirmation code for order")
	ErrTokenInvalid    = errors.New("confirmation code does not match")
	ErrTokenExpired    = errors.New("confirmation code expired")
	ErrTooManyAttempts = errors.New("too many failed attempts, code invalidated")
	ErrNoPhone         = errors.New("phone number required")
	ErrDelivery        = errors.New("confirmation code could not be delivered")
)

// CodePattern recognizes a bare code typed back over the messaging channel.
var CodePattern = regexp.MustCompile(`^\d{4,8}$`)

// Sender delivers the code out of band.
type Sender interface {
	SendText(ctx context.Context, phone, text string) error
}

type Record struct {
	OrderID   string    `json:"order_id"`
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r Record) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

type Service struct {
	Redis       *redis.Client
	Sender      Sender
	Length      int
	TTL         time.Duration
	MaxAttempts int
	Now         func() time.Time
	Rand        io.Reader
}

func key(orderID string) string { return fmt.Sprintf(redisx.KeyAuthToken, orderID) }

// Send issues a fresh code for orderID, replacing any previous one, and delivers it to phone.
func (s *Service) Send(ctx context.Context, orderID, phone string) (Record, error) {
	if phone == "" {
		return Record{}, ErrNoPhone
	}
	code, err := s.generate()
	if err != nil {
		return Record{}, err
	}
	now := s.now()
	rec := Record{
		OrderID:   orderID,
		Phone:     phone,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl()),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return Record{}, err
	}
	// plain SET overwrites, so the previous code stops validating immediately
	if err := s.Redis.Set(ctx, key(orderID), b, s.ttl()).Err(); err != nil {
		return Record{}, fmt.Errorf("store code: %w", err)
	}

	msg := fmt.Sprintf("Tu código de confirmación es %s. Vence en %d minutos.", code, int(s.ttl().Minutes()))
	if err := s.Sender.SendText(ctx, phone, msg); err != nil {
		if derr := s.Redis.Del(ctx, key(orderID)).Err(); derr != nil {
			log.Warn().Err(derr).Str("order_id", orderID).Msg("undeliverable code not removed")
		}
		return Record{}, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return rec, nil
}

// Validate consumes the live code of orderID when code matches exactly. Failed attempts are
// counted and the code is dropped after MaxAttempts.
func (s *Service) Validate(ctx context.Context, orderID, code string) (Record, error) {
	k := key(orderID)
	var out Record
	var result error

	txf := func(tx *redis.Tx) error {
		out, result = Record{}, nil
		raw, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			result = ErrTokenNotFound
			return nil
		}
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode code record: %w", err)
		}

		switch {
		case rec.Expired(s.now()):
			result = ErrTokenExpired
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, k)
				return nil
			})
			return err

		case subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) == 1:
			out = rec
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, k)
				return nil
			})
			return err
		}

		rec.Attempts++
		if rec.Attempts >= s.maxAttempts() {
			result = ErrTooManyAttempts
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, k)
				return nil
			})
			return err
		}
		result = ErrTokenInvalid
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SetArgs(ctx, k, b, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}

	for i := 0; i < 5; i++ {
		err := s.Redis.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		if result != nil {
			return Record{}, result
		}
		return out, nil
	}
	return Record{}, redis.TxFailedErr
}

// Restore puts back a code that Validate consumed when the step it guarded could not
// be completed, so the customer can type the same code again. It keeps the original
// expiry and never replaces a code sent in the meantime.
func (s *Service) Restore(ctx context.Context, rec Record) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrTokenExpired
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.Redis.SetArgs(ctx, key(rec.OrderID), b, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Live returns the current code record of orderID, if any.
func (s *Service) Live(ctx context.Context, orderID string) (Record, error) {
	raw, err := s.Redis.Get(ctx, key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrTokenNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	if rec.Expired(s.now()) {
		return Record{}, ErrTokenExpired
	}
	return rec, nil
}

// Retryable reports whether err is a code problem the user can fix by retrying or resending.
func Retryable(err error) bool {
	return errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTooManyAttempts)
}

func (s *Service) generate() (string, error) {
	n := s.Length
	if n < 4 || n > 8 {
		n = 6
	}
	src := s.Rand
	if src == nil {
		src = rand.Reader
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(src, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v), nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) ttl() time.Duration {
	if s.TTL <= 0 {
		return 10 * time.Minute
	}
	return s.TTL
}

func (s *Service) maxAttempts() int {
	if s.MaxAttempts <= 0 {
		return 5
	}
	return s.MaxAttempts
}
