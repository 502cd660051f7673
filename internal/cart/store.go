package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// Store keeps carts in Redis. Web and messaging channels may mutate the same cart
// concurrently, so every mutation runs as a WATCH/MULTI transaction.
type Store struct {
	Redis *redis.Client
	Now   func() time.Time
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{Redis: rdb, Now: time.Now}
}

func key(owner string) string    { return fmt.Sprintf(redisx.KeyCart, owner) }
func genKey(owner string) string { return fmt.Sprintf(redisx.KeyCartGen, owner) }

func (s *Store) Snapshot(ctx context.Context, owner string) (Cart, error) {
	return load(ctx, s.Redis, owner)
}

func (s *Store) Add(ctx context.Context, owner string, in Line) (Cart, error) {
	if in.Quantity < 1 {
		return Cart{}, ErrInvalidQuantity
	}
	if in.AddedAt.IsZero() {
		in.AddedAt = s.Now().UTC()
	}
	return s.mutate(ctx, owner, false, func(c Cart) ([]Line, error) {
		return addLine(c.Lines, in), nil
	})
}

// Remove drops qty units of productID; qty <= 0 removes the whole line.
func (s *Store) Remove(ctx context.Context, owner, productID string, qty int) (Cart, error) {
	return s.mutate(ctx, owner, false, func(c Cart) ([]Line, error) {
		return removeLine(c.Lines, productID, qty)
	})
}

// Clear empties the cart but keeps the key, so the owner still has a cart.
func (s *Store) Clear(ctx context.Context, owner string) error {
	_, err := s.mutate(ctx, owner, true, func(Cart) ([]Line, error) {
		return []Line{}, nil
	})
	return err
}

// Consume removes what snap held once it became an order and starts a new
// generation. Lines added by another channel after snap was taken are kept.
// A snapshot from an older generation has already been consumed.
func (s *Store) Consume(ctx context.Context, snap Cart) error {
	_, err := s.mutate(ctx, snap.Owner, true, func(c Cart) ([]Line, error) {
		if c.Gen != snap.Gen {
			return nil, ErrStaleSnapshot
		}
		return subtractLines(c.Lines, snap.Lines), nil
	})
	return err
}

func (s *Store) mutate(ctx context.Context, owner string, bump bool, fn func(Cart) ([]Line, error)) (Cart, error) {
	k, gk := key(owner), genKey(owner)
	var out Cart
	txf := func(tx *redis.Tx) error {
		c, err := load(ctx, tx, owner)
		if err != nil {
			return err
		}
		lines, err := fn(c)
		if err != nil {
			return err
		}
		b, err := json.Marshal(lines)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, b, 0)
			if bump {
				p.Incr(ctx, gk)
			}
			return nil
		})
		out = Cart{Owner: owner, Lines: lines, Gen: c.Gen}
		if bump {
			out.Gen++
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.Redis.Watch(ctx, txf, k, gk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Cart{}, err
		}
		return out, nil
	}
	return Cart{}, fmt.Errorf("cart %s: too much contention", owner)
}

// load reads lines and generation in one MGET so they belong to the same state.
func load(ctx context.Context, rdb redis.Cmdable, owner string) (Cart, error) {
	vals, err := rdb.MGet(ctx, key(owner), genKey(owner)).Result()
	if err != nil {
		return Cart{}, err
	}
	c := Cart{Owner: owner, Lines: []Line{}}
	if raw, ok := vals[0].(string); ok {
		if err := json.Unmarshal([]byte(raw), &c.Lines); err != nil {
			return Cart{}, fmt.Errorf("decode cart: %w", err)
		}
	}
	if raw, ok := vals[1].(string); ok {
		if c.Gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return Cart{}, fmt.Errorf("decode cart generation: %w", err)
		}
	}
	return c, nil
}
