package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const settingTasaVES = "tasa_ves"

var ErrRateNotSet = errors.New("exchange rate not configured")

// Setting reads the current bolivar-per-dollar rate. The value is an admin setting
// that changes independently of orders, so it is never snapshotted here.
type Setting struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
}

func (s *Setting) Current(ctx context.Context) (decimal.Decimal, error) {
	if v, err := s.Redis.Get(ctx, redisx.KeyRateVES).Result(); err == nil {
		if d, perr := decimal.NewFromString(v); perr == nil && d.IsPositive() {
			return d, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Msg("rate cache read failed")
	}

	var raw string
	err := s.DB.QueryRow(ctx, `SELECT value FROM settings WHERE key=$1`, settingTasaVES).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrRateNotSet
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read rate: %w", err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, ErrRateNotSet
	}
	if err := s.Redis.Set(ctx, redisx.KeyRateVES, rate.String(), redisx.TTLRateCache).Err(); err != nil {
		log.Warn().Err(err).Msg("rate cache write failed")
	}
	return rate, nil
}
