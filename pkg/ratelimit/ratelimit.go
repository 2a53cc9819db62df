package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidLimit      = errors.New("invalid limit")
	ErrInvalidInterval   = errors.New("invalid interval")
	ErrStoreRequired     = errors.New("store is required")
)

// Config defines a fixed window: at most Limit requests per Interval.
type Config struct {
	Limit    int           `env:"RATE_LIMIT" envDefault:"30"`
	Interval time.Duration `env:"RATE_LIMIT_INTERVAL" envDefault:"1m"`
}

// Result describes the state of a key's window after a request.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Store counts requests per key within expiring windows. Implementations
// must attach a TTL to each window so abandoned keys cannot accumulate -
// this replaces in-process counter maps, which break down across instances.
type Store interface {
	// Incr increments the counter for key and returns the new count along
	// with the window's expiry.
	Incr(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

// Limiter applies a fixed-window rate limit backed by a shared store.
type Limiter struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Limiter{store: store, cfg: cfg}, nil
}

// Allow consumes one request from the key's window.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	count, resetAt, err := l.store.Incr(ctx, key, l.cfg.Interval)
	if err != nil {
		return nil, err
	}

	remaining := max(l.cfg.Limit-count, 0)
	return &Result{
		Allowed:   count <= l.cfg.Limit,
		Limit:     l.cfg.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
