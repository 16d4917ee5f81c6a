// Package store persists shipping quotes in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tournevent/ratequote/pkg/quote"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	keyPrefix = "quote:"

	// DefaultRetention keeps a quote readable for a while after its validity window closes.
	DefaultRetention = 24 * time.Hour
)

// Client is the subset of the go-redis API used by RedisStore.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Config holds Redis connection settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	Retention   time.Duration
}

// RedisStore stores quotes as JSON documents keyed by quote number.
// Keys expire once the quote's validity window plus the retention period has passed.
type RedisStore struct {
	client    Client
	retention time.Duration
	now       func() time.Time
	logger    *otelzap.Logger
}

// Option customizes a RedisStore.
type Option func(*RedisStore)

// WithClock overrides the time source used to compute key expiry.
func WithClock(now func() time.Time) Option {
	return func(s *RedisStore) { s.now = now }
}

// Connect dials Redis, verifies the connection and returns a store backed by it.
func Connect(ctx context.Context, cfg Config, logger *otelzap.Logger) (*RedisStore, *redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil, fmt.Errorf("redis address is required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Addr))
	return New(rdb, cfg.Retention, logger), rdb, nil
}

// New creates a store on an existing client. A zero retention uses DefaultRetention.
func New(client Client, retention time.Duration, logger *otelzap.Logger, opts ...Option) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &RedisStore{
		client:    client,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the Redis key for a quote number.
func Key(number string) string {
	return keyPrefix + number
}

// TTL returns how long q is kept.
func (s *RedisStore) TTL(q quote.ShippingQuote) time.Duration {
	remaining := q.ValidUntil.Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining + s.retention
}

// Save writes q under its quote number.
func (s *RedisStore) Save(ctx context.Context, q quote.ShippingQuote) error {
	if q.Number == "" {
		return fmt.Errorf("quote number is required")
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode quote %s: %w", q.Number, err)
	}
	if err := s.client.Set(ctx, Key(q.Number), raw, s.TTL(q)).Err(); err != nil {
		s.logger.Ctx(ctx).Error("Failed to save quote",
			zap.String("quote_number", q.Number),
			zap.Error(err),
		)
		return fmt.Errorf("redis set %s: %w", q.Number, err)
	}
	return nil
}

// Get loads the quote stored under number.
func (s *RedisStore) Get(ctx context.Context, number string) (quote.ShippingQuote, error) {
	raw, err := s.client.Get(ctx, Key(number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return quote.ShippingQuote{}, fmt.Errorf("%w: %s", quote.ErrQuoteNotFound, number)
	}
	if err != nil {
		return quote.ShippingQuote{}, fmt.Errorf("redis get %s: %w", number, err)
	}

	var q quote.ShippingQuote
	if err := json.Unmarshal(raw, &q); err != nil {
		return quote.ShippingQuote{}, fmt.Errorf("failed to decode quote %s: %w", number, err)
	}
	return q, nil
}

// Ensure RedisStore implements quote.Store interface
var _ quote.Store = (*RedisStore)(nil)
