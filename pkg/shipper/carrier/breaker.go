package carrier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tournevent/ratequote/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// BreakerConfig holds configuration for a carrier's circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        // requests allowed in half-open state
	Interval         time.Duration // cyclic period to clear counts in closed state, 0 never clears
	Timeout          time.Duration // open period before half-open
	FailureThreshold uint32        // consecutive failures that trip the breaker
}

// DefaultBreakerConfig returns the breaker settings used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker guards one carrier's rate API.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	carrier string
	logger  *otelzap.Logger
}

// NewBreaker creates a circuit breaker for carrier.
func NewBreaker(carrier string, cfg BreakerConfig, logger *otelzap.Logger) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultBreakerConfig()
	}

	settings := gobreaker.Settings{
		Name:        carrier,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Caller cancellation is not counted against the carrier.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("carrier", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Breaker{
		cb:      gobreaker.NewCircuitBreaker(settings),
		carrier: carrier,
		logger:  logger,
	}
}

// GetRates runs one rate call through the breaker.
func (b *Breaker) GetRates(ctx context.Context, api RateAPI, req *RatesRequest) (*RatesResponse, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return api.GetRates(ctx, req)
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		b.logger.Ctx(ctx).Warn("Circuit breaker is open", zap.String("carrier", b.carrier))
		return nil, fmt.Errorf("%w: circuit breaker open for %s", shipper.ErrServiceUnavailable, b.carrier)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		b.logger.Ctx(ctx).Warn("Circuit breaker: too many requests", zap.String("carrier", b.carrier))
		return nil, fmt.Errorf("%w: too many requests for %s", shipper.ErrServiceUnavailable, b.carrier)
	case err != nil:
		return nil, err
	}

	resp, ok := result.(*RatesResponse)
	if !ok || resp == nil {
		return nil, fmt.Errorf("%w: empty rates response from %s", shipper.ErrMalformedResponse, b.carrier)
	}
	return resp, nil
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
