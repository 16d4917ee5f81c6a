// Package mock provides a scriptable shipper implementation for testing.
package mock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tournevent/ratequote/pkg/shipper"
)

// Client is a mock shipper for testing. Its behaviour is set with options.
type Client struct {
	name        string
	displayName string
	cost        decimal.Decimal
	currency    string
	transitDays int
	latency     time.Duration
	err         error
	hang        bool
	panicValue  any
	unavailable string
	calls       atomic.Int32
	lastRequest atomic.Pointer[shipper.QuoteRequest]
}

// Option configures a mock client.
type Option func(*Client)

// WithCost sets the quoted total.
func WithCost(amount string) Option {
	return func(c *Client) { c.cost = decimal.RequireFromString(amount) }
}

// WithTransitDays sets the quoted transit time.
func WithTransitDays(days int) Option {
	return func(c *Client) { c.transitDays = days }
}

// WithLatency delays the answer. The delay honours context cancellation.
func WithLatency(d time.Duration) Option {
	return func(c *Client) { c.latency = d }
}

// WithError makes every call fail with err.
func WithError(err error) Option {
	return func(c *Client) { c.err = err }
}

// WithHang makes the call block for the latency, ignoring its context.
func WithHang() Option {
	return func(c *Client) { c.hang = true }
}

// WithPanic makes the call panic with v.
func WithPanic(v any) Option {
	return func(c *Client) { c.panicValue = v }
}

// WithUnavailable makes the carrier answer with an unavailable record.
func WithUnavailable(reason string) Option {
	return func(c *Client) { c.unavailable = reason }
}

// New creates a new mock shipper.
func New(name string, opts ...Option) *Client {
	c := &Client{
		name:        name,
		displayName: fmt.Sprintf("Mock %s", name),
		cost:        decimal.NewFromInt(10),
		currency:    "USD",
		transitDays: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return c.name
}

// DisplayName returns the human-readable carrier name.
func (c *Client) DisplayName() string {
	return c.displayName
}

// Calls returns how many times GetQuote was invoked.
func (c *Client) Calls() int {
	return int(c.calls.Load())
}

// LastRequest returns the request seen by the most recent call.
func (c *Client) LastRequest() *shipper.QuoteRequest {
	return c.lastRequest.Load()
}

// GetQuote returns the scripted quote.
func (c *Client) GetQuote(ctx context.Context, req shipper.QuoteRequest) (*shipper.CarrierQuote, error) {
	c.calls.Add(1)
	c.lastRequest.Store(&req)

	if c.panicValue != nil {
		panic(c.panicValue)
	}

	if c.latency > 0 {
		if c.hang {
			time.Sleep(c.latency)
		} else {
			timer := time.NewTimer(c.latency)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	if c.err != nil {
		return nil, c.err
	}

	now := time.Now()
	if c.unavailable != "" {
		q := shipper.UnavailableQuote(c.name, c.displayName, c.unavailable, now)
		return &q, nil
	}

	delivery := now.AddDate(0, 0, c.transitDays)
	return &shipper.CarrierQuote{
		RateID:            fmt.Sprintf("%s-rate-%d", c.name, now.UnixNano()),
		CarrierID:         c.name,
		CarrierName:       c.displayName,
		ServiceCode:       "STANDARD",
		ServiceName:       fmt.Sprintf("%s Standard", c.displayName),
		TotalCost:         shipper.NewMoney(c.cost, c.currency),
		TransitDays:       c.transitDays,
		EstimatedDelivery: &delivery,
		Available:         true,
		Source:            shipper.SourceAPI,
		QuotedAt:          now,
	}, nil
}
