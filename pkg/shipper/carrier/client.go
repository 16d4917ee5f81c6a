// Package carrier provides the rate client shared by every carrier integration.
//
// A Client calls its carrier's live rate API when credentials are configured and
// otherwise prices the request locally with the carrier's fallback tiers.
package carrier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tournevent/ratequote/pkg/pricing"
	"github.com/tournevent/ratequote/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/tournevent/ratequote/pkg/shipper/carrier"

// Config holds one carrier's live API configuration.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
	// FallbackOnError prices locally when the live API fails instead of reporting
	// the carrier unavailable.
	FallbackOnError bool
	Breaker         BreakerConfig
}

// HasCredentials reports whether the live API can be called.
func (c Config) HasCredentials() bool {
	return c.APIKey != "" && c.BaseURL != ""
}

// Client is a carrier rate client.
// It implements the shipper.Shipper interface and keeps no per-request state.
type Client struct {
	profile Profile
	config  Config
	api     RateAPI
	breaker *Breaker
	logger  *otelzap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a client for profile. Without credentials it never leaves the process.
func New(profile Profile, cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var api RateAPI
	if cfg.HasCredentials() {
		api = NewHTTPRateAPI(HTTPRateAPIConfig{
			Carrier:   profile.ID,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Timeout:   cfg.Timeout,
		})
	}
	return NewWithAPI(profile, cfg, api, logger, tracer)
}

// NewWithAPI creates a client with a custom rate API. A nil api selects fallback pricing.
// This is useful for injecting mock clients in tests.
func NewWithAPI(profile Profile, cfg Config, api RateAPI, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	c := &Client{
		profile: profile,
		config:  cfg,
		api:     api,
		logger:  logger,
		tracer:  tracer,
		now:     time.Now,
	}
	if api != nil {
		c.breaker = NewBreaker(profile.ID, cfg.Breaker, logger)
	}
	return c
}

// Name returns the carrier identifier.
func (c *Client) Name() string {
	return c.profile.ID
}

// DisplayName returns the carrier's human-readable name.
func (c *Client) DisplayName() string {
	return c.profile.DisplayName
}

// Live reports whether the client calls a live rate API.
func (c *Client) Live() bool {
	return c.api != nil
}

// GetQuote returns the carrier's offer for req.
func (c *Client) GetQuote(ctx context.Context, req shipper.QuoteRequest) (*shipper.CarrierQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tier := c.profile.TierFor(req)
	ctx, span := c.tracer.Start(ctx, "carrier.GetQuote", trace.WithAttributes(
		attribute.String("carrier", c.profile.ID),
		attribute.String("service_code", tier.Code),
		attribute.Bool("live", c.Live()),
	))
	defer span.End()

	if c.api == nil {
		return c.fallback(req, tier), nil
	}

	c.logger.Ctx(ctx).Info("Getting carrier rates",
		zap.String("carrier", c.profile.ID),
		zap.String("origin_city", req.Origin.City),
		zap.String("destination_city", req.Destination.City),
		zap.String("service_code", tier.Code),
	)

	resp, err := c.breaker.GetRates(ctx, c.api, toRatesRequest(c.profile, tier, req))
	if err == nil {
		var q *shipper.CarrierQuote
		if q, err = c.normalize(resp, tier); err == nil {
			return q, nil
		}
	}

	span.RecordError(err)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if c.config.FallbackOnError {
		c.logger.Ctx(ctx).Warn("Carrier API failed, using fallback pricing",
			zap.String("carrier", c.profile.ID), zap.Error(err))
		return c.fallback(req, tier), nil
	}
	c.logger.Ctx(ctx).Error("Carrier API error", zap.String("carrier", c.profile.ID), zap.Error(err))
	return nil, err
}

// fallback prices req with the local model.
func (c *Client) fallback(req shipper.QuoteRequest, tier pricing.Tier) *shipper.CarrierQuote {
	est := pricing.CarrierEstimate(req, tier)
	now := c.now()
	delivery := now.AddDate(0, 0, est.TransitDays)

	fees := make(map[string]shipper.Money, len(est.Breakdown))
	for name, amount := range est.Breakdown {
		fees[name] = shipper.NewMoney(amount, pricing.DefaultCurrency)
	}

	return &shipper.CarrierQuote{
		RateID:            uuid.New().String(),
		CarrierID:         c.profile.ID,
		CarrierName:       c.profile.DisplayName,
		ServiceCode:       tier.Code,
		ServiceName:       tier.Name,
		TotalCost:         shipper.NewMoney(est.Cost, pricing.DefaultCurrency),
		Fees:              fees,
		TransitDays:       est.TransitDays,
		EstimatedDelivery: &delivery,
		Available:         true,
		Source:            shipper.SourceFallback,
		QuotedAt:          now,
	}
}

// normalize picks the rate for tier, or the cheapest one, and converts it.
func (c *Client) normalize(resp *RatesResponse, tier pricing.Tier) (*shipper.CarrierQuote, error) {
	if len(resp.Rates) == 0 {
		return nil, shipper.NewShipperError(c.profile.ID, "NO_RATES", "carrier returned no rates").
			WithCause(shipper.ErrMalformedResponse)
	}

	chosen := pickRate(resp.Rates, tier.Code)

	if chosen.TotalPrice.IsNegative() || chosen.Currency == "" {
		return nil, shipper.NewShipperError(c.profile.ID, "INVALID_RATE",
			fmt.Sprintf("unusable rate %s %s", chosen.TotalPrice, chosen.Currency)).
			WithCause(shipper.ErrMalformedResponse)
	}

	now := c.now()
	var delivery *time.Time
	if chosen.EstimatedDelivery != "" {
		if t, err := time.Parse("2006-01-02", chosen.EstimatedDelivery); err == nil {
			delivery = &t
		}
	}
	if delivery == nil && chosen.TransitDays > 0 {
		t := now.AddDate(0, 0, chosen.TransitDays)
		delivery = &t
	}

	fees := map[string]shipper.Money{}
	addFee := func(name string, amount decimal.Decimal) {
		if !amount.IsZero() {
			fees[name] = shipper.NewMoney(amount, chosen.Currency)
		}
	}
	addFee("base", chosen.BaseRate)
	addFee("fuel_surcharge", chosen.FuelSurcharge)
	for _, s := range chosen.Surcharges {
		addFee(s.Code, s.Amount)
	}
	addFee("tax", chosen.TotalTax)

	serviceName := chosen.ServiceName
	if serviceName == "" {
		serviceName = chosen.ServiceCode
	}

	return &shipper.CarrierQuote{
		RateID:            chosen.ID,
		CarrierID:         c.profile.ID,
		CarrierName:       c.profile.DisplayName,
		ServiceCode:       chosen.ServiceCode,
		ServiceName:       serviceName,
		TotalCost:         shipper.NewMoney(chosen.TotalPrice, chosen.Currency),
		Fees:              fees,
		TransitDays:       chosen.TransitDays,
		EstimatedDelivery: delivery,
		Available:         true,
		Source:            shipper.SourceAPI,
		QuotedAt:          now,
	}, nil
}

// pickRate returns the rate for serviceCode, or the cheapest rate when the
// carrier did not offer that service.
func pickRate(rates []Rate, serviceCode string) Rate {
	cheapest := rates[0]
	for _, r := range rates {
		if r.ServiceCode == serviceCode {
			return r
		}
		if r.TotalPrice.LessThan(cheapest.TotalPrice) {
			cheapest = r
		}
	}
	return cheapest
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func toRatesRequest(p Profile, tier pricing.Tier, req shipper.QuoteRequest) *RatesRequest {
	packaging := PackagingInfo{
		Count:  req.PackageCount,
		Weight: req.WeightLB(),
	}
	if packaging.Count == 0 {
		packaging.Count = 1
	}
	if req.Dimensions.Complete() {
		packaging.Length, packaging.Width, packaging.Height = req.Dimensions.Inches()
	}

	out := &RatesRequest{
		Carrier:      p.ID,
		ServiceCode:  tier.Code,
		ShipmentType: string(req.ShipmentType),
		Origin:       addressToLocation(req.Origin),
		Destination:  addressToLocation(req.Destination),
		Packaging:    packaging,
		Instructions: req.SpecialInstructions,
	}
	if req.DeclaredValue != nil {
		v := req.DeclaredValue.Amount
		out.DeclaredValue = &v
		out.Currency = req.DeclaredValue.Currency
	}
	return out
}

func addressToLocation(addr shipper.Address) Location {
	return Location{
		Name:        addr.Name,
		Company:     addr.Company,
		Address1:    addr.Line1,
		Address2:    addr.Line2,
		City:        addr.City,
		Region:      addr.State,
		PostalCode:  addr.PostalCode,
		Country:     addr.Country(),
		Residential: addr.IsResidential,
	}
}

// Ensure Client implements shipper.Shipper interface
var _ shipper.Shipper = (*Client)(nil)
