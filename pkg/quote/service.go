package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/tournevent/ratequote/pkg/pricing"
	"github.com/tournevent/ratequote/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Aggregator collects ranked carrier offers for a request.
type Aggregator interface {
	Aggregate(ctx context.Context, req shipper.QuoteRequest) (*shipper.Aggregation, error)
}

// Estimate is the blended quick-quote answer, computed without carrier fan-out.
type Estimate struct {
	Cost        shipper.Money            `json:"estimatedCost"`
	TransitDays int                      `json:"estimatedTransitDays"`
	Breakdown   map[string]shipper.Money `json:"breakdown"`
	ValidUntil  time.Time                `json:"validUntil"`
}

// Service rates requests and tracks the resulting quotes.
type Service struct {
	lifecycle  *Lifecycle
	aggregator Aggregator
	store      Store
	logger     *otelzap.Logger
}

// NewService creates a quote service.
func NewService(lifecycle *Lifecycle, aggregator Aggregator, store Store, logger *otelzap.Logger) *Service {
	return &Service{
		lifecycle:  lifecycle,
		aggregator: aggregator,
		store:      store,
		logger:     logger,
	}
}

// Quote validates req, fans it out to the eligible carriers and stores the
// resulting QUOTED quote. Zero offers is a successful result.
func (s *Service) Quote(ctx context.Context, req shipper.QuoteRequest) (ShippingQuote, error) {
	if err := shipper.Validate(req); err != nil {
		return ShippingQuote{}, err
	}

	q := s.lifecycle.NewQuote(req)

	agg, err := s.aggregator.Aggregate(ctx, q.Request)
	if err != nil {
		s.logger.Ctx(ctx).Error("Quote aggregation failed",
			zap.String("quote_number", q.Number),
			zap.Error(err),
		)
		return ShippingQuote{}, fmt.Errorf("failed to rate quote %s: %w", q.Number, err)
	}

	q = s.lifecycle.AttachResults(q, agg.Quotes)
	q.Unavailable = agg.Unavailable

	if err := s.store.Save(ctx, q); err != nil {
		return ShippingQuote{}, fmt.Errorf("failed to save quote %s: %w", q.Number, err)
	}

	s.logger.Ctx(ctx).Info("Quote created",
		zap.String("quote_number", q.Number),
		zap.Int("offers", len(q.CarrierQuotes)),
		zap.Int("unavailable", len(q.Unavailable)),
	)
	return q, nil
}

// QuickQuote prices req with the blended model. Nothing is stored.
func (s *Service) QuickQuote(ctx context.Context, req shipper.QuoteRequest) (Estimate, error) {
	if err := shipper.Validate(req); err != nil {
		return Estimate{}, err
	}

	est := pricing.QuickEstimate(req)
	breakdown := make(map[string]shipper.Money, len(est.Breakdown))
	for name, amount := range est.Breakdown {
		breakdown[name] = shipper.NewMoney(amount, pricing.DefaultCurrency)
	}

	s.logger.Ctx(ctx).Debug("Quick quote computed",
		zap.String("shipment_type", string(req.ShipmentType)),
		zap.String("cost", est.Cost.StringFixed(2)),
	)
	return Estimate{
		Cost:        shipper.NewMoney(est.Cost, pricing.DefaultCurrency),
		TransitDays: est.TransitDays,
		Breakdown:   breakdown,
		ValidUntil:  s.lifecycle.Now().Add(ValidityWindow),
	}, nil
}

// Get returns the stored quote with its status evaluated at the current time.
func (s *Service) Get(ctx context.Context, number string) (ShippingQuote, error) {
	q, err := s.store.Get(ctx, number)
	if err != nil {
		return ShippingQuote{}, err
	}
	q.Status = q.EffectiveStatus(s.lifecycle.Now())
	return q, nil
}

// Select records the consumer's carrier choice on a stored quote.
func (s *Service) Select(ctx context.Context, number, carrierID string) (ShippingQuote, error) {
	return s.update(ctx, number, func(q ShippingQuote) (ShippingQuote, error) {
		return s.lifecycle.Select(q, carrierID)
	})
}

// Cancel withdraws a stored quote.
func (s *Service) Cancel(ctx context.Context, number string) (ShippingQuote, error) {
	return s.update(ctx, number, s.lifecycle.Cancel)
}

func (s *Service) update(ctx context.Context, number string, apply func(ShippingQuote) (ShippingQuote, error)) (ShippingQuote, error) {
	q, err := s.store.Get(ctx, number)
	if err != nil {
		return ShippingQuote{}, err
	}

	next, err := apply(q)
	if err != nil {
		return ShippingQuote{}, err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return ShippingQuote{}, fmt.Errorf("failed to save quote %s: %w", number, err)
	}

	s.logger.Ctx(ctx).Info("Quote updated",
		zap.String("quote_number", number),
		zap.String("status", string(next.Status)),
	)
	return next, nil
}
