package shipper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/tournevent/ratequote/pkg/shipper"

// Default aggregation limits.
const (
	DefaultCarrierTimeout = 10 * time.Second
	DefaultBackstopGrace  = 2 * time.Second
	DefaultMaxFanOut      = 16
)

// Observer receives per-dispatch and per-aggregation measurements.
type Observer interface {
	ObserveDispatch(carrier string, kind OutcomeKind, err error, duration time.Duration)
	ObserveAggregation(eligible, quoted int, duration time.Duration)
}

// AggregatorConfig holds the fan-out limits.
type AggregatorConfig struct {
	// CarrierTimeout bounds each carrier call.
	CarrierTimeout time.Duration
	// BackstopGrace is how long past CarrierTimeout the join waits for a carrier
	// that ignores its deadline.
	BackstopGrace time.Duration
	// MaxFanOut caps concurrent dispatches for one request.
	MaxFanOut int
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.CarrierTimeout <= 0 {
		c.CarrierTimeout = DefaultCarrierTimeout
	}
	if c.BackstopGrace <= 0 {
		c.BackstopGrace = DefaultBackstopGrace
	}
	if c.MaxFanOut <= 0 {
		c.MaxFanOut = DefaultMaxFanOut
	}
	return c
}

// Aggregation is the result of one fan-out.
type Aggregation struct {
	// Eligible lists the carriers that were dispatched.
	Eligible []string
	// Quotes holds the ranked available offers.
	Quotes []CarrierQuote
	// Unavailable holds the diagnostic records of carriers that produced no offer.
	Unavailable []CarrierQuote
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

// WithObserver reports dispatch measurements to o.
func WithObserver(o Observer) AggregatorOption {
	return func(a *Aggregator) { a.observer = o }
}

// WithTracer sets the tracer used for aggregation spans.
func WithTracer(t trace.Tracer) AggregatorOption {
	return func(a *Aggregator) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithClock overrides the time source used to stamp diagnostic records.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator fans a quote request out to every eligible carrier and ranks the offers.
// It holds no per-request state and is safe for concurrent use.
type Aggregator struct {
	registry *Registry
	policy   *Policy
	cfg      AggregatorConfig
	logger   *otelzap.Logger
	tracer   trace.Tracer
	observer Observer
	now      func() time.Time
}

// NewAggregator creates an aggregator over the registered carriers.
func NewAggregator(registry *Registry, policy *Policy, cfg AggregatorConfig, logger *otelzap.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		registry: registry,
		policy:   policy,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetAllQuotes returns the ranked available quotes for req.
// An empty list is a valid result; an error is returned only for aggregation faults
// or when ctx ends before the carriers are joined.
func (a *Aggregator) GetAllQuotes(ctx context.Context, req QuoteRequest) ([]CarrierQuote, error) {
	agg, err := a.Aggregate(ctx, req)
	if err != nil {
		return nil, err
	}
	return agg.Quotes, nil
}

// Aggregate is GetAllQuotes with the unavailable diagnostics kept.
func (a *Aggregator) Aggregate(ctx context.Context, req QuoteRequest) (*Aggregation, error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "shipper.Aggregate",
		trace.WithAttributes(attribute.String("shipment.type", string(req.ShipmentType))))
	defer span.End()

	shippers, err := a.eligible(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	names := make([]string, len(shippers))
	for i, s := range shippers {
		names[i] = s.Name()
	}
	span.SetAttributes(attribute.StringSlice("carriers.eligible", names))

	agg := &Aggregation{
		Eligible:    names,
		Quotes:      []CarrierQuote{},
		Unavailable: []CarrierQuote{},
	}
	if len(shippers) == 0 {
		a.logger.Ctx(ctx).Info("No eligible carriers for request",
			zap.String("shipment_type", string(req.ShipmentType)),
			zap.String("origin_country", req.Origin.Country()),
			zap.String("destination_country", req.Destination.Country()),
		)
		a.observeAggregation(0, 0, time.Since(start))
		return agg, nil
	}

	outcomes, err := a.fanOut(ctx, req, shippers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	quoted := make([]CarrierQuote, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Kind == OutcomeQuoted {
			quoted = append(quoted, o.Quote)
		} else {
			agg.Unavailable = append(agg.Unavailable, o.Quote)
		}
	}
	agg.Quotes = Rank(quoted)
	sort.Slice(agg.Unavailable, func(i, j int) bool {
		return agg.Unavailable[i].CarrierID < agg.Unavailable[j].CarrierID
	})

	span.SetAttributes(
		attribute.Int("quotes.available", len(agg.Quotes)),
		attribute.Int("quotes.unavailable", len(agg.Unavailable)),
	)
	a.logger.Ctx(ctx).Info("Aggregated carrier quotes",
		zap.Int("eligible", len(shippers)),
		zap.Int("available", len(agg.Quotes)),
		zap.Int("unavailable", len(agg.Unavailable)),
		zap.Duration("duration", time.Since(start)),
	)
	a.observeAggregation(len(shippers), len(agg.Quotes), time.Since(start))
	return agg, nil
}

// eligible resolves policy, registry and the caller's carrier restriction.
func (a *Aggregator) eligible(req QuoteRequest) (shippers []Shipper, err error) {
	defer func() {
		if r := recover(); r != nil {
			shippers = nil
			err = &FatalError{Op: "eligibility", Err: fmt.Errorf("%w: %v", ErrPolicyFault, r)}
		}
	}()
	if a.policy == nil || a.registry == nil {
		return nil, &FatalError{Op: "eligibility", Err: fmt.Errorf("%w: aggregator is not configured", ErrPolicyFault)}
	}

	names := a.policy.EligibleCarriers(req)
	if len(req.Carriers) > 0 {
		allowed := make(map[string]struct{}, len(req.Carriers))
		for _, c := range req.Carriers {
			allowed[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
		}
		filtered := names[:0:0]
		for _, n := range names {
			if _, ok := allowed[n]; ok {
				filtered = append(filtered, n)
			}
		}
		names = filtered
	}
	return a.registry.Lookup(names), nil
}

// fanOut dispatches every shipper concurrently and joins them with a backstop.
// At most MaxFanOut dispatches run at once; the rest wait for a free slot.
// Each carrier is recorded exactly once, by the join.
func (a *Aggregator) fanOut(ctx context.Context, req QuoteRequest, shippers []Shipper) ([]Outcome, error) {
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Outcome, len(shippers))
	pending := make(map[string]Shipper, len(shippers))
	for _, s := range shippers {
		pending[s.Name()] = s
	}

	go a.launch(dispatchCtx, req, shippers, results)

	backstop := time.NewTimer(a.backstopAfter(len(shippers)))
	defer backstop.Stop()

	start := time.Now()
	outcomes := make([]Outcome, 0, len(shippers))
	for received := 0; received < len(shippers); received++ {
		select {
		case o := <-results:
			if o.Kind == OutcomeFatal {
				a.logger.Ctx(ctx).Error("Carrier dispatch could not be scheduled",
					zap.String("carrier", o.Carrier), zap.Error(o.Err))
				return nil, &FatalError{Op: "dispatch", Err: o.Err}
			}
			delete(pending, o.Carrier)
			a.record(ctx, o)
			outcomes = append(outcomes, o)

		case <-ctx.Done():
			return nil, fmt.Errorf("aggregation aborted: %w", ctx.Err())

		case <-backstop.C:
			for name, s := range pending {
				o := Unavailable(name, s.DisplayName(), ErrDeadlineIgnored, a.now(), time.Since(start))
				a.record(ctx, o)
				outcomes = append(outcomes, o)
			}
			return outcomes, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregation aborted: %w", err)
	}
	return outcomes, nil
}

// launch starts one dispatch per shipper under the fan-out limit. It stops
// starting new dispatches once ctx ends. results must have room for every shipper.
func (a *Aggregator) launch(ctx context.Context, req QuoteRequest, shippers []Shipper, results chan<- Outcome) {
	started := 0
	defer func() {
		if r := recover(); r != nil && started == 0 {
			results <- Fatal("", fmt.Errorf("%w: %v", ErrFanOutRejected, r))
		}
	}()

	g := new(errgroup.Group)
	g.SetLimit(a.cfg.MaxFanOut)
	for _, s := range shippers {
		if ctx.Err() != nil {
			return
		}
		s := s
		own := req.Clone()
		g.Go(func() error {
			results <- a.dispatch(ctx, s, own)
			return nil
		})
		started++
	}
}

// backstopAfter is how long the join waits for n carriers: one CarrierTimeout per
// wave of MaxFanOut dispatches, plus the grace.
func (a *Aggregator) backstopAfter(n int) time.Duration {
	waves := (n + a.cfg.MaxFanOut - 1) / a.cfg.MaxFanOut
	if waves < 1 {
		waves = 1
	}
	return time.Duration(waves)*a.cfg.CarrierTimeout + a.cfg.BackstopGrace
}

// dispatch runs one carrier call in isolation. It never panics and never returns
// before the carrier call has finished or its deadline has passed.
func (a *Aggregator) dispatch(ctx context.Context, s Shipper, req QuoteRequest) (out Outcome) {
	name := s.Name()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.CarrierTimeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "shipper.Dispatch",
		trace.WithAttributes(attribute.String("carrier", name)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			out = Unavailable(name, s.DisplayName(), fmt.Errorf("%w: carrier panicked: %v", ErrMalformedResponse, r), a.now(), time.Since(start))
		}
		if out.Kind != OutcomeQuoted {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Quote.ErrorMessage)
		}
	}()

	if err := ctx.Err(); err != nil {
		return Unavailable(name, s.DisplayName(), err, a.now(), time.Since(start))
	}

	q, err := s.GetQuote(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return Unavailable(name, s.DisplayName(), err, a.now(), elapsed)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Unavailable(name, s.DisplayName(), fmt.Errorf("quote arrived after deadline: %w", ctxErr), a.now(), elapsed)
	}
	if q == nil {
		return Unavailable(name, s.DisplayName(), fmt.Errorf("%w: empty quote", ErrMalformedResponse), a.now(), elapsed)
	}
	if !q.Available {
		reason := q.ErrorMessage
		if reason == "" {
			reason = "carrier reported no offer"
		}
		return Unavailable(name, s.DisplayName(), errors.New(reason), a.now(), elapsed)
	}
	if err := checkQuote(*q); err != nil {
		return Unavailable(name, s.DisplayName(), err, a.now(), elapsed)
	}

	normalized := *q
	normalized.CarrierID = name
	if normalized.CarrierName == "" {
		normalized.CarrierName = s.DisplayName()
	}
	if normalized.QuotedAt.IsZero() {
		normalized.QuotedAt = a.now()
	}
	span.SetAttributes(
		attribute.String("quote.total", normalized.TotalCost.Amount.StringFixed(2)),
		attribute.Int("quote.transit_days", normalized.TransitDays),
	)
	return Quoted(name, normalized, elapsed)
}

// checkQuote rejects offers that cannot be ranked.
func checkQuote(q CarrierQuote) error {
	switch {
	case q.TotalCost.Amount.IsNegative():
		return fmt.Errorf("%w: negative total cost %s", ErrMalformedResponse, q.TotalCost.Amount)
	case q.TotalCost.Currency == "":
		return fmt.Errorf("%w: missing currency", ErrMalformedResponse)
	case q.TransitDays < 0:
		return fmt.Errorf("%w: negative transit days %d", ErrMalformedResponse, q.TransitDays)
	}
	return nil
}

func (a *Aggregator) record(ctx context.Context, o Outcome) {
	if o.Kind == OutcomeQuoted {
		a.logger.Ctx(ctx).Debug("Carrier quote received",
			zap.String("carrier", o.Carrier),
			zap.String("total", o.Quote.TotalCost.String()),
			zap.Int("transit_days", o.Quote.TransitDays),
			zap.Duration("duration", o.Duration),
		)
	} else {
		a.logger.Ctx(ctx).Warn("Carrier quote unavailable",
			zap.String("carrier", o.Carrier),
			zap.String("error_type", ErrorType(o.Err)),
			zap.Error(o.Err),
			zap.Duration("duration", o.Duration),
		)
	}
	if a.observer != nil {
		a.observer.ObserveDispatch(o.Carrier, o.Kind, o.Err, o.Duration)
	}
}

func (a *Aggregator) observeAggregation(eligible, quoted int, d time.Duration) {
	if a.observer != nil {
		a.observer.ObserveAggregation(eligible, quoted, d)
	}
}
