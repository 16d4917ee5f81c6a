package shipper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/ratequote/pkg/pricing"
	"github.com/tournevent/ratequote/pkg/shipper"
	"github.com/tournevent/ratequote/pkg/shipper/carrier"
	"github.com/tournevent/ratequote/pkg/shipper/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type recordingObserver struct {
	mu         sync.Mutex
	dispatches map[string]shipper.OutcomeKind
	calls      map[string]int
	eligible   int
	quoted     int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{dispatches: make(map[string]shipper.OutcomeKind), calls: make(map[string]int)}
}

func (o *recordingObserver) ObserveDispatch(carrier string, kind shipper.OutcomeKind, _ error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatches[carrier] = kind
	o.calls[carrier]++
}

func (o *recordingObserver) callCounts() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	counts := make(map[string]int, len(o.calls))
	for k, v := range o.calls {
		counts[k] = v
	}
	return counts
}

func (o *recordingObserver) ObserveAggregation(eligible, quoted int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.eligible = eligible
	o.quoted = quoted
}

func openRules(names ...string) []shipper.Rule {
	rules := make([]shipper.Rule, len(names))
	for i, n := range names {
		rules[i] = shipper.Rule{Carrier: n}
	}
	return rules
}

func newAggregator(t *testing.T, cfg shipper.AggregatorConfig, shippers []shipper.Shipper, opts ...shipper.AggregatorOption) *shipper.Aggregator {
	t.Helper()
	registry := shipper.NewRegistry()
	names := make([]string, 0, len(shippers))
	for _, s := range shippers {
		registry.Register(s)
		names = append(names, s.Name())
	}
	policy := shipper.NewPolicy("US", openRules(names...))
	return shipper.NewAggregator(registry, policy, cfg, otelzap.New(zap.NewNop()), opts...)
}

func carrierNames(quotes []shipper.CarrierQuote) []string {
	names := make([]string, len(quotes))
	for i, q := range quotes {
		names[i] = q.CarrierID
	}
	return names
}

func TestAggregator_AllSucceed_Ranked(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{
		mock.New("alpha", mock.WithCost("30.00"), mock.WithTransitDays(2)),
		mock.New("bravo", mock.WithCost("10.00"), mock.WithTransitDays(3)),
		mock.New("charlie", mock.WithCost("20.00"), mock.WithTransitDays(1)),
		mock.New("delta", mock.WithCost("10.00"), mock.WithTransitDays(1)),
	})

	quotes, err := agg.GetAllQuotes(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Equal(t, []string{"delta", "bravo", "charlie", "alpha"}, carrierNames(quotes))
	for i := 1; i < len(quotes); i++ {
		prev, cur := quotes[i-1], quotes[i]
		assert.True(t, prev.TotalCost.Amount.LessThanOrEqual(cur.TotalCost.Amount))
		if prev.TotalCost.Amount.Equal(cur.TotalCost.Amount) {
			assert.LessOrEqual(t, prev.TransitDays, cur.TransitDays)
		}
	}
}

func TestAggregator_TieBreakByCarrierID(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{
		mock.New("zulu", mock.WithCost("10.00"), mock.WithTransitDays(2)),
		mock.New("echo", mock.WithCost("10.00"), mock.WithTransitDays(2)),
	})

	quotes, err := agg.GetAllQuotes(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "zulu"}, carrierNames(quotes))
}

func TestAggregator_OneFailure(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{
		mock.New("alpha", mock.WithCost("30.00")),
		mock.New("bravo", mock.WithError(shipper.ErrServiceUnavailable)),
		mock.New("charlie", mock.WithCost("20.00")),
	})

	result, err := agg.Aggregate(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Equal(t, []string{"charlie", "alpha"}, carrierNames(result.Quotes))
	require.Len(t, result.Unavailable, 1)
	assert.Equal(t, "bravo", result.Unavailable[0].CarrierID)
	assert.False(t, result.Unavailable[0].Available)
	assert.Contains(t, result.Unavailable[0].ErrorMessage, "service unavailable")
}

func TestAggregator_CarrierTimeout(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{CarrierTimeout: 50 * time.Millisecond}, []shipper.Shipper{
		mock.New("alpha", mock.WithCost("30.00")),
		mock.New("slow", mock.WithCost("1.00"), mock.WithLatency(5*time.Second)),
		mock.New("charlie", mock.WithCost("20.00")),
	})

	start := time.Now()
	result, err := agg.Aggregate(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"charlie", "alpha"}, carrierNames(result.Quotes))
	require.Len(t, result.Unavailable, 1)
	assert.Equal(t, "slow", result.Unavailable[0].CarrierID)
	assert.Contains(t, result.Unavailable[0].ErrorMessage, "deadline exceeded")
}

func TestAggregator_AllFail_EmptyNotError(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{
		mock.New("alpha", mock.WithError(errors.New("boom"))),
		mock.New("bravo", mock.WithUnavailable("lane not served")),
	})

	quotes, err := agg.GetAllQuotes(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.NotNil(t, quotes)
	assert.Empty(t, quotes)
}

func TestAggregator_NoEligibleCarriers(t *testing.T) {
	registry := shipper.NewRegistry()
	registry.Register(mock.New("unlisted"))
	agg := shipper.NewAggregator(registry, shipper.NewPolicy("US", nil), shipper.AggregatorConfig{}, otelzap.New(zap.NewNop()))

	result, err := agg.Aggregate(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Empty(t, result.Quotes)
	assert.Empty(t, result.Eligible)
}

func TestAggregator_IneligibleCarrierNeverCalled(t *testing.T) {
	registry := shipper.NewRegistry()
	listed := mock.New("listed")
	unlisted := mock.New("unlisted")
	registry.Register(listed)
	registry.Register(unlisted)
	agg := shipper.NewAggregator(registry, shipper.NewPolicy("US", openRules("listed")), shipper.AggregatorConfig{}, otelzap.New(zap.NewNop()))

	quotes, err := agg.GetAllQuotes(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Len(t, quotes, 1)
	assert.Equal(t, 1, listed.Calls())
	assert.Equal(t, 0, unlisted.Calls())
}

func TestAggregator_CarrierRestriction(t *testing.T) {
	alpha := mock.New("alpha")
	bravo := mock.New("bravo")
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{alpha, bravo})

	req := domesticParcel()
	req.Carriers = []string{" Bravo "}
	quotes, err := agg.GetAllQuotes(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, []string{"bravo"}, carrierNames(quotes))
	assert.Equal(t, 0, alpha.Calls())
}

func TestAggregator_PanicIsolated(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{
		mock.New("alpha", mock.WithCost("12.00")),
		mock.New("broken", mock.WithPanic("nil map write")),
	})

	result, err := agg.Aggregate(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, carrierNames(result.Quotes))
	require.Len(t, result.Unavailable, 1)
	assert.Contains(t, result.Unavailable[0].ErrorMessage, "panicked")
	assert.Equal(t, "Mock broken", result.Unavailable[0].CarrierName)
}

func TestAggregator_MalformedQuoteDropped(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{
		mock.New("alpha", mock.WithCost("12.00")),
		mock.New("negative", mock.WithCost("-5.00")),
	})

	result, err := agg.Aggregate(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, carrierNames(result.Quotes))
	require.Len(t, result.Unavailable, 1)
	assert.Equal(t, "negative", result.Unavailable[0].CarrierID)
}

func TestAggregator_BackstopOnIgnoredDeadline(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{
		CarrierTimeout: 20 * time.Millisecond,
		BackstopGrace:  30 * time.Millisecond,
	}, []shipper.Shipper{
		mock.New("alpha", mock.WithCost("12.00")),
		mock.New("stuck", mock.WithLatency(300*time.Millisecond), mock.WithHang()),
	})

	start := time.Now()
	result, err := agg.Aggregate(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, []string{"alpha"}, carrierNames(result.Quotes))
	require.Len(t, result.Unavailable, 1)
	assert.Equal(t, "stuck", result.Unavailable[0].CarrierID)
	assert.Equal(t, shipper.ErrDeadlineIgnored.Error(), result.Unavailable[0].ErrorMessage)
}

func TestAggregator_StuckCarrierRecordedOnce(t *testing.T) {
	obs := newRecordingObserver()
	agg := newAggregator(t, shipper.AggregatorConfig{
		CarrierTimeout: 10 * time.Millisecond,
		BackstopGrace:  10 * time.Millisecond,
	}, []shipper.Shipper{
		mock.New("alpha"),
		mock.New("stuck", mock.WithLatency(60*time.Millisecond), mock.WithHang()),
	}, shipper.WithObserver(obs))

	_, err := agg.Aggregate(context.Background(), domesticParcel())
	require.NoError(t, err)

	// Let the abandoned call return.
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, map[string]int{"alpha": 1, "stuck": 1}, obs.callCounts())
	assert.Equal(t, shipper.OutcomeUnavailable, obs.dispatches["stuck"])
}

func TestAggregator_CallerCancellation(t *testing.T) {
	slow := mock.New("slow", mock.WithLatency(5*time.Second))
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{slow, mock.New("alpha")})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	quotes, err := agg.GetAllQuotes(ctx, domesticParcel())

	assert.Nil(t, quotes)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, shipper.IsFatal(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAggregator_FanOutLimitQueuesDispatches(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{MaxFanOut: 2}, []shipper.Shipper{
		mock.New("alpha", mock.WithCost("30.00"), mock.WithLatency(50*time.Millisecond)),
		mock.New("bravo", mock.WithCost("10.00"), mock.WithLatency(50*time.Millisecond)),
		mock.New("charlie", mock.WithCost("20.00"), mock.WithLatency(50*time.Millisecond)),
	})

	start := time.Now()
	quotes, err := agg.GetAllQuotes(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "charlie", "alpha"}, carrierNames(quotes))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAggregator_FanOutLimitRepeated(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{MaxFanOut: 2}, []shipper.Shipper{
		mock.New("alpha"), mock.New("bravo"), mock.New("charlie"),
	})

	for i := 0; i < 50; i++ {
		quotes, err := agg.GetAllQuotes(context.Background(), domesticParcel())
		require.NoError(t, err)
		require.Len(t, quotes, 3)
	}
}

func TestAggregator_MissingPolicyIsFatal(t *testing.T) {
	agg := shipper.NewAggregator(shipper.NewRegistry(), nil, shipper.AggregatorConfig{}, otelzap.New(zap.NewNop()))

	_, err := agg.GetAllQuotes(context.Background(), domesticParcel())

	assert.True(t, shipper.IsFatal(err))
	assert.ErrorIs(t, err, shipper.ErrPolicyFault)
}

func TestAggregator_Observer(t *testing.T) {
	obs := newRecordingObserver()
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{
		mock.New("alpha"),
		mock.New("bravo", mock.WithError(errors.New("boom"))),
	}, shipper.WithObserver(obs))

	_, err := agg.GetAllQuotes(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Equal(t, shipper.OutcomeQuoted, obs.dispatches["alpha"])
	assert.Equal(t, shipper.OutcomeUnavailable, obs.dispatches["bravo"])
	assert.Equal(t, 2, obs.eligible)
	assert.Equal(t, 1, obs.quoted)
}

func TestAggregator_EachCarrierGetsOwnRequest(t *testing.T) {
	alpha := mock.New("alpha")
	bravo := mock.New("bravo")
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{alpha, bravo})

	req := domesticParcel()
	req.Carriers = []string{"alpha", "bravo"}
	_, err := agg.GetAllQuotes(context.Background(), req)
	require.NoError(t, err)

	a, b := alpha.LastRequest(), bravo.LastRequest()
	require.NotNil(t, a)
	require.NotNil(t, b)
	a.Carriers[0] = "mutated"
	assert.Equal(t, "alpha", b.Carriers[0])
	assert.Equal(t, "alpha", req.Carriers[0])
}

func TestAggregator_ConcurrentRequests(t *testing.T) {
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{
		mock.New("alpha", mock.WithCost("30.00"), mock.WithLatency(5*time.Millisecond)),
		mock.New("bravo", mock.WithCost("10.00"), mock.WithLatency(5*time.Millisecond)),
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			quotes, err := agg.GetAllQuotes(context.Background(), domesticParcel())
			assert.NoError(t, err)
			assert.Equal(t, []string{"bravo", "alpha"}, carrierNames(quotes))
		}()
	}
	wg.Wait()
}

func TestAggregator_FallbackPricingScenario(t *testing.T) {
	premium := carrier.Profile{
		ID:          "premium",
		DisplayName: "Premium",
		Ground:      pricing.NewTier("PREMIUM", "Premium", "1.2", 3),
	}
	logger := otelzap.New(zap.NewNop())
	agg := newAggregator(t, shipper.AggregatorConfig{}, []shipper.Shipper{
		carrier.New(premium, carrier.Config{}, logger, nil),
		carrier.New(carrier.FedEx, carrier.Config{}, logger, nil),
	})

	quotes, err := agg.GetAllQuotes(context.Background(), domesticParcel())

	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "fedex", quotes[0].CarrierID)
	assert.Equal(t, "55.25", quotes[0].TotalCost.Amount.StringFixed(2))
	assert.Equal(t, "premium", quotes[1].CarrierID)
	assert.Equal(t, "78.00", quotes[1].TotalCost.Amount.StringFixed(2))
}

func TestAggregator_DefaultPolicyDomesticParcel(t *testing.T) {
	registry := shipper.NewRegistry()
	logger := otelzap.New(zap.NewNop())
	for _, p := range carrier.Profiles() {
		registry.Register(carrier.New(p, carrier.Config{}, logger, nil))
	}
	agg := shipper.NewAggregator(registry, shipper.DefaultPolicy("US"), shipper.AggregatorConfig{}, logger)

	result, err := agg.Aggregate(context.Background(), domesticParcel())

	require.NoError(t, err)
	assert.Equal(t, []string{"fedex", "ups", "usps"}, result.Eligible)
	// USPS 45.50, FedEx 55.25, UPS 58.50
	assert.Equal(t, []string{"usps", "fedex", "ups"}, carrierNames(result.Quotes))
}
