package shipper_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/ratequote/pkg/shipper"
)

func offer(carrier, cost string, days int) shipper.CarrierQuote {
	return shipper.CarrierQuote{
		CarrierID:   carrier,
		TotalCost:   shipper.NewMoney(decimal.RequireFromString(cost), "USD"),
		TransitDays: days,
		Available:   true,
	}
}

func TestRank(t *testing.T) {
	failed := shipper.UnavailableQuote("broken", "Broken", "timeout", fixedNow)

	ranked := shipper.Rank([]shipper.CarrierQuote{
		offer("ups", "58.50", 5),
		failed,
		offer("dhl", "55.25", 2),
		offer("fedex", "55.25", 5),
		offer("usps", "45.50", 3),
		offer("canadapost", "55.25", 2),
	})

	assert.Equal(t, []string{"usps", "canadapost", "dhl", "fedex", "ups"}, carrierNames(ranked))
}

func TestRank_ComparesDecimalsNotStrings(t *testing.T) {
	ranked := shipper.Rank([]shipper.CarrierQuote{
		offer("a", "100.00", 1),
		offer("b", "9.99", 1),
	})

	assert.Equal(t, []string{"b", "a"}, carrierNames(ranked))
}

func TestRank_Empty(t *testing.T) {
	ranked := shipper.Rank(nil)
	assert.NotNil(t, ranked)
	assert.Empty(t, ranked)
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	in := []shipper.CarrierQuote{offer("b", "20", 1), offer("a", "10", 1)}

	_ = shipper.Rank(in)

	assert.Equal(t, "b", in[0].CarrierID)
}

func TestBestQuote(t *testing.T) {
	best, ok := shipper.BestQuote([]shipper.CarrierQuote{
		offer("ups", "58.50", 5),
		offer("fedex", "55.25", 5),
		offer("dhl", "55.25", 2),
		shipper.UnavailableQuote("broken", "Broken", "timeout", fixedNow),
	})

	require.True(t, ok)
	assert.Equal(t, "dhl", best.CarrierID)
}

func TestBestQuote_NoneAvailable(t *testing.T) {
	_, ok := shipper.BestQuote([]shipper.CarrierQuote{
		shipper.UnavailableQuote("broken", "Broken", "timeout", fixedNow),
	})

	assert.False(t, ok)
}
