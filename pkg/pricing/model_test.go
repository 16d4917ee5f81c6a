package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/tournevent/ratequote/pkg/pricing"
	"github.com/tournevent/ratequote/pkg/shipper"
)

func parcelRequest(weight float64) shipper.QuoteRequest {
	return shipper.QuoteRequest{
		Origin:       shipper.Address{Line1: "1 Market St", City: "San Francisco", State: "CA", PostalCode: "94105", CountryCode: "US"},
		Destination:  shipper.Address{Line1: "1 Main St", City: "Los Angeles", State: "CA", PostalCode: "90012", CountryCode: "US"},
		ShipmentType: shipper.ShipmentParcel,
		Weight:       weight,
		WeightUnit:   shipper.WeightLB,
	}
}

func sumBreakdown(e pricing.Estimate) decimal.Decimal {
	total := decimal.Zero
	for _, v := range e.Breakdown {
		total = total.Add(v)
	}
	return total
}

func TestCarrierEstimate_Scenario(t *testing.T) {
	req := parcelRequest(10)

	a := pricing.CarrierEstimate(req, pricing.NewTier("GROUND", "Ground", "0.85", 5))
	b := pricing.CarrierEstimate(req, pricing.NewTier("EXPRESS", "Express", "1.2", 3))

	assert.Equal(t, "55.25", a.Cost.StringFixed(2))
	assert.Equal(t, 5, a.TransitDays)
	assert.Equal(t, "78.00", b.Cost.StringFixed(2))
	assert.Equal(t, 3, b.TransitDays)
}

func TestCarrierEstimate_Deterministic(t *testing.T) {
	req := parcelRequest(12.5)
	req.Dimensions = shipper.Dimensions{Length: 12, Width: 8, Height: 6, Unit: shipper.DimensionIN}
	tier := pricing.NewTier("GROUND", "Ground", "0.9", 5)

	first := pricing.CarrierEstimate(req, tier)
	for i := 0; i < 20; i++ {
		next := pricing.CarrierEstimate(req, tier)
		assert.True(t, first.Cost.Equal(next.Cost))
		assert.Equal(t, first.TransitDays, next.TransitDays)
	}
}

func TestCarrierEstimate_Volume(t *testing.T) {
	req := parcelRequest(10)
	req.Dimensions = shipper.Dimensions{Length: 10, Width: 10, Height: 10, Unit: shipper.DimensionIN}

	e := pricing.CarrierEstimate(req, pricing.NewTier("GROUND", "Ground", "1", 5))

	// 15 + 25 + 10 + 25
	assert.Equal(t, "75.00", e.Cost.StringFixed(2))
	assert.Equal(t, "10.00", e.Breakdown[pricing.FeeVolume].StringFixed(2))
}

func TestCarrierEstimate_VolumeInCentimeters(t *testing.T) {
	req := parcelRequest(10)
	req.Dimensions = shipper.Dimensions{Length: 25.4, Width: 25.4, Height: 25.4, Unit: shipper.DimensionCM}

	e := pricing.CarrierEstimate(req, pricing.NewTier("GROUND", "Ground", "1", 5))

	assert.Equal(t, "75.00", e.Cost.StringFixed(2))
}

func TestCarrierEstimate_PartialDimensionsIgnored(t *testing.T) {
	req := parcelRequest(10)
	req.Dimensions = shipper.Dimensions{Length: 10, Width: 10}

	e := pricing.CarrierEstimate(req, pricing.NewTier("GROUND", "Ground", "1", 5))

	assert.Equal(t, "65.00", e.Cost.StringFixed(2))
	assert.NotContains(t, e.Breakdown, pricing.FeeVolume)
}

func TestCarrierEstimate_Kilograms(t *testing.T) {
	req := parcelRequest(10)
	req.WeightUnit = shipper.WeightKG

	e := pricing.CarrierEstimate(req, pricing.NewTier("GROUND", "Ground", "1", 5))

	// 15 + 22.0462*2.5 + 25 = 95.1155
	assert.Equal(t, "95.12", e.Cost.StringFixed(2))
}

func TestCarrierEstimate_RoundsHalfUp(t *testing.T) {
	// (15 + 2.5 + 25) * 1.01 = 42.925
	e := pricing.CarrierEstimate(parcelRequest(1), pricing.NewTier("GROUND", "Ground", "1.01", 5))
	assert.Equal(t, "42.93", e.Cost.StringFixed(2))
}

func TestCarrierEstimate_BreakdownSumsToCost(t *testing.T) {
	req := parcelRequest(7.3)
	req.Dimensions = shipper.Dimensions{Length: 11, Width: 7, Height: 3}

	for _, m := range []string{"0.7", "0.85", "1.2", "1.8"} {
		e := pricing.CarrierEstimate(req, pricing.NewTier("T", "T", m, 3))
		assert.True(t, e.Cost.Equal(sumBreakdown(e)), "multiplier %s", m)
	}
}

func TestQuickEstimate_Scenario(t *testing.T) {
	req := parcelRequest(20)
	req.ShipmentType = shipper.ShipmentLTL

	e := pricing.QuickEstimate(req)

	// 50 + 10 + 100 + 100
	assert.Equal(t, "260.00", e.Cost.StringFixed(2))
	assert.Equal(t, 2, e.TransitDays)
	assert.True(t, e.Cost.Equal(sumBreakdown(e)))
}

func TestQuickEstimate_CrossRegion(t *testing.T) {
	req := parcelRequest(20)
	req.ShipmentType = shipper.ShipmentLTL
	req.Destination.State = "NY"

	e := pricing.QuickEstimate(req)

	assert.Equal(t, "460.00", e.Cost.StringFixed(2))
	assert.Equal(t, 5, e.TransitDays)
}

func TestQuickEstimate_TypeFactorsAndTransit(t *testing.T) {
	tests := []struct {
		shipmentType shipper.ShipmentType
		sameRegion   bool
		cost         string
		transit      int
	}{
		{shipper.ShipmentParcel, true, "155.00", 1},
		{shipper.ShipmentLTL, true, "255.00", 2},
		{shipper.ShipmentFreight, true, "355.00", 3},
		{shipper.ShipmentExpedited, true, "455.00", 1},
		{shipper.ShipmentFTL, true, "655.00", 4},
		{shipper.ShipmentInternational, false, "755.00", 8},
		{shipper.ShipmentParcel, false, "355.00", 4},
		{shipper.ShipmentExpedited, false, "655.00", 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.shipmentType), func(t *testing.T) {
			req := parcelRequest(10)
			req.ShipmentType = tt.shipmentType
			if !tt.sameRegion {
				req.Destination.State = "NY"
			}

			e := pricing.QuickEstimate(req)

			assert.Equal(t, tt.cost, e.Cost.StringFixed(2))
			assert.Equal(t, tt.transit, e.TransitDays)
		})
	}
}

func TestSameRegion(t *testing.T) {
	ca := shipper.Address{State: "CA", CountryCode: "US"}

	assert.True(t, pricing.SameRegion(ca, shipper.Address{State: " ca ", CountryCode: "us"}))
	assert.True(t, pricing.SameRegion(ca, shipper.Address{State: "CA"}))
	assert.False(t, pricing.SameRegion(ca, shipper.Address{State: "NV", CountryCode: "US"}))
	assert.False(t, pricing.SameRegion(ca, shipper.Address{State: "CA", CountryCode: "MX"}))
	assert.False(t, pricing.SameRegion(shipper.Address{}, shipper.Address{}))
}
