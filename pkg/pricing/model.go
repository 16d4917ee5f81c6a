// Package pricing computes deterministic rate estimates from shipment attributes.
//
// Two models are provided. CarrierEstimate prices one carrier's service tier and is
// used when a carrier has no live rate API. QuickEstimate prices a single blended
// figure for a request without consulting any carrier. They use different constants
// and are kept apart.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tournevent/ratequote/pkg/shipper"
)

// DefaultCurrency is the currency of every estimate.
const DefaultCurrency = "USD"

// Fee names used in estimate breakdowns.
const (
	FeeBase               = "base"
	FeeWeight             = "weight"
	FeeVolume             = "volume"
	FeeDistance           = "distance"
	FeeCarrierAdjustment  = "carrier_adjustment"
	FeeRegion             = "region"
	FeeShipmentTypeFactor = "shipment_type"
)

var (
	carrierBase     = decimal.NewFromInt(15)
	carrierPerLB    = decimal.RequireFromString("2.5")
	carrierPerIn3   = decimal.RequireFromString("0.01")
	carrierDistance = decimal.NewFromInt(25)

	quickBase        = decimal.NewFromInt(50)
	quickPerLB       = decimal.RequireFromString("0.5")
	quickSameRegion  = decimal.NewFromInt(100)
	quickCrossRegion = decimal.NewFromInt(300)
)

// quickTypeFactor is the flat surcharge per shipment type for quick quotes.
var quickTypeFactor = map[shipper.ShipmentType]int64{
	shipper.ShipmentParcel:        0,
	shipper.ShipmentLTL:           100,
	shipper.ShipmentFreight:       200,
	shipper.ShipmentExpedited:     300,
	shipper.ShipmentInternational: 400,
	shipper.ShipmentFTL:           500,
}

// Tier is a carrier service level: a price multiplier and a fixed transit time.
type Tier struct {
	Code        string
	Name        string
	Multiplier  decimal.Decimal
	TransitDays int
}

// NewTier creates a tier from a multiplier literal such as "0.85".
func NewTier(code, name, multiplier string, transitDays int) Tier {
	return Tier{
		Code:        code,
		Name:        name,
		Multiplier:  decimal.RequireFromString(multiplier),
		TransitDays: transitDays,
	}
}

// Estimate is a priced offer. Breakdown entries sum to Cost.
type Estimate struct {
	Cost        decimal.Decimal
	TransitDays int
	Breakdown   map[string]decimal.Decimal
}

// CarrierEstimate prices req for one carrier tier:
//
//	(15 + weightLB*2.5 + volumeIn3*0.01 + 25) * multiplier
//
// rounded half-up to cents. Volume is only charged when all three dimensions are given.
func CarrierEstimate(req shipper.QuoteRequest, tier Tier) Estimate {
	weight := decimal.NewFromFloat(req.WeightLB()).Mul(carrierPerLB)

	volume := decimal.Zero
	if req.Dimensions.Complete() {
		l, w, h := req.Dimensions.Inches()
		volume = decimal.NewFromFloat(l).
			Mul(decimal.NewFromFloat(w)).
			Mul(decimal.NewFromFloat(h)).
			Mul(carrierPerIn3)
	}

	subtotal := carrierBase.Add(weight).Add(volume).Add(carrierDistance)
	total := subtotal.Mul(tier.Multiplier).Round(2)

	breakdown := map[string]decimal.Decimal{
		FeeBase:     carrierBase.Round(2),
		FeeWeight:   weight.Round(2),
		FeeDistance: carrierDistance.Round(2),
	}
	if !volume.IsZero() {
		breakdown[FeeVolume] = volume.Round(2)
	}
	breakdown[FeeCarrierAdjustment] = total.Sub(sum(breakdown))

	return Estimate{
		Cost:        total,
		TransitDays: tier.TransitDays,
		Breakdown:   breakdown,
	}
}

// QuickEstimate prices req as one blended figure without any carrier:
//
//	50 + weightLB*0.5 + (same region ? 100 : 300) + type factor
//
// Transit days start from 2 within a region and 5 otherwise and are shifted by shipment type.
func QuickEstimate(req shipper.QuoteRequest) Estimate {
	same := SameRegion(req.Origin, req.Destination)

	region := quickCrossRegion
	base := 5
	if same {
		region = quickSameRegion
		base = 2
	}

	weight := decimal.NewFromFloat(req.WeightLB()).Mul(quickPerLB)
	factor := decimal.NewFromInt(quickTypeFactor[req.ShipmentType])
	total := quickBase.Add(weight).Add(region).Add(factor).Round(2)

	breakdown := map[string]decimal.Decimal{
		FeeBase:               quickBase.Round(2),
		FeeWeight:             weight.Round(2),
		FeeRegion:             region.Round(2),
		FeeShipmentTypeFactor: factor.Round(2),
	}
	if rem := total.Sub(sum(breakdown)); !rem.IsZero() {
		breakdown[FeeWeight] = breakdown[FeeWeight].Add(rem)
	}

	return Estimate{
		Cost:        total,
		TransitDays: quickTransitDays(req.ShipmentType, base),
		Breakdown:   breakdown,
	}
}

func quickTransitDays(t shipper.ShipmentType, base int) int {
	switch t {
	case shipper.ShipmentParcel:
		return base - 1
	case shipper.ShipmentExpedited:
		return max(1, base-2)
	case shipper.ShipmentFreight:
		return base + 1
	case shipper.ShipmentFTL:
		return base + 2
	case shipper.ShipmentInternational:
		return base + 3
	default:
		return base
	}
}

// SameRegion reports whether both addresses are in the same state of the same country.
// A missing country on either side is not treated as a mismatch.
func SameRegion(a, b shipper.Address) bool {
	if ac, bc := a.Country(), b.Country(); ac != "" && bc != "" && ac != bc {
		return false
	}
	as, bs := strings.TrimSpace(a.State), strings.TrimSpace(b.State)
	return as != "" && strings.EqualFold(as, bs)
}

func sum(parts map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range parts {
		total = total.Add(v)
	}
	return total
}
