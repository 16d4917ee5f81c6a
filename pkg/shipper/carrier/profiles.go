package carrier

import (
	"github.com/tournevent/ratequote/pkg/pricing"
	"github.com/tournevent/ratequote/pkg/shipper"
)

// Profile describes a carrier's identity and its fallback service tiers.
type Profile struct {
	ID          string
	DisplayName string
	Ground      pricing.Tier
	// Expedited is used for EXPEDITED shipments. A zero multiplier falls back to Ground.
	Expedited pricing.Tier
}

// TierFor picks the service tier that prices req.
func (p Profile) TierFor(req shipper.QuoteRequest) pricing.Tier {
	if req.ShipmentType == shipper.ShipmentExpedited && !p.Expedited.Multiplier.IsZero() {
		return p.Expedited
	}
	return p.Ground
}

// Built-in carrier profiles.
var (
	FedEx = Profile{
		ID:          shipper.CarrierFedEx,
		DisplayName: "FedEx",
		Ground:      pricing.NewTier("FEDEX_GROUND", "FedEx Ground", "0.85", 5),
		Expedited:   pricing.NewTier("FEDEX_EXPRESS_SAVER", "FedEx Express Saver", "1.2", 3),
	}
	UPS = Profile{
		ID:          shipper.CarrierUPS,
		DisplayName: "UPS",
		Ground:      pricing.NewTier("UPS_GROUND", "UPS Ground", "0.9", 5),
		Expedited:   pricing.NewTier("UPS_3_DAY_SELECT", "UPS 3 Day Select", "1.3", 3),
	}
	DHL = Profile{
		ID:          shipper.CarrierDHL,
		DisplayName: "DHL",
		Ground:      pricing.NewTier("DHL_EXPRESS_WORLDWIDE", "DHL Express Worldwide", "1.8", 2),
	}
	USPS = Profile{
		ID:          shipper.CarrierUSPS,
		DisplayName: "USPS",
		Ground:      pricing.NewTier("USPS_PRIORITY", "USPS Priority Mail", "0.7", 3),
	}
	CanadaPost = Profile{
		ID:          shipper.CarrierCanadaPost,
		DisplayName: "Canada Post",
		Ground:      pricing.NewTier("DOM.EP", "Expedited Parcel", "0.95", 4),
		Expedited:   pricing.NewTier("DOM.XP", "Xpresspost", "1.4", 2),
	}
	Purolator = Profile{
		ID:          shipper.CarrierPurolator,
		DisplayName: "Purolator",
		Ground:      pricing.NewTier("PurolatorGround", "Purolator Ground", "1.0", 3),
		Expedited:   pricing.NewTier("PurolatorExpress", "Purolator Express", "1.5", 1),
	}
)

// Profiles returns the built-in profiles ordered by carrier ID.
func Profiles() []Profile {
	return []Profile{CanadaPost, DHL, FedEx, Purolator, UPS, USPS}
}

// LookupProfile returns the built-in profile for id.
func LookupProfile(id string) (Profile, bool) {
	for _, p := range Profiles() {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}
