package shipper

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentType classifies a shipment for eligibility and pricing.
type ShipmentType string

const (
	ShipmentParcel        ShipmentType = "PARCEL"
	ShipmentLTL           ShipmentType = "LTL"
	ShipmentFTL           ShipmentType = "FTL"
	ShipmentFreight       ShipmentType = "FREIGHT"
	ShipmentExpedited     ShipmentType = "EXPEDITED"
	ShipmentInternational ShipmentType = "INTERNATIONAL"
)

// ShipmentTypes lists every known shipment type.
var ShipmentTypes = []ShipmentType{
	ShipmentParcel,
	ShipmentLTL,
	ShipmentFTL,
	ShipmentFreight,
	ShipmentExpedited,
	ShipmentInternational,
}

// Valid reports whether t is a known shipment type.
func (t ShipmentType) Valid() bool {
	for _, known := range ShipmentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// WeightUnit represents weight measurement unit.
type WeightUnit string

const (
	WeightLB WeightUnit = "lb"
	WeightKG WeightUnit = "kg"
)

// DimensionUnit represents dimension measurement unit.
type DimensionUnit string

const (
	DimensionIN DimensionUnit = "in"
	DimensionCM DimensionUnit = "cm"
)

const (
	poundsPerKilogram  = 2.20462
	centimetersPerInch = 2.54
)

// Source tells whether a quote came from the carrier or from the local price model.
type Source string

const (
	SourceAPI      Source = "api"
	SourceFallback Source = "fallback"
)

// Address represents a shipping address.
type Address struct {
	Name          string `json:"name,omitempty"`
	Company       string `json:"company,omitempty"`
	Line1         string `json:"line1" validate:"required"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city" validate:"required"`
	State         string `json:"state" validate:"required"` // state or province code, e.g. "CA", "ON"
	PostalCode    string `json:"postalCode" validate:"required"`
	CountryCode   string `json:"countryCode" validate:"required,len=2"` // ISO 3166-1 alpha-2
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	IsResidential bool   `json:"isResidential,omitempty"`
}

// Country returns the normalized country code.
func (a Address) Country() string {
	return strings.ToUpper(strings.TrimSpace(a.CountryCode))
}

// Dimensions of the shipment. A zero value means no dimensions were given.
type Dimensions struct {
	Length float64       `json:"length" validate:"gte=0"`
	Width  float64       `json:"width" validate:"gte=0"`
	Height float64       `json:"height" validate:"gte=0"`
	Unit   DimensionUnit `json:"unit,omitempty" validate:"omitempty,oneof=in cm"`
}

// Complete reports whether all three dimensions are present.
func (d Dimensions) Complete() bool {
	return d.Length > 0 && d.Width > 0 && d.Height > 0
}

// Partial reports whether some, but not all, dimensions are present.
func (d Dimensions) Partial() bool {
	present := 0
	for _, v := range []float64{d.Length, d.Width, d.Height} {
		if v > 0 {
			present++
		}
	}
	return present > 0 && present < 3
}

// Inches returns the dimensions converted to inches.
func (d Dimensions) Inches() (length, width, height float64) {
	if d.Unit == DimensionCM {
		return d.Length / centimetersPerInch, d.Width / centimetersPerInch, d.Height / centimetersPerInch
	}
	return d.Length, d.Width, d.Height
}

// Money represents a monetary amount.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney creates a Money rounded to cents.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount.Round(2), Currency: currency}
}

// String formats the amount with two decimal places.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as a fixed-point string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Amount.StringFixed(2), Currency: m.Currency})
}

// UnmarshalJSON decodes a fixed-point amount string.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount := decimal.Zero
	if raw.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(raw.Amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", raw.Amount, err)
		}
	}
	m.Amount = amount
	m.Currency = raw.Currency
	return nil
}

// QuoteRequest is the normalized shipment description sent to every carrier.
// The aggregator treats it as immutable and hands each carrier its own copy.
type QuoteRequest struct {
	Origin              Address      `json:"origin"`
	Destination         Address      `json:"destination"`
	ShipmentType        ShipmentType `json:"shipmentType" validate:"required,shipment_type"`
	Weight              float64      `json:"weight" validate:"gt=0"`
	WeightUnit          WeightUnit   `json:"weightUnit,omitempty" validate:"omitempty,oneof=lb kg"`
	Dimensions          Dimensions   `json:"dimensions"`
	PackageCount        int          `json:"packageCount,omitempty" validate:"gte=0"`
	DeclaredValue       *Money       `json:"declaredValue,omitempty"`
	SpecialInstructions string       `json:"specialInstructions,omitempty" validate:"max=500"`

	// Carriers restricts the fan-out to the named carriers. Empty means all eligible.
	Carriers []string `json:"carriers,omitempty"`
}

// WeightLB returns the shipment weight in pounds.
func (r QuoteRequest) WeightLB() float64 {
	if r.WeightUnit == WeightKG {
		return r.Weight * poundsPerKilogram
	}
	return r.Weight
}

// Clone returns a deep copy of the request.
func (r QuoteRequest) Clone() QuoteRequest {
	c := r
	if r.DeclaredValue != nil {
		v := *r.DeclaredValue
		c.DeclaredValue = &v
	}
	if r.Carriers != nil {
		c.Carriers = append([]string(nil), r.Carriers...)
	}
	return c
}

// CarrierQuote is one carrier's normalized offer, or the record of its failure.
// When Available is false the cost and transit fields carry no meaning.
type CarrierQuote struct {
	RateID            string           `json:"rateId,omitempty"`
	CarrierID         string           `json:"carrierId"`
	CarrierName       string           `json:"carrierName"`
	ServiceCode       string           `json:"serviceCode,omitempty"`
	ServiceName       string           `json:"serviceName,omitempty"`
	TotalCost         Money            `json:"totalCost"`
	Fees              map[string]Money `json:"fees,omitempty"`
	TransitDays       int              `json:"transitDays"`
	EstimatedDelivery *time.Time       `json:"estimatedDelivery,omitempty"`
	Available         bool             `json:"available"`
	ErrorMessage      string           `json:"errorMessage,omitempty"`
	Source            Source           `json:"source,omitempty"`
	QuotedAt          time.Time        `json:"quotedAt"`
}

// Clone returns a copy that shares no fees map or delivery time with q.
func (q CarrierQuote) Clone() CarrierQuote {
	c := q
	if q.Fees != nil {
		c.Fees = make(map[string]Money, len(q.Fees))
		for k, v := range q.Fees {
			c.Fees[k] = v
		}
	}
	if q.EstimatedDelivery != nil {
		t := *q.EstimatedDelivery
		c.EstimatedDelivery = &t
	}
	return c
}

// UnavailableQuote builds the diagnostic record for a carrier that produced no offer.
func UnavailableQuote(carrierID, carrierName, reason string, at time.Time) CarrierQuote {
	return CarrierQuote{
		CarrierID:    carrierID,
		CarrierName:  carrierName,
		Available:    false,
		ErrorMessage: reason,
		QuotedAt:     at,
	}
}
