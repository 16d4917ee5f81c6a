package carrier

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateAPI is a carrier's live rate service.
// Implementations must honour ctx and must not retry past its deadline.
type RateAPI interface {
	// GetRates fetches rate options for one shipment.
	GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error)
}

// RatesRequest is the body of POST /rates.
type RatesRequest struct {
	Carrier       string           `json:"carrier"`
	ServiceCode   string           `json:"service_code,omitempty"` // preferred service, all if omitted
	ShipmentType  string           `json:"shipment_type"`
	Origin        Location         `json:"origin"`
	Destination   Location         `json:"destination"`
	Packaging     PackagingInfo    `json:"packaging"`
	DeclaredValue *decimal.Decimal `json:"declared_value,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Instructions  string           `json:"instructions,omitempty"`
}

// Location represents origin or destination.
type Location struct {
	Name        string `json:"name,omitempty"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address_1"`
	Address2    string `json:"address_2,omitempty"`
	City        string `json:"city"`
	Region      string `json:"region"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"` // ISO 3166-1 alpha-2 code
	Residential bool   `json:"residential,omitempty"`
}

// PackagingInfo describes the pieces of the shipment.
type PackagingInfo struct {
	Count  int     `json:"count"`
	Weight float64 `json:"weight"`           // lb, total
	Length float64 `json:"length,omitempty"` // in
	Width  float64 `json:"width,omitempty"`  // in
	Height float64 `json:"height,omitempty"` // in
}

// RatesResponse is the carrier's answer.
type RatesResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"` // "complete", "error"
	Rates     []Rate `json:"rates,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Rate represents a single shipping rate option.
type Rate struct {
	ID                string          `json:"id"`
	ServiceCode       string          `json:"service_code"`
	ServiceName       string          `json:"service_name"`
	BaseRate          decimal.Decimal `json:"base_rate"`
	FuelSurcharge     decimal.Decimal `json:"fuel_surcharge"`
	Surcharges        []Surcharge     `json:"surcharges,omitempty"`
	TotalTax          decimal.Decimal `json:"total_tax"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	Currency          string          `json:"currency"`
	TransitDays       int             `json:"transit_days"`
	EstimatedDelivery string          `json:"estimated_delivery,omitempty"` // YYYY-MM-DD
}

// Surcharge represents an additional charge.
type Surcharge struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// APIError represents an error body returned by a carrier rate API.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"` // Field-level errors
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}
