// Package quote owns the shipping quote entity: identity, numbering, the
// validity window and status transitions.
package quote

import (
	"errors"
	"time"

	"github.com/tournevent/ratequote/pkg/shipper"
)

// ValidityWindow is how long a quote is honoured after creation.
const ValidityWindow = 7 * 24 * time.Hour

// NumberPrefix starts every quote number.
const NumberPrefix = "QT"

// Status represents the quote lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQuoted    Status = "QUOTED"
	StatusSelected  Status = "SELECTED"
	StatusBooked    Status = "BOOKED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusBooked || s == StatusCancelled || s == StatusExpired
}

// Lifecycle errors.
var (
	ErrQuoteNotFound     = errors.New("quote not found")
	ErrQuoteExpired      = errors.New("quote has expired")
	ErrInvalidTransition = errors.New("invalid quote status transition")
	ErrCarrierNotOffered = errors.New("carrier has no offer on this quote")
)

// ShippingQuote is the result of rating one request.
type ShippingQuote struct {
	ID      string               `json:"id"`
	Number  string               `json:"quoteNumber"`
	Request shipper.QuoteRequest `json:"request"`

	// CarrierQuotes holds the ranked available offers.
	CarrierQuotes []shipper.CarrierQuote `json:"carrierQuotes"`
	// Unavailable holds the diagnostic records of carriers that produced no offer.
	Unavailable []shipper.CarrierQuote `json:"unavailable,omitempty"`

	SelectedCarrier string    `json:"selectedCarrier,omitempty"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	ValidUntil      time.Time `json:"validUntil"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// IsExpired reports whether now is strictly after ValidUntil, whatever the stored status.
func (q ShippingQuote) IsExpired(now time.Time) bool {
	return now.After(q.ValidUntil)
}

// EffectiveStatus is the status a consumer must act on at now.
// Open quotes past their validity window read as EXPIRED.
func (q ShippingQuote) EffectiveStatus(now time.Time) Status {
	if q.Status.Terminal() {
		return q.Status
	}
	if q.IsExpired(now) {
		return StatusExpired
	}
	return q.Status
}

// Offer returns the available offer from carrierID.
func (q ShippingQuote) Offer(carrierID string) (shipper.CarrierQuote, bool) {
	for _, cq := range q.CarrierQuotes {
		if cq.CarrierID == carrierID && cq.Available {
			return cq, true
		}
	}
	return shipper.CarrierQuote{}, false
}

// Selected returns the offer chosen by the consumer.
func (q ShippingQuote) Selected() (shipper.CarrierQuote, bool) {
	if q.SelectedCarrier == "" {
		return shipper.CarrierQuote{}, false
	}
	return q.Offer(q.SelectedCarrier)
}

// Best returns the cheapest offer, preferring faster transit on ties.
func (q ShippingQuote) Best() (shipper.CarrierQuote, bool) {
	return shipper.BestQuote(q.CarrierQuotes)
}

// Clone returns a deep copy of q: no slice, fees map or pointer is shared.
func (q ShippingQuote) Clone() ShippingQuote {
	c := q
	c.Request = q.Request.Clone()
	c.CarrierQuotes = cloneQuotes(q.CarrierQuotes)
	c.Unavailable = cloneQuotes(q.Unavailable)
	return c
}

func cloneQuotes(quotes []shipper.CarrierQuote) []shipper.CarrierQuote {
	if quotes == nil {
		return nil
	}
	c := make([]shipper.CarrierQuote, len(quotes))
	for i, q := range quotes {
		c[i] = q.Clone()
	}
	return c
}
