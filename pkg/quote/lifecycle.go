package quote

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/tournevent/ratequote/pkg/shipper"
)

// Lifecycle creates quotes and applies status transitions.
// Every operation returns a new value and leaves its input untouched.
type Lifecycle struct {
	node *snowflake.Node
	now  func() time.Time
}

// LifecycleOption customizes a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithClock overrides the time source.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

// NewLifecycle creates a lifecycle whose quote numbers come from snowflake node nodeID.
func NewLifecycle(nodeID int64, opts ...LifecycleOption) (*Lifecycle, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote number generator: %w", err)
	}
	l := &Lifecycle{node: node, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Now returns the lifecycle's current time.
func (l *Lifecycle) Now() time.Time {
	return l.now()
}

// NewQuote starts a PENDING quote valid for ValidityWindow.
func (l *Lifecycle) NewQuote(req shipper.QuoteRequest) ShippingQuote {
	now := l.now()
	validUntil := now.Add(ValidityWindow)
	return ShippingQuote{
		ID:            uuid.New().String(),
		Number:        NumberPrefix + l.node.Generate().String(),
		Request:       req.Clone(),
		CarrierQuotes: []shipper.CarrierQuote{},
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		ValidUntil:    validUntil,
		ExpiresAt:     validUntil,
	}
}

// AttachResults records the ranked offers and moves the quote to QUOTED,
// including when there are no offers.
func (l *Lifecycle) AttachResults(q ShippingQuote, ranked []shipper.CarrierQuote) ShippingQuote {
	out := q.Clone()
	out.CarrierQuotes = append([]shipper.CarrierQuote{}, ranked...)
	out.SelectedCarrier = ""
	out.Status = StatusQuoted
	out.UpdatedAt = l.now()
	return out
}

// IsExpired reports whether q is past its validity window now.
func (l *Lifecycle) IsExpired(q ShippingQuote) bool {
	return q.IsExpired(l.now())
}

// Select records the consumer's choice of carrierID.
// Only QUOTED or SELECTED quotes within their window can be selected.
func (l *Lifecycle) Select(q ShippingQuote, carrierID string) (ShippingQuote, error) {
	now := l.now()
	if q.IsExpired(now) {
		return q, fmt.Errorf("%w: %s expired at %s", ErrQuoteExpired, q.Number, q.ValidUntil.Format(time.RFC3339))
	}
	if q.Status != StatusQuoted && q.Status != StatusSelected {
		return q, fmt.Errorf("%w: cannot select from %s", ErrInvalidTransition, q.Status)
	}
	if _, ok := q.Offer(carrierID); !ok {
		return q, fmt.Errorf("%w: %s", ErrCarrierNotOffered, carrierID)
	}

	out := q.Clone()
	out.SelectedCarrier = carrierID
	out.Status = StatusSelected
	out.UpdatedAt = now
	return out, nil
}

// Book marks a selected quote as booked by the downstream booking flow.
func (l *Lifecycle) Book(q ShippingQuote) (ShippingQuote, error) {
	now := l.now()
	if q.IsExpired(now) {
		return q, fmt.Errorf("%w: %s", ErrQuoteExpired, q.Number)
	}
	if q.Status != StatusSelected {
		return q, fmt.Errorf("%w: cannot book from %s", ErrInvalidTransition, q.Status)
	}

	out := q.Clone()
	out.Status = StatusBooked
	out.UpdatedAt = now
	return out, nil
}

// Cancel withdraws a quote that has not been booked.
func (l *Lifecycle) Cancel(q ShippingQuote) (ShippingQuote, error) {
	if q.Status == StatusBooked || q.Status == StatusCancelled {
		return q, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, q.Status)
	}

	out := q.Clone()
	out.Status = StatusCancelled
	out.UpdatedAt = l.now()
	return out, nil
}
