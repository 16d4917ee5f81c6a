// Package shipper provides the carrier abstraction and the rate aggregation engine.
package shipper

import (
	"context"
)

// Shipper defines the interface that all shipping carriers must implement.
// Implementations must honour the deadline carried by ctx and must not share
// mutable state between concurrent calls.
type Shipper interface {
	// Name returns the carrier identifier (e.g., "fedex", "canadapost", "purolator").
	Name() string

	// DisplayName returns the human readable carrier name.
	DisplayName() string

	// GetQuote returns the carrier's offer for a shipment.
	GetQuote(ctx context.Context, req QuoteRequest) (*CarrierQuote, error)
}
