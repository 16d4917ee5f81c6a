package carrier

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockRateAPI is a mock implementation of RateAPI for testing.
type MockRateAPI struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetRates func(ctx context.Context, req *RatesRequest) (*RatesResponse, error)

	calls atomic.Int32
}

// NewMockRateAPI creates a new mock rate API with default behavior.
func NewMockRateAPI() *MockRateAPI {
	return &MockRateAPI{}
}

// Calls returns the number of GetRates invocations.
func (m *MockRateAPI) Calls() int {
	return int(m.calls.Load())
}

// GetRates returns mock shipping rates.
func (m *MockRateAPI) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	m.calls.Add(1)

	if m.SimulateLatency > 0 {
		timer := time.NewTimer(m.SimulateLatency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if m.SimulateErrors {
		return nil, &APIError{Code: "MOCK_ERROR", Message: "Simulated API error"}
	}

	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, req)
	}

	serviceCode := req.ServiceCode
	if serviceCode == "" {
		serviceCode = "STANDARD"
	}

	return &RatesResponse{
		RequestID: "req-" + uuid.New().String()[:8],
		Status:    "complete",
		Rates: []Rate{
			{
				ID:                "rate-" + uuid.New().String()[:8],
				ServiceCode:       serviceCode,
				ServiceName:       req.Carrier + " " + serviceCode,
				BaseRate:          decimal.RequireFromString("15.99"),
				FuelSurcharge:     decimal.RequireFromString("1.92"),
				TotalTax:          decimal.RequireFromString("2.33"),
				TotalPrice:        decimal.RequireFromString("20.24"),
				Currency:          "USD",
				TransitDays:       3,
				EstimatedDelivery: time.Now().AddDate(0, 0, 3).Format("2006-01-02"),
			},
		},
	}, nil
}

// Ensure MockRateAPI implements RateAPI interface
var _ RateAPI = (*MockRateAPI)(nil)
