package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tournevent/ratequote/pkg/shipper"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// HTTPRateAPI is the production implementation of RateAPI using HTTP.
type HTTPRateAPI struct {
	carrier    string
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// HTTPRateAPIConfig holds configuration for the HTTP client.
type HTTPRateAPIConfig struct {
	Carrier   string
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// NewHTTPRateAPI creates a new HTTP-based rate client for production use.
func NewHTTPRateAPI(cfg HTTPRateAPIConfig) *HTTPRateAPI {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPRateAPI{
		carrier:   cfg.Carrier,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetRates posts the shipment to /rates and decodes the rate options.
func (c *HTTPRateAPI) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/rates", req)
	if err != nil {
		return nil, TransportError(ctx, c.carrier, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result RatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, MalformedError(c.carrier, resp.StatusCode, err)
	}

	switch result.Status {
	case "", "complete":
		return &result, nil
	case "error":
		return nil, shipper.NewShipperError(c.carrier, "RATE_ERROR", result.Error).
			WithCause(&APIError{Code: "RATE_ERROR", Message: result.Error})
	default:
		return nil, shipper.NewShipperError(c.carrier, "UNKNOWN_STATUS", fmt.Sprintf("unknown rate status: %s", result.Status)).
			WithCause(shipper.ErrMalformedResponse)
	}
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPRateAPI) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if c.apiSecret != "" {
		req.Header.Set("X-API-Secret", c.apiSecret)
	}
	req.Header.Set("User-Agent", "tournevent-ratequote/1.0")

	return c.httpClient.Do(req)
}

// parseError turns a non-200 response into a ShipperError classified by status code.
func (c *HTTPRateAPI) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return StatusError(c.carrier, resp.StatusCode, decodeAPIError(resp.StatusCode, body))
}

// StatusError classifies a carrier's error answer by HTTP status code.
// Authentication, rate limiting and server errors wrap the matching shipper sentinel.
func StatusError(carrier string, status int, apiErr *APIError) error {
	shipErr := shipper.NewShipperError(carrier, apiErr.Code, apiErr.Message).
		WithStatusCode(status)

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return shipErr.WithCause(errors.Join(shipper.ErrAuthenticationFailed, apiErr))
	case status == http.StatusTooManyRequests:
		return shipErr.WithCause(errors.Join(shipper.ErrRateLimitExceeded, apiErr)).WithRetryable(true)
	case status >= http.StatusInternalServerError:
		return shipErr.WithCause(errors.Join(shipper.ErrServiceUnavailable, apiErr)).WithRetryable(true)
	default:
		return shipErr.WithCause(apiErr)
	}
}

// TransportError wraps a failed round trip. The context error wins when ctx is done.
func TransportError(ctx context.Context, carrier string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return shipper.NewShipperError(carrier, "TRANSPORT", "rate request failed").
		WithCause(fmt.Errorf("%w: %v", shipper.ErrServiceUnavailable, err)).
		WithRetryable(true)
}

// MalformedError reports a response body that could not be decoded.
func MalformedError(carrier string, status int, err error) error {
	return shipper.NewShipperError(carrier, "DECODE", "failed to decode rates response").
		WithCause(fmt.Errorf("%w: %v", shipper.ErrMalformedResponse, err)).
		WithStatusCode(status)
}

func decodeAPIError(status int, body []byte) *APIError {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		return &apiErr
	}

	// Try to parse as a simple error message
	var simpleErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &simpleErr); err == nil {
		msg := simpleErr.Error
		if msg == "" {
			msg = simpleErr.Message
		}
		if msg != "" {
			return &APIError{
				Code:    fmt.Sprintf("HTTP_%d", status),
				Message: msg,
			}
		}
	}

	return &APIError{
		Code:    fmt.Sprintf("HTTP_%d", status),
		Message: strings.TrimSpace(string(body)),
	}
}

// Ensure HTTPRateAPI implements RateAPI interface
var _ RateAPI = (*HTTPRateAPI)(nil)
