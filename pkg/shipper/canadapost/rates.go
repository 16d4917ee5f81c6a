// Package canadapost implements the Canada Post rating web service as a carrier.RateAPI.
package canadapost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tournevent/ratequote/pkg/shipper/carrier"
)

const (
	carrierID = "canadapost"

	rateNamespace = "http://www.canadapost.ca/ws/ship/rate-v4"
	rateMediaType = "application/vnd.cpc.ship.rate-v4+xml"
	ratePath      = "/rs/ship/price"

	fuelAdjustment = "FUELSC"
	maxErrorBody   = 64 << 10
)

// RateAPI is the production implementation of carrier.RateAPI using HTTP/XML.
type RateAPI struct {
	baseURL        string
	apiKey         string
	apiSecret      string
	customerNumber string
	httpClient     *http.Client
}

// Config holds configuration for the HTTP client.
type Config struct {
	BaseURL        string
	APIKey         string
	APISecret      string // Password for Basic Auth
	CustomerNumber string
	Timeout        time.Duration
}

// NewRateAPI creates a new Canada Post rating client.
func NewRateAPI(cfg Config) *RateAPI {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &RateAPI{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		apiSecret:      cfg.APISecret,
		customerNumber: cfg.CustomerNumber,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// mailingScenario is the XML structure for rate requests
type mailingScenario struct {
	XMLName          xml.Name              `xml:"mailing-scenario"`
	Xmlns            string                `xml:"xmlns,attr"`
	CustomerNumber   string                `xml:"customer-number,omitempty"`
	ParcelCharacter  parcelCharacteristics `xml:"parcel-characteristics"`
	Services         *services             `xml:"services,omitempty"`
	OriginPostalCode string                `xml:"origin-postal-code"`
	Destination      xmlDestination        `xml:"destination"`
}

type parcelCharacteristics struct {
	Weight     string         `xml:"weight"` // kg, 3 decimals
	Dimensions *xmlDimensions `xml:"dimensions,omitempty"`
}

type xmlDimensions struct {
	Length string `xml:"length"` // cm, 1 decimal
	Width  string `xml:"width"`
	Height string `xml:"height"`
}

type services struct {
	ServiceCode []string `xml:"service-code"`
}

type xmlDestination struct {
	Domestic      *xmlDomestic      `xml:"domestic,omitempty"`
	UnitedStates  *xmlUnitedStates  `xml:"united-states,omitempty"`
	International *xmlInternational `xml:"international,omitempty"`
}

type xmlDomestic struct {
	PostalCode string `xml:"postal-code"`
}

type xmlUnitedStates struct {
	ZipCode string `xml:"zip-code"`
}

type xmlInternational struct {
	CountryCode string `xml:"country-code"`
}

// priceQuotes is the XML response structure for rates
type priceQuotes struct {
	XMLName    xml.Name     `xml:"price-quotes"`
	PriceQuote []priceQuote `xml:"price-quote"`
}

type priceQuote struct {
	ServiceCode     string          `xml:"service-code"`
	ServiceName     string          `xml:"service-name"`
	PriceDetails    priceDetails    `xml:"price-details"`
	ServiceStandard serviceStandard `xml:"service-standard"`
}

type priceDetails struct {
	Base        string       `xml:"base"`
	Taxes       priceTaxes   `xml:"taxes"`
	Due         string       `xml:"due"`
	Adjustments []adjustment `xml:"adjustments>adjustment"`
}

type priceTaxes struct {
	GST string `xml:"gst"`
	PST string `xml:"pst"`
	HST string `xml:"hst"`
}

type adjustment struct {
	Code string `xml:"adjustment-code"`
	Name string `xml:"adjustment-name"`
	Cost string `xml:"adjustment-cost"`
}

type serviceStandard struct {
	ExpectedTransitTime  int    `xml:"expected-transit-time"`
	ExpectedDeliveryDate string `xml:"expected-delivery-date"`
}

// messages is the XML error response structure
type messages struct {
	XMLName xml.Name  `xml:"messages"`
	Message []message `xml:"message"`
}

type message struct {
	Code        string `xml:"code"`
	Description string `xml:"description"`
}

// GetRates fetches shipping rates from the Canada Post API.
func (c *RateAPI) GetRates(ctx context.Context, req *carrier.RatesRequest) (*carrier.RatesResponse, error) {
	body, err := xml.Marshal(c.buildScenario(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ratePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.apiKey + ":" + c.apiSecret))
	httpReq.Header.Set("Authorization", "Basic "+auth)
	httpReq.Header.Set("Content-Type", rateMediaType)
	httpReq.Header.Set("Accept", rateMediaType)
	httpReq.Header.Set("Accept-language", "en-CA")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, carrier.TransportError(ctx, carrierID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var quotes priceQuotes
	if err := xml.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, carrier.MalformedError(carrierID, resp.StatusCode, err)
	}

	return convertRates(&quotes)
}

func (c *RateAPI) buildScenario(req *carrier.RatesRequest) mailingScenario {
	scenario := mailingScenario{
		Xmlns:            rateNamespace,
		CustomerNumber:   c.customerNumber,
		OriginPostalCode: normalizePostalCode(req.Origin.PostalCode),
		ParcelCharacter: parcelCharacteristics{
			Weight: kilograms(req.Packaging.Weight),
		},
	}

	if p := req.Packaging; p.Length > 0 && p.Width > 0 && p.Height > 0 {
		scenario.ParcelCharacter.Dimensions = &xmlDimensions{
			Length: centimeters(p.Length),
			Width:  centimeters(p.Width),
			Height: centimeters(p.Height),
		}
	}
	if req.ServiceCode != "" {
		scenario.Services = &services{ServiceCode: []string{req.ServiceCode}}
	}

	switch country := strings.ToUpper(req.Destination.Country); country {
	case "CA":
		scenario.Destination.Domestic = &xmlDomestic{PostalCode: normalizePostalCode(req.Destination.PostalCode)}
	case "US":
		scenario.Destination.UnitedStates = &xmlUnitedStates{ZipCode: strings.TrimSpace(req.Destination.PostalCode)}
	default:
		scenario.Destination.International = &xmlInternational{CountryCode: country}
	}

	return scenario
}

func convertRates(quotes *priceQuotes) (*carrier.RatesResponse, error) {
	rates := make([]carrier.Rate, 0, len(quotes.PriceQuote))
	for _, q := range quotes.PriceQuote {
		base, err := amount(q.PriceDetails.Base)
		if err != nil {
			return nil, carrier.MalformedError(carrierID, http.StatusOK, err)
		}
		due, err := amount(q.PriceDetails.Due)
		if err != nil {
			return nil, carrier.MalformedError(carrierID, http.StatusOK, err)
		}

		tax := decimal.Zero
		for _, t := range []string{q.PriceDetails.Taxes.GST, q.PriceDetails.Taxes.PST, q.PriceDetails.Taxes.HST} {
			v, err := amount(t)
			if err != nil {
				return nil, carrier.MalformedError(carrierID, http.StatusOK, err)
			}
			tax = tax.Add(v)
		}

		fuel := decimal.Zero
		var surcharges []carrier.Surcharge
		for _, adj := range q.PriceDetails.Adjustments {
			cost, err := amount(adj.Cost)
			if err != nil {
				return nil, carrier.MalformedError(carrierID, http.StatusOK, err)
			}
			if adj.Code == fuelAdjustment {
				fuel = fuel.Add(cost)
				continue
			}
			surcharges = append(surcharges, carrier.Surcharge{Code: adj.Code, Description: adj.Name, Amount: cost})
		}

		rates = append(rates, carrier.Rate{
			ServiceCode:       q.ServiceCode,
			ServiceName:       q.ServiceName,
			BaseRate:          base,
			FuelSurcharge:     fuel,
			Surcharges:        surcharges,
			TotalTax:          tax,
			TotalPrice:        due,
			Currency:          "CAD",
			TransitDays:       q.ServiceStandard.ExpectedTransitTime,
			EstimatedDelivery: q.ServiceStandard.ExpectedDeliveryDate,
		})
	}

	return &carrier.RatesResponse{Status: "complete", Rates: rates}, nil
}

func (c *RateAPI) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &carrier.APIError{
		Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Message: strings.TrimSpace(string(body)),
	}
	var msgs messages
	if err := xml.Unmarshal(body, &msgs); err == nil && len(msgs.Message) > 0 {
		apiErr.Code = msgs.Message[0].Code
		apiErr.Message = msgs.Message[0].Description
		if len(msgs.Message) > 1 {
			apiErr.Errors = make(map[string]string, len(msgs.Message)-1)
			for _, m := range msgs.Message[1:] {
				apiErr.Errors[m.Code] = m.Description
			}
		}
	}

	return carrier.StatusError(carrierID, resp.StatusCode, apiErr)
}

func amount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func kilograms(lb float64) string {
	return decimal.NewFromFloat(lb).Div(decimal.NewFromFloat(2.20462)).Round(3).String()
}

func centimeters(in float64) string {
	return decimal.NewFromFloat(in).Mul(decimal.NewFromFloat(2.54)).Round(1).String()
}

func normalizePostalCode(pc string) string {
	return strings.ReplaceAll(strings.ToUpper(pc), " ", "")
}

// Ensure RateAPI implements carrier.RateAPI interface
var _ carrier.RateAPI = (*RateAPI)(nil)
