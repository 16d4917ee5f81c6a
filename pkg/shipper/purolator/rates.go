// Package purolator implements the Purolator EstimatingService SOAP API as a carrier.RateAPI.
package purolator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tournevent/ratequote/pkg/shipper/carrier"
)

const (
	carrierID = "purolator"

	estimatingPath = "/EWS/V2/Estimating/EstimatingService.asmx"
	soapAction     = "http://purolator.com/pws/service/v2/GetFullEstimate"
	maxBody        = 256 << 10
)

// RateAPI is the production implementation of carrier.RateAPI using SOAP.
type RateAPI struct {
	baseURL       string
	username      string
	password      string
	accountNumber string
	httpClient    *http.Client
}

// Config holds configuration for the SOAP client.
type Config struct {
	BaseURL       string
	Username      string
	Password      string
	AccountNumber string
	Timeout       time.Duration
}

// NewRateAPI creates a new Purolator estimating client.
func NewRateAPI(cfg Config) *RateAPI {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &RateAPI{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		username:      cfg.Username,
		password:      cfg.Password,
		accountNumber: cfg.AccountNumber,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var envelopeTemplate = template.Must(template.New("envelope").Funcs(template.FuncMap{"x": escape}).Parse(
	`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:v2="http://purolator.com/pws/datatypes/v2">
  <soap:Header>
    <v2:RequestContext>
      <v2:Version>2.2</v2:Version>
      <v2:Language>en</v2:Language>
      <v2:GroupID></v2:GroupID>
      <v2:RequestReference>{{x .Reference}}</v2:RequestReference>
    </v2:RequestContext>
  </soap:Header>
  <soap:Body>
    <v2:GetFullEstimateRequest>
      <v2:Shipment>
        <v2:SenderInformation>
          <v2:Address>
            <v2:City>{{x .Origin.City}}</v2:City>
            <v2:Province>{{x .Origin.Region}}</v2:Province>
            <v2:Country>{{x .Origin.Country}}</v2:Country>
            <v2:PostalCode>{{x .Origin.PostalCode}}</v2:PostalCode>
          </v2:Address>
        </v2:SenderInformation>
        <v2:ReceiverInformation>
          <v2:Address>
            <v2:City>{{x .Destination.City}}</v2:City>
            <v2:Province>{{x .Destination.Region}}</v2:Province>
            <v2:Country>{{x .Destination.Country}}</v2:Country>
            <v2:PostalCode>{{x .Destination.PostalCode}}</v2:PostalCode>
          </v2:Address>
        </v2:ReceiverInformation>
        <v2:PackageInformation>
          <v2:ServiceID>{{x .ServiceID}}</v2:ServiceID>
          <v2:TotalWeight>
            <v2:Value>{{.Weight}}</v2:Value>
            <v2:WeightUnit>lb</v2:WeightUnit>
          </v2:TotalWeight>
          <v2:TotalPieces>{{.Pieces}}</v2:TotalPieces>
        </v2:PackageInformation>
        <v2:PaymentInformation>
          <v2:PaymentType>Sender</v2:PaymentType>
          <v2:RegisteredAccountNumber>{{x .Account}}</v2:RegisteredAccountNumber>
        </v2:PaymentInformation>
      </v2:Shipment>
      <v2:ShowAlternativeServicesIndicator>true</v2:ShowAlternativeServicesIndicator>
    </v2:GetFullEstimateRequest>
  </soap:Body>
</soap:Envelope>`))

type envelopeData struct {
	Reference   string
	Origin      carrier.Location
	Destination carrier.Location
	ServiceID   string
	Weight      string
	Pieces      int
	Account     string
}

// soapEnvelope represents a SOAP envelope response
type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    soapBody `xml:"Body"`
}

type soapBody struct {
	Fault    *soapFault                `xml:"Fault,omitempty"`
	Estimate *getFullEstimateResponse `xml:"GetFullEstimateResponse,omitempty"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type getFullEstimateResponse struct {
	Errors    []responseError    `xml:"ResponseInformation>Errors>Error"`
	Estimates []shipmentEstimate `xml:"ShipmentEstimates>ShipmentEstimate"`
}

type responseError struct {
	Code        string `xml:"Code"`
	Description string `xml:"Description"`
}

type shipmentEstimate struct {
	ServiceID            string          `xml:"ServiceID"`
	ExpectedDeliveryDate string          `xml:"ExpectedDeliveryDate"`
	EstimatedTransitDays int             `xml:"EstimatedTransitDays"`
	BasePrice            string          `xml:"BasePrice"`
	Surcharges           []soapSurcharge `xml:"Surcharges>Surcharge"`
	Taxes                []soapTax       `xml:"Taxes>Tax"`
	TotalPrice           string          `xml:"TotalPrice"`
}

type soapSurcharge struct {
	Amount      string `xml:"Amount"`
	Type        string `xml:"Type"`
	Description string `xml:"Description"`
}

type soapTax struct {
	Amount string `xml:"Amount"`
	Type   string `xml:"Type"`
}

// GetRates fetches shipping estimates from the Purolator EstimatingService.
func (c *RateAPI) GetRates(ctx context.Context, req *carrier.RatesRequest) (*carrier.RatesResponse, error) {
	reference := uuid.NewString()
	body, err := c.buildEnvelope(reference, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+estimatingPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Purolator uses Basic Auth
	auth := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
	httpReq.Header.Set("Authorization", "Basic "+auth)
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", soapAction)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, carrier.TransportError(ctx, carrierID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, carrier.TransportError(ctx, carrierID, err)
	}

	var env soapEnvelope
	decodeErr := xml.Unmarshal(data, &env)

	if resp.StatusCode != http.StatusOK {
		apiErr := &carrier.APIError{
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: strings.TrimSpace(string(data)),
		}
		if decodeErr == nil && env.Body.Fault != nil {
			apiErr.Code = env.Body.Fault.Code
			apiErr.Message = env.Body.Fault.String
		}
		return nil, carrier.StatusError(carrierID, resp.StatusCode, apiErr)
	}
	if decodeErr != nil {
		return nil, carrier.MalformedError(carrierID, resp.StatusCode, decodeErr)
	}

	return parseEstimates(reference, &env)
}

func (c *RateAPI) buildEnvelope(reference string, req *carrier.RatesRequest) ([]byte, error) {
	pieces := req.Packaging.Count
	if pieces <= 0 {
		pieces = 1
	}

	var buf bytes.Buffer
	err := envelopeTemplate.Execute(&buf, envelopeData{
		Reference:   reference,
		Origin:      req.Origin,
		Destination: req.Destination,
		ServiceID:   req.ServiceCode,
		Weight:      decimal.NewFromFloat(req.Packaging.Weight).Ceil().String(),
		Pieces:      pieces,
		Account:     c.accountNumber,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseEstimates(reference string, env *soapEnvelope) (*carrier.RatesResponse, error) {
	if env.Body.Fault != nil {
		return nil, carrier.StatusError(carrierID, http.StatusInternalServerError, &carrier.APIError{
			Code:    env.Body.Fault.Code,
			Message: env.Body.Fault.String,
		})
	}

	est := env.Body.Estimate
	if est == nil {
		return nil, carrier.MalformedError(carrierID, http.StatusOK, fmt.Errorf("no GetFullEstimateResponse in body"))
	}
	if len(est.Errors) > 0 {
		apiErr := &carrier.APIError{Code: est.Errors[0].Code, Message: est.Errors[0].Description}
		if len(est.Errors) > 1 {
			apiErr.Errors = make(map[string]string, len(est.Errors))
			for _, e := range est.Errors {
				apiErr.Errors[e.Code] = e.Description
			}
		}
		return nil, carrier.StatusError(carrierID, http.StatusBadRequest, apiErr)
	}

	rates := make([]carrier.Rate, 0, len(est.Estimates))
	for _, e := range est.Estimates {
		rate, err := convertEstimate(e)
		if err != nil {
			return nil, carrier.MalformedError(carrierID, http.StatusOK, err)
		}
		rates = append(rates, rate)
	}

	return &carrier.RatesResponse{RequestID: reference, Status: "complete", Rates: rates}, nil
}

func convertEstimate(e shipmentEstimate) (carrier.Rate, error) {
	base, err := decimal.NewFromString(strings.TrimSpace(e.BasePrice))
	if err != nil {
		return carrier.Rate{}, fmt.Errorf("base price %q: %w", e.BasePrice, err)
	}
	total, err := decimal.NewFromString(strings.TrimSpace(e.TotalPrice))
	if err != nil {
		return carrier.Rate{}, fmt.Errorf("total price %q: %w", e.TotalPrice, err)
	}

	fuel := decimal.Zero
	var surcharges []carrier.Surcharge
	for _, sc := range e.Surcharges {
		amount, err := decimal.NewFromString(strings.TrimSpace(sc.Amount))
		if err != nil {
			return carrier.Rate{}, fmt.Errorf("surcharge %s %q: %w", sc.Type, sc.Amount, err)
		}
		if sc.Type == "Fuel" || sc.Type == "FuelSurcharge" {
			fuel = fuel.Add(amount)
			continue
		}
		surcharges = append(surcharges, carrier.Surcharge{Code: sc.Type, Description: sc.Description, Amount: amount})
	}

	tax := decimal.Zero
	for _, t := range e.Taxes {
		amount, err := decimal.NewFromString(strings.TrimSpace(t.Amount))
		if err != nil {
			return carrier.Rate{}, fmt.Errorf("tax %s %q: %w", t.Type, t.Amount, err)
		}
		tax = tax.Add(amount)
	}

	return carrier.Rate{
		ID:                uuid.NewString(),
		ServiceCode:       e.ServiceID,
		ServiceName:       serviceName(e.ServiceID),
		BaseRate:          base,
		FuelSurcharge:     fuel,
		Surcharges:        surcharges,
		TotalTax:          tax,
		TotalPrice:        total,
		Currency:          "CAD",
		TransitDays:       e.EstimatedTransitDays,
		EstimatedDelivery: e.ExpectedDeliveryDate,
	}, nil
}

var serviceNames = map[string]string{
	"PurolatorExpress":        "Purolator Express",
	"PurolatorExpress9AM":     "Purolator Express 9AM",
	"PurolatorExpress10:30AM": "Purolator Express 10:30AM",
	"PurolatorExpress12PM":    "Purolator Express 12PM",
	"PurolatorExpressEvening": "Purolator Express Evening",
	"PurolatorGround":         "Purolator Ground",
	"PurolatorGround9AM":      "Purolator Ground 9AM",
	"PurolatorGround10:30AM":  "Purolator Ground 10:30AM",
	"PurolatorExpressUS":      "Purolator Express U.S.",
	"PurolatorGroundUS":       "Purolator Ground U.S.",
}

func serviceName(serviceID string) string {
	if name, ok := serviceNames[serviceID]; ok {
		return name
	}
	return serviceID
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// Ensure RateAPI implements carrier.RateAPI interface
var _ carrier.RateAPI = (*RateAPI)(nil)
