package server_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/ratequote/internal/server"
	"github.com/tournevent/ratequote/internal/telemetry"
	"github.com/tournevent/ratequote/pkg/quote"
	"github.com/tournevent/ratequote/pkg/shipper"
	"github.com/tournevent/ratequote/pkg/shipper/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const quoteBody = `{
	"origin": {"line1": "1 Dock Rd", "city": "Austin", "state": "TX", "postalCode": "73301", "countryCode": "US"},
	"destination": {"line1": "9 Elm St", "city": "Dallas", "state": "TX", "postalCode": "75201", "countryCode": "US"},
	"shipmentType": "PARCEL",
	"weight": 10,
	"weightUnit": "lb"
}`

func newTestServer(t *testing.T, shippers ...shipper.Shipper) http.Handler {
	t.Helper()

	logger := otelzap.New(zap.NewNop())
	registry := shipper.NewRegistry()
	rules := make([]shipper.Rule, 0, len(shippers))
	for _, s := range shippers {
		registry.Register(s)
		rules = append(rules, shipper.Rule{Carrier: s.Name()})
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	agg := shipper.NewAggregator(registry, shipper.NewPolicy("US", rules),
		shipper.AggregatorConfig{CarrierTimeout: 200 * time.Millisecond},
		logger, shipper.WithObserver(metrics))

	lifecycle, err := quote.NewLifecycle(1)
	require.NoError(t, err)
	svc := quote.NewService(lifecycle, agg, quote.NewMemoryStore(), logger)

	return server.New(server.Config{Port: 8080}, svc, registry, metrics, reg, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_Carriers(t *testing.T) {
	h := newTestServer(t, mock.New("bravo"), mock.New("alpha"))

	rec := do(t, h, http.MethodGet, "/v1/carriers", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var carriers []map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&carriers))
	require.Len(t, carriers, 2)
	assert.Equal(t, "alpha", carriers[0]["id"])
	assert.Equal(t, "Mock alpha", carriers[0]["displayName"])
}

func TestServer_CreateQuote(t *testing.T) {
	h := newTestServer(t,
		mock.New("alpha", mock.WithCost("30.00")),
		mock.New("bravo", mock.WithCost("12.50")),
		mock.New("charlie", mock.WithError(errors.New("connection reset"))),
	)

	rec := do(t, h, http.MethodPost, "/v1/quotes", quoteBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "QUOTED", resp["status"])
	assert.True(t, strings.HasPrefix(resp["quoteNumber"].(string), "QT"))

	offers := resp["carrierQuotes"].([]any)
	require.Len(t, offers, 2)
	first := offers[0].(map[string]any)
	assert.Equal(t, "bravo", first["carrierId"])
	assert.Equal(t, map[string]any{"amount": "12.50", "currency": "USD"}, first["totalCost"])

	unavailable := resp["unavailable"].([]any)
	require.Len(t, unavailable, 1)
	assert.Equal(t, "charlie", unavailable[0].(map[string]any)["carrierId"])
}

func TestServer_CreateQuote_Invalid(t *testing.T) {
	alpha := mock.New("alpha")
	h := newTestServer(t, alpha)

	rec := do(t, h, http.MethodPost, "/v1/quotes", strings.Replace(quoteBody, `"weight": 10`, `"weight": 0`, 1))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, map[string]any{"weight": "must be greater than 0"}, resp["fields"])
	assert.Zero(t, alpha.Calls())
}

func TestServer_CreateQuote_BadJSON(t *testing.T) {
	h := newTestServer(t, mock.New("alpha"))

	rec := do(t, h, http.MethodPost, "/v1/quotes", `{"weight": "heavy"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/quotes", `{"weight": 1, "unknown": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_QuickQuote(t *testing.T) {
	alpha := mock.New("alpha")
	h := newTestServer(t, alpha)

	rec := do(t, h, http.MethodPost, "/v1/quotes/quick", quoteBody)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, map[string]any{"amount": "155.00", "currency": "USD"}, resp["estimatedCost"])
	assert.Equal(t, float64(1), resp["estimatedTransitDays"])
	assert.Zero(t, alpha.Calls())
}

func TestServer_QuoteLifecycle(t *testing.T) {
	h := newTestServer(t, mock.New("alpha"), mock.New("bravo"))

	rec := do(t, h, http.MethodPost, "/v1/quotes", quoteBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	number := decode(t, rec)["quoteNumber"].(string)

	rec = do(t, h, http.MethodGet, "/v1/quotes/"+number, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "QUOTED", decode(t, rec)["status"])

	rec = do(t, h, http.MethodPost, "/v1/quotes/"+number+"/select", `{"carrierId": "zulu"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/quotes/"+number+"/select", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/quotes/"+number+"/select", `{"carrierId": "bravo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "SELECTED", resp["status"])
	assert.Equal(t, "bravo", resp["selectedCarrier"])

	rec = do(t, h, http.MethodPost, "/v1/quotes/"+number+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode(t, rec)["status"])

	rec = do(t, h, http.MethodPost, "/v1/quotes/"+number+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_QuoteNotFound(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/v1/quotes/QT404", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/v1/quotes", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	h := newTestServer(t, mock.New("alpha"))
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/quotes", quoteBody).Code)

	rec := do(t, h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ratequote_requests_total{carrier="alpha",operation="dispatch",status="quoted"} 1`)
	assert.Contains(t, body, `ratequote_requests_total{carrier="all",operation="quote",status="Created"} 1`)
}
