package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/ratequote/internal/telemetry"
	"github.com/tournevent/ratequote/pkg/quote"
	"github.com/tournevent/ratequote/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP server for the rate quoting service.
type Server struct {
	port     int
	service  *quote.Service
	registry *shipper.Registry
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
}

// Config holds server configuration.
type Config struct {
	Port int
}

// New creates a new server instance. Metrics are exposed from gatherer.
func New(cfg Config, service *quote.Service, registry *shipper.Registry, metrics *telemetry.Metrics, gatherer prometheus.Gatherer, logger *otelzap.Logger) *Server {
	return &Server{
		port:     cfg.Port,
		service:  service,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		gatherer: gatherer,
	}
}

// Handler returns the HTTP routes of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/carriers", s.instrument("carriers", s.handleCarriers))
	mux.HandleFunc("POST /v1/quotes", s.instrument("quote", s.handleQuote))
	mux.HandleFunc("POST /v1/quotes/quick", s.instrument("quick_quote", s.handleQuickQuote))
	mux.HandleFunc("GET /v1/quotes/{number}", s.instrument("get_quote", s.handleGetQuote))
	mux.HandleFunc("POST /v1/quotes/{number}/select", s.instrument("select_quote", s.handleSelect))
	mux.HandleFunc("POST /v1/quotes/{number}/cancel", s.instrument("cancel_quote", s.handleCancel))

	return mux
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type carrierInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type selectRequest struct {
	CarrierID string `json:"carrierId"`
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(operation string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordRequest(operation, "all", http.StatusText(rec.status), time.Since(start).Seconds())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	shippers := s.registry.All()
	carriers := make([]carrierInfo, 0, len(shippers))
	for _, sh := range shippers {
		carriers = append(carriers, carrierInfo{ID: sh.Name(), DisplayName: sh.DisplayName()})
	}
	s.writeJSON(w, http.StatusOK, carriers)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req shipper.QuoteRequest
	if !s.decode(w, r, &req) {
		return
	}

	q, err := s.service.Quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleQuickQuote(w http.ResponseWriter, r *http.Request) {
	var req shipper.QuoteRequest
	if !s.decode(w, r, &req) {
		return
	}

	est, err := s.service.QuickQuote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, est)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.service.Get(r.Context(), r.PathValue("number"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CarrierID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "carrierId is required",
			Fields: map[string]string{"carrierId": "is required"},
		})
		return
	}

	q, err := s.service.Select(r.Context(), r.PathValue("number"), req.CarrierID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	q, err := s.service.Cancel(r.Context(), r.PathValue("number"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var verr *shipper.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}

	if status >= http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	s.writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shipper.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, quote.ErrQuoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, quote.ErrQuoteExpired):
		return http.StatusGone
	case errors.Is(err, quote.ErrInvalidTransition), errors.Is(err, quote.ErrCarrierNotOffered):
		return http.StatusConflict
	case shipper.IsFatal(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}
