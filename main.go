package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/tournevent/ratequote/internal/server"
	"github.com/tournevent/ratequote/internal/telemetry"
	"github.com/tournevent/ratequote/pkg/quote"
	"github.com/tournevent/ratequote/pkg/shipper"
	"go.uber.org/zap"
)

var version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ratequote",
	Short:   "Multi-carrier shipping rate aggregation service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Rate a shipment read from a JSON file and print the result",
	RunE:  runQuote,
}

var (
	quoteFile  string
	quoteQuick bool
)

func init() {
	quoteCmd.Flags().StringVarP(&quoteFile, "file", "f", "", "path to a JSON quote request (- for stdin)")
	quoteCmd.Flags().BoolVar(&quoteQuick, "quick", false, "print the blended estimate without contacting carriers")
	_ = quoteCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(serveCmd, quoteCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(context.Background())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// Initialize shipper registry with all carriers
	registry := initShipperRegistry(cfg, logger, tracer)
	aggregator := initAggregator(cfg, registry, metrics, logger, tracer)

	st, closeStore, err := initStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := initService(cfg, aggregator, st, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting rate quote service",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Strings("carriers", registry.Names()),
	)

	// Start HTTP server
	srv := server.New(server.Config{Port: cfg.Port}, svc, registry, metrics, reg, logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	req, err := readRequest(quoteFile)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	registry := initShipperRegistry(cfg, logger, nil)
	aggregator := initAggregator(cfg, registry, metrics, logger, nil)
	svc, err := initService(cfg, aggregator, quote.NewMemoryStore(), logger)
	if err != nil {
		return err
	}

	var result any
	if quoteQuick {
		result, err = svc.QuickQuote(ctx, req)
	} else {
		result, err = svc.Quote(ctx, req)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func readRequest(path string) (shipper.QuoteRequest, error) {
	var req shipper.QuoteRequest

	f := os.Stdin
	if path != "-" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return req, fmt.Errorf("opening request: %w", err)
		}
		defer f.Close()
	}

	if err := json.NewDecoder(f).Decode(&req); err != nil {
		return req, fmt.Errorf("decoding request %s: %w", path, err)
	}
	return req, nil
}
