package main

import (
	"context"

	"github.com/tournevent/ratequote/internal/config"
	"github.com/tournevent/ratequote/internal/store"
	"github.com/tournevent/ratequote/internal/telemetry"
	"github.com/tournevent/ratequote/pkg/quote"
	"github.com/tournevent/ratequote/pkg/shipper"
	"github.com/tournevent/ratequote/pkg/shipper/canadapost"
	"github.com/tournevent/ratequote/pkg/shipper/carrier"
	"github.com/tournevent/ratequote/pkg/shipper/purolator"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return nil, func(context.Context) error { return nil }, nil
	}

	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
}

func initShipperRegistry(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) *shipper.Registry {
	registry := shipper.NewRegistry()

	breaker := carrier.BreakerConfig{
		MaxRequests:      1,
		Interval:         cfg.BreakerInterval,
		Timeout:          cfg.BreakerOpenTimeout,
		FailureThreshold: cfg.BreakerFailureThreshold,
	}

	// Register enabled carriers
	for _, settings := range cfg.Carriers() {
		if !settings.Enabled {
			continue
		}
		profile, ok := carrier.LookupProfile(settings.ID)
		if !ok {
			logger.Warn("No profile for configured carrier", zap.String("carrier", settings.ID))
			continue
		}

		clientCfg := carrier.Config{
			APIKey:          settings.APIKey,
			APISecret:       settings.APISecret,
			BaseURL:         settings.BaseURL,
			Timeout:         cfg.CarrierTimeout,
			FallbackOnError: cfg.FallbackOnError,
			Breaker:         breaker,
		}

		var client *carrier.Client
		if api := rateAPIFor(settings, clientCfg); api != nil {
			client = carrier.NewWithAPI(profile, clientCfg, api, logger, tracer)
		} else {
			client = carrier.New(profile, clientCfg, logger, tracer)
		}
		registry.Register(client)

		logger.Info("Registered carrier",
			zap.String("carrier", client.Name()),
			zap.Bool("live", client.Live()),
		)
	}

	return registry
}

// rateAPIFor returns the native protocol client of carriers that do not speak
// the JSON rates API, or nil to use the default one.
func rateAPIFor(settings config.Carrier, clientCfg carrier.Config) carrier.RateAPI {
	if !clientCfg.HasCredentials() {
		return nil
	}

	switch settings.ID {
	case shipper.CarrierCanadaPost:
		return canadapost.NewRateAPI(canadapost.Config{
			BaseURL:        settings.BaseURL,
			APIKey:         settings.APIKey,
			APISecret:      settings.APISecret,
			CustomerNumber: settings.Account,
			Timeout:        clientCfg.Timeout,
		})
	case shipper.CarrierPurolator:
		return purolator.NewRateAPI(purolator.Config{
			BaseURL:       settings.BaseURL,
			Username:      settings.APIKey,
			Password:      settings.APISecret,
			AccountNumber: settings.Account,
			Timeout:       clientCfg.Timeout,
		})
	default:
		return nil
	}
}

func initAggregator(cfg *config.Config, registry *shipper.Registry, metrics *telemetry.Metrics, logger *otelzap.Logger, tracer trace.Tracer) *shipper.Aggregator {
	opts := []shipper.AggregatorOption{shipper.WithObserver(metrics)}
	if tracer != nil {
		opts = append(opts, shipper.WithTracer(tracer))
	}

	return shipper.NewAggregator(registry, shipper.DefaultPolicy(cfg.HomeCountry), shipper.AggregatorConfig{
		CarrierTimeout: cfg.CarrierTimeout,
		BackstopGrace:  cfg.BackstopGrace,
		MaxFanOut:      cfg.MaxFanOut,
	}, logger, opts...)
}

// initStore returns the Redis store when an address is configured and the
// in-memory store otherwise, with a function releasing its connection.
func initStore(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (quote.Store, func() error, error) {
	if cfg.RedisAddr == "" {
		logger.Info("Using in-memory quote store")
		return quote.NewMemoryStore(), func() error { return nil }, nil
	}

	s, rdb, err := store.Connect(ctx, store.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		Retention: cfg.QuoteRetention,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, rdb.Close, nil
}

func initService(cfg *config.Config, aggregator quote.Aggregator, st quote.Store, logger *otelzap.Logger) (*quote.Service, error) {
	lifecycle, err := quote.NewLifecycle(cfg.NodeID)
	if err != nil {
		return nil, err
	}
	return quote.NewService(lifecycle, aggregator, st, logger), nil
}
