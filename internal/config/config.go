package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Aggregation
	HomeCountry     string        `envconfig:"HOME_COUNTRY" default:"US"`
	CarrierTimeout  time.Duration `envconfig:"CARRIER_TIMEOUT" default:"10s"`
	BackstopGrace   time.Duration `envconfig:"BACKSTOP_GRACE" default:"2s"`
	MaxFanOut       int           `envconfig:"MAX_FAN_OUT" default:"16"`
	FallbackOnError bool          `envconfig:"FALLBACK_ON_ERROR" default:"false"`
	NodeID          int64         `envconfig:"NODE_ID" default:"1"`

	// Circuit breaker
	BreakerFailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerOpenTimeout      time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
	BreakerInterval         time.Duration `envconfig:"BREAKER_INTERVAL" default:"1m"`

	// FedEx
	FedExAPIKey    string `envconfig:"FEDEX_API_KEY"`
	FedExAPISecret string `envconfig:"FEDEX_API_SECRET"`
	FedExBaseURL   string `envconfig:"FEDEX_BASE_URL" default:"https://apis.fedex.com/rate/v1"`
	FedExEnabled   bool   `envconfig:"FEDEX_ENABLED" default:"true"`

	// UPS
	UPSAPIKey    string `envconfig:"UPS_API_KEY"`
	UPSAPISecret string `envconfig:"UPS_API_SECRET"`
	UPSBaseURL   string `envconfig:"UPS_BASE_URL" default:"https://onlinetools.ups.com/api/rating/v2"`
	UPSEnabled   bool   `envconfig:"UPS_ENABLED" default:"true"`

	// DHL
	DHLAPIKey    string `envconfig:"DHL_API_KEY"`
	DHLAPISecret string `envconfig:"DHL_API_SECRET"`
	DHLBaseURL   string `envconfig:"DHL_BASE_URL" default:"https://express.api.dhl.com/mydhlapi"`
	DHLEnabled   bool   `envconfig:"DHL_ENABLED" default:"true"`

	// USPS
	USPSAPIKey    string `envconfig:"USPS_API_KEY"`
	USPSAPISecret string `envconfig:"USPS_API_SECRET"`
	USPSBaseURL   string `envconfig:"USPS_BASE_URL" default:"https://apis.usps.com/prices/v3"`
	USPSEnabled   bool   `envconfig:"USPS_ENABLED" default:"true"`

	// Canada Post
	CanadaPostAPIKey    string `envconfig:"CANADAPOST_API_KEY"`
	CanadaPostAPISecret string `envconfig:"CANADAPOST_API_SECRET"`
	CanadaPostBaseURL   string `envconfig:"CANADAPOST_BASE_URL" default:"https://soa-gw.canadapost.ca"`
	CanadaPostCustomer  string `envconfig:"CANADAPOST_CUSTOMER_NUMBER"`
	CanadaPostEnabled   bool   `envconfig:"CANADAPOST_ENABLED" default:"true"`

	// Purolator
	PurolatorAPIKey    string `envconfig:"PUROLATOR_API_KEY"`
	PurolatorAPISecret string `envconfig:"PUROLATOR_API_SECRET"`
	PurolatorBaseURL   string `envconfig:"PUROLATOR_BASE_URL" default:"https://webservices.purolator.com"`
	PurolatorAccount   string `envconfig:"PUROLATOR_ACCOUNT_NUMBER"`
	PurolatorEnabled   bool   `envconfig:"PUROLATOR_ENABLED" default:"true"`

	// Quote storage. An empty address keeps quotes in memory.
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	QuoteRetention time.Duration `envconfig:"QUOTE_RETENTION" default:"24h"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"ratequote"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.1.0"`
}

// Carrier is the connection settings of one carrier.
type Carrier struct {
	ID        string
	APIKey    string
	APISecret string
	BaseURL   string
	// Account is the customer or billing account number, where the carrier needs one.
	Account string
	Enabled bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(strings.TrimSpace(c.HomeCountry)) != 2 {
		return fmt.Errorf("HOME_COUNTRY must be a two-letter country code, got %q", c.HomeCountry)
	}
	if c.CarrierTimeout <= 0 {
		return fmt.Errorf("CARRIER_TIMEOUT must be positive, got %s", c.CarrierTimeout)
	}
	if c.BackstopGrace < 0 {
		return fmt.Errorf("BACKSTOP_GRACE must not be negative, got %s", c.BackstopGrace)
	}
	if c.MaxFanOut <= 0 {
		return fmt.Errorf("MAX_FAN_OUT must be positive, got %d", c.MaxFanOut)
	}
	return nil
}

// Carriers returns the settings of every supported carrier, in a fixed order.
func (c *Config) Carriers() []Carrier {
	return []Carrier{
		{ID: "fedex", APIKey: c.FedExAPIKey, APISecret: c.FedExAPISecret, BaseURL: c.FedExBaseURL, Enabled: c.FedExEnabled},
		{ID: "ups", APIKey: c.UPSAPIKey, APISecret: c.UPSAPISecret, BaseURL: c.UPSBaseURL, Enabled: c.UPSEnabled},
		{ID: "dhl", APIKey: c.DHLAPIKey, APISecret: c.DHLAPISecret, BaseURL: c.DHLBaseURL, Enabled: c.DHLEnabled},
		{ID: "usps", APIKey: c.USPSAPIKey, APISecret: c.USPSAPISecret, BaseURL: c.USPSBaseURL, Enabled: c.USPSEnabled},
		{ID: "canadapost", APIKey: c.CanadaPostAPIKey, APISecret: c.CanadaPostAPISecret, BaseURL: c.CanadaPostBaseURL, Account: c.CanadaPostCustomer, Enabled: c.CanadaPostEnabled},
		{ID: "purolator", APIKey: c.PurolatorAPIKey, APISecret: c.PurolatorAPISecret, BaseURL: c.PurolatorBaseURL, Account: c.PurolatorAccount, Enabled: c.PurolatorEnabled},
	}
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("ratequote.home_country", c.HomeCountry),
		attribute.Bool("ratequote.redis", c.RedisAddr != ""),
	}
	for _, carrier := range c.Carriers() {
		attrs = append(attrs,
			attribute.Bool(carrier.ID+".enabled", carrier.Enabled),
			attribute.Bool(carrier.ID+".live", carrier.APIKey != ""),
		)
	}
	return attrs
}
