package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/ratequote/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "US", cfg.HomeCountry)
	assert.Equal(t, 10*time.Second, cfg.CarrierTimeout)
	assert.Equal(t, 2*time.Second, cfg.BackstopGrace)
	assert.Equal(t, 16, cfg.MaxFanOut)
	assert.Equal(t, 24*time.Hour, cfg.QuoteRetention)
	assert.Empty(t, cfg.RedisAddr)

	carriers := cfg.Carriers()
	require.Len(t, carriers, 6)
	for _, c := range carriers {
		assert.True(t, c.Enabled, c.ID)
		assert.NotEmpty(t, c.BaseURL, c.ID)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOME_COUNTRY", "CA")
	t.Setenv("CARRIER_TIMEOUT", "3s")
	t.Setenv("DHL_ENABLED", "false")
	t.Setenv("UPS_API_KEY", "key")
	t.Setenv("UPS_API_SECRET", "secret")
	t.Setenv("PUROLATOR_ACCOUNT_NUMBER", "9999999999")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "CA", cfg.HomeCountry)
	assert.Equal(t, 3*time.Second, cfg.CarrierTimeout)

	byID := make(map[string]config.Carrier)
	for _, c := range cfg.Carriers() {
		byID[c.ID] = c
	}
	assert.False(t, byID["dhl"].Enabled)
	assert.Equal(t, "key", byID["ups"].APIKey)
	assert.Equal(t, "secret", byID["ups"].APISecret)
	assert.Empty(t, byID["fedex"].APIKey)
	assert.Equal(t, "9999999999", byID["purolator"].Account)
	assert.Empty(t, byID["canadapost"].Account)
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad home country", "HOME_COUNTRY", "USA"},
		{"zero timeout", "CARRIER_TIMEOUT", "0s"},
		{"negative grace", "BACKSTOP_GRACE", "-1s"},
		{"zero fan-out", "MAX_FAN_OUT", "0"},
		{"unparseable duration", "CARRIER_TIMEOUT", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestConfig_Attributes(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	attrs := cfg.Attributes()
	keys := make(map[string]bool)
	for _, a := range attrs {
		keys[string(a.Key)] = true
	}
	assert.True(t, keys["service.name"])
	assert.True(t, keys["fedex.live"])
	assert.True(t, keys["purolator.enabled"])
}
