package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"REDIS_URL":      "redis://localhost:6379",
		"INVOICING_MOCK": "true",
		"APP_ENV":        "",
		"PORT":           "",
		"TAX_MODE":       "",
	})
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "exclusive", cfg.TaxMode)
	require.True(t, cfg.LoyaltyPointValue.Equal(decimal.NewFromInt(1)))
	require.True(t, cfg.InvoicingMock)
}

func TestLoadRequiresRedisURL(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"REDIS_URL":      "",
		"INVOICING_MOCK": "true",
	})
	require.Error(t, err)
}

func TestLoadRequiresInvoicingUpstream(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"REDIS_URL":          "redis://localhost:6379",
		"INVOICING_MOCK":     "",
		"INVOICING_BASE_URL": "",
	})
	require.Error(t, err)
}

func TestLoadRejectsUnknownTaxMode(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"REDIS_URL":      "redis://localhost:6379",
		"INVOICING_MOCK": "true",
		"TAX_MODE":       "compound",
	})
	require.Error(t, err)
}
