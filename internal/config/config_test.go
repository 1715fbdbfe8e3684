package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitcex/exchange-core/pkg/errors"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsNoSymbols(t *testing.T) {
	cfg := Default()
	cfg.Symbols = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidationFailed))
}

func TestValidateRejectsDuplicateSymbol(t *testing.T) {
	cfg := Default()
	cfg.Symbols = append(cfg.Symbols, cfg.Symbols[0])
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidationFailed))
}

func TestValidateRejectsUnknownAsset(t *testing.T) {
	cfg := Default()
	cfg.Symbols[0].Base = "DOGE"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidationFailed))
}

func TestValidateRejectsNonPositiveTimings(t *testing.T) {
	cfg := Default()
	cfg.FreshnessBound = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MailboxHighWaterMark = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.LiquidationScanInterval = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsVenueMissingName(t *testing.T) {
	cfg := Default()
	cfg.Venues = append(cfg.Venues, VenueSpec{Name: ""})
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidationFailed))
}

func TestToSymbolConfigResolvesAssetsAndPolicy(t *testing.T) {
	cfg := Default()
	sc, err := cfg.ToSymbolConfig(cfg.Symbols[0])
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", sc.Symbol)
	assert.Equal(t, "BTC", sc.BaseAsset.Symbol)
	assert.Equal(t, 8, sc.BaseAsset.Scale)
	assert.Equal(t, "USDT", sc.QuoteAsset.Symbol)
	assert.Equal(t, 6, sc.QuoteAsset.Scale)
}

func TestToSymbolConfigRejectsUnknownSelfTradePolicy(t *testing.T) {
	cfg := Default()
	spec := cfg.Symbols[0]
	spec.SelfTradePolicy = "explode"
	_, err := cfg.ToSymbolConfig(spec)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidationFailed))
}

func TestVenueSpecToCredentials(t *testing.T) {
	spec := VenueSpec{
		Name:       "binance",
		APIKey:     "key",
		APISecret:  "secret",
		Passphrase: "pass",
		Testnet:    true,
		Enabled:    true,
	}
	creds := spec.ToCredentials()
	assert.Equal(t, "key", creds.APIKey)
	assert.Equal(t, "secret", creds.APISecret)
	assert.True(t, creds.Testnet)
	assert.True(t, creds.Enabled)
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Symbols[0].Symbol, cfg.Symbols[0].Symbol)
}
