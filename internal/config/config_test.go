package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	cfg := FromViper(newViper())

	assert.Equal(t, "THUNES", cfg.Provider.Name)
	assert.Equal(t, 30, cfg.Settlement.MarketMultiplier)
	assert.True(t, cfg.Settlement.PayoutFeesPct.Equal(decimal.RequireFromString("1.2")))
	assert.True(t, cfg.Settlement.PayoutPct.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, 1, cfg.Jobs.Settlement.Concurrency)
	assert.Equal(t, 3, cfg.Jobs.Settlement.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Jobs.Settlement.Backoff)
	assert.Equal(t, 5, cfg.Jobs.Payout.Concurrency)
	assert.Equal(t, 5, cfg.Jobs.Payout.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Jobs.Payout.Backoff)
}

func TestFromViperEnvOverrides(t *testing.T) {
	t.Setenv("PROVIDER", "rapyd")
	t.Setenv("RAPYD_KEY", "key")
	t.Setenv("RAPYD_SECRET", "secret")
	t.Setenv("DRY_RUN_MODE", "true")
	t.Setenv("TAXES_PCT", "12.5")

	cfg := FromViper(newViper())

	assert.Equal(t, "RAPYD", cfg.Provider.Name)
	assert.True(t, cfg.Provider.Rapyd.Present())
	assert.False(t, cfg.Provider.Thunes.Present())
	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.Settlement.TaxesPct.Equal(decimal.RequireFromString("12.5")))
}
