package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/lockbox_test")
	t.Setenv("ETH_RPC_URL", "http://localhost:8545")
}

func TestLoad(t *testing.T) {
	t.Run("defaults apply when only required vars are set", func(t *testing.T) {
		setRequired(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, uint64(1), cfg.Confirmations)
		assert.Equal(t, 10*time.Minute, cfg.MonitorTimeout)
		assert.Equal(t, 4*time.Second, cfg.PollInterval)
		assert.Equal(t, 1.2, cfg.GasSafetyMultiplier)
		assert.Equal(t, 30*time.Second, cfg.QuoteTTL)
		assert.Equal(t, 3.0, cfg.PriceImpactCeiling)
		assert.Equal(t, 0.5, cfg.DefaultSlippagePct)
		assert.Equal(t, 5*time.Minute, cfg.IdleLockTimeout)
		assert.Equal(t, 8080, cfg.Port)
		assert.True(t, cfg.RateLimitEnabled)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		setRequired(t)
		t.Setenv("TX_CONFIRMATIONS", "3")
		t.Setenv("SESSION_IDLE_TIMEOUT", "90s")
		t.Setenv("RATE_LIMIT_ENABLED", "false")
		t.Setenv("GAS_SAFETY_MULTIPLIER", "1.5")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, uint64(3), cfg.Confirmations)
		assert.Equal(t, 90*time.Second, cfg.IdleLockTimeout)
		assert.False(t, cfg.RateLimitEnabled)
		assert.Equal(t, 1.5, cfg.GasSafetyMultiplier)
	})

	t.Run("unparseable values fall back to defaults", func(t *testing.T) {
		setRequired(t)
		t.Setenv("TX_POLL_INTERVAL", "not-a-duration")
		t.Setenv("PORT", "not-a-number")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 4*time.Second, cfg.PollInterval)
		assert.Equal(t, 8080, cfg.Port)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			PostgresDSN:         "postgres://localhost/lockbox",
			EthRPCURL:           "http://localhost:8545",
			Confirmations:       1,
			GasSafetyMultiplier: 1.2,
			PriceImpactCeiling:  3.0,
			DefaultSlippagePct:  0.5,
			IdleLockTimeout:     5 * time.Minute,
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing database DSN", func(t *testing.T) {
		c := valid()
		c.PostgresDSN = ""
		assert.Error(t, c.Validate())
	})

	t.Run("missing RPC URL", func(t *testing.T) {
		c := valid()
		c.EthRPCURL = ""
		assert.Error(t, c.Validate())
	})

	t.Run("zero confirmations", func(t *testing.T) {
		c := valid()
		c.Confirmations = 0
		assert.Error(t, c.Validate())
	})

	t.Run("safety multiplier below one", func(t *testing.T) {
		c := valid()
		c.GasSafetyMultiplier = 0.9
		assert.Error(t, c.Validate())
	})

	t.Run("impact ceiling out of range", func(t *testing.T) {
		c := valid()
		c.PriceImpactCeiling = 0
		assert.Error(t, c.Validate())

		c.PriceImpactCeiling = 150
		assert.Error(t, c.Validate())
	})

	t.Run("non-positive idle timeout", func(t *testing.T) {
		c := valid()
		c.IdleLockTimeout = 0
		assert.Error(t, c.Validate())
	})
}
