package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 24*time.Hour, cfg.Metrics.ReportingCadence.Std())
	assert.Equal(t, 365.0, cfg.Metrics.PeriodsPerYear)
	assert.Equal(t, 10000, cfg.Metrics.MaxSamples)
	assert.Equal(t, "paper", cfg.Exchange.Name)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"symbol": "ETHUSDT",
		"risk": {"max_drawdown_trip_pct": 0.2, "cooldown_duration": "30m", "max_open_positions": 5}
	}`), 0644))

	t.Setenv("RISK_COOLDOWN", "45m")
	t.Setenv("STORAGE_PATH", filepath.Join(dir, "state.json"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 0.2, cfg.Risk.MaxDrawdownTripPct)
	assert.Equal(t, 5, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, 45*time.Minute, cfg.Risk.Cooldown())
	assert.Equal(t, filepath.Join(dir, "state.json"), cfg.Storage.Path)
	// untouched fields keep defaults
	assert.Equal(t, 0.25, cfg.Risk.MaxPositionPctOfCapital)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestRiskLimits_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RiskLimits)
	}{
		{"position pct above one", func(l *RiskLimits) { l.MaxPositionPctOfCapital = 1.5 }},
		{"zero open positions", func(l *RiskLimits) { l.MaxOpenPositions = 0 }},
		{"drawdown negative", func(l *RiskLimits) { l.MaxDrawdownTripPct = -0.1 }},
		{"negative cooldown", func(l *RiskLimits) { l.CooldownDuration = Duration(-time.Second) }},
		{"zero failures", func(l *RiskLimits) { l.MaxConsecutiveFailures = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := DefaultRiskLimits()
			tt.mutate(&limits)
			assert.Error(t, limits.Validate())
		})
	}
	assert.NoError(t, DefaultRiskLimits().Validate())
}

func TestValidate_BybitNeedsCredentials(t *testing.T) {
	cfg := Default()
	cfg.Exchange.Name = "bybit"
	assert.Error(t, cfg.Validate())

	cfg.Engine.DryRun = true
	assert.NoError(t, cfg.Validate(), "dry runs only read public market data")
	cfg.Engine.DryRun = false

	cfg.Exchange.APIKey, cfg.Exchange.APISecret = "k", "s"
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Driver = "postgres"
	assert.Error(t, cfg.Validate())
}

func TestValidate_TelegramNeedsChatID(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("TELEGRAM_CHAT_ID", "-1001234")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Notifications.Enabled())
	assert.Equal(t, int64(-1001234), cfg.Notifications.TelegramChatID)
	assert.Equal(t, 64, cfg.Notifications.QueueSize)
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"90s"`)))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Std())
	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))

	out, err := Duration(time.Minute).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(out))
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RISK_CORE_TEST_VAR=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("RISK_CORE_TEST_VAR") })
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("RISK_CORE_TEST_VAR"))
}

func TestStrategyConfig_Validate(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultStrategyConfig(), cfg.Strategy)
	assert.NoError(t, cfg.Validate())

	cfg.Strategy.PriceThreshold = 1.5
	assert.Error(t, cfg.Validate())

	s := DefaultStrategyConfig()
	s.MaxEntries = 0
	assert.Error(t, s.Validate())
}
