package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEconomy_IsValid(t *testing.T) {
	require.NoError(t, DefaultEconomy().Validate())
}

func TestLoadEconomy_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "economy.toml")
	content := `
[pricing]
purchase_base_fee = 8
commission_rate = "0.35"

[rewards]
upload = 40
daily_login = [1, 2, 3]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	economy, err := LoadEconomy(path)
	require.NoError(t, err)

	assert.Equal(t, int64(8), economy.Pricing.PurchaseBaseFee)
	assert.Equal(t, "0.35", economy.Pricing.CommissionRate.String())
	assert.Equal(t, int64(40), economy.Rewards.Upload)
	assert.Equal(t, []int64{1, 2, 3}, economy.Rewards.DailyLogin)
	// Не указанные в файле поля остаются по умолчанию
	assert.Equal(t, int64(10), economy.Pricing.MaxDownloadCost)
	assert.Len(t, economy.Levels, 10)
	assert.NoError(t, economy.Validate())
}

func TestLoadEconomy_MissingFile(t *testing.T) {
	_, err := LoadEconomy(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEconomyValidate_Rejects(t *testing.T) {
	e := DefaultEconomy()
	e.Pricing.MaxSizeBytes = e.Pricing.MinSizeBytes
	assert.Error(t, e.Validate())

	e = DefaultEconomy()
	e.Rewards.ChatBonus[0].Weight = 0
	assert.Error(t, e.Validate())

	e = DefaultEconomy()
	e.Rewards.FollowerThreshold = 0
	assert.Error(t, e.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", ":memory:")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.AdminEnabled())
	assert.Equal(t, int64(20), cfg.Economy.Rewards.Upload)
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := Config{DBDriver: "mysql", Economy: DefaultEconomy()}
	assert.Error(t, cfg.Validate())
}
