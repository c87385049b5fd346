package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_URL", "postgres://localhost/economy")
	t.Setenv("GAME_SERVICE_TOKEN", "secret")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, ":5200", cfg.ListenAddr)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, 5, cfg.ReferralMaxDepth)
	require.Equal(t, 10000, cfg.ReferralMaxNodes)
	require.Equal(t, 10*time.Minute, cfg.SummaryCacheTTL)
	require.Zero(t, cfg.ReferralRefreshInterval)
	require.False(t, cfg.R2Enabled())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("REFERRAL_MAX_DEPTH", "deep")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("REFERRAL_MAX_DEPTH", "3")
	t.Setenv("REFERRAL_REFRESH_INTERVAL", "soon")
	_, err = Load()
	require.Error(t, err)
}

func TestValidateRequiresDatabaseAndToken(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())
	cfg.DatabaseURL = "postgres://x"
	require.Error(t, cfg.Validate())
	cfg.GatewayToken = "t"
	require.NoError(t, cfg.Validate())
}
