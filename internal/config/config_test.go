package config_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crestline/oauth-service/internal/config"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_DB_URL", "postgres://localhost:5432/oauth")
	t.Setenv("AUTH_TOKEN_PRIVATE_KEY_PATH", "/keys/private.pem")
	t.Setenv("AUTH_TOKEN_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("AUTH_SECURITY_SECRET_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.App.Environment)
	require.Equal(t, 4102, cfg.HTTP.Port)
	require.Equal(t, 5*time.Minute, cfg.Token.AuthCodeTTL)
	require.Equal(t, time.Hour, cfg.Token.AccessTokenTTL)
	require.True(t, cfg.Token.RotateRefreshTokens)

	key, err := cfg.SecretKey()
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_DB_URL", "")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadRejectsBadEncryptionKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_SECURITY_SECRET_ENCRYPTION_KEY", "not-base64!!")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadClampsCodeTTL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_TOKEN_CODE_TTL", "1h")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, config.MaxAuthCodeTTL, cfg.Token.AuthCodeTTL)
}

func TestLoadRejectsExcessiveClockSkew(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_TOKEN_CLOCK_SKEW_GRACE", "5m")

	_, err := config.Load()
	require.Error(t, err)
}
