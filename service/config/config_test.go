package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/store")
	t.Setenv("RECIPIENT_ADDRESS", "0x8d5fb3e576bbe08279a3a64194c01b36d4bbb0c9")
	t.Setenv("SIGNER_URL", "http://localhost:9090")
	t.Setenv("EMAIL_SERVICE_ID", "B3TRBEACH")
	t.Setenv("EMAIL_TEMPLATE_ID", "B3TRConfirm")
	t.Setenv("EMAIL_PUBLIC_KEY", "pk_test")
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "postgres://localhost/store", cfg.DatabaseURL)
	assert.Equal(t, "https://mainnet.vechain.org", cfg.NodeURL)
	assert.Equal(t, common.HexToAddress("0x8d5fb3e576bbe08279a3a64194c01b36d4bbb0c9"), cfg.RecipientAddress)
	assert.Equal(t, common.HexToAddress(defaultTokenAddress), cfg.TokenAddress)
	assert.Equal(t, 18, cfg.TokenDecimals)
	assert.Equal(t, 10*time.Second, cfg.RefetchCooldown)
}

func TestLoad_MissingRecipient(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RECIPIENT_ADDRESS", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "RECIPIENT_ADDRESS is required")
}

func TestLoad_MalformedRecipient(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RECIPIENT_ADDRESS", "not-an-address")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "not a valid address")
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_InvalidCooldown(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REFETCH_COOLDOWN", "not-a-duration")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "REFETCH_COOLDOWN")
}

func TestLoad_CooldownTooShort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REFETCH_COOLDOWN", "100ms")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "at least 1 second")
}

func TestValidate_RecipientEqualsToken(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RECIPIENT_ADDRESS", defaultTokenAddress)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "must be different")
}

func TestLoad_InvalidNetwork(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NETWORK", "staging")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "Network must be")
}
