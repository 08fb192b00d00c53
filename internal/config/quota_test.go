package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStaticQuotaConfigHolder(t *testing.T) {
	holder := NewStaticQuotaConfigHolder(DefaultQuotaConfig())
	cfg := holder.Get()
	assert.Equal(t, 0.2, cfg.BufferFractions.Individual)
	assert.Equal(t, 0.2, cfg.BufferFractions.Organization)
	assert.Equal(t, uint(3), cfg.Retry.MaxAttempts)
}

func TestNewQuotaConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quota.yml")
	content := []byte(`quota:
  bufferFractions:
    individual: 0.1
    organization: 0.25
  conversionFactors:
    pages: 2
  retry:
    maxAttempts: 5
    initialInterval: 10ms
  txTimeout: 2s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewQuotaConfigHolder(Config{QuotaConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 0.1, cfg.BufferFractions.Individual)
	assert.Equal(t, 0.25, cfg.BufferFractions.Organization)
	assert.Equal(t, 2.0, cfg.ConversionFactors["pages"])
	assert.Equal(t, uint(5), cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, time.Second, cfg.Retry.MaxInterval)
	assert.Equal(t, 2*time.Second, cfg.TxTimeout)
	assert.Equal(t, 30*time.Second, cfg.BalanceCacheTTL)
}

func TestValidateQuotaConfig(t *testing.T) {
	assert.NoError(t, ValidateQuotaConfig(DefaultQuotaConfig()))

	bad := DefaultQuotaConfig()
	bad.BufferFractions.Organization = -0.1
	assert.Error(t, ValidateQuotaConfig(bad))

	bad = DefaultQuotaConfig()
	bad.Retry.MaxAttempts = 0
	assert.Error(t, ValidateQuotaConfig(bad))

	bad = DefaultQuotaConfig()
	bad.ConversionFactors = map[string]float64{"pages": -1}
	assert.Error(t, ValidateQuotaConfig(bad))
}
