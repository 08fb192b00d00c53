package observability

import (
	"testing"

	"github.com/smallbiznis/edupoints/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigNormalizesExporterSettings(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment:       "production",
		AppVersion:        " 1.2.0 ",
		LogLevel:          "info",
		LogFormat:         "yaml",
		OTLPEndpoint:      " collector:4317 ",
		OTLPProtocol:      "udp",
		OtelEnabled:       true,
		OtelSamplingRatio: 3,
	})

	assert.Equal(t, "edupoints", cfg.ServiceName)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestDebugFollowsLevelOrEnvironment(t *testing.T) {
	assert.True(t, LoadConfig(config.Config{Environment: "production", LogLevel: "debug"}).Debug())
	assert.True(t, LoadConfig(config.Config{Environment: "test", LogLevel: "info"}).Debug())
	assert.False(t, LoadConfig(config.Config{Environment: "staging", LogLevel: "warn"}).Debug())
}

func TestProviderConfigsShareServiceIdentity(t *testing.T) {
	cfg := LoadConfig(config.Config{AppName: "points", AppVersion: "2", Environment: "test", OtelEnabled: true, OTLPProtocol: "http"})

	logCfg := cfg.logger()
	assert.Equal(t, "points", logCfg.ServiceName)
	assert.True(t, logCfg.IncludeStackOnError)

	traceCfg := cfg.tracing()
	assert.Equal(t, "2", traceCfg.ServiceVersion)
	assert.Equal(t, "http", traceCfg.ExporterProtocol)

	metricCfg := cfg.metrics()
	assert.True(t, metricCfg.Enabled)
	assert.Equal(t, "test", metricCfg.Environment)
}
