package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// QuotaConfig is the points engine policy. It is read from quota.yml and
// reloaded when the file changes.
type QuotaConfig struct {
	BufferFractions   BufferFractions    `mapstructure:"bufferFractions"`
	ConversionFactors map[string]float64 `mapstructure:"conversionFactors"`
	Retry             RetryConfig        `mapstructure:"retry"`
	TxTimeout         time.Duration      `mapstructure:"txTimeout"`
	BalanceCacheTTL   time.Duration      `mapstructure:"balanceCacheTTL"`
	DeductRateLimit   RateLimitConfig    `mapstructure:"deductRateLimit"`
}

type BufferFractions struct {
	Individual   float64 `mapstructure:"individual"`
	Organization float64 `mapstructure:"organization"`
}

type RetryConfig struct {
	MaxAttempts     uint          `mapstructure:"maxAttempts"`
	InitialInterval time.Duration `mapstructure:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"maxInterval"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"`
	Burst   int     `mapstructure:"burst"`
}

func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		BufferFractions: BufferFractions{
			Individual:   0.20,
			Organization: 0.20,
		},
		ConversionFactors: map[string]float64{},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
		},
		TxTimeout:       5 * time.Second,
		BalanceCacheTTL: 30 * time.Second,
		DeductRateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    20,
			Burst:   40,
		},
	}
}

type QuotaConfigHolder struct {
	current atomic.Value // holds QuotaConfig
}

// NewStaticQuotaConfigHolder wraps a fixed config; used by tests and tools.
func NewStaticQuotaConfigHolder(cfg QuotaConfig) *QuotaConfigHolder {
	holder := &QuotaConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewQuotaConfigHolder(cfg Config, log *zap.Logger) (*QuotaConfigHolder, error) {
	v := viper.New()

	if cfg.QuotaConfigPath != "" {
		v.SetConfigFile(cfg.QuotaConfigPath)
	} else {
		v.SetConfigName("quota")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/edupoints")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("EDUPOINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setQuotaDefaults(v, DefaultQuotaConfig())

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	quotaCfg, err := decodeQuota(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateQuotaConfig(quotaCfg); err != nil {
		return nil, err
	}

	holder := NewStaticQuotaConfigHolder(quotaCfg)
	log = log.Named("config.quota")

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeQuota(v)
			if err != nil {
				log.Warn("quota config reload failed", zap.Error(err))
				return
			}
			if err := ValidateQuotaConfig(updated); err != nil {
				log.Warn("invalid quota config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("quota config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	log.Info("quota config loaded",
		zap.Bool("from_file", fileLoaded),
		zap.Float64("buffer_individual", quotaCfg.BufferFractions.Individual),
		zap.Float64("buffer_organization", quotaCfg.BufferFractions.Organization),
	)
	return holder, nil
}

func (h *QuotaConfigHolder) Get() QuotaConfig {
	return h.current.Load().(QuotaConfig)
}

// decodeQuota unmarshals the full settings tree so defaults merge with
// partially specified sections.
func decodeQuota(v *viper.Viper) (QuotaConfig, error) {
	var root struct {
		Quota QuotaConfig `mapstructure:"quota"`
	}
	if err := v.Unmarshal(&root); err != nil {
		return QuotaConfig{}, err
	}
	if root.Quota.ConversionFactors == nil {
		root.Quota.ConversionFactors = map[string]float64{}
	}
	return root.Quota, nil
}

func setQuotaDefaults(v *viper.Viper, d QuotaConfig) {
	v.SetDefault("quota.bufferFractions.individual", d.BufferFractions.Individual)
	v.SetDefault("quota.bufferFractions.organization", d.BufferFractions.Organization)
	v.SetDefault("quota.retry.maxAttempts", d.Retry.MaxAttempts)
	v.SetDefault("quota.retry.initialInterval", d.Retry.InitialInterval)
	v.SetDefault("quota.retry.maxInterval", d.Retry.MaxInterval)
	v.SetDefault("quota.txTimeout", d.TxTimeout)
	v.SetDefault("quota.balanceCacheTTL", d.BalanceCacheTTL)
	v.SetDefault("quota.deductRateLimit.enabled", d.DeductRateLimit.Enabled)
	v.SetDefault("quota.deductRateLimit.rate", d.DeductRateLimit.Rate)
	v.SetDefault("quota.deductRateLimit.burst", d.DeductRateLimit.Burst)
}

func ValidateQuotaConfig(cfg QuotaConfig) error {
	if cfg.BufferFractions.Individual < 0 || cfg.BufferFractions.Organization < 0 {
		return errors.New("quota.bufferFractions must not be negative")
	}
	for unit, factor := range cfg.ConversionFactors {
		if strings.TrimSpace(unit) == "" {
			return errors.New("quota.conversionFactors has an empty unit")
		}
		if factor < 0 {
			return fmt.Errorf("quota.conversionFactors.%s must not be negative", unit)
		}
	}
	if cfg.Retry.MaxAttempts == 0 {
		return errors.New("quota.retry.maxAttempts must be at least 1")
	}
	if cfg.TxTimeout <= 0 {
		return errors.New("quota.txTimeout must be positive")
	}
	if cfg.DeductRateLimit.Enabled && (cfg.DeductRateLimit.Rate <= 0 || cfg.DeductRateLimit.Burst <= 0) {
		return errors.New("quota.deductRateLimit rate and burst must be positive")
	}
	return nil
}
