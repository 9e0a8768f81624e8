package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
)

// VertexConfig is the tax engine connection and seller configuration.
type VertexConfig struct {
	URL             string `mapstructure:"url"`
	ClientID        string `mapstructure:"clientId"`
	ClientSecret    string `mapstructure:"clientSecret"`
	CompanyName     string `mapstructure:"companyName"`
	CompanyDivision string `mapstructure:"companyDivision"`

	Seller SellerAddress `mapstructure:"seller"`

	SkipAnomalousAdjustments bool `mapstructure:"skipAnomalousAdjustments"`

	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	TokenCache     string        `mapstructure:"tokenCache"`
}

// SellerAddress is the physical origin sent with every document. It is only
// attached when Country is set.
type SellerAddress struct {
	StreetAddress1 string `mapstructure:"streetAddress1"`
	StreetAddress2 string `mapstructure:"streetAddress2"`
	City           string `mapstructure:"city"`
	MainDivision   string `mapstructure:"mainDivision"`
	PostalCode     string `mapstructure:"postalCode"`
	Country        string `mapstructure:"country"`
}

// Configured reports whether enough is set to talk to the engine.
func (c VertexConfig) Configured() bool {
	return strings.TrimSpace(c.URL) != "" &&
		strings.TrimSpace(c.ClientID) != "" &&
		strings.TrimSpace(c.ClientSecret) != ""
}

func DefaultVertexConfig() VertexConfig {
	return VertexConfig{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    60 * time.Second,
		TokenCache:     TokenCacheMemory,
	}
}

type VertexConfigHolder struct {
	current atomic.Value // holds VertexConfig
}

// NewVertexConfigHolder reads vertex.yml and keeps it current on file changes.
// VERTEX_* environment variables override file values.
func NewVertexConfigHolder(log *zap.Logger) (*VertexConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("vertex")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/vertextax/config")
	v.AddConfigPath("/etc/vertextax")
	v.AddConfigPath(".")

	fileFound := true
	cfg, err := loadVertexConfig(v)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
		if cfg, err = unmarshalVertexConfig(v); err != nil {
			return nil, err
		}
	}

	holder := NewStaticVertexConfigHolder(cfg)
	if !cfg.Configured() {
		log.Warn("vertex client is not configured; tax calls will fail until url, clientId and clientSecret are set")
	}
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalVertexConfig(v)
		if err != nil {
			log.Warn("vertex config reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("vertex config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticVertexConfigHolder wraps a fixed configuration.
func NewStaticVertexConfigHolder(cfg VertexConfig) *VertexConfigHolder {
	holder := &VertexConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *VertexConfigHolder) Get() VertexConfig {
	return h.current.Load().(VertexConfig)
}

// Set replaces the current configuration after validation.
func (h *VertexConfigHolder) Set(cfg VertexConfig) error {
	if err := validateVertexConfig(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

func loadVertexConfig(v *viper.Viper) (VertexConfig, error) {
	setVertexDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return VertexConfig{}, err
	}
	return unmarshalVertexConfig(v)
}

func setVertexDefaults(v *viper.Viper) {
	defaults := DefaultVertexConfig()

	v.SetEnvPrefix("VERTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys must be known for env overrides to reach Unmarshal.
	v.SetDefault("url", "")
	v.SetDefault("clientId", "")
	v.SetDefault("clientSecret", "")
	v.SetDefault("companyName", "")
	v.SetDefault("companyDivision", "")
	v.SetDefault("seller.streetAddress1", "")
	v.SetDefault("seller.streetAddress2", "")
	v.SetDefault("seller.city", "")
	v.SetDefault("seller.mainDivision", "")
	v.SetDefault("seller.postalCode", "")
	v.SetDefault("seller.country", "")
	v.SetDefault("skipAnomalousAdjustments", false)
	v.SetDefault("connectTimeout", defaults.ConnectTimeout)
	v.SetDefault("readTimeout", defaults.ReadTimeout)
	v.SetDefault("tokenCache", defaults.TokenCache)
}

func unmarshalVertexConfig(v *viper.Viper) (VertexConfig, error) {
	setVertexDefaults(v)

	var cfg VertexConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return VertexConfig{}, err
	}
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	cfg.TokenCache = strings.ToLower(strings.TrimSpace(cfg.TokenCache))
	if err := validateVertexConfig(cfg); err != nil {
		return VertexConfig{}, err
	}
	return cfg, nil
}

func validateVertexConfig(cfg VertexConfig) error {
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("vertex.url %q is not an absolute url", cfg.URL)
		}
	}
	if cfg.ConnectTimeout <= 0 {
		return errors.New("vertex.connectTimeout must be positive")
	}
	if cfg.ReadTimeout <= 0 {
		return errors.New("vertex.readTimeout must be positive")
	}
	switch cfg.TokenCache {
	case TokenCacheMemory, TokenCacheRedis:
	default:
		return fmt.Errorf("vertex.tokenCache %q must be memory or redis", cfg.TokenCache)
	}
	return nil
}
