package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/oOccasio/loadBalancing/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
	Timeout  string `mapstructure:"timeout"`
}

type RequestConfig struct {
	Timeout      string `mapstructure:"timeout"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

type StrategyConfig struct {
	Default       string  `mapstructure:"default"`
	VirtualNodes  int     `mapstructure:"virtual_nodes"`
	EWMAAlpha     float64 `mapstructure:"ewma_alpha"`
	LatencyWindow int     `mapstructure:"latency_window"`
}

type BackendConfig struct {
	ID     string `mapstructure:"id"`
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Request     RequestConfig     `mapstructure:"request"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Backends    []BackendConfig   `mapstructure:"backends"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("health_check.interval", "5s")
	viper.SetDefault("health_check.timeout", "3s")
	viper.SetDefault("request.timeout", "10s")
	viper.SetDefault("request.max_body_bytes", 1<<20)
	viper.SetDefault("strategy.default", strategy.RoundRobin)
	viper.SetDefault("strategy.virtual_nodes", 150)
	viper.SetDefault("strategy.ewma_alpha", 0.3)
	viper.SetDefault("strategy.latency_window", 10)
	viper.SetDefault("logging.level", LogLevelInfo)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&hc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Request,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RequestConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RequestConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&rc.MaxBodyBytes,
						validation.Min(int64(1)),
					),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
			validation.By(validateUniqueIDs),
		),
		validation.Field(&c.Strategy,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StrategyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
				}
				names := strategy.Names()
				in := make([]interface{}, len(names))
				for i, n := range names {
					in[i] = n
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Default,
						validation.Required,
						validation.In(in...),
					),
					validation.Field(&sc.VirtualNodes,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&sc.EWMAAlpha,
						validation.Required,
						validation.Min(0.0),
						validation.Max(1.0),
					),
					validation.Field(&sc.LatencyWindow,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
	)
}

// HealthCheckInterval parses the probe interval.
func (c *Config) HealthCheckInterval() (time.Duration, error) {
	return time.ParseDuration(c.HealthCheck.Interval)
}

// HealthCheckTimeout parses the probe timeout.
func (c *Config) HealthCheckTimeout() (time.Duration, error) {
	return time.ParseDuration(c.HealthCheck.Timeout)
}

// RequestTimeout parses the forwarded-request timeout.
func (c *Config) RequestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Request.Timeout)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if backend.ID == "" {
		return validation.NewError("validation_empty_id", "backend id cannot be empty")
	}

	if backend.URL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(backend.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	// Weights of 0 or below are floored to 1 at backend construction.
	if backend.Weight < 0 {
		return validation.NewError("validation_invalid_weight", "weight cannot be negative")
	}

	return nil
}

func validateUniqueIDs(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of BackendConfig")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		if _, dup := seen[b.ID]; dup {
			return validation.NewError("validation_duplicate_id",
				fmt.Sprintf("duplicate backend id %q", b.ID))
		}
		seen[b.ID] = struct{}{}
	}

	return nil
}
