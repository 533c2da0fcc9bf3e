package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config contains the options of a session: transport settings for the
// exchange adapter plus the per-call defaults of the normalization engine.
type Config struct {
	Exchange string `json:"exchange" yaml:"exchange" validate:"required"`
	Sandbox  bool   `json:"sandbox" yaml:"sandbox"`
	// BaseURL overrides the adapter's default endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Timeout is the maximum duration for HTTP requests.
	Timeout      time.Duration `json:"timeout" yaml:"timeout" validate:"min=1ms"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" validate:"min=0"`
	RetryWaitMin time.Duration `json:"retry_wait_min" yaml:"retry_wait_min" validate:"min=0"`
	RetryWaitMax time.Duration `json:"retry_wait_max" yaml:"retry_wait_max" validate:"min=0"`

	RateLimitRequests int           `json:"rate_limit_requests" yaml:"rate_limit_requests" validate:"min=0"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" yaml:"rate_limit_period" validate:"min=1ms"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled" yaml:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold" yaml:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold" yaml:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout" yaml:"circuit_breaker_timeout"`

	// ConcurrencyLimit bounds in-flight exchange calls of one dispatcher.
	ConcurrencyLimit int `json:"concurrency_limit" yaml:"concurrency_limit" validate:"min=1"`
	// OutOfRangePolicy is the default limit policy for order preprocessing.
	OutOfRangePolicy Policy `json:"out_of_range_policy" yaml:"out_of_range_policy" validate:"oneof=clip warn"`
	// UnknownSymbol is the default handling of orders for symbols without metadata.
	UnknownSymbol UnknownSymbolPolicy `json:"unknown_symbol" yaml:"unknown_symbol" validate:"oneof=abort proceed"`
	// StrictRows turns per-row order failures into batch failures.
	StrictRows bool `json:"strict_rows" yaml:"strict_rows"`
	// DropEmpty prunes all-missing columns from normalized tables.
	DropEmpty bool `json:"drop_empty" yaml:"drop_empty"`

	LogLevel string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with sensible defaults for the specified exchange.
// Default values: 10s timeout, 3 retries, 1200 req/min, circuit breaker with
// 5 failures/2 successes/30s timeout, 8 concurrent calls, warn policy, drop-empty on.
func DefaultConfig(exchange string) *Config {
	return &Config{
		Exchange:     exchange,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 1 * time.Second,

		RateLimitRequests: 1200,
		RateLimitPeriod:   time.Minute,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		ConcurrencyLimit: 8,
		OutOfRangePolicy: PolicyWarn,
		UnknownSymbol:    UnknownSymbolAbort,
		DropEmpty:        true,

		LogLevel: "info",
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewError(ErrorTypeInvalidConfig, "invalid config").
			WithCode(ErrCodeInvalidConfig).
			Wrap(err)
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return errors.New("CircuitBreakerFailThreshold must be positive when enabled")
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return errors.New("CircuitBreakerSuccessThreshold must be positive when enabled")
		}
		if c.CircuitBreakerTimeout <= 0 {
			return errors.New("CircuitBreakerTimeout must be positive when enabled")
		}
	}
	return nil
}

// Level returns the zerolog level named by LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	if c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// LoadConfig reads a YAML config file over DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML bytes over DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var head struct {
		Exchange string `yaml:"exchange"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg := DefaultConfig(head.Exchange)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithSandbox enables or disables sandbox mode and returns the config for chaining.
func (c *Config) WithSandbox(sandbox bool) *Config {
	c.Sandbox = sandbox
	return c
}

// WithBaseURL overrides the adapter endpoint and returns the config for chaining.
func (c *Config) WithBaseURL(url string) *Config {
	c.BaseURL = url
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimit sets the rate limiting parameters and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}

// WithConcurrency sets the dispatcher bound and returns the config for chaining.
func (c *Config) WithConcurrency(limit int) *Config {
	c.ConcurrencyLimit = limit
	return c
}

// WithPolicy sets the default out-of-range policy and returns the config for chaining.
func (c *Config) WithPolicy(policy Policy) *Config {
	c.OutOfRangePolicy = policy
	return c
}

// WithStrictRows toggles strict row validation and returns the config for chaining.
func (c *Config) WithStrictRows(strict bool) *Config {
	c.StrictRows = strict
	return c
}

// WithDropEmpty toggles empty-column pruning and returns the config for chaining.
func (c *Config) WithDropEmpty(drop bool) *Config {
	c.DropEmpty = drop
	return c
}
