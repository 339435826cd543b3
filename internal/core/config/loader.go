package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override, e.g. SHOPCORD_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "SHOPCORD_"

// Load builds the configuration from defaults, the YAML file at path (if
// any) and SHOPCORD_* environment variables, in that order, then validates it.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FieldError describes one out-of-range setting.
type FieldError struct {
	Field  string
	Value  any
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s=%v: %s", e.Field, e.Value, e.Reason)
}

// ValidationError lists every invalid field. Values are never clamped.
type ValidationError struct {
	Fields []*FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the field errors to errors.Is/As.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Fields))
	for i, f := range e.Fields {
		errs[i] = f
	}
	return errs
}

// Validate checks every setting against its allowed range.
func (c *AppConfig) Validate() error {
	v := &ValidationError{}

	intRange(v, "retry.max_attempts", c.Retry.MaxAttempts, 0, 10)
	durationRange(v, "retry.base_delay", c.Retry.BaseDelay, 100*time.Millisecond, 10*time.Second)
	durationRange(v, "retry.max_delay", c.Retry.MaxDelay, c.Retry.BaseDelay, 60*time.Second)

	durationRange(v, "timeouts.default", c.Timeouts.Default, time.Second, 120*time.Second)
	durationRange(v, "timeouts.connect", c.Timeouts.Connect, time.Second, 120*time.Second)
	durationRange(v, "timeouts.read", c.Timeouts.Read, time.Second, 120*time.Second)
	durationRange(v, "timeouts.write", c.Timeouts.Write, time.Second, 120*time.Second)

	durationRange(v, "cache.ttl", c.Cache.TTL, 10*time.Second, time.Hour)
	intRange(v, "cache.max_size", c.Cache.MaxSize, 10, 100000)

	durationRange(v, "coordinator.timeout", c.Coordinator.Timeout, time.Second, 120*time.Second)
	durationRange(v, "sweep_interval", c.SweepInterval, time.Second, time.Hour)

	intRange(v, "server.port", c.Server.Port, 1, 65535)
	if c.Discord.GlobalRPS < 0 {
		v.Fields = append(v.Fields, &FieldError{Field: "discord.global_rps", Value: c.Discord.GlobalRPS, Reason: "must not be negative"})
	}
	if c.Discord.BaseURL == "" {
		v.Fields = append(v.Fields, &FieldError{Field: "discord.base_url", Value: `""`, Reason: "must be set"})
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.Fields = append(v.Fields, &FieldError{Field: "logging.level", Value: c.Logging.Level, Reason: "must be one of debug, info, warn, error"})
	}

	if len(v.Fields) == 0 {
		return nil
	}
	return v
}

func intRange(v *ValidationError, field string, value, lo, hi int) {
	if value < lo || value > hi {
		v.Fields = append(v.Fields, &FieldError{Field: field, Value: value, Reason: fmt.Sprintf("must be in [%d, %d]", lo, hi)})
	}
}

func durationRange(v *ValidationError, field string, value, lo, hi time.Duration) {
	if value < lo || value > hi {
		v.Fields = append(v.Fields, &FieldError{Field: field, Value: value, Reason: fmt.Sprintf("must be in [%s, %s]", lo, hi)})
	}
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
