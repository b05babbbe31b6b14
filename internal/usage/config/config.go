package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	platformconfig "callgate/internal/platform/config"
	"callgate/internal/usage/policy"
	dErrors "callgate/pkg/domain-errors"
)

// Operation names understood by the remote service.
const (
	OperationGenerate = "generate"
	OperationAnalyze  = "analyze"
)

// DefaultBlockMessage is shown to callers in cooldown. %d is the wait in seconds.
const DefaultBlockMessage = "Too many requests. Please wait %d seconds before trying again."

// Config holds usage governance and call resilience settings.
type Config struct {
	// Tier table, ascending by ceiling, last tier unbounded
	Tiers []policy.Tier

	// Background sweep of stale usage records
	SweepInterval time.Duration // 5 minutes
	SweepMaxAge   time.Duration // 24 hours

	// Cooldown message template, formatted with the wait in seconds
	BlockMessage string

	// Result cache TTL per operation; DefaultCacheTTL covers the rest
	CacheTTLs       map[string]time.Duration
	DefaultCacheTTL time.Duration

	Retry RetryConfig
}

// RetryConfig defines the backoff applied to remote calls.
type RetryConfig struct {
	MaxAttempts int           // 3 attempts
	BaseDelay   time.Duration // 1s before the second attempt
	Multiplier  float64       // doubles each time
	MaxDelay    time.Duration // 0 = uncapped
}

// DefaultTiers returns the reference tier table.
func DefaultTiers() []policy.Tier {
	return []policy.Tier{
		{Ceiling: 8, Window: time.Minute, Cooldown: 0},
		{Ceiling: 12, Window: 5 * time.Minute, Cooldown: 30 * time.Second},
		{Ceiling: 18, Window: 15 * time.Minute, Cooldown: time.Minute},
		{Ceiling: 25, Window: time.Hour, Cooldown: 30 * time.Minute},
		{Ceiling: 35, Window: 2 * time.Hour, Cooldown: 45 * time.Minute},
		{Ceiling: policy.Unbounded, Window: 24 * time.Hour, Cooldown: 60 * time.Minute},
	}
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	return &Config{
		Tiers:         DefaultTiers(),
		SweepInterval: 5 * time.Minute,
		SweepMaxAge:   24 * time.Hour,
		BlockMessage:  DefaultBlockMessage,
		CacheTTLs: map[string]time.Duration{
			OperationGenerate: 5 * time.Minute,
			OperationAnalyze:  30 * time.Minute,
		},
		DefaultCacheTTL: 5 * time.Minute,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Multiplier:  2,
		},
	}
}

// FromEnv overlays environment overrides on DefaultConfig and validates the tier table.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if raw := os.Getenv("USAGE_TIERS"); raw != "" {
		tiers, err := ParseTiers(raw)
		if err != nil {
			return nil, err
		}
		cfg.Tiers = tiers
	}
	if raw := os.Getenv("CACHE_TTLS"); raw != "" {
		ttls, err := ParseTTLs(raw)
		if err != nil {
			return nil, err
		}
		for op, ttl := range ttls {
			cfg.CacheTTLs[op] = ttl
		}
	}
	if msg := os.Getenv("USAGE_BLOCK_MESSAGE"); msg != "" {
		cfg.BlockMessage = msg
	}

	cfg.SweepInterval = platformconfig.EnvDuration("USAGE_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.SweepMaxAge = platformconfig.EnvDuration("USAGE_SWEEP_MAX_AGE", cfg.SweepMaxAge)
	cfg.DefaultCacheTTL = platformconfig.EnvDuration("CACHE_DEFAULT_TTL", cfg.DefaultCacheTTL)
	cfg.Retry.MaxAttempts = platformconfig.EnvInt("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.BaseDelay = platformconfig.EnvDuration("RETRY_BASE_DELAY", cfg.Retry.BaseDelay)
	cfg.Retry.MaxDelay = platformconfig.EnvDuration("RETRY_MAX_DELAY", cfg.Retry.MaxDelay)
	if v := os.Getenv("RETRY_MULTIPLIER"); v != "" {
		if m, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retry.Multiplier = m
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the governor or invoker cannot run with.
func (c *Config) Validate() error {
	if err := policy.Validate(c.Tiers); err != nil {
		return err
	}
	if c.SweepInterval <= 0 || c.SweepMaxAge <= 0 {
		return dErrors.New(dErrors.CodeValidation, "sweep interval and max age must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return dErrors.New(dErrors.CodeValidation, "retry max attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return dErrors.New(dErrors.CodeValidation, "retry multiplier must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return dErrors.New(dErrors.CodeValidation, "retry delays cannot be negative")
	}
	return nil
}

// CacheTTL returns the result cache TTL for an operation.
func (c *Config) CacheTTL(operation string) time.Duration {
	if ttl, ok := c.CacheTTLs[operation]; ok {
		return ttl
	}
	return c.DefaultCacheTTL
}

// ParseTiers parses "ceiling:window:cooldown" entries separated by commas.
// A ceiling of "inf" marks the unbounded tier.
func ParseTiers(raw string) ([]policy.Tier, error) {
	parts := strings.Split(raw, ",")
	tiers := make([]policy.Tier, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid tier %q: want ceiling:window:cooldown", part))
		}

		var tier policy.Tier
		if fields[0] == "inf" {
			tier.Ceiling = policy.Unbounded
		} else {
			n, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("invalid tier ceiling %q", fields[0]))
			}
			tier.Ceiling = n
		}

		var err error
		if tier.Window, err = time.ParseDuration(fields[1]); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("invalid tier window %q", fields[1]))
		}
		if tier.Cooldown, err = time.ParseDuration(fields[2]); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("invalid tier cooldown %q", fields[2]))
		}
		tiers = append(tiers, tier)
	}
	if err := policy.Validate(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// ParseTTLs parses "operation:ttl" entries separated by commas.
func ParseTTLs(raw string) (map[string]time.Duration, error) {
	ttls := make(map[string]time.Duration)
	for part := range strings.SplitSeq(raw, ",") {
		op, value, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || op == "" {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid cache ttl %q: want operation:ttl", part))
		}
		ttl, err := time.ParseDuration(value)
		if err != nil || ttl < 0 {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid cache ttl for %s: %q", op, value))
		}
		ttls[op] = ttl
	}
	return ttls, nil
}
