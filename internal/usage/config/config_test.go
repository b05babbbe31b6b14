package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"callgate/internal/usage/policy"
	dErrors "callgate/pkg/domain-errors"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefaultConfigIsValid() {
	cfg := DefaultConfig()
	s.NoError(cfg.Validate())
	s.Len(cfg.Tiers, 6)
	s.Equal(5*time.Minute, cfg.CacheTTL(OperationGenerate))
	s.Equal(30*time.Minute, cfg.CacheTTL(OperationAnalyze))
	s.Equal(cfg.DefaultCacheTTL, cfg.CacheTTL("summarize"))
}

func (s *ConfigSuite) TestParseTiers() {
	s.Run("reference table round trips", func() {
		tiers, err := ParseTiers("8:1m:0s, 12:5m:30s, 18:15m:1m, 25:1h:30m, 35:2h:45m, inf:24h:60m")
		s.Require().NoError(err)
		s.Equal(DefaultTiers(), tiers)
	})

	s.Run("malformed entry", func() {
		_, err := ParseTiers("8:1m")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("bad duration", func() {
		_, err := ParseTiers("8:soon:0s,inf:1h:1m")
		s.ErrorContains(err, "window")
	})

	s.Run("table without unbounded tier", func() {
		_, err := ParseTiers("8:1m:0s,12:5m:30s")
		s.ErrorContains(err, "unbounded")
	})
}

func (s *ConfigSuite) TestParseTTLs() {
	ttls, err := ParseTTLs("generate:1m,analyze:2h")
	s.Require().NoError(err)
	s.Equal(map[string]time.Duration{"generate": time.Minute, "analyze": 2 * time.Hour}, ttls)

	_, err = ParseTTLs("generate")
	s.Error(err)
}

func (s *ConfigSuite) TestFromEnv() {
	s.Run("overrides", func() {
		s.T().Setenv("USAGE_TIERS", "3:1m:0s,inf:1h:10s")
		s.T().Setenv("CACHE_TTLS", "generate:0s")
		s.T().Setenv("RETRY_MAX_ATTEMPTS", "5")
		s.T().Setenv("RETRY_MULTIPLIER", "1.5")
		s.T().Setenv("USAGE_SWEEP_INTERVAL", "30s")

		cfg, err := FromEnv()
		s.Require().NoError(err)
		s.Equal([]policy.Tier{
			{Ceiling: 3, Window: time.Minute},
			{Ceiling: policy.Unbounded, Window: time.Hour, Cooldown: 10 * time.Second},
		}, cfg.Tiers)
		s.Zero(cfg.CacheTTL(OperationGenerate))
		s.Equal(30*time.Minute, cfg.CacheTTL(OperationAnalyze))
		s.Equal(5, cfg.Retry.MaxAttempts)
		s.InDelta(1.5, cfg.Retry.Multiplier, 0.0001)
		s.Equal(30*time.Second, cfg.SweepInterval)
	})

	s.Run("invalid tiers rejected at startup", func() {
		s.T().Setenv("USAGE_TIERS", "10:1m:0s,5:1m:0s")
		_, err := FromEnv()
		s.Error(err)
	})

	s.Run("multiplier below one rejected", func() {
		s.T().Setenv("USAGE_TIERS", "")
		s.T().Setenv("RETRY_MULTIPLIER", "0.5")
		_, err := FromEnv()
		s.ErrorContains(err, "multiplier")
	})
}
