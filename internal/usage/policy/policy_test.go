package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "callgate/pkg/domain-errors"
)

type PolicySuite struct {
	suite.Suite
	policy *Policy
}

func TestPolicySuite(t *testing.T) {
	suite.Run(t, new(PolicySuite))
}

func referenceTiers() []Tier {
	return []Tier{
		{Ceiling: 8, Window: time.Minute, Cooldown: 0},
		{Ceiling: 12, Window: 5 * time.Minute, Cooldown: 30 * time.Second},
		{Ceiling: 18, Window: 15 * time.Minute, Cooldown: time.Minute},
		{Ceiling: 25, Window: time.Hour, Cooldown: 30 * time.Minute},
		{Ceiling: 35, Window: 2 * time.Hour, Cooldown: 45 * time.Minute},
		{Ceiling: Unbounded, Window: 24 * time.Hour, Cooldown: 60 * time.Minute},
	}
}

func (s *PolicySuite) SetupTest() {
	p, err := New(referenceTiers())
	s.Require().NoError(err)
	s.policy = p
}

func (s *PolicySuite) TestTierFor() {
	cases := []struct {
		count   int
		ceiling int
	}{
		{0, 8},
		{1, 8},
		{8, 8},
		{9, 12},
		{12, 12},
		{13, 18},
		{25, 25},
		{26, 35},
		{36, Unbounded},
		{10_000, Unbounded},
	}
	for _, tc := range cases {
		s.Equal(tc.ceiling, s.policy.TierFor(tc.count).Ceiling, "count %d", tc.count)
	}
}

func (s *PolicySuite) TestTiersReturnsCopy() {
	tiers := s.policy.Tiers()
	tiers[0].Ceiling = 1
	s.Equal(8, s.policy.TierFor(1).Ceiling)
}

func (s *PolicySuite) TestValidate() {
	s.Run("empty table", func() {
		s.True(dErrors.HasCode(Validate(nil), dErrors.CodeValidation))
	})

	s.Run("last tier bounded", func() {
		err := Validate([]Tier{{Ceiling: 5, Window: time.Minute}})
		s.ErrorContains(err, "unbounded")
	})

	s.Run("ceilings out of order", func() {
		err := Validate([]Tier{
			{Ceiling: 10, Window: time.Minute},
			{Ceiling: 5, Window: time.Minute},
			{Ceiling: Unbounded, Window: time.Hour},
		})
		s.ErrorContains(err, "ascending")
	})

	s.Run("cooldown decreases", func() {
		err := Validate([]Tier{
			{Ceiling: 5, Window: time.Minute, Cooldown: time.Minute},
			{Ceiling: Unbounded, Window: time.Hour, Cooldown: time.Second},
		})
		s.ErrorContains(err, "cooldowns")
	})

	s.Run("non-positive window", func() {
		err := Validate([]Tier{{Ceiling: Unbounded}})
		s.ErrorContains(err, "window")
	})

	s.Run("reference table is valid", func() {
		s.NoError(Validate(referenceTiers()))
	})
}

func (s *PolicySuite) TestTierString() {
	s.Equal("8:1m0s:0s", referenceTiers()[0].String())
	s.Equal("inf:24h0m0s:1h0m0s", referenceTiers()[5].String())
}
