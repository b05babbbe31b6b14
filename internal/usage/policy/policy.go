// Package policy maps a usage count to the rate tier that governs it.
package policy

import (
	"fmt"
	"math"
	"time"

	dErrors "callgate/pkg/domain-errors"
)

// Unbounded is the ceiling of the terminal tier.
const Unbounded = math.MaxInt

// Tier bounds the calls permitted within a window. Cooldown is imposed when a
// caller crosses into this tier from the one below.
type Tier struct {
	Ceiling  int
	Window   time.Duration
	Cooldown time.Duration
}

// IsUnbounded reports whether the tier has no ceiling.
func (t Tier) IsUnbounded() bool {
	return t.Ceiling == Unbounded
}

func (t Tier) String() string {
	ceiling := "inf"
	if !t.IsUnbounded() {
		ceiling = fmt.Sprintf("%d", t.Ceiling)
	}
	return fmt.Sprintf("%s:%s:%s", ceiling, t.Window, t.Cooldown)
}

// Policy is an immutable, validated tier table.
type Policy struct {
	tiers []Tier
}

// New validates tiers and returns a Policy over a private copy of them.
func New(tiers []Tier) (*Policy, error) {
	if err := Validate(tiers); err != nil {
		return nil, err
	}
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return &Policy{tiers: cp}, nil
}

// Validate checks that ceilings are positive and strictly ascending, windows are
// positive, cooldowns are non-negative and non-decreasing, and the last tier is unbounded.
func Validate(tiers []Tier) error {
	if len(tiers) == 0 {
		return dErrors.New(dErrors.CodeValidation, "tier table cannot be empty")
	}
	for i, t := range tiers {
		if t.Ceiling <= 0 {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("tier %d: ceiling must be positive", i))
		}
		if t.Window <= 0 {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("tier %d: window must be positive", i))
		}
		if t.Cooldown < 0 {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("tier %d: cooldown cannot be negative", i))
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.Ceiling <= prev.Ceiling {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("tier %d: ceilings must be strictly ascending", i))
		}
		if t.Cooldown < prev.Cooldown {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("tier %d: cooldowns must not decrease", i))
		}
	}
	if !tiers[len(tiers)-1].IsUnbounded() {
		return dErrors.New(dErrors.CodeValidation, "last tier must be unbounded")
	}
	return nil
}

// TierFor returns the first tier whose ceiling is at least count.
// Counts below one resolve to the first tier.
func (p *Policy) TierFor(count int) Tier {
	for _, t := range p.tiers {
		if count <= t.Ceiling {
			return t
		}
	}
	return p.tiers[len(p.tiers)-1]
}

// Tiers returns a copy of the table.
func (p *Policy) Tiers() []Tier {
	cp := make([]Tier, len(p.tiers))
	copy(cp, p.tiers)
	return cp
}
