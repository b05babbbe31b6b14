// Package governor decides whether an anonymous caller may make a remote call
// now, consuming one unit of usage when it may.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"callgate/internal/usage/config"
	"callgate/internal/usage/fingerprint"
	"callgate/internal/usage/models"
	"callgate/internal/usage/policy"
	platformsync "callgate/pkg/platform/sync"
	"callgate/pkg/requestcontext"
)

type Identifier interface {
	Identify(ctx context.Context) fingerprint.Identity
}

type Ledger interface {
	Get(ctx context.Context, identity string) *models.UsageRecord
	Record(ctx context.Context, identity string, now time.Time) *models.UsageRecord
	SetCooldown(ctx context.Context, identity string, until time.Time)
}

type Policy interface {
	TierFor(count int) policy.Tier
}

type Metrics interface {
	IncrementDecision(allowed bool)
	IncrementCooldownsTriggered()
}

// Governor serializes check-and-consume per identity so that concurrent calls
// from one caller observe each other's increments.
type Governor struct {
	identifier   Identifier
	ledger       Ledger
	policy       Policy
	locks        *platformsync.ShardedMutex
	blockMessage string
	logger       *slog.Logger
	metrics      Metrics
}

type Option func(*Governor)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) {
		g.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(g *Governor) {
		g.metrics = m
	}
}

// WithBlockMessage sets the message returned to blocked callers. A %d verb is
// replaced with the wait in seconds.
func WithBlockMessage(msg string) Option {
	return func(g *Governor) {
		if msg != "" {
			g.blockMessage = msg
		}
	}
}

func New(identifier Identifier, ledger Ledger, pol Policy, opts ...Option) (*Governor, error) {
	if identifier == nil {
		return nil, errors.New("identifier is required")
	}
	if ledger == nil {
		return nil, errors.New("usage ledger is required")
	}
	if pol == nil {
		return nil, errors.New("rate policy is required")
	}

	g := &Governor{
		identifier:   identifier,
		ledger:       ledger,
		policy:       pol,
		locks:        platformsync.NewShardedMutex(0),
		blockMessage: config.DefaultBlockMessage,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// CheckAndConsume decides whether the caller behind ctx may call now.
//
// A caller in cooldown is refused without touching the ledger. Otherwise the
// call is recorded; if that pushes the count past the ceiling of the tier it
// started in, the cooldown of the tier it crossed into (if any) starts now and
// this call is refused.
func (g *Governor) CheckAndConsume(ctx context.Context, now time.Time) Decision {
	identity := g.identifier.Identify(ctx).String()

	g.locks.Lock(identity)
	defer g.locks.Unlock(identity)

	record := g.ledger.Get(ctx, identity)
	if record == nil {
		record = &models.UsageRecord{Identity: identity}
	}

	if record.InCooldown(now) {
		d := g.blocked(record.Count, g.policy.TierFor(record.Count), record.CooldownRemaining(now))
		g.observe(d)
		return d
	}

	tier := g.policy.TierFor(record.Count)
	updated := g.ledger.Record(ctx, identity, now)

	if updated.Count > tier.Ceiling {
		next := g.policy.TierFor(updated.Count)
		if next.Cooldown > 0 {
			g.ledger.SetCooldown(ctx, identity, now.Add(next.Cooldown))
			if g.metrics != nil {
				g.metrics.IncrementCooldownsTriggered()
			}
			g.logAudit(ctx, "usage_cooldown_triggered",
				"identity", identity,
				"count", updated.Count,
				"tier_ceiling", ceiling(next),
				"cooldown_seconds", int(next.Cooldown.Seconds()),
			)
			d := g.blocked(updated.Count, next, next.Cooldown)
			g.observe(d)
			return d
		}
	}

	d := Decision{
		Allowed:     true,
		Count:       updated.Count,
		TierCeiling: ceiling(g.policy.TierFor(updated.Count)),
	}
	g.observe(d)
	return d
}

// Status reports the caller's standing at now without consuming anything.
func (g *Governor) Status(ctx context.Context, now time.Time) Status {
	identity := g.identifier.Identify(ctx).String()
	status := Status{Identity: identity}

	record := g.ledger.Get(ctx, identity)
	if record != nil {
		status.Count = record.Count
		lastUsed := record.LastUsedAt
		status.LastUsedAt = &lastUsed
		if record.InCooldown(now) {
			status.CooldownUntil = record.CooldownUntil
			status.WaitSeconds = waitSeconds(record.CooldownRemaining(now))
		}
	}

	tier := g.policy.TierFor(status.Count)
	status.TierCeiling = ceiling(tier)
	status.TierWindow = tier.Window.String()
	return status
}

func (g *Governor) blocked(count int, tier policy.Tier, wait time.Duration) Decision {
	seconds := waitSeconds(wait)
	return Decision{
		Allowed:     false,
		WaitSeconds: seconds,
		Message:     g.message(seconds),
		Count:       count,
		TierCeiling: ceiling(tier),
	}
}

func (g *Governor) message(seconds int) string {
	if strings.Contains(g.blockMessage, "%d") {
		return fmt.Sprintf(g.blockMessage, seconds)
	}
	return g.blockMessage
}

func (g *Governor) observe(d Decision) {
	if g.metrics != nil {
		g.metrics.IncrementDecision(d.Allowed)
	}
}

func (g *Governor) logAudit(ctx context.Context, event string, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit")
	if g.logger != nil {
		g.logger.InfoContext(ctx, event, args...)
	}
}

// waitSeconds rounds up so callers never retry a moment too early.
func waitSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func ceiling(t policy.Tier) int {
	if t.IsUnbounded() {
		return 0
	}
	return t.Ceiling
}
