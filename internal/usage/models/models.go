package models

import "time"

// UsageRecord tracks calls observed for one anonymous identity in its current window.
type UsageRecord struct {
	Identity      string     `json:"identity"`
	Count         int        `json:"count"`
	LastUsedAt    time.Time  `json:"last_used_at"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// NewUsageRecord creates the record for an identity's first observed call.
func NewUsageRecord(identity string, now time.Time) *UsageRecord {
	return &UsageRecord{
		Identity:   identity,
		Count:      1,
		LastUsedAt: now,
	}
}

// InCooldown reports whether calls are rejected at now.
func (r *UsageRecord) InCooldown(now time.Time) bool {
	return r != nil && r.CooldownUntil != nil && now.Before(*r.CooldownUntil)
}

// CooldownRemaining returns how long the cooldown still runs at now, or zero.
func (r *UsageRecord) CooldownRemaining(now time.Time) time.Duration {
	if !r.InCooldown(now) {
		return 0
	}
	return r.CooldownUntil.Sub(now)
}

// Restart begins a fresh window with this call as its first.
func (r *UsageRecord) Restart(now time.Time) {
	r.Count = 1
	r.LastUsedAt = now
	r.CooldownUntil = nil
}

// Touch counts one more call in the current window. An elapsed cooldown is
// dropped so CooldownUntil never trails LastUsedAt.
func (r *UsageRecord) Touch(now time.Time) {
	r.Count++
	r.LastUsedAt = now
	if r.CooldownUntil != nil && !now.Before(*r.CooldownUntil) {
		r.CooldownUntil = nil
	}
}

// StaleAt reports whether the record was last used more than maxAge before now.
func (r *UsageRecord) StaleAt(now time.Time, maxAge time.Duration) bool {
	return r.LastUsedAt.Before(now.Add(-maxAge))
}
