package browser

import (
	"fmt"
	"time"
)

// maxConsecutiveFailures is the hard recycling limit for probe failures.
const maxConsecutiveFailures = 3

// RecyclePolicy decides when an instance should be replaced. Any single
// threshold trips it; otherwise a weighted composite of age, usage, health,
// and resource pressure is compared against the configured threshold.
type RecyclePolicy struct {
	MaxLifetime time.Duration
	MaxIdle     time.Duration
	MaxUses     int
	MaxPages    int
	ScoreFloor  float64 // minimum acceptable health score
	Threshold   float64 // composite score trip point
	Cooldown    time.Duration
}

// Evaluate returns a non-empty reason when the instance should be recycled.
// Decisions inside the cooldown window after the last recycle check that
// fired are suppressed to prevent thrash.
func (rp *RecyclePolicy) Evaluate(i *Instance, now time.Time) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.recycleMark != "" {
		return i.recycleMark, true
	}
	if rp.Cooldown > 0 && !i.lastRecycleAt.IsZero() && now.Sub(i.lastRecycleAt) < rp.Cooldown {
		return "", false
	}

	age := now.Sub(i.createdAt)
	idle := now.Sub(i.lastUsedAt)

	reason := ""
	switch {
	case rp.MaxLifetime > 0 && age > rp.MaxLifetime:
		reason = "max_lifetime"
	case rp.MaxIdle > 0 && i.state == StateIdle && idle > rp.MaxIdle:
		reason = "max_idle"
	case rp.MaxUses > 0 && i.useCount > int64(rp.MaxUses):
		reason = "max_uses"
	case rp.MaxPages > 0 && i.pageCount > rp.MaxPages:
		reason = "max_pages"
	case rp.ScoreFloor > 0 && i.healthScore < rp.ScoreFloor:
		reason = "health_score"
	case i.consecutiveFailures >= maxConsecutiveFailures:
		reason = "consecutive_failures"
	default:
		if score := rp.compositeLocked(i, age); score > rp.Threshold && rp.Threshold > 0 {
			reason = fmt.Sprintf("composite_score_%.2f", score)
		}
	}

	if reason != "" {
		i.recycleMark = reason
		i.lastRecycleAt = now
		return reason, true
	}
	return "", false
}

// compositeLocked blends four normalized pressure components, 0.25 each.
func (rp *RecyclePolicy) compositeLocked(i *Instance, age time.Duration) float64 {
	timeC := clamp01(ratio(float64(age), float64(rp.MaxLifetime)))
	usageC := clamp01(ratio(float64(i.useCount), float64(rp.MaxUses)))
	healthC := clamp01(1 - i.healthScore)
	resourceC := clamp01(ratio(float64(i.pageCount), float64(rp.MaxPages)))
	return 0.25*timeC + 0.25*usageC + 0.25*healthC + 0.25*resourceC
}

func ratio(n, d float64) float64 {
	if d <= 0 {
		return 0
	}
	return n / d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
