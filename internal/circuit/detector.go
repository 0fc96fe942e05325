package circuit

import (
	"strings"
	"time"
)

// detector decides whether the breaker should trip given the window-filtered
// failure and request events. The breaker prunes events before calling.
type detector interface {
	shouldTrip(failures, requests []time.Time, now time.Time) bool
}

func newDetector(cfg Config) detector {
	switch strings.ToLower(cfg.Detector) {
	case "percentage":
		return &percentageDetector{threshold: float64(cfg.FailureThreshold) / 100}
	case "consecutive":
		return &consecutiveDetector{limit: cfg.FailureThreshold}
	case "adaptive":
		return &adaptiveDetector{
			base:   cfg.FailureThreshold,
			window: cfg.Window,
		}
	default:
		return &thresholdDetector{limit: cfg.FailureThreshold}
	}
}

// thresholdDetector trips on an absolute failure count within the window.
type thresholdDetector struct {
	limit int
}

func (d *thresholdDetector) shouldTrip(failures, _ []time.Time, _ time.Time) bool {
	return len(failures) >= d.limit
}

// percentageDetector trips when the failure ratio within the window exceeds
// the threshold (FailureThreshold interpreted as a percentage).
type percentageDetector struct {
	threshold float64
}

func (d *percentageDetector) shouldTrip(failures, requests []time.Time, _ time.Time) bool {
	if len(requests) == 0 {
		return false
	}
	return float64(len(failures))/float64(len(requests)) >= d.threshold
}

// consecutiveDetector trips when the most recent events are all failures.
// Requests that succeeded reset the streak by definition: a success timestamp
// later than the last failure means the streak is broken.
type consecutiveDetector struct {
	limit int
}

func (d *consecutiveDetector) shouldTrip(failures, requests []time.Time, _ time.Time) bool {
	if len(failures) < d.limit {
		return false
	}
	// The streak is intact when the last `limit` requests are exactly the
	// last `limit` failures.
	tail := requests[len(requests)-d.limit:]
	ftail := failures[len(failures)-d.limit:]
	for i := range tail {
		if !tail[i].Equal(ftail[i]) {
			return false
		}
	}
	return true
}

// adaptiveDetector lowers the trip threshold when failures arrive in a rapid
// burst: a full base-threshold burst inside a quarter window trips early at
// half the base threshold.
type adaptiveDetector struct {
	base   int
	window time.Duration
}

func (d *adaptiveDetector) shouldTrip(failures, requests []time.Time, now time.Time) bool {
	if len(failures) >= d.base {
		return true
	}
	half := d.base / 2
	if half < 2 {
		half = 2
	}
	if len(failures) < half {
		return false
	}
	burstCutoff := now.Add(-d.window / 4)
	recent := 0
	for _, f := range failures {
		if !f.Before(burstCutoff) {
			recent++
		}
	}
	return recent >= half
}
