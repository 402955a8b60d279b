// Package crfmath holds the small numeric helpers the CRF-search retry
// cascade needs: range clamping, narrowed-range classification, and the
// best-of auto-selection fallback.
package crfmath

import "github.com/reencodarr/reencodarr/internal/models"

// StandardMin and StandardMax bound ab-av1's default crf-search range.
// A search dispatched with a tighter range (a codec-hint range) that then
// fails is retried once with these standard bounds before the target is
// ever lowered.
const (
	StandardMin = 8
	StandardMax = 40
)

// IsNarrowedRange reports whether [min, max] is strictly tighter than the
// standard range, i.e. the search was given a codec-hint range rather than
// the defaults.
func IsNarrowedRange(min, max int) bool {
	return min > StandardMin || max < StandardMax
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampInt is Clamp for integer bounds.
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CanLowerTarget reports whether currentTarget may still be decremented:
// the retry cascade only lowers the target while it remains at or above
// the video's configured VMAF floor.
func CanLowerTarget(currentTarget, floor int) bool {
	return currentTarget >= floor
}

// NextTarget is the target used for the next retry attempt.
func NextTarget(currentTarget int) int {
	return currentTarget - 1
}

// SelectBestVmaf implements the auto-select fallback used when a
// crf-search exits 0 but no Vmaf was marked chosen (e.g. the Success line
// was missed by the parser): among candidates, prefer the lowest Percent
// whose Score meets target; if none meets target, prefer the highest Score.
// Returns nil if candidates is empty.
func SelectBestVmaf(candidates []models.Vmaf, target float64) *models.Vmaf {
	if len(candidates) == 0 {
		return nil
	}

	var bestMeetingTarget *models.Vmaf
	var bestOverall *models.Vmaf

	for i := range candidates {
		c := &candidates[i]
		if bestOverall == nil || c.Score > bestOverall.Score {
			bestOverall = c
		}
		if c.Score >= target && (bestMeetingTarget == nil || c.Percent < bestMeetingTarget.Percent) {
			bestMeetingTarget = c
		}
	}

	if bestMeetingTarget != nil {
		return bestMeetingTarget
	}
	return bestOverall
}
