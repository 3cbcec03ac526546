// Package schedule holds the static per-question configuration table and
// the scoring constants shared by the session engine and timer.
package schedule

import "fmt"

// Tier is the difficulty tier of a schedule entry.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// Scoring and timing constants. These are fixed protocol parameters, not
// deployment configuration.
const (
	// PenaltyHintPerUse is deducted from a question's points per hint opened.
	// The worked example carries the same one-time penalty.
	PenaltyHintPerUse = 1
	// PenaltyExtraTimeTotal is charged in two places when extra time is
	// granted: deducted from the question's points at submit, and
	// accumulated into the session-level penalty total at grant time.
	PenaltyExtraTimeTotal = 2
	// ExtraTimeFactor is the fraction of the original limit granted by an
	// extra-time request (floored to whole seconds).
	ExtraTimeFactor = 0.30
	// WarningThresholdSeconds is when the one-shot low-time warning fires.
	WarningThresholdSeconds = 10
	// StressorWindowMin/Max bound the random stressor-banner offset as a
	// fraction of the question's time limit.
	StressorWindowMin = 0.25
	StressorWindowMax = 0.50
	// ExtraTimeFeedbackSeconds is how long the transient "+Ns" flag shows.
	ExtraTimeFeedbackSeconds = 3
	// RestMinSeconds/RestMaxSeconds bound suggested rest durations
	// (support mode only).
	RestMinSeconds = 60
	RestMaxSeconds = 120
)

// Entry is one row of the static question schedule: the time limit and the
// maximum points for the question at Index.
type Entry struct {
	Index     int  `json:"index"`
	Tier      Tier `json:"tier"`
	LimitSec  int  `json:"limit_sec"`
	MaxPoints int  `json:"max_points"`
}

// Default returns the ten-entry schedule in ascending difficulty.
func Default() []Entry {
	return []Entry{
		{Index: 0, Tier: TierEasy, LimitSec: 30, MaxPoints: 5},
		{Index: 1, Tier: TierEasy, LimitSec: 30, MaxPoints: 5},
		{Index: 2, Tier: TierEasy, LimitSec: 30, MaxPoints: 5},
		{Index: 3, Tier: TierEasy, LimitSec: 30, MaxPoints: 5},
		{Index: 4, Tier: TierMedium, LimitSec: 50, MaxPoints: 10},
		{Index: 5, Tier: TierMedium, LimitSec: 50, MaxPoints: 10},
		{Index: 6, Tier: TierMedium, LimitSec: 50, MaxPoints: 10},
		{Index: 7, Tier: TierHard, LimitSec: 70, MaxPoints: 15},
		{Index: 8, Tier: TierHard, LimitSec: 70, MaxPoints: 15},
		{Index: 9, Tier: TierHard, LimitSec: 70, MaxPoints: 20},
	}
}

// Validate checks structural invariants: dense ascending indices starting at
// zero, positive limits and points, known tiers.
func Validate(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("schedule is empty")
	}
	for i, e := range entries {
		if e.Index != i {
			return fmt.Errorf("schedule entry %d has index %d, want %d", i, e.Index, i)
		}
		if e.LimitSec <= 0 {
			return fmt.Errorf("schedule entry %d has non-positive time limit %d", i, e.LimitSec)
		}
		if e.MaxPoints <= 0 {
			return fmt.Errorf("schedule entry %d has non-positive max points %d", i, e.MaxPoints)
		}
		switch e.Tier {
		case TierEasy, TierMedium, TierHard:
		default:
			return fmt.Errorf("schedule entry %d has unknown tier %q", i, e.Tier)
		}
	}
	return nil
}

// MaxTotal sums max points for the first n entries (the questions actually
// present in a session).
func MaxTotal(entries []Entry, n int) int {
	if n > len(entries) {
		n = len(entries)
	}
	total := 0
	for _, e := range entries[:n] {
		total += e.MaxPoints
	}
	return total
}
