// Package trigger classifies why a run started and whether it owes a full harvest.
package trigger

import "time"

// Source is who asked for a run.
type Source int

const (
	SourceScheduled Source = iota
	SourceManual
)

func (s Source) String() string {
	if s == SourceManual {
		return "manual"
	}
	return "scheduled"
}

// Kind is the trigger event of a run.
type Kind string

const (
	KindEvenHour  Kind = "scheduled-even-hour"
	KindTenMinute Kind = "scheduled-ten-minute"
	KindManual    Kind = "manual"
)

// Classify maps a run source and its start time to a trigger kind. The
// caller is responsible for having converted now into the scheduler's
// timezone.
func Classify(source Source, now time.Time) Kind {
	if source == SourceManual {
		return KindManual
	}
	if now.Minute() == 0 && now.Hour()%2 == 0 {
		return KindEvenHour
	}
	return KindTenMinute
}

// ShouldFullHarvest reports whether a run of this kind performs the full harvest.
func ShouldFullHarvest(k Kind) bool {
	return k == KindManual || k == KindEvenHour
}

// Slot is the minute a scheduled run belongs to. Two scheduled runs with
// the same slot are the same logical firing.
func Slot(now time.Time) time.Time {
	return now.Truncate(time.Minute)
}
