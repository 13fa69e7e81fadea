package trigger

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	at := func(h, m int) time.Time { return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		source Source
		now    time.Time
		want   Kind
		full   bool
	}{
		{"even hour on the hour", SourceScheduled, at(14, 0), KindEvenHour, true},
		{"midnight", SourceScheduled, at(0, 0), KindEvenHour, true},
		{"even hour ten past", SourceScheduled, at(14, 10), KindTenMinute, false},
		{"odd hour on the hour", SourceScheduled, at(15, 0), KindTenMinute, false},
		{"manual at odd time", SourceManual, at(15, 37), KindManual, true},
		{"manual on even hour", SourceManual, at(14, 0), KindManual, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.source, tt.now)
			if got != tt.want {
				t.Fatalf("Classify = %q, want %q", got, tt.want)
			}
			if ShouldFullHarvest(got) != tt.full {
				t.Fatalf("ShouldFullHarvest(%q) = %v, want %v", got, !tt.full, tt.full)
			}
		})
	}
}

func TestClassifyUsesGivenLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+1", 3600)
	// 13:00 UTC is 14:00 in UTC+1.
	now := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC).In(loc)
	if got := Classify(SourceScheduled, now); got != KindEvenHour {
		t.Fatalf("Classify = %q", got)
	}
}

func TestSlot(t *testing.T) {
	t.Parallel()
	a := time.Date(2024, 5, 1, 14, 0, 0, 1_000, time.UTC)
	b := time.Date(2024, 5, 1, 14, 0, 59, 0, time.UTC)
	if !Slot(a).Equal(Slot(b)) {
		t.Fatalf("same minute should share a slot")
	}
	if Slot(a).Equal(Slot(b.Add(time.Second))) {
		t.Fatalf("next minute should not share a slot")
	}
}
