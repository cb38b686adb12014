package bucket

import (
	"testing"
	"time"
)

func TestKeyOf_UsesLocation(t *testing.T) {
	loc := time.FixedZone("IDT", 3*60*60)
	// 2026-10-14 is a Wednesday; 22:30 UTC is 01:30 Thursday local.
	ts := time.Date(2026, 10, 14, 22, 30, 0, 0, time.UTC)

	got := KeyOf(ts, loc)
	if got.Weekday != time.Thursday || got.Hour != 1 {
		t.Errorf("KeyOf() = %+v, want Thursday 01h", got)
	}

	utc := KeyOf(ts, nil)
	if utc.Weekday != time.Wednesday || utc.Hour != 22 {
		t.Errorf("KeyOf(nil loc) = %+v, want Wednesday 22h", utc)
	}
}

func TestTemplate_Expected(t *testing.T) {
	tests := []struct {
		hour int
		day  time.Weekday
		want float64
	}{
		{0, time.Monday, 52},
		{0, time.Friday, 64},
		{3, time.Tuesday, 24},
		{3, time.Saturday, 38},
		{8, time.Sunday, 48},
		{8, time.Friday, 48},
		{13, time.Wednesday, 82},
		{13, time.Saturday, 70},
		{16, time.Thursday, 56},
		{20, time.Monday, 74},
		{20, time.Friday, 86},
		{23, time.Sunday, 52},
		{23, time.Saturday, 64},
	}

	for _, tt := range tests {
		got := DefaultTemplate.Expected(tt.hour, tt.day)
		if got != tt.want {
			t.Errorf("Expected(%d, %v) = %v, want %v", tt.hour, tt.day, got, tt.want)
		}
	}
}

func TestTemplate_ExpectedAt(t *testing.T) {
	k := Key{Weekday: time.Tuesday, Hour: 12}
	if got := DefaultTemplate.ExpectedAt(k); got != 82 {
		t.Errorf("ExpectedAt(%+v) = %v, want 82", k, got)
	}
}
