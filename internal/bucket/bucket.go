// Package bucket maps timestamps to (weekday, hour) buckets and holds the
// static diurnal template the detector expects a panel to follow.
package bucket

import "time"

// Key identifies a weekly time-of-day bucket.
type Key struct {
	Weekday time.Weekday `json:"dow"`
	Hour    int          `json:"hour"`
}

// KeyOf returns the bucket of t in the wall clock of loc.
// A nil loc uses t's own location.
func KeyOf(t time.Time, loc *time.Location) Key {
	if loc != nil {
		t = t.In(loc)
	}
	return Key{Weekday: t.Weekday(), Hour: t.Hour()}
}

// Band is an inclusive hour range with a weekday and a weekend level.
type Band struct {
	From    int
	To      int
	Weekday float64
	Weekend float64
}

// Template is a fixed expected-load curve over the week. It is not learned;
// tune it per city by replacing DefaultTemplate.
type Template struct {
	WeekendDays    []time.Weekday
	Bands          []Band
	DefaultWeekday float64
	DefaultWeekend float64
}

// DefaultTemplate follows a Friday/Saturday weekend: a night trough, a flat
// morning, a weekday lunch peak, an afternoon lull and a weekend evening peak.
// Hours not covered by a band (23:00 and 00:00) take the default levels.
var DefaultTemplate = Template{
	WeekendDays: []time.Weekday{time.Friday, time.Saturday},
	Bands: []Band{
		{From: 1, To: 6, Weekday: 24, Weekend: 38},
		{From: 7, To: 10, Weekday: 48, Weekend: 48},
		{From: 11, To: 14, Weekday: 82, Weekend: 70},
		{From: 15, To: 17, Weekday: 56, Weekend: 56},
		{From: 18, To: 22, Weekday: 74, Weekend: 86},
	},
	DefaultWeekday: 52,
	DefaultWeekend: 64,
}

// IsWeekend reports whether day is one of the template's weekend days.
func (t Template) IsWeekend(day time.Weekday) bool {
	for _, d := range t.WeekendDays {
		if d == day {
			return true
		}
	}
	return false
}

// Expected returns the template level for an hour and weekday.
func (t Template) Expected(hour int, day time.Weekday) float64 {
	weekend := t.IsWeekend(day)
	for _, b := range t.Bands {
		if hour >= b.From && hour <= b.To {
			if weekend {
				return b.Weekend
			}
			return b.Weekday
		}
	}
	if weekend {
		return t.DefaultWeekend
	}
	return t.DefaultWeekday
}

// ExpectedAt is Expected for a bucket key.
func (t Template) ExpectedAt(k Key) float64 {
	return t.Expected(k.Hour, k.Weekday)
}
