package gnss

import (
	"fmt"
	"time"
)

// GPSEpoch is the start of GPS week 0. All time.Time values handled by the
// simulator are read on the GPS time scale; leap seconds are not applied.
var GPSEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

// SecondsPerWeek is the length of a GPS week.
const SecondsPerWeek = 604800

const week = SecondsPerWeek * time.Second

// WeekStart returns the start of the GPS week containing t.
func WeekStart(t time.Time) time.Time {
	w, _ := WeekAndSeconds(t)
	return GPSEpoch.Add(time.Duration(w) * week)
}

// WeekAndSeconds splits t into a GPS week number and seconds of week.
func WeekAndSeconds(t time.Time) (int, float64) {
	d := t.Sub(GPSEpoch)
	w := d / week
	rem := d - w*week
	if rem < 0 {
		w--
		rem += week
	}
	return int(w), rem.Seconds()
}

// FromWeekSeconds builds a time from a GPS week number and seconds of week.
func FromWeekSeconds(w int, sow float64) time.Time {
	return GPSEpoch.Add(time.Duration(w) * week).Add(time.Duration(sow * float64(time.Second)))
}

// Floor rounds t down to a multiple of step counted from the GPS epoch.
func Floor(t time.Time, step time.Duration) time.Time {
	if step <= 0 {
		return t
	}
	d := t.Sub(GPSEpoch)
	r := d % step
	if r < 0 {
		r += step
	}
	return t.Add(-r)
}

// Seconds returns b - a in seconds.
func Seconds(a, b time.Time) float64 {
	return b.Sub(a).Seconds()
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an interval of the given length.
func NewInterval(start time.Time, length time.Duration) Interval {
	return Interval{Start: start, End: start.Add(length)}
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Contains reports whether t lies in [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Overlaps reports whether the two intervals share any instant.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// IsZero reports whether the interval is unset.
func (iv Interval) IsZero() bool {
	return iv.Start.IsZero() && iv.End.IsZero()
}

// Expand grows the interval by d on both ends.
func (iv Interval) Expand(d time.Duration) Interval {
	return Interval{Start: iv.Start.Add(-d), End: iv.End.Add(d)}
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.UTC().Format(time.RFC3339Nano), iv.End.UTC().Format(time.RFC3339Nano))
}
