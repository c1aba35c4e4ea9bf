// Package aggregate turns raw population samples into the numeric series and summary
// values behind the day and week charts. Everything here is pure: callers pass the
// samples, the current time and the display location.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/onnwee/arkpop/apperr"
	"github.com/onnwee/arkpop/db"
)

const (
	MinDailyPoints  = 2
	MinWeeklyPoints = 24

	DailyWindow  = 24 * time.Hour
	WeeklyWindow = 7 * 24 * time.Hour
)

// Point is one daily sample placed on the "hours ago" axis.
type Point struct {
	HoursAgo   float64
	Population int
	At         time.Time
}

// Extremum is the daily min or max and where it happened.
type Extremum struct {
	Population int
	HoursAgo   float64
	At         time.Time
}

// Summary renders "<value> at <hh:mm AM/PM>".
func (e Extremum) Summary() string {
	return fmt.Sprintf("%d at %s", e.Population, e.At.Format("03:04 PM"))
}

// DailyView is the 24-hour chart input.
type DailyView struct {
	Points  []Point
	Min     Extremum
	Max     Extremum
	Current int
	Now     time.Time
}

// CheckDaily refuses a daily chart with fewer than MinDailyPoints samples.
func CheckDaily(n int) error {
	if n < MinDailyPoints {
		return apperr.New(apperr.DataInsufficient, "Not enough data to generate a 24-hour graph yet.").
			WithSuggestion("Please try again after some time.")
	}
	return nil
}

// CheckWeekly refuses a weekly chart with fewer than MinWeeklyPoints samples.
func CheckWeekly(n int) error {
	if n < MinWeeklyPoints {
		return apperr.New(apperr.DataInsufficient, "Not enough data to generate a 7-day graph yet.").
			WithSuggestion("Please try again after more data has been collected.")
	}
	return nil
}

func sortedCopy(samples []db.Sample) []db.Sample {
	out := make([]db.Sample, len(samples))
	copy(out, samples)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Current is the population of the chronologically last sample, or 0.
func Current(samples []db.Sample) int {
	var last db.Sample
	found := false
	for _, s := range samples {
		if !found || s.Timestamp >= last.Timestamp {
			last, found = s, true
		}
	}
	return last.Population
}

// Daily builds the 24-hour view. Ties for min and max go to the earliest sample.
func Daily(samples []db.Sample, now time.Time, loc *time.Location) (DailyView, error) {
	if err := CheckDaily(len(samples)); err != nil {
		return DailyView{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	sorted := sortedCopy(samples)
	v := DailyView{Points: make([]Point, 0, len(sorted)), Now: now.In(loc)}
	minIdx, maxIdx := 0, 0
	for i, s := range sorted {
		at := s.Time().In(loc)
		v.Points = append(v.Points, Point{
			HoursAgo:   now.Sub(at).Hours(),
			Population: s.Population,
			At:         at,
		})
		if s.Population < sorted[minIdx].Population {
			minIdx = i
		}
		if s.Population > sorted[maxIdx].Population {
			maxIdx = i
		}
	}
	v.Min = Extremum{Population: v.Points[minIdx].Population, HoursAgo: v.Points[minIdx].HoursAgo, At: v.Points[minIdx].At}
	v.Max = Extremum{Population: v.Points[maxIdx].Population, HoursAgo: v.Points[maxIdx].HoursAgo, At: v.Points[maxIdx].At}
	v.Current = sorted[len(sorted)-1].Population
	return v, nil
}
