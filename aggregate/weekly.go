package aggregate

import (
	"fmt"
	"time"

	"github.com/onnwee/arkpop/db"
)

// SlotCount is the dense length of the weekly series: 7 days of 24 hours.
const SlotCount = 7 * 24

// Slot is one (weekday, hour) bucket of the weekly series.
type Slot struct {
	Weekday time.Weekday
	Hour    int
	Average float64
	Samples int
}

// DaySummary holds the lowest and highest average hour of one weekday.
type DaySummary struct {
	Weekday time.Weekday
	HasData bool
	MinHour int
	MinAvg  float64
	MaxHour int
	MaxAvg  float64
}

// DayName is the three-letter weekday label used in summaries and chart ticks.
func DayName(d time.Weekday) string { return d.String()[:3] }

// Line renders the chat summary for the day.
func (d DaySummary) Line() string {
	if !d.HasData {
		return fmt.Sprintf("%s: Not enough data.", DayName(d.Weekday))
	}
	return fmt.Sprintf("%s: Lowest Avg Pop around %02d:00 (%.0f players), Highest Avg Pop around %02d:00 (%.0f players)",
		DayName(d.Weekday), d.MinHour, d.MinAvg, d.MaxHour, d.MaxAvg)
}

// WeeklyView is the 7-day chart input. Slots and Days run from six days ago to today.
type WeeklyView struct {
	Slots   []Slot
	Days    []DaySummary
	Current int
	Now     time.Time
}

// Values returns the 168 bucket averages in axis order.
func (w WeeklyView) Values() []float64 {
	out := make([]float64, len(w.Slots))
	for i, s := range w.Slots {
		out[i] = s.Average
	}
	return out
}

// Lines returns one summary line per day in axis order.
func (w WeeklyView) Lines() []string {
	out := make([]string, len(w.Days))
	for i, d := range w.Days {
		out[i] = d.Line()
	}
	return out
}

// RollingWeek returns the weekdays from today-6 through today.
func RollingWeek(today time.Weekday) []time.Weekday {
	out := make([]time.Weekday, 7)
	for i := range out {
		out[i] = time.Weekday((int(today) - 6 + i + 14) % 7)
	}
	return out
}

// Weekly averages samples into (weekday, hour) buckets in loc and summarizes each day.
// Empty buckets are present with average 0. A day's min and max consider only its
// populated hours; ties go to the earliest hour.
func Weekly(samples []db.Sample, now time.Time, loc *time.Location) (WeeklyView, error) {
	if err := CheckWeekly(len(samples)); err != nil {
		return WeeklyView{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	var sums [7][24]float64
	var counts [7][24]int
	for _, s := range samples {
		t := s.Time().In(loc)
		sums[t.Weekday()][t.Hour()] += float64(s.Population)
		counts[t.Weekday()][t.Hour()]++
	}

	now = now.In(loc)
	v := WeeklyView{Slots: make([]Slot, 0, SlotCount), Days: make([]DaySummary, 0, 7), Current: Current(samples), Now: now}
	for _, day := range RollingWeek(now.Weekday()) {
		sum := DaySummary{Weekday: day}
		for h := 0; h < 24; h++ {
			slot := Slot{Weekday: day, Hour: h, Samples: counts[day][h]}
			if slot.Samples > 0 {
				slot.Average = sums[day][h] / float64(slot.Samples)
				if !sum.HasData {
					sum.HasData = true
					sum.MinHour, sum.MinAvg = h, slot.Average
					sum.MaxHour, sum.MaxAvg = h, slot.Average
				} else {
					if slot.Average < sum.MinAvg {
						sum.MinHour, sum.MinAvg = h, slot.Average
					}
					if slot.Average > sum.MaxAvg {
						sum.MaxHour, sum.MaxAvg = h, slot.Average
					}
				}
			}
			v.Slots = append(v.Slots, slot)
		}
		v.Days = append(v.Days, sum)
	}
	return v, nil
}
