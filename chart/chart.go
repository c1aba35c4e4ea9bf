// Package chart rasterizes aggregated population views into PNG images.
package chart

import (
	"bytes"
	"fmt"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/onnwee/arkpop/aggregate"
)

// DefaultMaxPop is the default top of the population axis.
const DefaultMaxPop = 70

var (
	colorBackground = drawing.ColorFromHex("2F3136")
	colorLine       = drawing.ColorFromHex("5865F2")
	colorMin        = drawing.ColorFromHex("ED4245")
	colorMax        = drawing.ColorFromHex("57F287")
	colorGrid       = drawing.ColorFromHex("40444B")
	colorTextMuted  = drawing.ColorFromHex("909192")
	colorText       = drawing.ColorFromHex("DCDDDE")
)

// Renderer turns aggregator output into an image.
type Renderer interface {
	RenderDaily(label string, v aggregate.DailyView) ([]byte, error)
	RenderWeekly(label string, v aggregate.WeeklyView) ([]byte, error)
}

// PNGRenderer draws the dark-themed charts with go-chart.
type PNGRenderer struct {
	Width  int
	Height int
	MaxPop int
}

// NewPNGRenderer returns a renderer with the default canvas size.
func NewPNGRenderer(maxPop int) *PNGRenderer {
	if maxPop <= 0 {
		maxPop = DefaultMaxPop
	}
	return &PNGRenderer{Width: 1000, Height: 500, MaxPop: maxPop}
}

func (r *PNGRenderer) yAxis(peak float64) gochart.YAxis {
	top := float64(r.MaxPop)
	if peak > top {
		top = peak
	}
	return gochart.YAxis{
		Name:           "Players",
		NameStyle:      gochart.Style{FontColor: colorTextMuted},
		Style:          gochart.Style{FontColor: colorTextMuted, StrokeColor: colorGrid},
		Range:          &gochart.ContinuousRange{Min: 0, Max: top},
		GridMajorStyle: gochart.Style{StrokeColor: colorGrid, StrokeWidth: 1},
		ValueFormatter: func(v interface{}) string {
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%.0f", f)
			}
			return ""
		},
	}
}

func (r *PNGRenderer) base(title string) gochart.Chart {
	return gochart.Chart{
		Title:      title,
		TitleStyle: gochart.Style{FontColor: colorText, FontSize: 14},
		Width:      r.Width,
		Height:     r.Height,
		Background: gochart.Style{
			FillColor: colorBackground,
			Padding:   gochart.Box{Top: 50, Left: 20, Right: 30, Bottom: 20},
		},
		Canvas: gochart.Style{FillColor: colorBackground},
	}
}

func marker(x, y float64, c drawing.Color) gochart.ContinuousSeries {
	return gochart.ContinuousSeries{
		XValues: []float64{x},
		YValues: []float64{y},
		Style:   gochart.Style{StrokeColor: drawing.ColorTransparent, DotColor: c, DotWidth: 6},
	}
}

func encode(c gochart.Chart) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderDaily draws the 24-hour line chart with its x axis running from 24 hours ago
// down to now, plus min, max and current markers.
func (r *PNGRenderer) RenderDaily(label string, v aggregate.DailyView) ([]byte, error) {
	if len(v.Points) == 0 {
		return nil, fmt.Errorf("render daily chart: no points")
	}
	xs := make([]float64, len(v.Points))
	ys := make([]float64, len(v.Points))
	for i, p := range v.Points {
		xs[i] = p.HoursAgo
		ys[i] = float64(p.Population)
	}
	ticks := make([]gochart.Tick, 0, 9)
	for h := 24; h >= 0; h -= 3 {
		ticks = append(ticks, gochart.Tick{Value: float64(h), Label: fmt.Sprintf("%dh", h)})
	}

	c := r.base(fmt.Sprintf("%s: last 24 hours", label))
	c.XAxis = gochart.XAxis{
		Name:      "Hours ago",
		NameStyle: gochart.Style{FontColor: colorTextMuted},
		Style:     gochart.Style{FontColor: colorTextMuted, StrokeColor: colorGrid},
		Range:     &gochart.ContinuousRange{Min: 0, Max: 24, Descending: true},
		Ticks:     ticks,
	}
	c.YAxis = r.yAxis(float64(v.Max.Population))
	c.Series = []gochart.Series{
		gochart.ContinuousSeries{
			Name:    "Population",
			XValues: xs,
			YValues: ys,
			Style:   gochart.Style{StrokeColor: colorLine, StrokeWidth: 2, DotColor: colorLine, DotWidth: 2},
		},
		marker(v.Min.HoursAgo, float64(v.Min.Population), colorMin),
		marker(v.Max.HoursAgo, float64(v.Max.Population), colorMax),
		gochart.AnnotationSeries{
			Annotations: []gochart.Value2{
				{XValue: v.Max.HoursAgo, YValue: float64(v.Max.Population), Label: "Highest: " + v.Max.Summary()},
				{XValue: v.Min.HoursAgo, YValue: float64(v.Min.Population), Label: "Lowest: " + v.Min.Summary()},
				{XValue: 0, YValue: float64(v.Current), Label: fmt.Sprintf("Current: %d", v.Current)},
			},
		},
	}
	return encode(c)
}

// RenderWeekly draws the 168 hourly averages of the rolling week with a tick every six hours.
func (r *PNGRenderer) RenderWeekly(label string, v aggregate.WeeklyView) ([]byte, error) {
	if len(v.Slots) != aggregate.SlotCount {
		return nil, fmt.Errorf("render weekly chart: %d slots, want %d", len(v.Slots), aggregate.SlotCount)
	}
	xs := make([]float64, len(v.Slots))
	peak := 0.0
	for i := range v.Slots {
		xs[i] = float64(i)
		if v.Slots[i].Average > peak {
			peak = v.Slots[i].Average
		}
	}
	ticks := make([]gochart.Tick, 0, 29)
	for i := 0; i < aggregate.SlotCount; i += 6 {
		s := v.Slots[i]
		lbl := fmt.Sprintf("%02d", s.Hour)
		if s.Hour == 0 {
			lbl = aggregate.DayName(s.Weekday)
		}
		ticks = append(ticks, gochart.Tick{Value: float64(i), Label: lbl})
	}
	ticks = append(ticks, gochart.Tick{Value: float64(aggregate.SlotCount - 1), Label: "now"})

	c := r.base(fmt.Sprintf("%s: 7 day hourly average", label))
	c.XAxis = gochart.XAxis{
		NameStyle:      gochart.Style{FontColor: colorTextMuted},
		Style:          gochart.Style{FontColor: colorTextMuted, StrokeColor: colorGrid, FontSize: 8},
		Range:          &gochart.ContinuousRange{Min: 0, Max: float64(aggregate.SlotCount - 1)},
		Ticks:          ticks,
		GridMajorStyle: gochart.Style{StrokeColor: colorGrid, StrokeWidth: 1},
	}
	c.YAxis = r.yAxis(peak)
	c.Series = []gochart.Series{
		gochart.ContinuousSeries{
			Name:    "Average population",
			XValues: xs,
			YValues: v.Values(),
			Style:   gochart.Style{StrokeColor: colorLine, StrokeWidth: 2},
		},
		gochart.AnnotationSeries{
			Annotations: []gochart.Value2{
				{XValue: float64(aggregate.SlotCount - 1), YValue: float64(v.Current), Label: fmt.Sprintf("Current: %d", v.Current)},
			},
		},
	}
	return encode(c)
}
