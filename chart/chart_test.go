package chart

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/onnwee/arkpop/aggregate"
	"github.com/onnwee/arkpop/db"
)

func decodeSize(t *testing.T, b []byte) (int, int) {
	t.Helper()
	cfg, err := png.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestRenderDaily(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	var samples []db.Sample
	for i := 0; i < 12; i++ {
		samples = append(samples, db.Sample{ServerID: "1", Timestamp: now.Add(-time.Duration(i*2) * time.Hour).Unix(), Population: 10 + i*3})
	}
	v, err := aggregate.Daily(samples, now, time.UTC)
	if err != nil {
		t.Fatalf("Daily() error = %v", err)
	}
	b, err := NewPNGRenderer(0).RenderDaily("Ragnarok4521", v)
	if err != nil {
		t.Fatalf("RenderDaily() error = %v", err)
	}
	if w, h := decodeSize(t, b); w != 1000 || h != 500 {
		t.Errorf("size = %dx%d, want 1000x500", w, h)
	}
}

func TestRenderDailyAbovePopCap(t *testing.T) {
	now := time.Now()
	samples := []db.Sample{
		{ServerID: "1", Timestamp: now.Add(-time.Hour).Unix(), Population: 90},
		{ServerID: "1", Timestamp: now.Unix(), Population: 95},
	}
	v, err := aggregate.Daily(samples, now, time.UTC)
	if err != nil {
		t.Fatalf("Daily() error = %v", err)
	}
	if _, err := NewPNGRenderer(70).RenderDaily("x", v); err != nil {
		t.Fatalf("RenderDaily() error = %v", err)
	}
}

func TestRenderWeekly(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	var samples []db.Sample
	for i := 0; i < 48; i++ {
		samples = append(samples, db.Sample{ServerID: "1", Timestamp: now.Add(-time.Duration(i*3) * time.Hour).Unix(), Population: i % 40})
	}
	v, err := aggregate.Weekly(samples, now, time.UTC)
	if err != nil {
		t.Fatalf("Weekly() error = %v", err)
	}
	r := &PNGRenderer{Width: 800, Height: 400, MaxPop: 70}
	b, err := r.RenderWeekly("Ragnarok4521", v)
	if err != nil {
		t.Fatalf("RenderWeekly() error = %v", err)
	}
	if w, h := decodeSize(t, b); w != 800 || h != 400 {
		t.Errorf("size = %dx%d, want 800x400", w, h)
	}
}

func TestRenderRejectsEmptyViews(t *testing.T) {
	r := NewPNGRenderer(70)
	if _, err := r.RenderDaily("x", aggregate.DailyView{}); err == nil {
		t.Error("RenderDaily(empty) error = nil")
	}
	if _, err := r.RenderWeekly("x", aggregate.WeeklyView{}); err == nil {
		t.Error("RenderWeekly(empty) error = nil")
	}
}
