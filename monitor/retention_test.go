package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/arkpop/testutil"
)

func TestLoadRetentionPolicy(t *testing.T) {
	t.Setenv("RETENTION_KEEP_DAYS", "30")
	t.Setenv("RETENTION_INTERVAL", "1h")
	p := LoadRetentionPolicy()
	if p.KeepDays != 30 || p.Interval != time.Hour {
		t.Errorf("LoadRetentionPolicy() = %+v", p)
	}

	t.Setenv("RETENTION_KEEP_DAYS", "-1")
	t.Setenv("RETENTION_INTERVAL", "bogus")
	p = LoadRetentionPolicy()
	if p.KeepDays != 0 || p.Interval != 6*time.Hour {
		t.Errorf("invalid values should fall back to defaults, got %+v", p)
	}
}

func TestPruneOnce(t *testing.T) {
	store := testutil.NewBoltStore(t, nil)
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	_ = store.RecordSampleAt(ctx, "1", now.Add(-10*24*time.Hour), 5)
	_ = store.RecordSampleAt(ctx, "1", now.Add(-time.Hour), 7)

	n, err := PruneOnce(ctx, store, RetentionPolicy{KeepDays: 0}, now)
	if err != nil || n != 0 {
		t.Fatalf("disabled PruneOnce() = %d, %v", n, err)
	}

	n, err = PruneOnce(ctx, store, RetentionPolicy{KeepDays: 7}, now)
	if err != nil {
		t.Fatalf("PruneOnce() error = %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	left, _ := store.QueryWindow(ctx, "1", time.Unix(0, 0))
	if len(left) != 1 || left[0].Population != 7 {
		t.Errorf("remaining = %+v", left)
	}
}
