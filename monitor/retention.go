package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/onnwee/arkpop/db"
)

// RetentionPolicy bounds how long population samples are kept.
type RetentionPolicy struct {
	// KeepDays: samples older than this many days are pruned (0 = keep forever)
	KeepDays int
	// Interval: how often to prune
	Interval time.Duration
}

// LoadRetentionPolicy reads RETENTION_KEEP_DAYS and RETENTION_INTERVAL.
func LoadRetentionPolicy() RetentionPolicy {
	policy := RetentionPolicy{Interval: 6 * time.Hour}
	if s := os.Getenv("RETENTION_KEEP_DAYS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			policy.KeepDays = n
		}
	}
	if s := os.Getenv("RETENTION_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			policy.Interval = d
		}
	}
	return policy
}

// Cutoff is the oldest timestamp kept when pruning at now.
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(p.KeepDays) * 24 * time.Hour)
}

// PruneOnce deletes samples older than the policy allows.
func PruneOnce(ctx context.Context, store db.Store, policy RetentionPolicy, now time.Time) (int64, error) {
	if policy.KeepDays <= 0 {
		return 0, nil
	}
	n, err := store.PruneSamples(ctx, policy.Cutoff(now))
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return n, nil
}

// StartRetentionJob prunes on start and then every policy.Interval. It returns at once
// when no retention is configured.
func StartRetentionJob(ctx context.Context, store db.Store, policy RetentionPolicy) {
	if policy.KeepDays <= 0 {
		slog.Info("retention job disabled (no policy configured)")
		return
	}
	if policy.Interval <= 0 {
		policy.Interval = 6 * time.Hour
	}
	slog.Info("retention job starting", slog.Int("keep_days", policy.KeepDays), slog.Duration("interval", policy.Interval))

	run := func() {
		n, err := PruneOnce(ctx, store, policy, time.Now())
		if err != nil {
			slog.Warn("retention cleanup failed", slog.Any("err", err))
			return
		}
		if n > 0 {
			slog.Info("retention cleanup", slog.Int64("pruned", n))
		}
	}
	run()

	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("retention job stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}
