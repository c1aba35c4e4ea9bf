// Package monitor runs the periodic status sweep over monitored servers: it records a
// population sample per server, detects offline to online transitions and delivers the
// server-up notification.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/arkpop/apperr"
	"github.com/onnwee/arkpop/battlemetrics"
	"github.com/onnwee/arkpop/db"
	"github.com/onnwee/arkpop/telemetry"
)

const (
	DefaultInterval    = 10 * time.Minute
	DefaultCooldown    = 5 * time.Second
	DefaultConcurrency = 4
	// DefaultNotifyTimeout bounds one notification delivery.
	DefaultNotifyTimeout = 10 * time.Second
)

// ErrSweepInProgress is returned by Sweep when another sweep has not finished yet.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Resolver produces one status reading per call.
type Resolver interface {
	Resolve(ctx context.Context, serverID string) (battlemetrics.Reading, error)
}

// Notification is the server-up message payload.
type Notification struct {
	ServerID      string
	Name          string
	Population    int
	MaxPopulation int
}

// Text renders the notification body.
func (n Notification) Text() string {
	return fmt.Sprintf("Server Up Notification! Your monitored server %s (%s) is now online! Current population: %d/%d",
		n.Name, n.ServerID, n.Population, n.MaxPopulation)
}

// Notifier delivers a direct message. Unreachable targets must be reported as
// apperr.PermanentDelivery; anything else is treated as transient.
type Notifier interface {
	Notify(ctx context.Context, target string, n Notification) error
}

// Config controls the sweep driver.
type Config struct {
	Interval      time.Duration
	Cooldown      time.Duration
	Concurrency   int
	NotifyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = DefaultNotifyTimeout
	}
	return c
}

// Outcome is what happened to one server during a sweep.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeSeeded
	OutcomeNotified
	OutcomeResolveFailed
	OutcomeStoreFailed
	OutcomeRemoved
	OutcomeGone
	OutcomeDead
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked  int
	Outcomes map[string]Outcome
}

// Count returns how many servers ended with o.
func (r SweepResult) Count(o Outcome) int {
	n := 0
	for _, got := range r.Outcomes {
		if got == o {
			n++
		}
	}
	return n
}

// Tracker owns the status cache and drives sweeps. Create with NewTracker.
type Tracker struct {
	store    db.Store
	resolver Resolver
	notifier Notifier
	cfg      Config
	cache    *StatusCache

	locks    sync.Map // server id -> *sync.Mutex
	inFlight atomic.Bool
}

// NewTracker wires a tracker. notifier may be nil, in which case transitions are
// detected and recorded but nothing is sent.
func NewTracker(store db.Store, resolver Resolver, notifier Notifier, cfg Config) *Tracker {
	return &Tracker{
		store:    store,
		resolver: resolver,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		cache:    NewStatusCache(),
	}
}

// Cache exposes the status cache for inspection.
func (t *Tracker) Cache() *StatusCache { return t.cache }

func (t *Tracker) lockFor(serverID string) *sync.Mutex {
	l, _ := t.locks.LoadOrStore(serverID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Load rebuilds the cache from the registry. Servers still in status unknown are left
// out so their first observation seeds silently.
func (t *Tracker) Load(ctx context.Context) error {
	monitors, err := t.store.ListMonitors(ctx)
	if err != nil {
		return fmt.Errorf("load monitors: %w", err)
	}
	entries := make(map[string]Entry, len(monitors))
	for _, m := range monitors {
		if m.Status == db.StatusUnknown {
			continue
		}
		entries[m.ServerID] = Entry{Status: m.Status}
	}
	t.cache.Reset(entries)
	telemetry.SetMonitored(len(monitors))
	slog.Info("status cache loaded", slog.Int("monitors", len(monitors)), slog.Int("cached", len(entries)))
	return nil
}

// Watch registers target for serverID and clears any cached status so the next sweep
// seeds it.
func (t *Tracker) Watch(ctx context.Context, serverID, target string) error {
	l := t.lockFor(serverID)
	l.Lock()
	defer l.Unlock()
	if err := t.store.AddMonitor(ctx, serverID, target); err != nil {
		return err
	}
	t.cache.Delete(serverID)
	return nil
}

// Unwatch removes the registration and the cached status.
func (t *Tracker) Unwatch(ctx context.Context, serverID string) error {
	l := t.lockFor(serverID)
	l.Lock()
	defer l.Unlock()
	if err := t.store.RemoveMonitor(ctx, serverID); err != nil {
		return err
	}
	t.cache.Delete(serverID)
	return nil
}

// Forget drops the cached status for serverID.
func (t *Tracker) Forget(serverID string) { t.cache.Delete(serverID) }

// Sweep checks every monitored server once. Servers are resolved concurrently up to the
// configured limit; the writes for a single server are serialized. A sweep never runs
// alongside another one: an overlapping call returns ErrSweepInProgress.
func (t *Tracker) Sweep(ctx context.Context) (SweepResult, error) {
	if !t.inFlight.CompareAndSwap(false, true) {
		telemetry.Inc(telemetry.SweepsSkipped)
		return SweepResult{}, ErrSweepInProgress
	}
	defer t.inFlight.Store(false)

	if telemetry.GetCorrelation(ctx) == "" {
		ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	}
	ctx, span := telemetry.StartSpan(ctx, "monitor", "Sweep")
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "sweep"))

	monitors, err := t.store.ListMonitors(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return SweepResult{}, fmt.Errorf("list monitors: %w", err)
	}
	telemetry.SetMonitored(len(monitors))
	span.SetAttributes(attribute.Int("monitors", len(monitors)))

	res := SweepResult{Outcomes: make(map[string]Outcome, len(monitors))}
	var mu sync.Mutex
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(t.cfg.Concurrency)
	for _, m := range monitors {
		id := m.ServerID
		g.Go(func() error {
			o := t.check(ctx, logger.With(slog.String("server_id", id)), id)
			mu.Lock()
			res.Outcomes[id] = o
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res.Checked = len(monitors)
	if telemetry.SweepDuration != nil {
		telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	}
	telemetry.Inc(telemetry.Sweeps)
	telemetry.SetSpanSuccess(span)
	logger.Info("sweep complete",
		slog.Int("checked", res.Checked),
		slog.Int("notified", res.Count(OutcomeNotified)),
		slog.Int("errors", res.Count(OutcomeResolveFailed)+res.Count(OutcomeStoreFailed)),
		slog.Duration("took", time.Since(start)))
	return res, nil
}

// check handles one server. Failures are logged and never propagate to the sweep.
func (t *Tracker) check(ctx context.Context, logger *slog.Logger, serverID string) Outcome {
	reading, err := t.resolver.Resolve(ctx, serverID)
	if err != nil {
		logger.Warn("status check failed; leaving state untouched",
			slog.String("kind", apperr.KindOf(err).String()), slog.Any("err", err))
		return OutcomeResolveFailed
	}

	l := t.lockFor(serverID)
	l.Lock()
	defer l.Unlock()

	if err := t.store.RecordSample(ctx, serverID, reading.Population); err != nil {
		logger.Warn("record sample", slog.Any("err", err))
	} else {
		telemetry.Inc(telemetry.SamplesRecorded)
	}

	m, ok, err := t.store.GetMonitor(ctx, serverID)
	if err != nil {
		logger.Warn("read monitor", slog.Any("err", err))
		return OutcomeStoreFailed
	}
	if !ok {
		t.cache.Delete(serverID)
		return OutcomeGone
	}
	if m.Status == db.StatusDead {
		t.cache.Set(serverID, Entry{Status: db.StatusDead, Name: reading.Name})
		return OutcomeDead
	}

	resolved := db.StatusOffline
	if reading.Online {
		resolved = db.StatusOnline
	}

	prev, seen := t.cache.Get(serverID)
	outcome := OutcomeUnchanged
	switch {
	case !seen:
		outcome = OutcomeSeeded
	case prev.Status == db.StatusOffline && resolved == db.StatusOnline:
		if t.notify(ctx, logger, m.NotifyTarget, reading) {
			if err := t.store.RemoveMonitor(ctx, serverID); err != nil {
				logger.Error("remove unreachable monitor", slog.Any("err", err))
				return OutcomeStoreFailed
			}
			t.cache.Delete(serverID)
			telemetry.Inc(telemetry.MonitorsAutoRemoved)
			logger.Info("monitor removed: notification target unreachable", slog.String("target", m.NotifyTarget))
			return OutcomeRemoved
		}
		outcome = OutcomeNotified
	}

	updated, err := t.store.UpdateMonitorStatus(ctx, serverID, resolved)
	if err != nil {
		logger.Warn("update monitor status", slog.Any("err", err))
		return OutcomeStoreFailed
	}
	if !updated {
		t.cache.Delete(serverID)
		return OutcomeGone
	}
	t.cache.Set(serverID, Entry{Status: resolved, Name: reading.Name})
	if prev.Status != resolved {
		logger.Debug("status changed", slog.String("from", string(prev.Status)), slog.String("to", string(resolved)))
	}
	return outcome
}

// notify sends the server-up message and reports whether the target is permanently
// unreachable.
func (t *Tracker) notify(ctx context.Context, logger *slog.Logger, target string, r battlemetrics.Reading) (unreachable bool) {
	if t.notifier == nil {
		return false
	}
	n := Notification{ServerID: r.ServerID, Name: r.Name, Population: r.Population, MaxPopulation: r.MaxPopulation}
	nctx, cancel := context.WithTimeout(ctx, t.cfg.NotifyTimeout)
	defer cancel()
	err := t.notifier.Notify(nctx, target, n)
	if err != nil && ctx.Err() == nil && errors.Is(nctx.Err(), context.DeadlineExceeded) {
		err = apperr.Wrap(err, apperr.TransientUpstream, "notification timed out")
	}
	if err == nil {
		telemetry.Inc(telemetry.NotificationsSent)
		logger.Info("server-up notification sent", slog.String("target", target))
		return false
	}
	kind := apperr.KindOf(err)
	telemetry.IncVec(telemetry.NotificationsFailed, kind.String())
	if kind == apperr.PermanentDelivery {
		return true
	}
	logger.Warn("server-up notification failed", slog.String("target", target), slog.Any("err", err))
	return false
}

// Run loads the cache, sweeps immediately and then once per interval until ctx is
// done. Each sweep is followed by the fixed cooldown; a tick that comes due while a
// sweep is still running is deferred until the sweep and cooldown finish.
func (t *Tracker) Run(ctx context.Context) {
	logger := slog.Default().With(slog.String("component", "tracker"))
	if err := t.Load(ctx); err != nil {
		logger.Warn("initial cache load failed; servers will seed on first sweep", slog.Any("err", err))
	}
	logger.Info("status tracker starting",
		slog.Duration("interval", t.cfg.Interval),
		slog.Duration("cooldown", t.cfg.Cooldown),
		slog.Int("concurrency", t.cfg.Concurrency))

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := t.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			logger.Warn("sweep failed", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			logger.Info("status tracker stopped")
			return
		case <-time.After(t.cfg.Cooldown):
		}
		select {
		case <-ctx.Done():
			logger.Info("status tracker stopped")
			return
		case <-ticker.C:
		}
	}
}
