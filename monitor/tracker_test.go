package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/arkpop/apperr"
	"github.com/onnwee/arkpop/battlemetrics"
	"github.com/onnwee/arkpop/db"
	"github.com/onnwee/arkpop/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

// Now advances one second per call so every write lands on its own timestamp.
func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type step struct {
	online bool
	pop    int
	err    error
}

type fakeResolver struct {
	mu    sync.Mutex
	steps map[string][]step
	calls map[string]int
	hook  func(serverID string)
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{steps: map[string][]step{}, calls: map[string]int{}}
}

func (f *fakeResolver) script(id string, s ...step) { f.steps[id] = append(f.steps[id], s...) }

func (f *fakeResolver) Resolve(ctx context.Context, id string) (battlemetrics.Reading, error) {
	f.mu.Lock()
	i := f.calls[id]
	f.calls[id]++
	steps := f.steps[id]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if len(steps) == 0 {
		return battlemetrics.Reading{}, apperr.New(apperr.NotFound, "")
	}
	if i >= len(steps) {
		i = len(steps) - 1
	}
	s := steps[i]
	if s.err != nil {
		return battlemetrics.Reading{}, s.err
	}
	return battlemetrics.Reading{ServerID: id, Name: "Server " + id, Online: s.online, Population: s.pop, MaxPopulation: 70}, nil
}

type sent struct {
	target string
	n      Notification
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, target string, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{target, n})
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func setup(t *testing.T) (*db.BoltStore, *fakeResolver, *fakeNotifier, *Tracker) {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := testutil.NewBoltStore(t, c.Now)
	res := newFakeResolver()
	notif := &fakeNotifier{}
	return store, res, notif, NewTracker(store, res, notif, Config{Concurrency: 2})
}

func mustSweep(t *testing.T, tr *Tracker) SweepResult {
	t.Helper()
	r, err := tr.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	return r
}

func monitorStatus(t *testing.T, s db.Store, id string) (db.MonitoredServer, bool) {
	t.Helper()
	m, ok, err := s.GetMonitor(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMonitor() error = %v", err)
	}
	return m, ok
}

func sampleCount(t *testing.T, s db.Store, id string) int {
	t.Helper()
	got, err := s.QueryWindow(context.Background(), id, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("QueryWindow() error = %v", err)
	}
	return len(got)
}

func TestTransitionNotifiesOnceOnThirdTick(t *testing.T) {
	store, res, notif, tr := setup(t)
	ctx := context.Background()
	if err := store.AddMonitor(ctx, "1", "user-1"); err != nil {
		t.Fatal(err)
	}
	res.script("1", step{online: false}, step{online: false}, step{online: true, pop: 12})
	if err := tr.Load(ctx); err != nil {
		t.Fatal(err)
	}

	wantOutcomes := []Outcome{OutcomeSeeded, OutcomeUnchanged, OutcomeNotified}
	wantSent := []int{0, 0, 1}
	for tick := range wantOutcomes {
		r := mustSweep(t, tr)
		if got := r.Outcomes["1"]; got != wantOutcomes[tick] {
			t.Errorf("tick %d outcome = %v, want %v", tick+1, got, wantOutcomes[tick])
		}
		if got := notif.count(); got != wantSent[tick] {
			t.Errorf("after tick %d notifications = %d, want %d", tick+1, got, wantSent[tick])
		}
	}

	if notif.sent[0].target != "user-1" || notif.sent[0].n.Population != 12 || notif.sent[0].n.MaxPopulation != 70 {
		t.Errorf("notification = %+v", notif.sent[0])
	}
	m, _ := monitorStatus(t, store, "1")
	if m.Status != db.StatusOnline {
		t.Errorf("stored status = %s, want online", m.Status)
	}
	if e, ok := tr.Cache().Get("1"); !ok || e.Status != db.StatusOnline || e.Name != "Server 1" {
		t.Errorf("cache = %+v, %v", e, ok)
	}
	if n := sampleCount(t, store, "1"); n != 3 {
		t.Errorf("samples = %d, want 3", n)
	}
}

func TestOnlineToOfflineDoesNotNotify(t *testing.T) {
	store, res, notif, tr := setup(t)
	_ = store.AddMonitor(context.Background(), "1", "u")
	res.script("1", step{online: true}, step{online: false}, step{online: false})
	for i := 0; i < 3; i++ {
		mustSweep(t, tr)
	}
	if notif.count() != 0 {
		t.Errorf("notifications = %d, want 0", notif.count())
	}
}

func TestLoadRebuildsCacheFromRegistry(t *testing.T) {
	store, res, notif, tr := setup(t)
	ctx := context.Background()
	_ = store.AddMonitor(ctx, "known", "u1")
	_, _ = store.UpdateMonitorStatus(ctx, "known", db.StatusOffline)
	_ = store.AddMonitor(ctx, "fresh", "u2")
	res.script("known", step{online: true})
	res.script("fresh", step{online: true})

	if err := tr.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.Cache().Get("fresh"); ok {
		t.Error("unknown registration should not be cached")
	}
	r := mustSweep(t, tr)
	if r.Outcomes["known"] != OutcomeNotified || r.Outcomes["fresh"] != OutcomeSeeded {
		t.Errorf("outcomes = %v", r.Outcomes)
	}
	if notif.count() != 1 || notif.sent[0].target != "u1" {
		t.Errorf("sent = %+v", notif.sent)
	}
}

func TestRemovedMidSweepIsNotResurrected(t *testing.T) {
	store, res, notif, tr := setup(t)
	ctx := context.Background()
	_ = store.AddMonitor(ctx, "1", "u")
	res.script("1", step{online: false}, step{online: true})
	mustSweep(t, tr)

	res.hook = func(id string) {
		if err := store.RemoveMonitor(ctx, id); err != nil {
			t.Errorf("RemoveMonitor() error = %v", err)
		}
	}
	r := mustSweep(t, tr)
	if r.Outcomes["1"] != OutcomeGone {
		t.Errorf("outcome = %v, want gone", r.Outcomes["1"])
	}
	list, err := store.ListMonitors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("ListMonitors() = %+v, want empty", list)
	}
	if _, ok := tr.Cache().Get("1"); ok {
		t.Error("cache still holds removed server")
	}
	if notif.count() != 0 {
		t.Errorf("notified a removed monitor")
	}
}

func TestResolveErrorLeavesStateUntouched(t *testing.T) {
	store, res, notif, tr := setup(t)
	ctx := context.Background()
	_ = store.AddMonitor(ctx, "1", "u")
	timeout := apperr.Wrap(context.DeadlineExceeded, apperr.TransientUpstream, "lookup timed out")
	res.script("1", step{online: false, pop: 3}, step{err: timeout}, step{online: true})
	mustSweep(t, tr)

	before, _ := monitorStatus(t, store, "1")
	samplesBefore := sampleCount(t, store, "1")

	r := mustSweep(t, tr)
	if r.Outcomes["1"] != OutcomeResolveFailed {
		t.Errorf("outcome = %v, want resolve failed", r.Outcomes["1"])
	}
	after, _ := monitorStatus(t, store, "1")
	if after != before {
		t.Errorf("monitor changed: before %+v after %+v", before, after)
	}
	if n := sampleCount(t, store, "1"); n != samplesBefore {
		t.Errorf("samples = %d, want %d", n, samplesBefore)
	}
	if e, _ := tr.Cache().Get("1"); e.Status != db.StatusOffline {
		t.Errorf("cache status = %s, want offline", e.Status)
	}

	// The next healthy tick still sees offline -> online.
	mustSweep(t, tr)
	if notif.count() != 1 {
		t.Errorf("notifications = %d, want 1", notif.count())
	}
}

func TestPermanentDeliveryFailureRemovesMonitor(t *testing.T) {
	store, res, notif, tr := setup(t)
	ctx := context.Background()
	_ = store.AddMonitor(ctx, "1", "u")
	res.script("1", step{online: false}, step{online: true})
	mustSweep(t, tr)

	notif.err = apperr.New(apperr.PermanentDelivery, "recipient blocks whispers")
	r := mustSweep(t, tr)
	if r.Outcomes["1"] != OutcomeRemoved {
		t.Errorf("outcome = %v, want removed", r.Outcomes["1"])
	}
	if _, ok := monitorStatus(t, store, "1"); ok {
		t.Error("monitor still registered")
	}
	if _, ok := tr.Cache().Get("1"); ok {
		t.Error("cache still holds removed server")
	}
}

func TestTransientDeliveryFailureKeepsMonitor(t *testing.T) {
	store, res, notif, tr := setup(t)
	ctx := context.Background()
	_ = store.AddMonitor(ctx, "1", "u")
	res.script("1", step{online: false}, step{online: true})
	mustSweep(t, tr)

	notif.err = apperr.New(apperr.TransientUpstream, "rate limited")
	mustSweep(t, tr)
	m, ok := monitorStatus(t, store, "1")
	if !ok || m.Status != db.StatusOnline {
		t.Errorf("monitor = %+v, %v; want online and registered", m, ok)
	}
}

func TestSenderSideDeliveryFailureKeepsMonitor(t *testing.T) {
	store, res, notif, tr := setup(t)
	ctx := context.Background()
	_ = store.AddMonitor(ctx, "1", "u")
	res.script("1", step{online: false}, step{online: true})
	mustSweep(t, tr)

	notif.err = apperr.New(apperr.Internal, "bot account may not send whispers")
	r := mustSweep(t, tr)
	if r.Outcomes["1"] == OutcomeRemoved {
		t.Fatal("monitor removed for a sender-side failure")
	}
	if _, ok := monitorStatus(t, store, "1"); !ok {
		t.Error("monitor no longer registered")
	}
}

// stallingNotifier blocks until its context ends, like a connection that never answers.
type stallingNotifier struct {
	hadDeadline chan bool
}

func (s *stallingNotifier) Notify(ctx context.Context, target string, n Notification) error {
	_, ok := ctx.Deadline()
	s.hadDeadline <- ok
	<-ctx.Done()
	return ctx.Err()
}

func TestStalledNotificationDoesNotWedgeSweeps(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := testutil.NewBoltStore(t, c.Now)
	ctx := context.Background()
	_ = store.AddMonitor(ctx, "1", "u")
	res := newFakeResolver()
	res.script("1", step{online: false}, step{online: true, pop: 8}, step{online: true, pop: 9})
	notif := &stallingNotifier{hadDeadline: make(chan bool, 1)}
	tr := NewTracker(store, res, notif, Config{NotifyTimeout: 50 * time.Millisecond})

	mustSweep(t, tr)
	done := make(chan SweepResult, 1)
	go func() {
		r, err := tr.Sweep(ctx)
		if err != nil {
			t.Errorf("Sweep() error = %v", err)
		}
		done <- r
	}()
	select {
	case r := <-done:
		if r.Outcomes["1"] == OutcomeRemoved {
			t.Error("a timed-out notification must not remove the monitor")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("sweep still blocked on a stalled notification")
	}
	if !<-notif.hadDeadline {
		t.Error("notifier context carried no deadline")
	}

	if _, err := tr.Sweep(ctx); err != nil {
		t.Errorf("next Sweep() error = %v", err)
	}
	if m, ok := monitorStatus(t, store, "1"); !ok || m.Status != db.StatusOnline {
		t.Errorf("monitor = %+v, %v; want online and registered", m, ok)
	}
}

func TestDeadStatusIsInert(t *testing.T) {
	store, res, notif, tr := setup(t)
	ctx := context.Background()
	_ = store.AddMonitor(ctx, "1", "u")
	_, _ = store.UpdateMonitorStatus(ctx, "1", db.StatusDead)
	res.script("1", step{online: true, pop: 9})
	if err := tr.Load(ctx); err != nil {
		t.Fatal(err)
	}
	r := mustSweep(t, tr)
	if r.Outcomes["1"] != OutcomeDead {
		t.Errorf("outcome = %v, want dead", r.Outcomes["1"])
	}
	m, _ := monitorStatus(t, store, "1")
	if m.Status != db.StatusDead {
		t.Errorf("status = %s, want dead", m.Status)
	}
	if sampleCount(t, store, "1") != 1 {
		t.Error("dead server should still be sampled")
	}
	if notif.count() != 0 {
		t.Error("dead server notified")
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	store, res, _, tr := setup(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = store.AddMonitor(ctx, id, "u")
	}
	res.script("a", step{online: true, pop: 1})
	res.script("b", step{err: apperr.New(apperr.TransientUpstream, "502")})
	res.script("c", step{online: false, pop: 0})

	r := mustSweep(t, tr)
	if r.Checked != 3 || r.Count(OutcomeSeeded) != 2 || r.Outcomes["b"] != OutcomeResolveFailed {
		t.Errorf("result = %+v", r)
	}
	if sampleCount(t, store, "b") != 0 || sampleCount(t, store, "a") != 1 {
		t.Error("unexpected sample counts")
	}
}

type blockingResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingResolver) Resolve(ctx context.Context, id string) (battlemetrics.Reading, error) {
	b.entered <- struct{}{}
	<-b.release
	return battlemetrics.Reading{ServerID: id, Online: true}, nil
}

func TestSweepDoesNotOverlap(t *testing.T) {
	store := testutil.NewBoltStore(t, nil)
	_ = store.AddMonitor(context.Background(), "1", "u")
	br := &blockingResolver{entered: make(chan struct{}, 1), release: make(chan struct{})}
	tr := NewTracker(store, br, nil, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := tr.Sweep(context.Background())
		done <- err
	}()
	<-br.entered

	if _, err := tr.Sweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Errorf("overlapping Sweep() error = %v, want ErrSweepInProgress", err)
	}
	close(br.release)
	if err := <-done; err != nil {
		t.Errorf("first Sweep() error = %v", err)
	}
	// A later sweep runs normally once the first has finished.
	go func() { <-br.entered }()
	if _, err := tr.Sweep(context.Background()); err != nil {
		t.Errorf("follow-up Sweep() error = %v", err)
	}
}

func TestWatchResetsCachedStatus(t *testing.T) {
	store, res, notif, tr := setup(t)
	ctx := context.Background()
	_ = tr.Watch(ctx, "1", "u")
	res.script("1", step{online: false}, step{online: true})
	mustSweep(t, tr)

	if err := tr.Unwatch(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.Cache().Get("1"); ok {
		t.Error("Unwatch left a cache entry")
	}
	if err := tr.Watch(ctx, "1", "u2"); err != nil {
		t.Fatal(err)
	}
	r := mustSweep(t, tr)
	if r.Outcomes["1"] != OutcomeSeeded || notif.count() != 0 {
		t.Errorf("re-added monitor should seed silently, got %v and %d notifications", r.Outcomes["1"], notif.count())
	}
	m, _ := monitorStatus(t, store, "1")
	if m.NotifyTarget != "u2" || m.Status != db.StatusOnline {
		t.Errorf("monitor = %+v", m)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store, res, _, _ := setup(t)
	_ = store.AddMonitor(context.Background(), "1", "u")
	res.script("1", step{online: true, pop: 4})
	tr := NewTracker(store, res, nil, Config{Interval: time.Hour, Cooldown: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for sampleCount(t, store, "1") == 0 {
		select {
		case <-deadline:
			t.Fatal("Run() never swept")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

func TestNotificationText(t *testing.T) {
	n := Notification{ServerID: "123", Name: "EU-PVP-Official-TheIsland2154", Population: 41, MaxPopulation: 70}
	want := "Server Up Notification! Your monitored server EU-PVP-Official-TheIsland2154 (123) is now online! Current population: 41/70"
	if got := n.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}
