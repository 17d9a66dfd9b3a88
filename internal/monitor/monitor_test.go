package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmvision/camconnect/internal/probe"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSink) Publish(evt Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *fakeSink) byType(t string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type scriptedProber struct {
	mu sync.Mutex
	fn func(c probe.Candidate) probe.Result
}

func (p *scriptedProber) Test(ctx context.Context, c probe.Candidate, timeout time.Duration) probe.Result {
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	return fn(c)
}

func (p *scriptedProber) set(fn func(c probe.Candidate) probe.Result) {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
}

func installProber(t *testing.T, typ probe.ConnectionType, p probe.Prober) {
	t.Helper()
	prev, had := probe.Get(typ)
	probe.Register(typ, p)
	t.Cleanup(func() {
		if had {
			probe.Register(typ, prev)
		}
	})
}

func ok(ms int) func(probe.Candidate) probe.Result {
	return func(c probe.Candidate) probe.Result {
		return probe.Result{Success: true, Type: c.Type, URL: c.URL, ResponseTimeMS: ms}
	}
}

func down(c probe.Candidate) probe.Result {
	return probe.Result{Type: c.Type, URL: c.URL, Reason: probe.ReasonUnreachable, Error: "connection refused"}
}

func newTestService(t *testing.T, clock Clock, sink EventSink) (*Service, uuid.UUID, *scriptedProber) {
	t.Helper()
	prober := &scriptedProber{fn: ok(120)}
	installProber(t, probe.TypeRTSP, prober)

	svc := NewService(NewStore(), ServiceConfig{Clock: clock, Sink: sink})
	id := uuid.New()
	_, err := svc.Register(context.Background(), ResolvedConnection{
		CameraID:   id,
		Type:       probe.TypeRTSP,
		PrimaryURL: "rtsp://192.0.2.50:554/stream1",
	})
	require.NoError(t, err)
	return svc, id, prober
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LevelExcellent, LevelFor(0))
	assert.Equal(t, LevelExcellent, LevelFor(499))
	assert.Equal(t, LevelGood, LevelFor(500))
	assert.Equal(t, LevelGood, LevelFor(1499))
	assert.Equal(t, LevelFair, LevelFor(1500))
	assert.Equal(t, LevelFair, LevelFor(2999))
	assert.Equal(t, LevelPoor, LevelFor(3000))
	assert.Equal(t, LevelPoor, LevelFor(60000))
}

func TestHealthCheckUpdatesRecord(t *testing.T) {
	clock := newFakeClock()
	svc, id, _ := newTestService(t, clock, nil)

	svc.Tick(context.Background(), id)

	snap, err := svc.Store().Get(id)
	require.NoError(t, err)
	assert.Equal(t, LevelExcellent, snap.Health.Level)
	assert.Equal(t, 120, snap.Health.LastResponseMS)
	assert.Equal(t, 0, snap.Health.ConsecutiveFailures)
	assert.Equal(t, clock.Now(), snap.Health.LastCheck)
	assert.InDelta(t, 100.0, snap.Health.UptimePct, 0.01)
	assert.Nil(t, snap.Reconnection)
}

func TestFailureStartsReconnection(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	svc, id, prober := newTestService(t, clock, sink)

	svc.Tick(context.Background(), id) // healthy baseline
	prober.set(down)
	svc.Tick(context.Background(), id)

	snap, err := svc.Store().Get(id)
	require.NoError(t, err)
	assert.Equal(t, LevelOffline, snap.Health.Level)
	assert.Equal(t, 1, snap.Health.ConsecutiveFailures)
	assert.Equal(t, "connection refused", snap.Health.LastError)

	require.NotNil(t, snap.Reconnection)
	assert.Equal(t, 0, snap.Reconnection.Attempts)
	assert.Equal(t, 10*time.Second, snap.Reconnection.CurrentDelay)
	assert.Equal(t, clock.Now().Add(10*time.Second), snap.Reconnection.NextAttemptAt)
	assert.False(t, snap.Reconnection.GivingUp)

	transitions := sink.byType(EventHealthTransition)
	require.NotEmpty(t, transitions)
	last := transitions[len(transitions)-1]
	assert.Equal(t, LevelExcellent, last.From)
	assert.Equal(t, LevelOffline, last.To)
}

func TestFirstCheckFailureStartsReconnection(t *testing.T) {
	clock := newFakeClock()
	svc, id, prober := newTestService(t, clock, nil)

	// The camera never reports healthy: its very first probe fails.
	prober.set(down)
	svc.Tick(context.Background(), id)

	snap, err := svc.Store().Get(id)
	require.NoError(t, err)
	assert.Equal(t, LevelOffline, snap.Health.Level)
	require.NotNil(t, snap.Reconnection)
	assert.Equal(t, 0, snap.Reconnection.Attempts)
	assert.Equal(t, clock.Now().Add(10*time.Second), snap.Reconnection.NextAttemptAt)

	// Normal-cadence ticks stay suppressed while the backoff is pending.
	clock.Advance(time.Second)
	svc.Tick(context.Background(), id)
	snap, _ = svc.Store().Get(id)
	assert.Equal(t, 1, snap.Health.ConsecutiveFailures)
}

func TestBackoffSuppressesHealthChecks(t *testing.T) {
	clock := newFakeClock()
	svc, id, prober := newTestService(t, clock, nil)

	prober.set(down)
	svc.Tick(context.Background(), id)
	snap, _ := svc.Store().Get(id)
	require.NotNil(t, snap.Reconnection)

	// Before the backoff elapses nothing runs; failures stay at 1.
	clock.Advance(5 * time.Second)
	svc.Tick(context.Background(), id)
	snap, _ = svc.Store().Get(id)
	assert.Equal(t, 1, snap.Health.ConsecutiveFailures)
	assert.Equal(t, 0, snap.Reconnection.Attempts)
}

func TestBackoffLadder(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	svc, id, prober := newTestService(t, clock, sink)

	prober.set(down)
	svc.Tick(context.Background(), id)

	wantDelays := []time.Duration{
		20 * time.Second, 40 * time.Second, 80 * time.Second, 160 * time.Second,
	}
	for i, want := range wantDelays {
		snap, _ := svc.Store().Get(id)
		require.NotNil(t, snap.Reconnection)
		clock.Advance(snap.Reconnection.NextAttemptAt.Sub(clock.Now()))
		svc.Tick(context.Background(), id)

		snap, _ = svc.Store().Get(id)
		require.NotNil(t, snap.Reconnection)
		assert.Equal(t, i+1, snap.Reconnection.Attempts)
		assert.Equal(t, want, snap.Reconnection.CurrentDelay)
		assert.False(t, snap.Reconnection.GivingUp)
	}

	// Fifth failed attempt exhausts the budget.
	snap, _ := svc.Store().Get(id)
	clock.Advance(snap.Reconnection.NextAttemptAt.Sub(clock.Now()))
	svc.Tick(context.Background(), id)

	snap, _ = svc.Store().Get(id)
	require.NotNil(t, snap.Reconnection)
	assert.Equal(t, 5, snap.Reconnection.Attempts)
	assert.True(t, snap.Reconnection.GivingUp)
	require.Len(t, sink.byType(EventReconnectGaveUp), 1)

	// Once given up, ticks do nothing until a manual reconnect.
	clock.Advance(time.Hour)
	svc.Tick(context.Background(), id)
	snap, _ = svc.Store().Get(id)
	assert.Equal(t, 5, snap.Reconnection.Attempts)
}

func TestReconnectAttemptRecovers(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	svc, id, prober := newTestService(t, clock, sink)

	prober.set(down)
	svc.Tick(context.Background(), id)

	prober.set(ok(700))
	snap, _ := svc.Store().Get(id)
	clock.Advance(snap.Reconnection.NextAttemptAt.Sub(clock.Now()))
	svc.Tick(context.Background(), id)

	snap, err := svc.Store().Get(id)
	require.NoError(t, err)
	assert.Nil(t, snap.Reconnection)
	assert.Equal(t, LevelGood, snap.Health.Level)
	assert.Equal(t, 0, snap.Health.ConsecutiveFailures)
	require.NotNil(t, snap.Health.LastRecovery)
	assert.Equal(t, clock.Now(), *snap.Health.LastRecovery)
	require.Len(t, sink.byType(EventReconnectRecovered), 1)
}

func TestManualReconnectResetsBudget(t *testing.T) {
	clock := newFakeClock()
	svc, id, prober := newTestService(t, clock, nil)

	prober.set(down)
	svc.Tick(context.Background(), id)
	for i := 0; i < 5; i++ {
		snap, _ := svc.Store().Get(id)
		clock.Advance(snap.Reconnection.NextAttemptAt.Sub(clock.Now()))
		svc.Tick(context.Background(), id)
	}
	snap, _ := svc.Store().Get(id)
	require.True(t, snap.Reconnection.GivingUp)

	// Camera comes back; operator hits reconnect. No waiting on backoff.
	prober.set(ok(200))
	got, err := svc.Reconnect(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got.Reconnection)
	assert.Equal(t, LevelExcellent, got.Health.Level)
}

func TestManualReconnectStillDown(t *testing.T) {
	clock := newFakeClock()
	svc, id, prober := newTestService(t, clock, nil)

	prober.set(down)
	snap, err := svc.Reconnect(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, snap.Reconnection)
	assert.Equal(t, 1, snap.Reconnection.Attempts)
	assert.Equal(t, 20*time.Second, snap.Reconnection.CurrentDelay)
	assert.False(t, snap.Reconnection.GivingUp)
}

func TestCheckNowSupersedesPendingBackoff(t *testing.T) {
	clock := newFakeClock()
	svc, id, prober := newTestService(t, clock, nil)

	prober.set(down)
	svc.Tick(context.Background(), id)
	snap, _ := svc.Store().Get(id)
	require.NotNil(t, snap.Reconnection)

	prober.set(ok(90))
	rec, err := svc.CheckNow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, LevelExcellent, rec.Level)

	snap, _ = svc.Store().Get(id)
	assert.Nil(t, snap.Reconnection)
	require.NotNil(t, snap.Health.LastRecovery)
}

func TestUnknownCamera(t *testing.T) {
	svc := NewService(NewStore(), ServiceConfig{Clock: newFakeClock()})
	_, err := svc.CheckNow(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotManaged)
	_, err = svc.Reconnect(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotManaged)
	err = svc.Unregister(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotManaged)
}

func TestGlobalStatus(t *testing.T) {
	clock := newFakeClock()
	prober := &scriptedProber{}
	installProber(t, probe.TypeRTSP, prober)
	svc := NewService(NewStore(), ServiceConfig{Clock: clock})

	up := uuid.New()
	dead := uuid.New()
	for _, id := range []uuid.UUID{up, dead} {
		_, err := svc.Register(context.Background(), ResolvedConnection{
			CameraID: id, Type: probe.TypeRTSP, PrimaryURL: "rtsp://192.0.2.60/s",
		})
		require.NoError(t, err)
	}

	prober.set(func(c probe.Candidate) probe.Result { return probe.Result{Success: true, ResponseTimeMS: 100} })
	svc.Tick(context.Background(), up)
	prober.set(down)
	svc.Tick(context.Background(), dead)

	status := svc.GlobalStatus()
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.Online)
	assert.Equal(t, 1, status.Offline)
	assert.Equal(t, 1, status.ByLevel[LevelExcellent])
	assert.Equal(t, 1, status.ByLevel[LevelOffline])
}

func TestUptimeWindow(t *testing.T) {
	// No observations yet means no uptime to report.
	w := newUptimeWindow()
	assert.Equal(t, 0.0, w.Pct())

	for i := 0; i < 3; i++ {
		w.Add(true)
	}
	w.Add(false)
	assert.InDelta(t, 75.0, w.Pct(), 0.01)

	// Overflow wraps: old samples fall out of the window.
	for i := 0; i < uptimeWindowSlots; i++ {
		w.Add(true)
	}
	assert.Equal(t, 100.0, w.Pct())
}

func TestRegisterValidates(t *testing.T) {
	svc := NewService(NewStore(), ServiceConfig{Clock: newFakeClock()})
	_, err := svc.Register(context.Background(), ResolvedConnection{CameraID: uuid.New()})
	assert.ErrorIs(t, err, ErrNoResolvedConnection)
}

func TestRegisterGeneratesID(t *testing.T) {
	svc := NewService(NewStore(), ServiceConfig{Clock: newFakeClock()})
	id, err := svc.Register(context.Background(), ResolvedConnection{
		Type: probe.TypeRTSP, PrimaryURL: "rtsp://192.0.2.51:554/stream1",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	snap, err := svc.Store().Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.Connection.CameraID)
}

func TestSchedulerSweepsCameras(t *testing.T) {
	clock := newFakeClock()
	prober := &scriptedProber{fn: ok(50)}
	installProber(t, probe.TypeRTSP, prober)
	svc := NewService(NewStore(), ServiceConfig{Clock: clock})

	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		_, err := svc.Register(context.Background(), ResolvedConnection{
			CameraID: ids[i], Type: probe.TypeRTSP, PrimaryURL: "rtsp://192.0.2.70/s",
		})
		require.NoError(t, err)
	}

	sched := NewScheduler(svc, SchedulerConfig{Interval: 20 * time.Millisecond, Workers: 2, Jitter: 0})
	sched.Start(context.Background())
	defer sched.Stop()

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			snap, err := svc.Store().Get(id)
			if err != nil || snap.Health.Level != LevelExcellent {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
