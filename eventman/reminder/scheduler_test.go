package reminder

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type inbox struct {
	mu  sync.Mutex
	got []Reminder
}

func (b *inbox) Notify(r Reminder) {
	b.mu.Lock()
	b.got = append(b.got, r)
	b.mu.Unlock()
}

func (b *inbox) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.got))
	for _, r := range b.got {
		out = append(out, r.EventID)
	}
	return out
}

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *fakeClock, *inbox) {
	t.Helper()
	clock := &fakeClock{now: t0}
	box := &inbox{}
	s := New(DefaultConfig(), box, WithClock(clock.Now))
	t.Cleanup(s.Stop)
	return s, clock, box
}

func TestSchedulerWindowAndDedup(t *testing.T) {
	s, clock, box := newTestScheduler(t)
	s.Start("u1", []Registration{
		{EventID: "soon", Title: "Soon", StartTime: t0.Add(10 * time.Minute)},
		{EventID: "later", Title: "Later", StartTime: t0.Add(20 * time.Minute)},
	})
	assert.Equal(t, []string{"soon"}, box.ids())

	clock.Advance(time.Minute)
	assert.Empty(t, s.Check())

	clock.Advance(5 * time.Minute)
	fired := s.Check()
	require.Len(t, fired, 1)
	assert.Equal(t, "later", fired[0].EventID)
	assert.Equal(t, 14*time.Minute, fired[0].Until)

	clock.Advance(5 * time.Minute)
	assert.Empty(t, s.Check())
	assert.Equal(t, []string{"soon", "later"}, box.ids())
}

func TestSchedulerPastEventNeverFires(t *testing.T) {
	s, _, box := newTestScheduler(t)
	s.Start("u1", []Registration{
		{EventID: "past", Title: "Past", StartTime: t0.Add(-time.Minute)},
		{EventID: "now", Title: "Now", StartTime: t0},
	})
	assert.Empty(t, s.Check())
	assert.Empty(t, box.ids())
}

func TestSchedulerWindowBoundary(t *testing.T) {
	s, _, box := newTestScheduler(t)
	s.Start("u1", []Registration{
		{EventID: "edge", Title: "Edge", StartTime: t0.Add(15 * time.Minute)},
		{EventID: "beyond", Title: "Beyond", StartTime: t0.Add(15*time.Minute + time.Second)},
	})
	assert.Equal(t, []string{"edge"}, box.ids())
}

func TestSchedulerSkipsInvalidRecords(t *testing.T) {
	s, _, box := newTestScheduler(t)
	require.NotPanics(t, func() {
		s.Start("u1", []Registration{
			{Title: "No id", StartTime: t0.Add(5 * time.Minute)},
			{EventID: "no-title", StartTime: t0.Add(5 * time.Minute)},
			{EventID: "no-start", Title: "No start"},
			{EventID: "ok", Title: "Ok", StartTime: t0.Add(5 * time.Minute)},
		})
	})
	assert.Equal(t, []string{"ok"}, box.ids())
}

func TestSchedulerRestartKeepsDedupForSameUser(t *testing.T) {
	s, _, box := newTestScheduler(t)
	regs := []Registration{{EventID: "e1", Title: "E1", StartTime: t0.Add(10 * time.Minute)}}
	s.Start("u1", regs)
	s.Start("u1", append(regs, Registration{EventID: "e2", Title: "E2", StartTime: t0.Add(12 * time.Minute)}))
	assert.Equal(t, []string{"e1", "e2"}, box.ids())

	s.Start("u2", regs)
	assert.Equal(t, []string{"e1", "e2", "e1"}, box.ids())
}

func TestSchedulerStopAndReset(t *testing.T) {
	s, _, box := newTestScheduler(t)
	regs := []Registration{{EventID: "e1", Title: "E1", StartTime: t0.Add(10 * time.Minute)}}
	s.Start("u1", regs)
	require.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())
	assert.Empty(t, s.Check())

	s.Reset()
	s.Start("u1", regs)
	assert.Equal(t, []string{"e1", "e1"}, box.ids())
}

func TestSchedulerEndToEnd(t *testing.T) {
	s, clock, box := newTestScheduler(t)
	s.Start("u1", []Registration{{EventID: "E1", Title: "Launch", StartTime: t0.Add(12 * time.Minute)}})
	require.Equal(t, []string{"E1"}, box.ids())
	assert.Equal(t, `Reminder: "Launch" starts in 12 minutes`, box.got[0].Message())

	clock.Advance(4 * time.Minute)
	assert.Empty(t, s.Check())
	assert.Equal(t, []string{"E1"}, box.ids())
}

func TestSchedulerIntervalFires(t *testing.T) {
	clock := &fakeClock{now: t0}
	fired := make(chan Reminder, 4)
	s := New(Config{Window: 15 * time.Minute, Interval: time.Second}, NotifierFunc(func(r Reminder) { fired <- r }), WithClock(clock.Now))
	t.Cleanup(s.Stop)

	s.Start("u1", []Registration{{EventID: "e1", Title: "E1", StartTime: t0.Add(30 * time.Minute)}})
	select {
	case <-fired:
		t.Fatal("fired outside the window")
	default:
	}

	clock.Advance(20 * time.Minute)
	select {
	case r := <-fired:
		assert.Equal(t, "e1", r.EventID)
	case <-time.After(5 * time.Second):
		t.Fatal("interval check did not run")
	}
}

func TestReminderMessage(t *testing.T) {
	assert.Equal(t, `Reminder: "Talk" starts in 1 minute`, Reminder{Title: "Talk", Until: 30 * time.Second}.Message())
	assert.Equal(t, `Reminder: "Talk" starts in 15 minutes`, Reminder{Title: "Talk", Until: 15 * time.Minute}.Message())
}
