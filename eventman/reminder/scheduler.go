// Package reminder notifies a user shortly before their registered events
// start.
package reminder

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eventman/eventman-live/eventman"
)

// Config controls the reminder window and how often it is evaluated.
type Config struct {
	// Window is how far ahead of the start time a reminder fires.
	Window time.Duration
	// Interval is the re-check period after the immediate first check.
	Interval time.Duration
}

// DefaultConfig returns a 15 minute window checked every 5 minutes.
func DefaultConfig() Config {
	return Config{
		Window:   15 * time.Minute,
		Interval: 5 * time.Minute,
	}
}

// Registration is one upcoming event the user registered for.
type Registration struct {
	EventID   string
	Title     string
	StartTime time.Time
}

func (r Registration) valid() bool {
	return r.EventID != "" && r.Title != "" && !r.StartTime.IsZero()
}

// Reminder is one notification.
type Reminder struct {
	EventID   string
	Title     string
	StartTime time.Time
	Until     time.Duration
}

// Message is the human readable reminder text.
func (r Reminder) Message() string {
	minutes := int(math.Ceil(r.Until.Minutes()))
	if minutes == 1 {
		return fmt.Sprintf("Reminder: %q starts in 1 minute", r.Title)
	}
	return fmt.Sprintf("Reminder: %q starts in %d minutes", r.Title, minutes)
}

// Notifier receives reminders.
type Notifier interface {
	Notify(Reminder)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Reminder)

// Notify implements Notifier.
func (f NotifierFunc) Notify(r Reminder) { f(r) }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l eventman.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *eventman.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler evaluates the registrations of one user on a fixed interval and
// fires at most one reminder per event for as long as the user stays the
// same.
type Scheduler struct {
	cfg      Config
	notifier Notifier
	logger   eventman.Logger
	metrics  *eventman.Metrics
	now      func() time.Time

	mu       sync.Mutex
	cron     *cron.Cron
	gen      uint64
	userID   string
	regs     []Registration
	notified map[string]struct{}
}

// New creates a stopped scheduler.
func New(cfg Config, notifier Notifier, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	s := &Scheduler{
		cfg:      cfg,
		notifier: notifier,
		logger:   eventman.NopLogger(),
		now:      time.Now,
		notified: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start (re)activates the scheduler for userID with regs: any previous
// interval is cleared, an immediate check runs, then one every Interval.
// Already notified events stay notified unless the user changed.
func (s *Scheduler) Start(userID string, regs []Registration) {
	valid := make([]Registration, 0, len(regs))
	for i, r := range regs {
		if !r.valid() {
			s.logger.Warn("skipping invalid registration", map[string]any{
				"index":    i,
				"event_id": r.EventID,
			})
			continue
		}
		valid = append(valid, r)
	}

	s.mu.Lock()
	prev := s.cron
	s.gen++
	gen := s.gen
	if userID != s.userID {
		s.notified = make(map[string]struct{})
		s.userID = userID
	}
	s.regs = valid
	c := cron.New(
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() { s.check(gen) }))
	s.cron = c
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	s.logger.Info("reminders started", map[string]any{"user_id": userID, "registrations": len(valid)})
	s.check(gen)
	c.Start()
}

// Stop clears the interval. A check already running finishes without
// notifying.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.gen++
	s.regs = nil
	s.mu.Unlock()
	if c != nil {
		c.Stop()
		s.logger.Info("reminders stopped", nil)
	}
}

// Reset stops the scheduler and forgets the user and what was notified, as
// on logout.
func (s *Scheduler) Reset() {
	s.Stop()
	s.mu.Lock()
	s.userID = ""
	s.notified = make(map[string]struct{})
	s.mu.Unlock()
}

// Running reports whether an interval is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Check evaluates the registrations now and returns the reminders it fired.
// An event qualifies when it starts strictly after now and within Window.
func (s *Scheduler) Check() []Reminder {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.check(gen)
}

func (s *Scheduler) check(gen uint64) []Reminder {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	var due []Reminder
	for _, r := range s.regs {
		until := r.StartTime.Sub(now)
		if until <= 0 || until > s.cfg.Window {
			continue
		}
		if _, done := s.notified[r.EventID]; done {
			continue
		}
		s.notified[r.EventID] = struct{}{}
		due = append(due, Reminder{EventID: r.EventID, Title: r.Title, StartTime: r.StartTime, Until: until})
	}
	s.mu.Unlock()

	for _, r := range due {
		s.logger.Info("reminder fired", map[string]any{"event_id": r.EventID, "until": r.Until.String()})
		s.metrics.IncReminder()
		if s.notifier != nil {
			s.notifier.Notify(r)
		}
	}
	return due
}

// CronLogger adapts l for other cron schedules of the application.
func CronLogger(l eventman.Logger) cron.Logger {
	if l == nil {
		l = eventman.NopLogger()
	}
	return cronLogger{l}
}

// cronLogger routes cron's own logging through eventman.Logger.
type cronLogger struct {
	l eventman.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, fields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	f := fields(keysAndValues)
	if err != nil {
		f["error"] = err.Error()
	}
	c.l.Error("cron: "+msg, f)
}

func fields(kv []any) map[string]any {
	out := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
