// Package video drives the embedded video conference of a live event page.
//
// The widget is opaque: the controller only loads its script once, constructs
// one instance per room, waits for the widget's own "conference joined" event
// and disposes the instance on every exit path.
package video

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eventman/eventman-live/eventman"
)

// Widget events.
const (
	EventConferenceJoined = "videoConferenceJoined"
	EventConferenceLeft   = "videoConferenceLeft"
	EventReadyToClose     = "readyToClose"
)

// ErrSuperseded is returned by Enter when another Enter or Dispose replaced
// the room before the widget was constructed.
var ErrSuperseded = errors.New("video: superseded by a newer room")

// Status is the controller state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusJoined
	StatusLeaving
	StatusDisposed
	// StatusFailed means the script or the widget failed to initialize. There
	// is no automatic retry.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusJoined:
		return "joined"
	case StatusLeaving:
		return "leaving"
	case StatusDisposed:
		return "disposed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Room describes the conference to enter.
type Room struct {
	Name        string
	Subject     string
	DisplayName string
	Email       string
}

// Widget is one live instance of the external conference embed.
type Widget interface {
	// On registers fn for a widget event.
	On(event string, fn func())
	SetSubject(subject string) error
	// Dispose leaves the remote session.
	Dispose() error
}

// Mount is the surface a widget renders into.
type Mount interface {
	Clear()
}

// WidgetOptions are passed to a Factory.
type WidgetOptions struct {
	Domain      string
	RoomName    string
	DisplayName string
	Email       string
	StartMuted  bool
	Mount       Mount
}

// Factory constructs a widget. It runs only after the script has loaded.
type Factory func(ctx context.Context, opts WidgetOptions) (Widget, error)

// Loader loads the widget script.
type Loader interface {
	Load(ctx context.Context) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithDomain sets the conference domain.
func WithDomain(domain string) Option {
	return func(c *Controller) { c.domain = domain }
}

// WithStartMuted controls whether audio and video start muted.
func WithStartMuted(muted bool) Option {
	return func(c *Controller) { c.startMuted = muted }
}

// WithLogger sets the logger.
func WithLogger(l eventman.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *eventman.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller owns the single current widget instance. Every transition goes
// through it; callers never touch the widget directly.
type Controller struct {
	loader     Loader
	factory    Factory
	mount      Mount
	domain     string
	startMuted bool
	logger     eventman.Logger
	metrics    *eventman.Metrics

	// build serializes widget construction so two instances never coexist.
	build sync.Mutex

	mu       sync.Mutex
	gen      uint64
	status   Status
	room     Room
	widget   Widget
	err      error
	onStatus func(Status, error)
}

// NewController creates a controller. loader is typically a shared
// *ScriptCache.
func NewController(loader Loader, factory Factory, mount Mount, opts ...Option) *Controller {
	c := &Controller{
		loader:     loader,
		factory:    factory,
		mount:      mount,
		domain:     DefaultDomain,
		startMuted: true,
		logger:     eventman.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnStatusChange registers a callback for status transitions.
func (c *Controller) OnStatusChange(fn func(Status, error)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that moved the controller to StatusFailed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Room returns the current target room.
func (c *Controller) Room() Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Enter disposes any current instance, waits for the script and constructs a
// widget for room. The controller reaches StatusJoined only when the widget
// reports the conference joined.
func (c *Controller) Enter(ctx context.Context, room Room) error {
	if room.Name == "" {
		return errors.New("video: empty room name")
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.widget
	c.widget = nil
	c.room = room
	c.err = nil
	c.mu.Unlock()
	c.release(prev)

	c.transition(gen, StatusLoading, nil)
	c.logger.Info("loading video", map[string]any{"room": room.Name})

	if err := c.loader.Load(ctx); err != nil {
		err = fmt.Errorf("video: load script: %w", err)
		c.transition(gen, StatusFailed, err)
		return err
	}

	c.build.Lock()
	defer c.build.Unlock()
	if !c.current(gen) {
		return ErrSuperseded
	}

	w, err := c.construct(ctx, room)
	if err != nil {
		err = fmt.Errorf("video: init widget: %w", err)
		c.transition(gen, StatusFailed, err)
		return err
	}
	w.On(EventConferenceJoined, func() { c.handleJoined(gen, w) })
	w.On(EventConferenceLeft, func() { c.transition(gen, StatusLeaving, nil) })
	w.On(EventReadyToClose, func() {
		if c.current(gen) {
			c.Dispose()
		}
	})

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.release(w)
		return ErrSuperseded
	}
	c.widget = w
	c.mu.Unlock()
	return nil
}

// Dispose synchronously tears down the current instance, if any, and clears
// the mount. It is safe at any point, including mid-load.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.gen++
	w := c.widget
	c.widget = nil
	c.mu.Unlock()

	c.release(w)
	c.mu.Lock()
	ev := c.setLocked(StatusDisposed, nil)
	c.mu.Unlock()
	c.notify(ev)
}

func (c *Controller) construct(ctx context.Context, room Room) (w Widget, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("widget panicked: %v", r)
		}
	}()
	return c.factory(ctx, WidgetOptions{
		Domain:      c.domain,
		RoomName:    room.Name,
		DisplayName: room.DisplayName,
		Email:       room.Email,
		StartMuted:  c.startMuted,
		Mount:       c.mount,
	})
}

func (c *Controller) handleJoined(gen uint64, w Widget) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	subject := c.room.Subject
	name := c.room.Name
	c.mu.Unlock()

	if subject == "" {
		subject = name
	}
	if err := w.SetSubject(subject); err != nil {
		c.logger.Warn("set video subject failed", map[string]any{"room": name, "error": err.Error()})
	}
	c.transition(gen, StatusJoined, nil)
	c.logger.Info("video joined", map[string]any{"room": name})
}

// release disposes w and clears the mount.
func (c *Controller) release(w Widget) {
	if w == nil {
		return
	}
	c.dispose(w)
	if c.mount != nil {
		c.mount.Clear()
	}
}

func (c *Controller) dispose(w Widget) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("video dispose panicked", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()
	if err := w.Dispose(); err != nil {
		c.logger.Warn("video dispose failed", map[string]any{"error": err.Error()})
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

type statusEvent struct {
	fn     func(Status, error)
	status Status
	err    error
}

// transition applies status only while gen is still current.
func (c *Controller) transition(gen uint64, status Status, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	ev := c.setLocked(status, err)
	c.mu.Unlock()
	c.notify(ev)
}

func (c *Controller) setLocked(status Status, err error) *statusEvent {
	if c.status == status && err == nil {
		return nil
	}
	c.status = status
	if status == StatusFailed {
		c.err = err
	}
	c.metrics.IncVideo(status.String())
	return &statusEvent{fn: c.onStatus, status: status, err: err}
}

func (c *Controller) notify(ev *statusEvent) {
	if ev == nil {
		return
	}
	if ev.err != nil {
		c.logger.Error("video failed", map[string]any{"error": ev.err.Error()})
	}
	if ev.fn != nil {
		ev.fn(ev.status, ev.err)
	}
}
