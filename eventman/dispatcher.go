package eventman

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Handler receives the raw payload of a broadcast.
type Handler func(data json.RawMessage)

type subKind uint8

const (
	subBroadcast subKind = iota + 1
	subState
	subError
)

// Subscription identifies one registered listener. Pass it to Off to remove it.
type Subscription struct {
	kind  subKind
	event string
	id    uint64
}

// Valid reports whether the subscription was issued by a dispatcher.
func (s Subscription) Valid() bool { return s.id != 0 }

type listener[T any] struct {
	id uint64
	fn func(T)
}

// registry is a per-name multi-subscriber list. Removal rebuilds the slice so
// snapshots taken for delivery are never mutated underneath a dispatch.
type registry[T any] struct {
	subs map[string][]listener[T]
}

func (r *registry[T]) add(name string, id uint64, fn func(T)) {
	if r.subs == nil {
		r.subs = make(map[string][]listener[T])
	}
	r.subs[name] = append(r.subs[name], listener[T]{id: id, fn: fn})
}

func (r *registry[T]) remove(name string, id uint64) {
	cur := r.subs[name]
	next := make([]listener[T], 0, len(cur))
	for _, l := range cur {
		if l.id != id {
			next = append(next, l)
		}
	}
	if len(next) == 0 {
		delete(r.subs, name)
		return
	}
	r.subs[name] = next
}

func (r *registry[T]) snapshot(name string) []listener[T] {
	cur := r.subs[name]
	out := make([]listener[T], len(cur))
	copy(out, cur)
	return out
}

func (r *registry[T]) count(name string) int { return len(r.subs[name]) }

// Dispatcher routes broadcasts, state changes and errors to any number of
// listeners. It is safe for concurrent registration, removal and delivery;
// listeners may register or unregister from inside a callback.
// The zero value is ready to use.
type Dispatcher struct {
	mu         sync.RWMutex
	next       uint64
	broadcasts registry[json.RawMessage]
	states     registry[StateEvent]
	errs       registry[error]
	logger     Logger
}

// SetLogger sets the logger used to report panicking listeners.
func (d *Dispatcher) SetLogger(l Logger) {
	d.mu.Lock()
	d.logger = l
	d.mu.Unlock()
}

// On registers h for the named broadcast.
func (d *Dispatcher) On(event string, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.broadcasts.add(event, d.next, h)
	return Subscription{kind: subBroadcast, event: event, id: d.next}
}

// OnStateChange registers fn for connection state transitions.
func (d *Dispatcher) OnStateChange(fn func(StateEvent)) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.states.add("", d.next, fn)
	return Subscription{kind: subState, id: d.next}
}

// OnError registers fn for transport and protocol errors.
func (d *Dispatcher) OnError(fn func(error)) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.errs.add("", d.next, fn)
	return Subscription{kind: subError, id: d.next}
}

// Off removes one listener. Unknown subscriptions are ignored.
func (d *Dispatcher) Off(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch sub.kind {
	case subBroadcast:
		d.broadcasts.remove(sub.event, sub.id)
	case subState:
		d.states.remove("", sub.id)
	case subError:
		d.errs.remove("", sub.id)
	}
}

// Clear removes every listener.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcasts = registry[json.RawMessage]{}
	d.states = registry[StateEvent]{}
	d.errs = registry[error]{}
}

// Listeners returns the number of listeners registered for a broadcast.
func (d *Dispatcher) Listeners(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.broadcasts.count(event)
}

// Dispatch delivers a broadcast payload to every listener of event.
func (d *Dispatcher) Dispatch(event string, data json.RawMessage) {
	d.mu.RLock()
	ls := d.broadcasts.snapshot(event)
	d.mu.RUnlock()
	for _, l := range ls {
		d.safeCall(event, func() { l.fn(data) })
	}
}

// DispatchState delivers a state change.
func (d *Dispatcher) DispatchState(ev StateEvent) {
	d.mu.RLock()
	ls := d.states.snapshot("")
	d.mu.RUnlock()
	for _, l := range ls {
		d.safeCall("state", func() { l.fn(ev) })
	}
}

// DispatchError delivers an error.
func (d *Dispatcher) DispatchError(err error) {
	if err == nil {
		return
	}
	d.mu.RLock()
	ls := d.errs.snapshot("")
	d.mu.RUnlock()
	for _, l := range ls {
		d.safeCall("error", func() { l.fn(err) })
	}
}

// safeCall isolates listeners from each other: a panic in one is logged and
// the remaining listeners still run.
func (d *Dispatcher) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.mu.RLock()
			logger := orNop(d.logger)
			d.mu.RUnlock()
			logger.Error("listener panicked", map[string]any{"event": name, "panic": fmt.Sprint(r)})
		}
	}()
	fn()
}
