package eventman

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

// fakeTransport answers acknowledged requests from a per-event script and
// lets tests push broadcasts and state changes directly.
type fakeTransport struct {
	Dispatcher

	mu    sync.Mutex
	reply map[string]func(payload any) (Ack, error)
	acked []emitted
	emits []emitted
	gate  map[string]chan struct{}
}

var _ Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reply: make(map[string]func(any) (Ack, error)),
		gate:  make(map[string]chan struct{}),
	}
}

// respond scripts the acknowledgement for event.
func (f *fakeTransport) respond(event string, fn func(payload any) (Ack, error)) {
	f.mu.Lock()
	f.reply[event] = fn
	f.mu.Unlock()
}

func (f *fakeTransport) succeed(event string) {
	f.respond(event, func(any) (Ack, error) { return Ack{Success: true}, nil })
}

func (f *fakeTransport) reject(event, msg string) {
	f.respond(event, func(any) (Ack, error) { return Ack{Success: false, Message: msg}, nil })
}

// hold makes requests for event block until the returned func is called.
func (f *fakeTransport) hold(event string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gate[event] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeTransport) EmitWithAck(ctx context.Context, event string, payload any) (Ack, error) {
	f.mu.Lock()
	f.acked = append(f.acked, emitted{event, payload})
	fn := f.reply[event]
	gate := f.gate[event]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Ack{Message: ctx.Err().Error()}, ctx.Err()
		}
	}
	if fn == nil {
		return Ack{Message: notConnectedMessage}, NewError(ErrorNotConnected, notConnectedMessage)
	}
	return fn(payload)
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event, payload})
	return nil
}

func (f *fakeTransport) ackedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.acked))
	for _, e := range f.acked {
		out = append(out, e.event)
	}
	return out
}

func (f *fakeTransport) emitted() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

// push delivers a broadcast as the read goroutine would.
func (f *fakeTransport) push(t *testing.T, event string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.Dispatch(event, data)
}
