package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eventman/eventman-live/eventman"
	"github.com/eventman/eventman-live/eventman/rest"
)

var now = time.Date(2026, 6, 1, 18, 30, 0, 0, time.UTC)

func clock() time.Time { return now }

func liveEvent() *rest.Event {
	return &rest.Event{
		ID:            "e1",
		Title:         "Go Meetup",
		Status:        rest.StatusLive,
		StartTime:     now.Add(-30 * time.Minute),
		EndTime:       now.Add(30 * time.Minute),
		JitsiRoomName: "go-meetup-e1",
		Organizer:     &rest.UserRef{ID: "org", Name: "Olga"},
		Speakers:      []rest.UserRef{{ID: "spk", Name: "Sam"}},
	}
}

type fakeAPI struct {
	events     map[string]*rest.Event
	registered map[string]bool
	eventErr   error
	statusErr  error
}

func (f *fakeAPI) GetEvent(_ context.Context, id string) (*rest.Event, error) {
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	ev, ok := f.events[id]
	if !ok {
		return nil, &rest.APIError{StatusCode: 404, Message: "Event not found."}
	}
	return ev, nil
}

func (f *fakeAPI) RegistrationStatus(_ context.Context, id string) (*rest.RegistrationStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &rest.RegistrationStatus{IsRegistered: f.registered[id]}, nil
}

// fakeRealtime acknowledges every request from a per-event script and
// records connects and fire-and-forget emits.
type fakeRealtime struct {
	eventman.Dispatcher

	mu         sync.Mutex
	connectErr error
	connects   int
	reply      map[string]eventman.Ack
	emits      []string
	onAck      func(event string) // runs before an acknowledgement is returned
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{reply: map[string]eventman.Ack{
		eventman.EventJoinRoom:    {Success: true},
		eventman.EventJoinQnaRoom: {Success: true},
	}}
}

func (f *fakeRealtime) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeRealtime) EmitWithAck(_ context.Context, event string, _ any) (eventman.Ack, error) {
	f.mu.Lock()
	ack, ok := f.reply[event]
	hook := f.onAck
	f.mu.Unlock()
	if hook != nil {
		hook(event)
	}
	if !ok {
		return eventman.Ack{Message: "Not connected to server."}, eventman.NewError(eventman.ErrorNotConnected, "Not connected to server.")
	}
	return ack, nil
}

func (f *fakeRealtime) Emit(event string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, event)
	return nil
}

func (f *fakeRealtime) setReply(event string, ack eventman.Ack) {
	f.mu.Lock()
	f.reply[event] = ack
	f.mu.Unlock()
}

func (f *fakeRealtime) emitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.emits...)
}

func (f *fakeRealtime) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeRealtime) push(t *testing.T, event string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.Dispatch(event, data)
}
