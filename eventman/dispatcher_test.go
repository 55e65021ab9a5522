package eventman

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherBroadcast(t *testing.T) {
	var d Dispatcher
	var got []string
	d.On(EventNewChatMessage, func(data json.RawMessage) { got = append(got, "a:"+string(data)) })
	d.On(EventNewChatMessage, func(data json.RawMessage) { got = append(got, "b:"+string(data)) })
	d.On(EventNewQuestion, func(json.RawMessage) { t.Fatal("wrong event delivered") })

	d.Dispatch(EventNewChatMessage, json.RawMessage(`1`))
	assert.Equal(t, []string{"a:1", "b:1"}, got)
}

func TestDispatcherOffDuringDispatch(t *testing.T) {
	var d Dispatcher
	calls := 0
	var sub Subscription
	sub = d.On(EventNewQuestion, func(json.RawMessage) {
		calls++
		d.Off(sub)
	})
	d.On(EventNewQuestion, func(json.RawMessage) { calls++ })

	d.Dispatch(EventNewQuestion, nil)
	d.Dispatch(EventNewQuestion, nil)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, d.Listeners(EventNewQuestion))
}

func TestDispatcherStateAndError(t *testing.T) {
	var d Dispatcher
	var state StateEvent
	var errGot error
	d.OnStateChange(func(ev StateEvent) { state = ev })
	d.OnError(func(err error) { errGot = err })

	d.DispatchState(StateEvent{OldState: StateConnected, NewState: StateReconnecting, Attempt: 1})
	d.DispatchError(NewError(ErrorReconnectFailed, "gave up"))
	d.DispatchError(nil)

	assert.Equal(t, StateReconnecting, state.NewState)
	assert.Equal(t, ErrorReconnectFailed, CodeOf(errGot))
}

func TestDispatcherPanicIsolation(t *testing.T) {
	var buf bytes.Buffer
	var d Dispatcher
	d.SetLogger(NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	called := false
	d.On(EventSocketError, func(json.RawMessage) { panic("boom") })
	d.On(EventSocketError, func(json.RawMessage) { called = true })

	require.NotPanics(t, func() { d.Dispatch(EventSocketError, nil) })
	assert.True(t, called)
	assert.Contains(t, buf.String(), "listener panicked")
	assert.Contains(t, buf.String(), `"panic":"boom"`)
}

func TestDispatcherConcurrentRegistration(t *testing.T) {
	var d Dispatcher
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := d.On(EventNewChatMessage, func(json.RawMessage) {})
			d.Dispatch(EventNewChatMessage, nil)
			d.Off(sub)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, d.Listeners(EventNewChatMessage))
}

func TestDispatcherClear(t *testing.T) {
	var d Dispatcher
	d.On(EventChatHistory, func(json.RawMessage) {})
	d.OnStateChange(func(StateEvent) { t.Fatal("cleared listener called") })
	d.Clear()

	d.DispatchState(StateEvent{NewState: StateConnected})
	assert.Equal(t, 0, d.Listeners(EventChatHistory))
	assert.False(t, Subscription{}.Valid())
}

func TestErrorCodes(t *testing.T) {
	err := WrapError(ErrorTimeout, "no acknowledgement", errors.New("deadline"))
	assert.True(t, errors.Is(err, NewError(ErrorTimeout, "")))
	assert.False(t, errors.Is(err, NewError(ErrorRejected, "")))
	assert.True(t, IsConnectionError(err))
	assert.EqualError(t, errors.Unwrap(err), "deadline")

	assert.Equal(t, ErrorUnauthorized, ParseErrorCode("authentication_error"))
	assert.Equal(t, ErrorAccessDenied, ParseErrorCode("forbidden"))
	assert.Equal(t, ErrorUnknown, ParseErrorCode("???"))

	perr := FromProtocolError(&ProtocolError{Code: "event_not_found", Msg: "gone"})
	assert.True(t, IsProtocolError(perr))
	assert.Nil(t, FromProtocolError(nil))
	assert.Equal(t, "rejected: Failed to join room", rejection(Ack{}, "Failed to join room").Error())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ErrorInvalidConfig, CodeOf(cfg.Validate()))

	cfg.URL = "ftp://example.com"
	assert.Equal(t, ErrorInvalidConfig, CodeOf(cfg.Validate()))

	cfg.URL = "wss://live.example.com/ws"
	require.NoError(t, cfg.Validate())

	cfg.ReconnectAttempts = -1
	assert.Error(t, cfg.Validate())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}

func TestDecodeSocketError(t *testing.T) {
	cases := []struct {
		data string
		want string
	}{
		{`{"message":"Failed to send message"}`, "Failed to send message"},
		{`"Room not found"`, "Room not found"},
		{` 42 `, "42"},
		{`{}`, "{}"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DecodeSocketError(json.RawMessage(tc.data)).Message, tc.data)
	}
}
