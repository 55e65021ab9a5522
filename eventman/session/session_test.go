package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventman/eventman-live/eventman"
	"github.com/eventman/eventman-live/eventman/reminder"
	"github.com/eventman/eventman-live/eventman/rest"
)

func apiServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /api/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer opaque" {
			reply(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"data": map[string]any{"_id": "u9", "name": "Opal", "role": "attendee"}})
	})
	mux.HandleFunc("GET /api/users/me/registrations", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"data": map[string]any{"registrations": []any{
			map[string]any{"event": map[string]any{"_id": "soon", "title": "Soon", "startTime": now.Add(10 * time.Minute)}},
			map[string]any{"event": map[string]any{"_id": "later", "title": "Later", "startTime": now.Add(3 * time.Hour)}},
			map[string]any{"event": map[string]any{"_id": "nostart", "title": "No start"}},
			map[string]any{},
		}}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type collected struct {
	mu   sync.Mutex
	list []reminder.Reminder
}

func (c *collected) Notify(r reminder.Reminder) {
	c.mu.Lock()
	c.list = append(c.list, r)
	c.mu.Unlock()
}

func (c *collected) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, r := range c.list {
		out = append(out, r.EventID)
	}
	return out
}

func newTestSession(t *testing.T, notifier reminder.Notifier) *Session {
	t.Helper()
	srv := apiServer(t)
	cfg := eventman.DefaultConfig()
	cfg.URL = "ws://127.0.0.1:1/ws"
	sched := reminder.New(reminder.Config{Window: 15 * time.Minute, Interval: time.Hour}, notifier, reminder.WithClock(clock))
	t.Cleanup(sched.Stop)
	return New(rest.NewClient(srv.URL+"/api"), eventman.NewClient(cfg), sched, nil)
}

func TestAuthenticateFromClaims(t *testing.T) {
	s := newTestSession(t, nil)
	tok := signed(t, jwt.MapClaims{"id": "u1", "name": "Ada", "role": "admin"})

	id, err := s.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.True(t, id.IsAdmin())
	assert.Equal(t, tok, s.API.Token())
	require.NotNil(t, s.Identity())
	assert.Equal(t, "Ada", s.Identity().Name)
}

func TestAuthenticateFallsBackToProfile(t *testing.T) {
	s := newTestSession(t, nil)

	id, err := s.Authenticate(context.Background(), "opaque")
	require.NoError(t, err)
	assert.Equal(t, "u9", id.UserID)
	assert.Equal(t, "Opal", id.Name)

	_, err = s.Authenticate(context.Background(), "garbage")
	require.Error(t, err)
	assert.Empty(t, s.API.Token())

	_, err = s.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRefreshReminders(t *testing.T) {
	var inbox collected
	s := newTestSession(t, &inbox)

	assert.ErrorIs(t, s.RefreshReminders(context.Background()), ErrNotAuthenticated)

	_, err := s.Authenticate(context.Background(), signed(t, jwt.MapClaims{"id": "u1", "name": "Ada"}))
	require.NoError(t, err)
	require.NoError(t, s.RefreshReminders(context.Background()))

	assert.Equal(t, []string{"soon"}, inbox.ids())
	assert.True(t, s.Reminders.Running())

	// Same user: already notified events stay quiet.
	require.NoError(t, s.RefreshReminders(context.Background()))
	assert.Equal(t, []string{"soon"}, inbox.ids())

	s.Logout()
	assert.False(t, s.Reminders.Running())
	assert.Nil(t, s.Identity())
	assert.Empty(t, s.API.Token())
	assert.Equal(t, eventman.StateDisconnected, s.Transport.State())
}

func TestWatchRemindersRefetchesRegistrations(t *testing.T) {
	api := apiServer(t)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/users/me/registrations" {
			fetches.Add(1)
		}
		api.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	var inbox collected
	sched := reminder.New(reminder.Config{Window: 15 * time.Minute, Interval: time.Hour}, &inbox, reminder.WithClock(clock))
	s := New(rest.NewClient(srv.URL+"/api"), nil, sched, nil)
	_, err := s.Authenticate(context.Background(), signed(t, jwt.MapClaims{"id": "u1", "name": "Ada"}))
	require.NoError(t, err)

	stop, err := s.WatchReminders(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())
	assert.True(t, sched.Running())

	require.Eventually(t, func() bool { return fetches.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"soon"}, inbox.ids())

	stop()
	stop()
	assert.False(t, sched.Running())
	n := fetches.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, n, fetches.Load())
}

func TestWatchRemindersRetriesAfterFailedStart(t *testing.T) {
	s := newTestSession(t, nil)
	stop, err := s.WatchReminders(context.Background(), time.Minute)
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.NotNil(t, stop)
	stop()
	assert.False(t, s.Reminders.Running())
}

func TestRemindersFromRegistrations(t *testing.T) {
	start := now.Add(time.Hour)
	got := RemindersFromRegistrations([]rest.Registration{
		{ID: "r1", Event: &rest.RegisteredEvent{ID: "e1", Title: "Go", StartTime: &start}},
		{ID: "r2", Event: &rest.RegisteredEvent{ID: "e2", Title: "No start"}},
		{ID: "r3"},
	})
	assert.Equal(t, []reminder.Registration{
		{EventID: "e1", Title: "Go", StartTime: start},
		{EventID: "e2", Title: "No start"},
		{},
	}, got)
}
