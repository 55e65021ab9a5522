package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eventman/eventman-live/eventman"
	"github.com/eventman/eventman-live/eventman/reminder"
	"github.com/eventman/eventman-live/eventman/rest"
)

// Session is the logged-in state of one user: the REST client, the single
// realtime connection shared by every page and the reminder scheduler.
type Session struct {
	API       *rest.Client
	Transport *eventman.Client
	Reminders *reminder.Scheduler
	Logger    eventman.Logger

	mu       sync.RWMutex
	identity *Identity
}

// New wires a session together. The transport reads the credential from the
// REST client on every dial so a re-login is picked up by the next connect.
func New(api *rest.Client, transport *eventman.Client, reminders *reminder.Scheduler, logger eventman.Logger) *Session {
	if logger == nil {
		logger = eventman.NopLogger()
	}
	s := &Session{API: api, Transport: transport, Reminders: reminders, Logger: logger}
	if transport != nil {
		transport.SetTokenSource(api.Token)
	}
	return s
}

// Login authenticates with email and password.
func (s *Session) Login(ctx context.Context, email, password string) (Identity, error) {
	resp, err := s.API.Login(ctx, rest.LoginRequest{Email: email, Password: password})
	if err != nil {
		return Identity{}, err
	}
	id, err := IdentityFromToken(resp.AccessToken)
	if err != nil {
		id = IdentityFromUser(&resp.User)
	}
	if id.Name == "" {
		id.Name = resp.User.Name
	}
	if id.Email == "" {
		id.Email = resp.User.Email
	}
	s.setIdentity(&id)
	return id, nil
}

// Authenticate adopts an existing access token. The identity is read from
// the token claims and falls back to the current user endpoint.
func (s *Session) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNotAuthenticated
	}
	s.API.SetToken(token)

	id, err := IdentityFromToken(token)
	if err != nil || id.Name == "" {
		user, meErr := s.API.Me(ctx)
		if meErr != nil {
			if err != nil {
				s.API.SetToken("")
				return Identity{}, fmt.Errorf("resolve user: %w", meErr)
			}
		} else {
			fromAPI := IdentityFromUser(user)
			fromAPI.ExpiresAt = id.ExpiresAt
			id = fromAPI
		}
	}
	s.setIdentity(&id)
	return id, nil
}

// Identity returns the logged-in user, nil when logged out.
func (s *Session) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// OpenPage opens the live page of eventID on the shared transport.
func (s *Session) OpenPage(ctx context.Context, eventID string, opts ...PageOption) (*Page, error) {
	opts = append([]PageOption{WithLogger(s.Logger)}, opts...)
	p := NewPage(s.API, s.Transport, s.Identity(), opts...)
	if err := p.Open(ctx, eventID); err != nil {
		return nil, err
	}
	return p, nil
}

// RefreshReminders loads the user's registrations and (re)starts the
// reminder scheduler with them.
func (s *Session) RefreshReminders(ctx context.Context) error {
	id := s.Identity()
	if id == nil {
		return ErrNotAuthenticated
	}
	if s.Reminders == nil {
		return errors.New("reminders not configured")
	}
	resp, err := s.API.UserRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("load registrations: %w", err)
	}
	s.Reminders.Start(id.UserID, RemindersFromRegistrations(resp.Registrations))
	return nil
}

// WatchReminders refreshes the reminders now and then again every interval,
// so registrations made after startup are picked up. The returned stop
// cancels the refresh and stops the scheduler; it is valid even when the
// first refresh failed, in which case later refreshes keep retrying.
func (s *Session) WatchReminders(ctx context.Context, every time.Duration) (stop func(), err error) {
	err = s.RefreshReminders(ctx)

	logger := reminder.CronLogger(s.Logger)
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(every), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		refreshCtx, cancel := context.WithTimeout(ctx, every)
		defer cancel()
		if err := s.RefreshReminders(refreshCtx); err != nil {
			s.Logger.Warn("reminder refresh failed", map[string]any{"error": err.Error()})
		}
	}))
	c.Start()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			<-c.Stop().Done()
			if s.Reminders != nil {
				s.Reminders.Stop()
			}
		})
	}
	return stop, err
}

// Logout drops the connection, the reminders and the credential.
func (s *Session) Logout() {
	if s.Transport != nil {
		_ = s.Transport.Disconnect()
	}
	if s.Reminders != nil {
		s.Reminders.Reset()
	}
	s.API.SetToken("")
	s.setIdentity(nil)
	s.Logger.Info("logged out", nil)
}

func (s *Session) setIdentity(id *Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

// RemindersFromRegistrations maps registration records to reminder input.
// Records without an event or a start time are kept as invalid entries so
// the scheduler can report them.
func RemindersFromRegistrations(regs []rest.Registration) []reminder.Registration {
	out := make([]reminder.Registration, 0, len(regs))
	for _, r := range regs {
		var rr reminder.Registration
		if r.Event != nil {
			rr.EventID = r.Event.ID
			rr.Title = r.Event.Title
			if r.Event.StartTime != nil {
				rr.StartTime = *r.Event.StartTime
			}
		}
		out = append(out, rr)
	}
	return out
}
