// Package session composes the realtime pieces into the live event page of
// an authenticated user: access checks, room joins, chat, Q&A, video and the
// auth failure policy.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eventman/eventman-live/eventman"
	"github.com/eventman/eventman-live/eventman/rest"
	"github.com/eventman/eventman-live/eventman/video"
)

// EventAPI is the part of the REST client a page needs.
type EventAPI interface {
	GetEvent(ctx context.Context, eventID string) (*rest.Event, error)
	RegistrationStatus(ctx context.Context, eventID string) (*rest.RegistrationStatus, error)
}

// Realtime is the session-wide transport. Connect must be idempotent.
type Realtime interface {
	eventman.Transport
	Connect(ctx context.Context) error
}

// PageOption configures a Page.
type PageOption func(*Page)

// WithVideo enables the video controller.
func WithVideo(c *video.Controller) PageOption {
	return func(p *Page) { p.video = c }
}

// WithLogger sets the logger.
func WithLogger(l eventman.Logger) PageOption {
	return func(p *Page) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *eventman.Metrics) PageOption {
	return func(p *Page) { p.metrics = m }
}

// WithClock overrides the time source used by the live check.
func WithClock(now func() time.Time) PageOption {
	return func(p *Page) { p.now = now }
}

// OnAuthFailure sets the callback run when the credential is rejected, by
// the REST API or by the realtime transport. The caller decides whether to
// log the user out.
func OnAuthFailure(fn func(error)) PageOption {
	return func(p *Page) { p.onAuthFailure = fn }
}

// OnRoomStatus sets a callback for membership changes of the page's chat
// and Q&A rooms, including rejoins after a reconnect.
func OnRoomStatus(fn func(eventman.Room, eventman.MembershipStatus)) PageOption {
	return func(p *Page) { p.onRoomStatus = fn }
}

// OnChatHistory sets the chat history callback. It is registered before the
// room is joined, so every snapshot reaches it exactly once.
func OnChatHistory(fn func([]eventman.ChatMessage)) PageOption {
	return func(p *Page) { p.onChatHistory = fn }
}

// OnChatMessage sets the callback for each appended chat message.
func OnChatMessage(fn func(eventman.ChatMessage)) PageOption {
	return func(p *Page) { p.onChatMessage = fn }
}

// OnQuestions sets the callback for every change of the question list.
func OnQuestions(fn func([]eventman.Question)) PageOption {
	return func(p *Page) { p.onQuestions = fn }
}

// Page is one open live event page. Features fail independently: a failed
// chat join leaves Q&A and video usable and the reverse.
type Page struct {
	api       EventAPI
	transport Realtime
	user      *Identity
	video     *video.Controller
	logger    eventman.Logger
	metrics   *eventman.Metrics
	now       func() time.Time

	onAuthFailure func(error)
	authOnce      sync.Once
	onRoomStatus  func(eventman.Room, eventman.MembershipStatus)
	onChatHistory func([]eventman.ChatMessage)
	onChatMessage func(eventman.ChatMessage)
	onQuestions   func([]eventman.Question)

	event *rest.Event
	rooms *eventman.RoomManager
	chat  *eventman.ChatSession
	qna   *eventman.QnASession

	mu       sync.Mutex
	chatErr  error
	qnaErr   error
	videoErr error
	connErr  error
	stateSub eventman.Subscription
	opened   bool
	closed   bool
}

// NewPage creates a page for user. user may be nil when nobody is logged in;
// Open then fails with ErrNotAuthenticated.
func NewPage(api EventAPI, transport Realtime, user *Identity, opts ...PageOption) *Page {
	p := &Page{
		api:       api,
		transport: transport,
		user:      user,
		logger:    eventman.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open loads the event, checks access and brings up chat, Q&A and video.
// Only access problems are returned; realtime failures are recorded per
// feature and reported by ChatErr, QnAErr, VideoErr and ConnErr. Close must
// be called whenever Open returned nil.
func (p *Page) Open(ctx context.Context, eventID string) error {
	if p.user == nil || p.user.UserID == "" {
		return ErrNotAuthenticated
	}

	ev, err := p.api.GetEvent(ctx, eventID)
	if err != nil {
		switch {
		case rest.IsNotFound(err):
			return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		case rest.IsUnauthorized(err):
			p.authFailed(err)
		}
		return fmt.Errorf("load event: %w", err)
	}

	registered := false
	status, err := p.api.RegistrationStatus(ctx, eventID)
	switch {
	case err == nil:
		registered = status.IsRegistered
	case rest.IsUnauthorized(err):
		p.authFailed(err)
		return fmt.Errorf("registration status: %w", err)
	default:
		p.logger.Warn("registration status unavailable", map[string]any{"event_id": eventID, "error": err.Error()})
	}

	if err := CheckAccess(p.user, ev, registered, p.now()); err != nil {
		return err
	}

	p.mu.Lock()
	if p.opened {
		p.mu.Unlock()
		return fmt.Errorf("page already opened")
	}
	p.opened = true
	p.event = ev
	// Sessions subscribe before any join so no history snapshot is missed.
	p.chat = eventman.NewChatSession(p.transport, ev.ID, eventman.WithSessionLogger(p.logger))
	p.qna = eventman.NewQnASession(p.transport, ev.ID, eventman.WithSessionLogger(p.logger))
	if p.onChatHistory != nil {
		p.chat.OnHistory(p.onChatHistory)
	}
	if p.onChatMessage != nil {
		p.chat.OnMessage(p.onChatMessage)
	}
	if p.onQuestions != nil {
		p.qna.OnChange(p.onQuestions)
	}
	p.rooms = eventman.NewRoomManager(p.transport, eventman.WithRoomLogger(p.logger), eventman.WithRoomMetrics(p.metrics))
	p.rooms.OnStatusChange(p.handleRoomStatus)
	p.stateSub = p.transport.OnStateChange(p.handleState)
	p.mu.Unlock()

	p.logger.Info("opening live page", map[string]any{"event_id": ev.ID, "title": ev.Title})
	if err := p.transport.Connect(ctx); err != nil {
		p.record(&p.connErr, err)
		p.logger.Warn("realtime unavailable", map[string]any{"event_id": ev.ID, "error": err.Error()})
		if eventman.IsAuthError(err) {
			p.authFailed(err)
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		p.record(&p.chatErr, p.rooms.Join(ctx, eventman.Room{EventID: ev.ID, Kind: eventman.RoomChat}))
		return nil
	})
	g.Go(func() error {
		p.record(&p.qnaErr, p.rooms.Join(ctx, eventman.Room{EventID: ev.ID, Kind: eventman.RoomQnA}))
		return nil
	})
	if p.video != nil {
		g.Go(func() error {
			p.record(&p.videoErr, p.enterVideo(ctx, ev))
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (p *Page) enterVideo(ctx context.Context, ev *rest.Event) error {
	if ev.JitsiRoomName == "" {
		return fmt.Errorf("event has no video room")
	}
	name := p.user.Name
	if name == "" {
		name = video.DefaultDisplayName
	}
	return p.video.Enter(ctx, video.Room{
		Name:        ev.JitsiRoomName,
		Subject:     ev.Title,
		DisplayName: name,
		Email:       p.user.Email,
	})
}

// Close leaves both rooms, disposes the video widget and detaches from the
// transport. The transport itself stays up for the rest of the session.
func (p *Page) Close() {
	p.mu.Lock()
	if p.closed || !p.opened {
		p.closed = true
		p.mu.Unlock()
		return
	}
	p.closed = true
	sub := p.stateSub
	p.mu.Unlock()

	p.transport.Off(sub)
	p.chat.Close()
	p.qna.Close()
	p.rooms.Close()
	if p.video != nil {
		p.video.Dispose()
	}
	p.logger.Info("live page closed", map[string]any{"event_id": p.event.ID})
}

// Event returns the loaded event.
func (p *Page) Event() *rest.Event { return p.event }

// Chat returns the chat session, nil before Open.
func (p *Page) Chat() *eventman.ChatSession { return p.chat }

// QnA returns the Q&A session, nil before Open.
func (p *Page) QnA() *eventman.QnASession { return p.qna }

// Rooms returns the room memberships, nil before Open.
func (p *Page) Rooms() *eventman.RoomManager { return p.rooms }

// Video returns the video controller, if enabled.
func (p *Page) Video() *video.Controller { return p.video }

// RoomStatus returns the membership status of the page's room of kind.
func (p *Page) RoomStatus(kind eventman.RoomKind) eventman.MembershipStatus {
	if p.rooms == nil {
		return eventman.MembershipNone
	}
	return p.rooms.Status(eventman.Room{EventID: p.event.ID, Kind: kind})
}

// Ready returns nil when input for the room of kind may be sent: the room is
// joined. Otherwise the error says why the input is disabled.
func (p *Page) Ready(kind eventman.RoomKind) error {
	status := p.RoomStatus(kind)
	if status == eventman.MembershipJoined {
		return nil
	}
	name := "chat"
	if kind == eventman.RoomQnA {
		name = "Q&A"
	}
	return eventman.NewError(eventman.ErrorNotInRoom, fmt.Sprintf("%s is unavailable (%s)", name, status))
}

// CanAnswer reports whether the user may be offered the answer control.
func (p *Page) CanAnswer() bool {
	return p.user != nil && CanAnswer(*p.user, p.event)
}

// ChatErr returns the chat join error.
func (p *Page) ChatErr() error { return p.get(&p.chatErr) }

// QnAErr returns the Q&A join error.
func (p *Page) QnAErr() error { return p.get(&p.qnaErr) }

// VideoErr returns the video error.
func (p *Page) VideoErr() error { return p.get(&p.videoErr) }

// ConnErr returns the error of the initial connect.
func (p *Page) ConnErr() error { return p.get(&p.connErr) }

func (p *Page) record(dst *error, err error) {
	p.mu.Lock()
	*dst = err
	p.mu.Unlock()
}

func (p *Page) get(src *error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *src
}

func (p *Page) handleState(ev eventman.StateEvent) {
	if ev.NewState == eventman.StateFailed && eventman.IsAuthError(ev.Error) {
		p.authFailed(ev.Error)
	}
}

func (p *Page) handleRoomStatus(room eventman.Room, status eventman.MembershipStatus) {
	if status == eventman.MembershipJoinFailed {
		p.logger.Warn("room unavailable", map[string]any{"room": room.String()})
	}
	if p.onRoomStatus != nil {
		p.onRoomStatus(room, status)
	}
}

// authFailed runs the auth failure callback once per page.
func (p *Page) authFailed(err error) {
	p.authOnce.Do(func() {
		p.logger.Warn("credential rejected", map[string]any{"error": err.Error()})
		if p.onAuthFailure != nil {
			p.onAuthFailure(err)
		}
	})
}
