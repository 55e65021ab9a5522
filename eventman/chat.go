package eventman

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

// MaxChatMessageLength is the longest accepted chat message, in characters.
const MaxChatMessageLength = 500

// ChatSession holds the message list of one event's chat room. Messages are
// never added optimistically: the list only changes on server broadcasts, in
// arrival order.
type ChatSession struct {
	transport Transport
	eventID   string
	logger    Logger

	mu        sync.Mutex
	messages  []ChatMessage
	seen      map[string]struct{}
	loaded    bool
	sending   bool
	closed    bool
	onMessage func(ChatMessage)
	onHistory func([]ChatMessage)
	subs      []Subscription
}

// SessionOption configures a ChatSession or QnASession.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	logger Logger
}

// WithSessionLogger sets the logger.
func WithSessionLogger(l Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = orNop(l) }
}

func applySessionOptions(opts []SessionOption) sessionOptions {
	o := sessionOptions{logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewChatSession subscribes to the chat broadcasts of eventID. Create it before
// joining the room so the history snapshot is not missed.
func NewChatSession(t Transport, eventID string, opts ...SessionOption) *ChatSession {
	o := applySessionOptions(opts)
	s := &ChatSession{
		transport: t,
		eventID:   eventID,
		logger:    o.logger,
		seen:      make(map[string]struct{}),
	}
	s.subs = []Subscription{
		t.On(EventChatHistory, s.handleHistory),
		t.On(EventNewChatMessage, s.handleMessage),
	}
	return s
}

// EventID returns the event the session belongs to.
func (s *ChatSession) EventID() string { return s.eventID }

// OnMessage registers a callback for each appended message.
func (s *ChatSession) OnMessage(fn func(ChatMessage)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnHistory registers a callback for each history snapshot.
func (s *ChatSession) OnHistory(fn func([]ChatMessage)) {
	s.mu.Lock()
	s.onHistory = fn
	s.mu.Unlock()
}

// Messages returns a copy of the message list in arrival order.
func (s *ChatSession) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// HistoryLoaded reports whether a history snapshot has arrived.
func (s *ChatSession) HistoryLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Sending reports whether a send is awaiting its acknowledgement.
func (s *ChatSession) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Send validates text and sends it with an acknowledgement. It returns nil
// only on a positive ack; the message itself appears when the server
// broadcasts it. One send runs at a time.
func (s *ChatSession) Send(ctx context.Context, text string) error {
	text, err := validateText(text, MaxChatMessageLength, "message")
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return NewError(ErrorNotInRoom, "chat session closed")
	}
	if s.sending {
		s.mu.Unlock()
		return NewError(ErrorInFlight, "a message is already being sent")
	}
	s.sending = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	ack, err := s.transport.EmitWithAck(ctx, EventSendChatMessage, ChatSendPayload{EventID: s.eventID, Message: text})
	if err != nil {
		return err
	}
	if !ack.Success {
		return rejection(ack, "Failed to send message")
	}
	return nil
}

// Close unsubscribes from the transport. Broadcasts already in delivery are
// ignored afterwards.
func (s *ChatSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		s.transport.Off(sub)
	}
}

func (s *ChatSession) handleHistory(data json.RawMessage) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("malformed chat history", map[string]any{"event_id": s.eventID, "error": err.Error()})
		return
	}
	list := make([]ChatMessage, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, r := range raw {
		msg, ok := s.decode(r, "history["+strconv.Itoa(i)+"]")
		if !ok {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		list = append(list, msg)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.messages = list
	s.seen = seen
	s.loaded = true
	fn := s.onHistory
	s.mu.Unlock()

	s.logger.Debug("chat history loaded", map[string]any{"event_id": s.eventID, "count": len(list)})
	if fn != nil {
		out := make([]ChatMessage, len(list))
		copy(out, list)
		fn(out)
	}
}

func (s *ChatSession) handleMessage(data json.RawMessage) {
	msg, ok := s.decode(data, "newChatMessage")
	if !ok {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[msg.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	fn := s.onMessage
	s.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
}

// decode parses one record and drops it, with a warning, when it is malformed
// or belongs to another event.
func (s *ChatSession) decode(data json.RawMessage, where string) (ChatMessage, bool) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("skipping malformed chat message", map[string]any{"event_id": s.eventID, "at": where, "error": err.Error()})
		return msg, false
	}
	if msg.ID == "" {
		s.logger.Warn("skipping chat message without id", map[string]any{"event_id": s.eventID, "at": where})
		return msg, false
	}
	if msg.EventID != "" && msg.EventID != s.eventID {
		return msg, false
	}
	return msg, true
}

// validateText trims text and checks it against max characters.
func validateText(text string, max int, what string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewError(ErrorValidation, what+" is empty")
	}
	if n := utf8.RuneCountInString(text); n > max {
		return "", NewError(ErrorValidation, what+" exceeds "+strconv.Itoa(max)+" characters")
	}
	return text, nil
}
